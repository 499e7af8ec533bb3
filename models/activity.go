package models

import (
	"time"
)

type ActivityAction string

const (
	ActionCreate   ActivityAction = "create"
	ActionUpdate   ActivityAction = "update"
	ActionDelete   ActivityAction = "delete"
	ActionApprove  ActivityAction = "approve"
	ActionProgress ActivityAction = "progress"
)

// ActivityEvent is the audit record sent to the external activity log after
// every successful mutation.
type ActivityEvent struct {
	EventID     string            `json:"eventId"`
	Description string            `json:"description"`
	ActorID     string            `json:"actorId"`
	Action      ActivityAction    `json:"action"`
	EntityID    string            `json:"entityId"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}
