package services

import (
	"milestone-project/milestones-service/models"
)

const RoleAdmin = "admin"

type Operation string

const (
	OpUpdate  Operation = "update"
	OpDelete  Operation = "delete"
	OpApprove Operation = "approve"
)

// Authorize is the single capability check for every milestone mutation.
// Update and delete (progress included) are allowed for admins, the owner and
// the creator. Approve is allowed for admins and listed reviewers.
func Authorize(op Operation, actorID, role string, m *models.Milestone) error {
	if actorID == "" {
		return &UnauthorizedError{Message: "authentication required"}
	}

	switch op {
	case OpUpdate, OpDelete:
		if role == RoleAdmin || actorID == m.OwnerID || actorID == m.CreatedBy {
			return nil
		}
		return &ForbiddenError{Message: "only the owner, the creator or an admin may modify this milestone"}
	case OpApprove:
		if role == RoleAdmin || m.IsReviewer(actorID) {
			return nil
		}
		return &ForbiddenError{Message: "only assigned reviewers or an admin may approve this milestone"}
	}
	return &ForbiddenError{Message: "unknown operation"}
}
