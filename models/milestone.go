package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type MilestoneStatus string

const (
	StatusNotStarted MilestoneStatus = "not-started"
	StatusInProgress MilestoneStatus = "in-progress"
	StatusCompleted  MilestoneStatus = "completed"
)

// IsValid reports whether s is one of the known milestone statuses.
func (s MilestoneStatus) IsValid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

type Milestone struct {
	ID                   primitive.ObjectID   `json:"id" bson:"_id,omitempty"`
	Title                string               `json:"title" bson:"title"`
	Description          string               `json:"description" bson:"description"`
	ProjectID            primitive.ObjectID   `json:"projectId" bson:"projectId"`
	OwnerID              string               `json:"ownerId" bson:"ownerId"`
	ReviewerIDs          []string             `json:"reviewerIds" bson:"reviewerIds"`
	ApprovedBy           []string             `json:"approvedBy" bson:"approvedBy"`
	DependencyIDs        []primitive.ObjectID `json:"dependencyIds" bson:"dependencyIds"`
	TaskIDs              []primitive.ObjectID `json:"taskIds" bson:"taskIds"`
	Deliverables         []string             `json:"deliverables" bson:"deliverables"`
	Progress             int                  `json:"progress" bson:"progress"`
	Status               MilestoneStatus      `json:"status" bson:"status"`
	StartDate            time.Time            `json:"startDate" bson:"startDate"`
	DueDate              time.Time            `json:"dueDate" bson:"dueDate"`
	ActualCompletionDate *time.Time           `json:"actualCompletionDate,omitempty" bson:"actualCompletionDate,omitempty"`
	CreatedBy            string               `json:"createdBy" bson:"createdBy"`
	CreatedAt            time.Time            `json:"createdAt" bson:"createdAt"`
}

// IsReviewer reports whether the given user is on the milestone's reviewer list.
func (m *Milestone) IsReviewer(userID string) bool {
	for _, id := range m.ReviewerIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// HasApproved reports whether the given user already appears in approvedBy.
func (m *Milestone) HasApproved(userID string) bool {
	for _, id := range m.ApprovedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// MilestoneCreate is the payload for creating a milestone.
type MilestoneCreate struct {
	Title         string               `json:"title"`
	Description   string               `json:"description"`
	ProjectID     primitive.ObjectID   `json:"projectId"`
	OwnerID       string               `json:"ownerId"`
	ReviewerIDs   []string             `json:"reviewerIds"`
	DependencyIDs []primitive.ObjectID `json:"dependencyIds"`
	Deliverables  []string             `json:"deliverables"`
	StartDate     time.Time            `json:"startDate"`
	DueDate       time.Time            `json:"dueDate"`
	Status        MilestoneStatus      `json:"status"`
	Progress      *int                 `json:"progress"`
}

// MilestoneUpdate is the payload for a partial update. Nil fields are left
// untouched; array fields are replaced wholesale when present.
type MilestoneUpdate struct {
	Title         *string               `json:"title"`
	Description   *string               `json:"description"`
	OwnerID       *string               `json:"ownerId"`
	ReviewerIDs   *[]string             `json:"reviewerIds"`
	DependencyIDs *[]primitive.ObjectID `json:"dependencyIds"`
	Deliverables  *[]string             `json:"deliverables"`
	StartDate     *time.Time            `json:"startDate"`
	DueDate       *time.Time            `json:"dueDate"`
	Status        *MilestoneStatus      `json:"status"`
	Progress      *int                  `json:"progress"`
}
