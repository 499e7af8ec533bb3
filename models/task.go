package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in progress"
	TaskStatusCompleted  TaskStatus = "completed"
)

type Task struct {
	ID          primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	ProjectID   primitive.ObjectID  `json:"projectId" bson:"projectId"`
	MilestoneID *primitive.ObjectID `json:"milestoneId,omitempty" bson:"milestoneId,omitempty"`
	Title       string              `json:"title" bson:"title"`
	Description string              `json:"description" bson:"description"`
	Status      TaskStatus          `json:"status" bson:"status"`
	Assignees   []string            `json:"assignees" bson:"assignees"`
}
