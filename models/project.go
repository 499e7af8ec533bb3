package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Project struct {
	ID              primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Name            string             `json:"name" bson:"name"`
	Description     string             `json:"description" bson:"description"`
	ManagerID       string             `json:"managerId" bson:"managerId"`
	ExpectedEndDate time.Time          `json:"expectedEndDate" bson:"expectedEndDate"`
}
