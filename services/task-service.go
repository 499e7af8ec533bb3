package services

import (
	"context"
	"fmt"

	"milestone-project/milestones-service/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// TaskService keeps the milestone/task association in sync: the milestone's
// taskIds set and the task's milestoneId back-reference.
type TaskService struct {
	TasksCollection      *mongo.Collection
	MilestonesCollection *mongo.Collection
	Activity             *ActivityLogger
}

func NewTaskService(tasks, milestones *mongo.Collection, activity *ActivityLogger) *TaskService {
	return &TaskService{
		TasksCollection:      tasks,
		MilestonesCollection: milestones,
		Activity:             activity,
	}
}

// GetTasksForMilestone lists the tasks whose back-reference points at the
// given milestone.
func (s *TaskService) GetTasksForMilestone(ctx context.Context, milestoneID primitive.ObjectID) ([]models.Task, error) {
	err := s.MilestonesCollection.FindOne(ctx, bson.M{"_id": milestoneID}).Err()
	if err == mongo.ErrNoDocuments {
		return nil, &NotFoundError{Message: "milestone not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch milestone: %w", err)
	}

	cursor, err := s.TasksCollection.Find(ctx, bson.M{"milestoneId": milestoneID})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve tasks: %w", err)
	}
	defer cursor.Close(ctx)

	tasks := []models.Task{}
	if err := cursor.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode tasks: %w", err)
	}
	return tasks, nil
}

// AttachTask associates a task with a milestone: sets the task's milestoneId
// and adds the task to the milestone's taskIds set.
func (s *TaskService) AttachTask(ctx context.Context, actorID, role string, milestoneID, taskID primitive.ObjectID) error {
	var milestone models.Milestone
	err := s.MilestonesCollection.FindOne(ctx, bson.M{"_id": milestoneID}).Decode(&milestone)
	if err == mongo.ErrNoDocuments {
		return &NotFoundError{Message: "milestone not found"}
	}
	if err != nil {
		return fmt.Errorf("failed to fetch milestone: %w", err)
	}
	if err := Authorize(OpUpdate, actorID, role, &milestone); err != nil {
		return err
	}

	result, err := s.TasksCollection.UpdateOne(ctx, bson.M{"_id": taskID}, bson.M{"$set": bson.M{"milestoneId": milestoneID}})
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if result.MatchedCount == 0 {
		return &NotFoundError{Message: "task not found"}
	}

	if _, err := s.MilestonesCollection.UpdateOne(ctx, bson.M{"_id": milestoneID}, bson.M{"$addToSet": bson.M{"taskIds": taskID}}); err != nil {
		return fmt.Errorf("failed to add task to milestone: %w", err)
	}

	s.Activity.Emit(ctx, models.ActivityEvent{
		Description: fmt.Sprintf("Task attached to milestone %q", milestone.Title),
		ActorID:     actorID,
		Action:      models.ActionUpdate,
		EntityID:    milestoneID.Hex(),
		Metadata:    map[string]string{"taskId": taskID.Hex()},
	})

	return nil
}

// DetachTask removes the association in both directions.
func (s *TaskService) DetachTask(ctx context.Context, actorID, role string, milestoneID, taskID primitive.ObjectID) error {
	var milestone models.Milestone
	err := s.MilestonesCollection.FindOne(ctx, bson.M{"_id": milestoneID}).Decode(&milestone)
	if err == mongo.ErrNoDocuments {
		return &NotFoundError{Message: "milestone not found"}
	}
	if err != nil {
		return fmt.Errorf("failed to fetch milestone: %w", err)
	}
	if err := Authorize(OpUpdate, actorID, role, &milestone); err != nil {
		return err
	}

	result, err := s.TasksCollection.UpdateOne(ctx,
		bson.M{"_id": taskID, "milestoneId": milestoneID},
		bson.M{"$unset": bson.M{"milestoneId": ""}})
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if result.MatchedCount == 0 {
		return &NotFoundError{Message: "task not associated with this milestone"}
	}

	if _, err := s.MilestonesCollection.UpdateOne(ctx, bson.M{"_id": milestoneID}, bson.M{"$pull": bson.M{"taskIds": taskID}}); err != nil {
		return fmt.Errorf("failed to remove task from milestone: %w", err)
	}

	s.Activity.Emit(ctx, models.ActivityEvent{
		Description: fmt.Sprintf("Task detached from milestone %q", milestone.Title),
		ActorID:     actorID,
		Action:      models.ActionUpdate,
		EntityID:    milestoneID.Hex(),
		Metadata:    map[string]string{"taskId": taskID.Hex()},
	})

	return nil
}
