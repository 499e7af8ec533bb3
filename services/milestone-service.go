package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"milestone-project/milestones-service/logging"
	"milestone-project/milestones-service/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// MilestoneService orchestrates the milestone lifecycle: status derivation,
// the approval workflow and dependency integrity, around plain CRUD against
// the store. Every request runs its own load-check-mutate-persist sequence;
// there is no in-process shared state.
type MilestoneService struct {
	MilestonesCollection *mongo.Collection
	TasksCollection      *mongo.Collection
	ProjectsCollection   *mongo.Collection
	Activity             *ActivityLogger
}

func NewMilestoneService(milestones, tasks, projects *mongo.Collection, activity *ActivityLogger) *MilestoneService {
	return &MilestoneService{
		MilestonesCollection: milestones,
		TasksCollection:      tasks,
		ProjectsCollection:   projects,
		Activity:             activity,
	}
}

// CreateMilestone validates the payload, verifies the owning project exists
// and inserts the new milestone. The initial state is not-started with
// progress 0 unless the caller supplies a status or progress, which is routed
// through the same transition as every later edit.
func (s *MilestoneService) CreateMilestone(ctx context.Context, actorID, role string, payload models.MilestoneCreate) (*models.Milestone, error) {
	if payload.Title == "" {
		return nil, &ValidationError{Message: "title is required"}
	}
	if payload.ProjectID.IsZero() {
		return nil, &ValidationError{Message: "projectId is required"}
	}
	if payload.OwnerID == "" {
		return nil, &ValidationError{Message: "ownerId is required"}
	}
	if payload.StartDate.IsZero() || payload.DueDate.IsZero() {
		return nil, &ValidationError{Message: "startDate and dueDate are required"}
	}

	err := s.ProjectsCollection.FindOne(ctx, bson.M{"_id": payload.ProjectID}).Err()
	if err == mongo.ErrNoDocuments {
		return nil, &NotFoundError{Message: "project not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up project: %w", err)
	}

	now := time.Now()
	milestone := &models.Milestone{
		ID:            primitive.NewObjectID(),
		Title:         payload.Title,
		Description:   payload.Description,
		ProjectID:     payload.ProjectID,
		OwnerID:       payload.OwnerID,
		ReviewerIDs:   uniqueStrings(payload.ReviewerIDs),
		ApprovedBy:    []string{},
		DependencyIDs: uniqueObjectIDs(payload.DependencyIDs),
		TaskIDs:       []primitive.ObjectID{},
		Deliverables:  payload.Deliverables,
		Progress:      0,
		Status:        models.StatusNotStarted,
		StartDate:     payload.StartDate,
		DueDate:       payload.DueDate,
		CreatedBy:     actorID,
		CreatedAt:     now,
	}

	// A caller-supplied status or progress goes through the same transition
	// as progress-update so the triple can never start out inconsistent.
	if payload.Progress != nil {
		change, err := ApplyProgress(milestone, *payload.Progress, now)
		if err != nil {
			return nil, err
		}
		milestone.Status = change.Status
		milestone.Progress = change.Progress
		milestone.ActualCompletionDate = change.CompletionDate
	} else if payload.Status != "" {
		change, err := ApplyStatus(milestone, payload.Status, now)
		if err != nil {
			return nil, err
		}
		milestone.Status = change.Status
		milestone.Progress = change.Progress
		milestone.ActualCompletionDate = change.CompletionDate
	}

	if _, err := s.MilestonesCollection.InsertOne(ctx, milestone); err != nil {
		return nil, fmt.Errorf("failed to create milestone: %w", err)
	}

	s.Activity.Emit(ctx, models.ActivityEvent{
		Description: fmt.Sprintf("Milestone %q created", milestone.Title),
		ActorID:     actorID,
		Action:      models.ActionCreate,
		EntityID:    milestone.ID.Hex(),
		Metadata:    map[string]string{"projectId": milestone.ProjectID.Hex()},
	})

	return milestone, nil
}

func (s *MilestoneService) GetMilestoneByID(ctx context.Context, id primitive.ObjectID) (*models.Milestone, error) {
	var milestone models.Milestone
	err := s.MilestonesCollection.FindOne(ctx, bson.M{"_id": id}).Decode(&milestone)
	if err == mongo.ErrNoDocuments {
		return nil, &NotFoundError{Message: "milestone not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch milestone: %w", err)
	}
	return &milestone, nil
}

// ListMilestones returns all milestones, optionally narrowed to one project.
func (s *MilestoneService) ListMilestones(ctx context.Context, projectID *primitive.ObjectID) ([]models.Milestone, error) {
	filter := bson.M{}
	if projectID != nil {
		filter["projectId"] = *projectID
	}

	cursor, err := s.MilestonesCollection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve milestones: %w", err)
	}
	defer cursor.Close(ctx)

	milestones := []models.Milestone{}
	if err := cursor.All(ctx, &milestones); err != nil {
		return nil, fmt.Errorf("failed to decode milestones: %w", err)
	}
	return milestones, nil
}

// UpdateMilestone applies a field-by-field merge. Immutable fields (id,
// projectId, createdBy, createdAt) are not part of the payload and cannot be
// touched. Array fields are replaced wholesale. A status or progress change
// in the payload is routed through the transition; progress wins when both
// are present, since progress is the primary signal.
func (s *MilestoneService) UpdateMilestone(ctx context.Context, actorID, role string, id primitive.ObjectID, upd models.MilestoneUpdate) (*models.Milestone, error) {
	milestone, err := s.GetMilestoneByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(OpUpdate, actorID, role, milestone); err != nil {
		return nil, err
	}

	set := bson.M{}
	unset := bson.M{}

	if upd.Title != nil {
		if *upd.Title == "" {
			return nil, &ValidationError{Message: "title cannot be empty"}
		}
		milestone.Title = *upd.Title
		set["title"] = milestone.Title
	}
	if upd.Description != nil {
		milestone.Description = *upd.Description
		set["description"] = milestone.Description
	}
	if upd.OwnerID != nil {
		if *upd.OwnerID == "" {
			return nil, &ValidationError{Message: "ownerId cannot be empty"}
		}
		milestone.OwnerID = *upd.OwnerID
		set["ownerId"] = milestone.OwnerID
	}
	if upd.ReviewerIDs != nil {
		milestone.ReviewerIDs = uniqueStrings(*upd.ReviewerIDs)
		set["reviewerIds"] = milestone.ReviewerIDs
	}
	if upd.DependencyIDs != nil {
		milestone.DependencyIDs = uniqueObjectIDs(*upd.DependencyIDs)
		set["dependencyIds"] = milestone.DependencyIDs
	}
	if upd.Deliverables != nil {
		milestone.Deliverables = *upd.Deliverables
		set["deliverables"] = milestone.Deliverables
	}
	if upd.StartDate != nil {
		milestone.StartDate = *upd.StartDate
		set["startDate"] = milestone.StartDate
	}
	if upd.DueDate != nil {
		milestone.DueDate = *upd.DueDate
		set["dueDate"] = milestone.DueDate
	}

	if upd.Progress != nil || upd.Status != nil {
		now := time.Now()
		var change StatusChange
		if upd.Progress != nil {
			change, err = ApplyProgress(milestone, *upd.Progress, now)
		} else {
			change, err = ApplyStatus(milestone, *upd.Status, now)
		}
		if err != nil {
			return nil, err
		}
		milestone.Status = change.Status
		milestone.Progress = change.Progress
		milestone.ActualCompletionDate = change.CompletionDate
		set["status"] = change.Status
		set["progress"] = change.Progress
		// A cleared completion date is removed from the document, not
		// nulled; the field is absent unless the milestone is completed.
		if change.CompletionDate != nil {
			set["actualCompletionDate"] = change.CompletionDate
		} else {
			unset["actualCompletionDate"] = ""
		}
	}

	if len(set) == 0 && len(unset) == 0 {
		return milestone, nil
	}

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	if _, err := s.MilestonesCollection.UpdateOne(ctx, bson.M{"_id": id}, update); err != nil {
		return nil, fmt.Errorf("failed to update milestone: %w", err)
	}

	s.Activity.Emit(ctx, models.ActivityEvent{
		Description: fmt.Sprintf("Milestone %q updated", milestone.Title),
		ActorID:     actorID,
		Action:      models.ActionUpdate,
		EntityID:    milestone.ID.Hex(),
	})

	return milestone, nil
}

// UpdateProgress is the progress entry point of the lifecycle: it derives the
// status and completion date from the new progress value and persists the
// resulting triple.
func (s *MilestoneService) UpdateProgress(ctx context.Context, actorID, role string, id primitive.ObjectID, progress int) (*models.Milestone, error) {
	milestone, err := s.GetMilestoneByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(OpUpdate, actorID, role, milestone); err != nil {
		return nil, err
	}

	change, err := ApplyProgress(milestone, progress, time.Now())
	if err != nil {
		return nil, err
	}

	set := bson.M{
		"progress": change.Progress,
		"status":   change.Status,
	}
	update := bson.M{"$set": set}
	if change.CompletionDate != nil {
		set["actualCompletionDate"] = change.CompletionDate
	} else {
		update["$unset"] = bson.M{"actualCompletionDate": ""}
	}
	if _, err := s.MilestonesCollection.UpdateOne(ctx, bson.M{"_id": id}, update); err != nil {
		return nil, fmt.Errorf("failed to update milestone progress: %w", err)
	}

	milestone.Progress = change.Progress
	milestone.Status = change.Status
	milestone.ActualCompletionDate = change.CompletionDate

	s.Activity.Emit(ctx, models.ActivityEvent{
		Description: fmt.Sprintf("Milestone %q progress set to %d", milestone.Title, change.Progress),
		ActorID:     actorID,
		Action:      models.ActionProgress,
		EntityID:    milestone.ID.Hex(),
		Metadata:    map[string]string{"progress": strconv.Itoa(change.Progress), "status": string(change.Status)},
	})

	return milestone, nil
}

// ApproveMilestone records one reviewer approval. Preconditions are checked
// in order: the milestone must exist, the caller must be a reviewer or an
// admin, and the caller must not have approved already. A duplicate approval
// is a hard conflict, not a silent no-op, so callers can tell a first
// approval from a repeat. Approval never completes the milestone; the two
// signals are independent.
func (s *MilestoneService) ApproveMilestone(ctx context.Context, actorID, role string, id primitive.ObjectID) ([]string, error) {
	milestone, err := s.GetMilestoneByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(OpApprove, actorID, role, milestone); err != nil {
		return nil, err
	}
	if milestone.HasApproved(actorID) {
		return nil, &ConflictError{Message: "milestone already approved by this user"}
	}

	// Atomic add-to-set rather than a whole-document write, so two reviewers
	// approving concurrently cannot lose each other's entry.
	update := bson.M{"$addToSet": bson.M{"approvedBy": actorID}}
	if _, err := s.MilestonesCollection.UpdateOne(ctx, bson.M{"_id": id}, update); err != nil {
		return nil, fmt.Errorf("failed to record approval: %w", err)
	}

	milestone.ApprovedBy = append(milestone.ApprovedBy, actorID)

	s.Activity.Emit(ctx, models.ActivityEvent{
		Description: fmt.Sprintf("Milestone %q approved", milestone.Title),
		ActorID:     actorID,
		Action:      models.ActionApprove,
		EntityID:    milestone.ID.Hex(),
		Metadata:    map[string]string{"approvals": strconv.Itoa(len(milestone.ApprovedBy))},
	})

	return milestone.ApprovedBy, nil
}

// CanDelete reports whether the milestone may be deleted: the check counts
// milestones whose dependencyIds reference it. Incoming edges only; a
// milestone's own outgoing dependencies never block its deletion.
func (s *MilestoneService) CanDelete(ctx context.Context, id primitive.ObjectID) (int64, error) {
	count, err := s.MilestonesCollection.CountDocuments(ctx, bson.M{"dependencyIds": id})
	if err != nil {
		return 0, fmt.Errorf("failed to count dependent milestones: %w", err)
	}
	return count, nil
}

// DeleteMilestone removes the milestone after the dependency-integrity check
// passes, then clears the back-reference on every task that pointed at it.
// The two steps are not atomic: a cascade failure after the delete is logged
// and left to the reconciliation job, never rolled back.
func (s *MilestoneService) DeleteMilestone(ctx context.Context, actorID, role string, id primitive.ObjectID) error {
	milestone, err := s.GetMilestoneByID(ctx, id)
	if err != nil {
		return err
	}
	if err := Authorize(OpDelete, actorID, role, milestone); err != nil {
		return err
	}

	dependents, err := s.CanDelete(ctx, id)
	if err != nil {
		return err
	}
	if dependents > 0 {
		return &ConflictError{Message: fmt.Sprintf("cannot delete milestone: %d milestone(s) depend on it", dependents)}
	}

	if _, err := s.MilestonesCollection.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to delete milestone: %w", err)
	}

	if _, err := s.TasksCollection.UpdateMany(ctx, bson.M{"milestoneId": id}, bson.M{"$unset": bson.M{"milestoneId": ""}}); err != nil {
		logging.Logger.Errorf("Event ID: CASCADE_CLEAR_FAILED, Description: Milestone %s deleted but clearing task back-references failed: %v", id.Hex(), err)
	}

	s.Activity.Emit(ctx, models.ActivityEvent{
		Description: fmt.Sprintf("Milestone %q deleted", milestone.Title),
		ActorID:     actorID,
		Action:      models.ActionDelete,
		EntityID:    id.Hex(),
	})

	return nil
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := []string{}
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

func uniqueObjectIDs(values []primitive.ObjectID) []primitive.ObjectID {
	seen := make(map[primitive.ObjectID]struct{}, len(values))
	result := []primitive.ObjectID{}
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
