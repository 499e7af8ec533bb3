package services

import (
	"context"
	"testing"
	"time"

	"milestone-project/milestones-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

const (
	milestonesNS = "milestones_db.milestones"
	projectsNS   = "milestones_db.projects"
)

func newLifecycleService(mt *mtest.T) *MilestoneService {
	return NewMilestoneService(
		mt.DB.Collection("milestones"),
		mt.DB.Collection("tasks"),
		mt.DB.Collection("projects"),
		nil,
	)
}

func milestoneDoc(mt *mtest.T, m *models.Milestone) bson.D {
	raw, err := bson.Marshal(m)
	require.NoError(mt, err)
	var doc bson.D
	require.NoError(mt, bson.Unmarshal(raw, &doc))
	return doc
}

func updateSucceeded(n int) bson.D {
	return mtest.CreateSuccessResponse(
		bson.E{Key: "n", Value: n},
		bson.E{Key: "nModified", Value: n},
	)
}

func testMilestone(id primitive.ObjectID) *models.Milestone {
	return &models.Milestone{
		ID:            id,
		Title:         "Release candidate",
		ProjectID:     primitive.NewObjectID(),
		OwnerID:       "owner-1",
		CreatedBy:     "creator-1",
		ReviewerIDs:   []string{"reviewer-1", "reviewer-2"},
		ApprovedBy:    []string{},
		DependencyIDs: []primitive.ObjectID{},
		TaskIDs:       []primitive.ObjectID{},
		Status:        models.StatusInProgress,
		Progress:      40,
		CreatedAt:     time.Now(),
	}
}

func TestApproveMilestone(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	id := primitive.NewObjectID()

	mt.Run("first approval is recorded once", func(mt *mtest.T) {
		svc := newLifecycleService(mt)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, milestonesNS, mtest.FirstBatch, milestoneDoc(mt, testMilestone(id))),
			updateSucceeded(1),
		)

		approvedBy, err := svc.ApproveMilestone(context.Background(), "reviewer-1", "member", id)
		require.NoError(mt, err)
		assert.Equal(mt, []string{"reviewer-1"}, approvedBy)
	})

	mt.Run("approval is persisted as an atomic set-add", func(mt *mtest.T) {
		svc := newLifecycleService(mt)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, milestonesNS, mtest.FirstBatch, milestoneDoc(mt, testMilestone(id))),
			updateSucceeded(1),
		)

		_, err := svc.ApproveMilestone(context.Background(), "reviewer-1", "member", id)
		require.NoError(mt, err)

		var updateCmd bson.Raw
		for evt := mt.GetStartedEvent(); evt != nil; evt = mt.GetStartedEvent() {
			if evt.CommandName == "update" {
				updateCmd = evt.Command
			}
		}
		require.NotNil(mt, updateCmd)

		updates, err := updateCmd.Lookup("updates").Array().Values()
		require.NoError(mt, err)
		u := updates[0].Document().Lookup("u").Document()
		addToSet := u.Lookup("$addToSet").Document()
		assert.Equal(mt, "reviewer-1", addToSet.Lookup("approvedBy").StringValue())
	})

	mt.Run("second approval by the same user conflicts", func(mt *mtest.T) {
		svc := newLifecycleService(mt)
		m := testMilestone(id)
		m.ApprovedBy = []string{"reviewer-1"}
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, milestonesNS, mtest.FirstBatch, milestoneDoc(mt, m)),
		)

		_, err := svc.ApproveMilestone(context.Background(), "reviewer-1", "member", id)
		var conflict *ConflictError
		require.ErrorAs(mt, err, &conflict)
	})

	mt.Run("non-reviewer without admin role is forbidden", func(mt *mtest.T) {
		svc := newLifecycleService(mt)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, milestonesNS, mtest.FirstBatch, milestoneDoc(mt, testMilestone(id))),
		)

		_, err := svc.ApproveMilestone(context.Background(), "stranger", "member", id)
		var forbidden *ForbiddenError
		require.ErrorAs(mt, err, &forbidden)
	})

	mt.Run("missing milestone is not found", func(mt *mtest.T) {
		svc := newLifecycleService(mt)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, milestonesNS, mtest.FirstBatch),
		)

		_, err := svc.ApproveMilestone(context.Background(), "reviewer-1", "member", id)
		var notFound *NotFoundError
		require.ErrorAs(mt, err, &notFound)
	})
}

func TestDeleteMilestone(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	id := primitive.NewObjectID()

	mt.Run("blocked while another milestone depends on it", func(mt *mtest.T) {
		svc := newLifecycleService(mt)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, milestonesNS, mtest.FirstBatch, milestoneDoc(mt, testMilestone(id))),
			mtest.CreateCursorResponse(0, milestonesNS, mtest.FirstBatch, bson.D{{Key: "n", Value: 1}}),
		)

		err := svc.DeleteMilestone(context.Background(), "owner-1", "member", id)
		var conflict *ConflictError
		require.ErrorAs(mt, err, &conflict)
		assert.Contains(mt, err.Error(), "1 milestone(s) depend on it")
	})

	mt.Run("allowed once no dependents remain", func(mt *mtest.T) {
		svc := newLifecycleService(mt)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, milestonesNS, mtest.FirstBatch, milestoneDoc(mt, testMilestone(id))),
			mtest.CreateCursorResponse(0, milestonesNS, mtest.FirstBatch, bson.D{{Key: "n", Value: 0}}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}),
			updateSucceeded(2),
		)

		err := svc.DeleteMilestone(context.Background(), "owner-1", "member", id)
		require.NoError(mt, err)
	})

	mt.Run("cascade clears task back-references", func(mt *mtest.T) {
		svc := newLifecycleService(mt)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, milestonesNS, mtest.FirstBatch, milestoneDoc(mt, testMilestone(id))),
			mtest.CreateCursorResponse(0, milestonesNS, mtest.FirstBatch, bson.D{{Key: "n", Value: 0}}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}),
			updateSucceeded(2),
		)

		err := svc.DeleteMilestone(context.Background(), "owner-1", "member", id)
		require.NoError(mt, err)

		var cascade bson.Raw
		for evt := mt.GetStartedEvent(); evt != nil; evt = mt.GetStartedEvent() {
			if evt.CommandName == "update" {
				cascade = evt.Command
			}
		}
		require.NotNil(mt, cascade, "delete must be followed by the task cascade update")
		assert.Equal(mt, "tasks", cascade.Lookup("update").StringValue())

		updates, err := cascade.Lookup("updates").Array().Values()
		require.NoError(mt, err)
		first := updates[0].Document()

		q := first.Lookup("q").Document()
		clearedID, ok := q.Lookup("milestoneId").ObjectIDOK()
		require.True(mt, ok)
		assert.Equal(mt, id, clearedID)

		u := first.Lookup("u").Document()
		unset := u.Lookup("$unset").Document()
		_, err = unset.LookupErr("milestoneId")
		assert.NoError(mt, err, "the back-reference is removed, the task itself is kept")
	})

	mt.Run("stranger may not delete", func(mt *mtest.T) {
		svc := newLifecycleService(mt)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, milestonesNS, mtest.FirstBatch, milestoneDoc(mt, testMilestone(id))),
		)

		err := svc.DeleteMilestone(context.Background(), "stranger", "member", id)
		var forbidden *ForbiddenError
		require.ErrorAs(mt, err, &forbidden)
	})
}

func TestCreateMilestone(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("creates in the initial state", func(mt *mtest.T) {
		svc := newLifecycleService(mt)
		projectID := primitive.NewObjectID()
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, projectsNS, mtest.FirstBatch, bson.D{
				{Key: "_id", Value: projectID},
				{Key: "name", Value: "Apollo"},
			}),
			mtest.CreateSuccessResponse(),
		)

		now := time.Now()
		milestone, err := svc.CreateMilestone(context.Background(), "creator-1", "member", models.MilestoneCreate{
			Title:     "Design freeze",
			ProjectID: projectID,
			OwnerID:   "owner-1",
			StartDate: now,
			DueDate:   now.AddDate(0, 1, 0),
		})
		require.NoError(mt, err)

		assert.Equal(mt, models.StatusNotStarted, milestone.Status)
		assert.Equal(mt, 0, milestone.Progress)
		assert.Nil(mt, milestone.ActualCompletionDate)
		assert.Equal(mt, "creator-1", milestone.CreatedBy)
		assert.Empty(mt, milestone.ApprovedBy)
	})

	mt.Run("missing project is not found", func(mt *mtest.T) {
		svc := newLifecycleService(mt)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, projectsNS, mtest.FirstBatch),
		)

		now := time.Now()
		_, err := svc.CreateMilestone(context.Background(), "creator-1", "member", models.MilestoneCreate{
			Title:     "Design freeze",
			ProjectID: primitive.NewObjectID(),
			OwnerID:   "owner-1",
			StartDate: now,
			DueDate:   now.AddDate(0, 1, 0),
		})
		var notFound *NotFoundError
		require.ErrorAs(mt, err, &notFound)
	})
}

func TestUpdateProgressPersistence(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	id := primitive.NewObjectID()

	mt.Run("reopening removes the completion date field", func(mt *mtest.T) {
		svc := newLifecycleService(mt)
		m := testMilestone(id)
		completedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		m.Status = models.StatusCompleted
		m.Progress = 100
		m.ActualCompletionDate = &completedAt

		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, milestonesNS, mtest.FirstBatch, milestoneDoc(mt, m)),
			updateSucceeded(1),
		)

		updated, err := svc.UpdateProgress(context.Background(), "owner-1", "member", id, 50)
		require.NoError(mt, err)
		assert.Equal(mt, models.StatusInProgress, updated.Status)
		assert.Nil(mt, updated.ActualCompletionDate)

		var updateCmd bson.Raw
		for evt := mt.GetStartedEvent(); evt != nil; evt = mt.GetStartedEvent() {
			if evt.CommandName == "update" {
				updateCmd = evt.Command
			}
		}
		require.NotNil(mt, updateCmd)

		updates, err := updateCmd.Lookup("updates").Array().Values()
		require.NoError(mt, err)
		u := updates[0].Document().Lookup("u").Document()
		unset := u.Lookup("$unset").Document()
		_, err = unset.LookupErr("actualCompletionDate")
		assert.NoError(mt, err, "a cleared completion date is unset, not stored as null")
	})

	mt.Run("direct status edit back to not-started removes the completion date field", func(mt *mtest.T) {
		svc := newLifecycleService(mt)
		m := testMilestone(id)
		completedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		m.Status = models.StatusCompleted
		m.Progress = 100
		m.ActualCompletionDate = &completedAt

		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, milestonesNS, mtest.FirstBatch, milestoneDoc(mt, m)),
			updateSucceeded(1),
		)

		status := models.StatusNotStarted
		updated, err := svc.UpdateMilestone(context.Background(), "owner-1", "member", id, models.MilestoneUpdate{Status: &status})
		require.NoError(mt, err)
		assert.Equal(mt, models.StatusNotStarted, updated.Status)
		assert.Equal(mt, 0, updated.Progress)
		assert.Nil(mt, updated.ActualCompletionDate)

		var updateCmd bson.Raw
		for evt := mt.GetStartedEvent(); evt != nil; evt = mt.GetStartedEvent() {
			if evt.CommandName == "update" {
				updateCmd = evt.Command
			}
		}
		require.NotNil(mt, updateCmd)

		updates, err := updateCmd.Lookup("updates").Array().Values()
		require.NoError(mt, err)
		u := updates[0].Document().Lookup("u").Document()
		unset := u.Lookup("$unset").Document()
		_, err = unset.LookupErr("actualCompletionDate")
		assert.NoError(mt, err)
	})

	mt.Run("completion sets the date in the same write", func(mt *mtest.T) {
		svc := newLifecycleService(mt)
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, milestonesNS, mtest.FirstBatch, milestoneDoc(mt, testMilestone(id))),
			updateSucceeded(1),
		)

		updated, err := svc.UpdateProgress(context.Background(), "owner-1", "member", id, 100)
		require.NoError(mt, err)
		assert.Equal(mt, models.StatusCompleted, updated.Status)
		require.NotNil(mt, updated.ActualCompletionDate)

		var updateCmd bson.Raw
		for evt := mt.GetStartedEvent(); evt != nil; evt = mt.GetStartedEvent() {
			if evt.CommandName == "update" {
				updateCmd = evt.Command
			}
		}
		require.NotNil(mt, updateCmd)

		updates, err := updateCmd.Lookup("updates").Array().Values()
		require.NoError(mt, err)
		u := updates[0].Document().Lookup("u").Document()
		set := u.Lookup("$set").Document()
		_, err = set.LookupErr("actualCompletionDate")
		assert.NoError(mt, err)
		_, err = u.LookupErr("$unset")
		assert.Error(mt, err, "nothing is unset when the milestone completes")
	})
}
