package services

import (
	"fmt"
	"time"

	"milestone-project/milestones-service/models"
)

// StatusChange is the result of applying one progress or status edit: the
// canonical (status, progress, completion date) triple to persist.
type StatusChange struct {
	Status         models.MilestoneStatus
	Progress       int
	CompletionDate *time.Time
}

// ApplyProgress derives the milestone status from a new progress value.
// Progress is the primary signal: 0 means not started, 100 means completed,
// anything in between is in progress. The completion date is set exactly once
// when the milestone first reaches 100 and survives repeated re-derivation;
// dropping below 100 re-opens the milestone and clears it.
func ApplyProgress(m *models.Milestone, progress int, now time.Time) (StatusChange, error) {
	if progress < 0 || progress > 100 {
		return StatusChange{}, &ValidationError{Message: fmt.Sprintf("progress must be between 0 and 100, got %d", progress)}
	}

	switch {
	case progress == 0:
		return StatusChange{Status: models.StatusNotStarted, Progress: 0}, nil
	case progress == 100:
		completion := m.ActualCompletionDate
		if m.Status != models.StatusCompleted {
			t := now
			completion = &t
		}
		return StatusChange{Status: models.StatusCompleted, Progress: 100, CompletionDate: completion}, nil
	default:
		return StatusChange{Status: models.StatusInProgress, Progress: progress}, nil
	}
}

// ApplyStatus handles a direct status edit, the second write path into the
// same field. It snaps progress to the value the new status implies so the
// pair can never disagree: completed forces 100, not-started forces 0, and
// in-progress keeps the current progress. Setting completed on an already
// completed milestone leaves the completion date untouched.
func ApplyStatus(m *models.Milestone, status models.MilestoneStatus, now time.Time) (StatusChange, error) {
	if !status.IsValid() {
		return StatusChange{}, &ValidationError{Message: fmt.Sprintf("invalid status: %q", status)}
	}

	switch status {
	case models.StatusCompleted:
		completion := m.ActualCompletionDate
		if m.Status != models.StatusCompleted {
			t := now
			completion = &t
		}
		return StatusChange{Status: models.StatusCompleted, Progress: 100, CompletionDate: completion}, nil
	case models.StatusNotStarted:
		return StatusChange{Status: models.StatusNotStarted, Progress: 0}, nil
	default:
		return StatusChange{Status: models.StatusInProgress, Progress: m.Progress}, nil
	}
}
