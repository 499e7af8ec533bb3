package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"milestone-project/milestones-service/logging"
	"milestone-project/milestones-service/models"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

// ActivityLogger delivers audit events to the external activity-log service.
// Delivery is fire-and-forget: the lifecycle service logs failures and moves
// on, a dead activity log must never fail a request.
type ActivityLogger struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	baseURL string
}

func NewActivityLogger(client *http.Client, breaker *gobreaker.CircuitBreaker, baseURL string) *ActivityLogger {
	return &ActivityLogger{
		client:  client,
		breaker: breaker,
		baseURL: baseURL,
	}
}

// Log sends one audit event to the activity-log service through the circuit
// breaker. The returned error is for the caller's log line only.
func (a *ActivityLogger) Log(ctx context.Context, event models.ActivityEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal activity event: %w", err)
	}

	_, err = a.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/activities", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("activity log responded with status %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}

// Emit logs the event and records a warning when the sink is unreachable.
// A nil logger drops events, which lets the sink be disabled by config.
func (a *ActivityLogger) Emit(ctx context.Context, event models.ActivityEvent) {
	if a == nil {
		return
	}
	if err := a.Log(ctx, event); err != nil {
		logging.Logger.Warnf("Event ID: ACTIVITY_LOG_FAILED, Description: Failed to deliver %s event for entity %s: %v", event.Action, event.EntityID, err)
	}
}
