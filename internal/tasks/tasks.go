package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Task type constants
const (
	TypePurgeExpiredSessions = "session:purge_expired"
)

// Enqueuer is the part of *asynq.Client the portal uses
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// PurgePayload is the payload of a purge task
type PurgePayload struct {
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewPurgeExpiredSessionsTask creates a task that deletes expired session rows
func NewPurgeExpiredSessionsTask(requestedBy string) (*asynq.Task, error) {
	payload, err := json.Marshal(PurgePayload{
		RequestedBy: requestedBy,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	// one purge at a time is enough; duplicates within the window are dropped
	return asynq.NewTask(TypePurgeExpiredSessions, payload,
		asynq.Unique(time.Minute),
		asynq.MaxRetry(0),
		asynq.Queue("low"),
	), nil
}

// ParsePurgePayload parses the payload of a purge task
func ParsePurgePayload(task *asynq.Task) (PurgePayload, error) {
	var payload PurgePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return payload, nil
}
