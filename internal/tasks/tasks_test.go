package tasks

import (
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPurgeTaskPayload(t *testing.T) {
	task, err := NewPurgeExpiredSessionsTask("admin-1")
	require.NoError(t, err)
	assert.Equal(t, TypePurgeExpiredSessions, task.Type())

	payload, err := ParsePurgePayload(task)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", payload.RequestedBy)
	assert.False(t, payload.RequestedAt.IsZero())
}

func TestParsePurgePayload_Invalid(t *testing.T) {
	_, err := ParsePurgePayload(asynq.NewTask(TypePurgeExpiredSessions, []byte("{not json")))
	assert.Error(t, err)
}
