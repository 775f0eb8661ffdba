package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngdi-portal/portal/internal/accounts"
	"github.com/ngdi-portal/portal/internal/auth"
	"github.com/ngdi-portal/portal/internal/database"
	"github.com/ngdi-portal/portal/internal/models"
	"github.com/ngdi-portal/portal/internal/tasks"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type()}, nil
}

func TestParseSchedule(t *testing.T) {
	_, err := ParseSchedule("*/15 * * * *")
	require.NoError(t, err)

	_, err = ParseSchedule("every day")
	assert.Error(t, err)

	_, err = ParseSchedule("0 */15 * * * *")
	assert.Error(t, err, "seconds field is not accepted")
}

func TestPurgeScheduler_Tick(t *testing.T) {
	queue := &fakeEnqueuer{}
	s, err := NewPurgeScheduler(queue, "*/15 * * * *", zerolog.Nop())
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 10, 2, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	assert.True(t, s.Tick(), "first tick purges")
	assert.Equal(t, time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC), s.Next())

	now = now.Add(5 * time.Minute)
	assert.False(t, s.Tick())

	now = time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	assert.True(t, s.Tick())
	assert.Equal(t, time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC), s.Next())

	require.Len(t, queue.tasks, 2)
	assert.Equal(t, tasks.TypePurgeExpiredSessions, queue.tasks[0].Type())
}

func TestPurgeScheduler_DuplicateIsQuiet(t *testing.T) {
	queue := &fakeEnqueuer{err: asynq.ErrDuplicateTask}
	s, err := NewPurgeScheduler(queue, "*/15 * * * *", zerolog.Nop())
	require.NoError(t, err)

	assert.False(t, s.Tick())
	assert.False(t, s.Next().IsZero())
}

func TestHandlePurgeExpiredSessions(t *testing.T) {
	db, err := database.OpenMemory(zerolog.Nop())
	require.NoError(t, err)
	defer database.Close(db)

	svc := accounts.NewService(db, auth.NewTokenIssuer("secret", time.Hour), zerolog.Nop())
	user, err := svc.CreateUser(context.Background(), accounts.NewUser{
		Email: "a@b.com", Password: "password123", Name: "A", Role: auth.RoleUser,
	})
	require.NoError(t, err)

	_, err = svc.IssueSession(context.Background(), user, accounts.ClientInfo{})
	require.NoError(t, err)
	expired := models.Session{UserID: user.ID, ExpiresAt: time.Now().UTC().Add(-time.Hour)}
	require.NoError(t, db.Create(&expired).Error)

	task, err := tasks.NewPurgeExpiredSessionsTask("admin")
	require.NoError(t, err)
	require.NoError(t, HandlePurgeExpiredSessions(context.Background(), task, svc, zerolog.Nop()))

	var remaining int64
	require.NoError(t, db.Model(&models.Session{}).Count(&remaining).Error)
	assert.Equal(t, int64(1), remaining)

	bad := asynq.NewTask(tasks.TypePurgeExpiredSessions, []byte("{"))
	err = HandlePurgeExpiredSessions(context.Background(), bad, svc, zerolog.Nop())
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}
