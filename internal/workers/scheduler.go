package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ngdi-portal/portal/internal/tasks"
)

// ParseSchedule parses a standard 5-field cron expression
// (minute hour day-of-month month day-of-week)
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// PurgeScheduler enqueues the session purge task whenever its schedule comes due
type PurgeScheduler struct {
	enqueuer tasks.Enqueuer
	schedule cron.Schedule
	logger   zerolog.Logger
	now      func() time.Time
	next     time.Time
}

// NewPurgeScheduler creates a scheduler for the given cron expression
func NewPurgeScheduler(enqueuer tasks.Enqueuer, expr string, logger zerolog.Logger) (*PurgeScheduler, error) {
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	return &PurgeScheduler{
		enqueuer: enqueuer,
		schedule: schedule,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Next is when the purge is next due; zero before the first tick
func (s *PurgeScheduler) Next() time.Time {
	return s.next
}

// Tick enqueues the purge if it is due and reports whether it did.
// The first tick always purges so a restarted worker catches up.
func (s *PurgeScheduler) Tick() bool {
	now := s.now()
	if !s.next.IsZero() && now.Before(s.next) {
		s.logger.Debug().Time("next_purge_at", s.next).Msg("Session purge not due yet")
		return false
	}
	s.next = s.schedule.Next(now)

	task, err := tasks.NewPurgeExpiredSessionsTask("scheduler")
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build purge task")
		return false
	}

	info, err := s.enqueuer.Enqueue(task)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			s.logger.Debug().Msg("Session purge already queued")
			return false
		}
		s.logger.Error().Err(err).Msg("Failed to enqueue session purge")
		return false
	}

	s.logger.Info().
		Str("task_id", info.ID).
		Time("next_purge_at", s.next).
		Msg("Enqueued session purge")
	return true
}

// Run checks the schedule every minute until ctx is done
func (s *PurgeScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	// Run immediately on startup, then every minute
	s.Tick()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}
