package workers

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/ngdi-portal/portal/internal/accounts"
	"github.com/ngdi-portal/portal/internal/tasks"
)

// HandlePurgeExpiredSessions deletes session rows whose expiry has passed
func HandlePurgeExpiredSessions(ctx context.Context, t *asynq.Task, svc *accounts.Service, logger zerolog.Logger) error {
	payload, err := tasks.ParsePurgePayload(t)
	if err != nil {
		// a malformed payload will never succeed
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	removed, err := svc.PurgeExpired(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to purge expired sessions")
		return err
	}

	logger.Info().
		Int64("removed", removed).
		Str("requested_by", payload.RequestedBy).
		Time("requested_at", payload.RequestedAt).
		Msg("Expired sessions purged")
	return nil
}
