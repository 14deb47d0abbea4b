package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/storekeep-erp/storekeep/internal/shared"
)

// DefaultIdempotencyRetention keeps keys long enough for any sane client
// retry window.
const DefaultIdempotencyRetention = 24 * time.Hour

// IdempotencyCleanupHandler prunes expired idempotency keys on a schedule.
type IdempotencyCleanupHandler struct {
	store  *shared.IdempotencyStore
	logger *slog.Logger
}

// NewIdempotencyCleanupHandler constructs the handler.
func NewIdempotencyCleanupHandler(store *shared.IdempotencyStore, logger *slog.Logger) *IdempotencyCleanupHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdempotencyCleanupHandler{store: store, logger: logger}
}

// Handle processes TaskTypeIdempotencyCleanup tasks.
func (h *IdempotencyCleanupHandler) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IdempotencyCleanupPayload
	if err := unmarshalPayload(t, &payload); err != nil {
		return err
	}
	olderThan := payload.OlderThan
	if olderThan <= 0 {
		olderThan = DefaultIdempotencyRetention
	}
	if err := h.store.Cleanup(ctx, olderThan); err != nil {
		h.logger.Warn("idempotency cleanup", slog.Any("error", err))
		return err
	}
	h.logger.Info("idempotency keys pruned", slog.Duration("older_than", olderThan))
	return nil
}
