package reconcile

import (
	"context"
	"errors"
	"fmt"

	"encoin-rewards/pkg/logger"
	"encoin-rewards/services/award"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Handler processes reconcile:repair tasks.
type Handler struct {
	repairer Repairer
}

func NewHandler(repairer Repairer) *Handler {
	return &Handler{repairer: repairer}
}

func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	p, err := decodeRepairPayload(t)
	if err != nil {
		zap.L().Error("dropping malformed repair task", zap.Error(err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	log := logger.FromContext(ctx, zap.String("journal_id", p.JournalID))

	status, err := h.repairer.Repair(ctx, p.JournalID)
	switch {
	case errors.Is(err, award.ErrJournalEntryNotFound):
		log.Warn("journal entry vanished before repair")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	case errors.Is(err, award.ErrReceiptPending):
		log.Info("transfer receipt not available yet")
		return err
	case err != nil:
		log.Error("repair failed", zap.Error(err))
		return err
	}

	log.Info("journal entry repaired", zap.String("status", string(status)))
	return nil
}
