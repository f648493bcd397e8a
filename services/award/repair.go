package award

import (
	"context"
	"errors"
	"fmt"
	"time"

	"encoin-rewards/pkg/db/option"
	"encoin-rewards/pkg/logger"
	"encoin-rewards/services/chain"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrJournalEntryNotFound = errors.New("transfer journal entry not found")
	ErrReceiptPending       = errors.New("transfer receipt not available yet")
)

const defaultRepairAttempts = 5

// RepairCandidates returns journal entries whose transfer reached the chain
// but never reached the audit log, oldest first.
func (s *Service) RepairCandidates(ctx context.Context, limit int) ([]*JournalEntry, error) {
	return s.journal.entries.Find(ctx, nil,
		option.ApplyOperator(option.Condition{
			Field:    "status",
			Operator: option.IN,
			Value:    []JournalStatus{JournalOrphaned, JournalUnknown},
		}),
		option.WithSortBy(option.QuerySortBy{SortBy: "updated_at", OrderBy: "asc", Allow: map[string]bool{"updated_at": true}}),
		option.WithLimit(limit),
	)
}

// FlagStale moves entries stuck in pending since before cutoff to
// needs_review. Such an entry belongs to a process that died mid-transfer,
// so whether tokens moved cannot be told from the journal alone.
func (s *Service) FlagStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&JournalEntry{}).
		Where("status = ? AND updated_at < ?", JournalPending, cutoff.UTC()).
		Updates(map[string]any{
			"status":     JournalNeedsReview,
			"error":      "pending past the stale threshold",
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		s.metrics.journal.WithLabelValues(string(JournalNeedsReview)).Add(float64(res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// PruneRejected deletes rejected journal entries last touched before
// cutoff. A rejection moved no tokens, so the row only matters while its
// idempotency key may still be retried.
func (s *Service) PruneRejected(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", JournalRejected, cutoff.UTC()).
		Delete(&JournalEntry{})
	return res.RowsAffected, res.Error
}

// Repair settles one orphaned or unknown journal entry against the chain
// receipt of its transfer. A confirmed transfer gets its audit row, and for
// awards its counter increment, written exactly once. ErrReceiptPending
// means the chain has no verdict yet and the repair should be retried.
func (s *Service) Repair(ctx context.Context, journalID string) (JournalStatus, error) {
	entry, err := s.journal.entries.FindOne(ctx, &JournalEntry{ID: journalID})
	if err != nil {
		return "", err
	}
	if entry == nil {
		return "", fmt.Errorf("%w: %s", ErrJournalEntryNotFound, journalID)
	}
	if entry.Status != JournalOrphaned && entry.Status != JournalUnknown {
		return entry.Status, nil
	}

	zapLog := logger.FromContext(ctx,
		zap.String("journal_id", entry.ID),
		zap.String("uid", entry.UID),
		zap.String("type", string(entry.Type)),
	)

	from := []JournalStatus{entry.Status}
	if entry.TxHash == nil || *entry.TxHash == "" {
		_, err := s.journal.move(ctx, entry.ID, from, JournalNeedsReview, map[string]any{"error": "no transaction hash recorded"})
		return JournalNeedsReview, err
	}
	txHash := *entry.TxHash

	status, err := s.ledger.Receipt(ctx, txHash)
	if err != nil {
		return entry.Status, fmt.Errorf("receipt %s: %w", txHash, err)
	}

	switch status {
	case chain.ReceiptReverted:
		zapLog.Info("transfer reverted on chain, closing journal entry", zap.String("tx_hash", txHash))
		_, err := s.journal.move(ctx, entry.ID, from, JournalFailed, map[string]any{"error": chain.ErrTransferReverted.Error()})
		return JournalFailed, err

	case chain.ReceiptUnknown:
		attempts := entry.Attempts + 1
		if attempts >= s.repairAttempts {
			zapLog.Warn("no receipt after repeated checks, flagging for review", zap.String("tx_hash", txHash), zap.Int("attempts", attempts))
			_, err := s.journal.move(ctx, entry.ID, from, JournalNeedsReview, map[string]any{"attempts": attempts, "error": ErrReceiptPending.Error()})
			return JournalNeedsReview, err
		}
		if err := s.db.WithContext(ctx).Model(&JournalEntry{}).Where("id = ?", entry.ID).
			Update("attempts", attempts).Error; err != nil {
			return entry.Status, err
		}
		return entry.Status, ErrReceiptPending
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payload, err := entry.payload()
		if err != nil {
			return fmt.Errorf("decode journal payload: %w", err)
		}

		inserted, err := s.audit.WithTrx(tx).CreateIfAbsent(ctx, &AuditEntry{
			ID:             s.node.Generate().String(),
			UID:            entry.UID,
			Address:        entry.Address,
			Type:           entry.Type,
			EventID:        entry.EventID,
			Label:          entry.Label,
			Amount:         entry.Amount,
			TxHash:         txHash,
			ChainID:        s.ledger.ChainID(),
			EventTimestamp: payload.EventTimestamp,
			Source:         payload.Source,
			CreatedAt:      entry.CreatedAt.UTC(),
		})
		if err != nil {
			return fmt.Errorf("write audit entry: %w", err)
		}

		if inserted && entry.Type == TypeAward && entry.EventID != nil {
			if _, err := s.wallets.Ensure(ctx, tx, entry.UID); err != nil {
				return err
			}
			now := time.Now().UTC()
			if _, err := s.counters.WithTrx(tx).CreateIfAbsent(ctx, &Counter{UID: entry.UID, EventID: *entry.EventID, UpdatedAt: now}); err != nil {
				return err
			}
			if err := tx.WithContext(ctx).Model(&Counter{}).
				Where("uid = ? AND event_id = ?", entry.UID, *entry.EventID).
				Updates(map[string]any{"count": gorm.Expr("count + 1"), "updated_at": now}).Error; err != nil {
				return fmt.Errorf("increment counter: %w", err)
			}
		}

		moved, err := s.journal.withTx(tx).move(ctx, entry.ID, from, JournalReconciled, nil)
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("journal entry %s changed during repair", entry.ID)
		}
		return nil
	})
	if err != nil {
		zapLog.Error("failed to reconcile transfer", zap.String("tx_hash", txHash), zap.Error(err))
		return entry.Status, err
	}

	zapLog.Info("transfer reconciled", zap.String("tx_hash", txHash))
	return JournalReconciled, nil
}
