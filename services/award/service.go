package award

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"encoin-rewards/pkg/config"
	"encoin-rewards/pkg/db/option"
	"encoin-rewards/pkg/logger"
	"encoin-rewards/pkg/repository"
	"encoin-rewards/services/catalog"
	"encoin-rewards/services/chain"
	"encoin-rewards/services/wallet"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultTransferTimeout = 2 * time.Minute

var tracer = otel.Tracer("encoin-rewards/services/award")

type Service struct {
	db              *gorm.DB
	node            *snowflake.Node
	catalog         *catalog.Catalog
	wallets         *wallet.Service
	ledger          chain.Ledger
	transferTimeout time.Duration
	repairAttempts  int
	metrics         *Metrics
	journal         *journal

	counters repository.Repository[Counter]
	audit    repository.Repository[AuditEntry]
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	Node    *snowflake.Node
	Config  *config.Config
	Catalog *catalog.Catalog
	Wallets *wallet.Service
	Ledger  chain.Ledger
}

func NewService(p ServiceParams) *Service {
	timeout := p.Config.Award.TransferTimeout
	if timeout <= 0 {
		timeout = defaultTransferTimeout
	}

	attempts := p.Config.Reconcile.MaxRetry
	if attempts <= 0 {
		attempts = defaultRepairAttempts
	}

	metrics := DefaultMetrics()
	return &Service{
		db:              p.DB,
		node:            p.Node,
		catalog:         p.Catalog,
		wallets:         p.Wallets,
		ledger:          p.Ledger,
		transferTimeout: timeout,
		repairAttempts:  attempts,
		metrics:         metrics,
		journal:         newJournal(p.DB, p.Node, metrics),

		counters: repository.ProvideStore[Counter](p.DB),
		audit:    repository.ProvideStore[AuditEntry](p.DB),
	}
}

type AwardOptions struct {
	// Timestamp is the caller's event time, RFC 3339 / ISO 8601.
	Timestamp      string
	Source         string
	IdempotencyKey string
}

// AwardEvent grants the reward configured for eventID to uid. The counter
// row of (uid, eventID) stays locked until the chain transfer confirms, so
// concurrent calls for the same pair cannot exceed the rule's max count.
func (s *Service) AwardEvent(ctx context.Context, uid, eventID string, opts AwardOptions) (res *Result, err error) {
	ctx, span := tracer.Start(ctx, "award.AwardEvent", trace.WithAttributes(
		attribute.String("uid", uid),
		attribute.String("event_id", eventID),
	))
	started := time.Now()
	defer func() {
		s.metrics.observe("award", started, err)
		endSpan(span, err)
	}()

	res, err = s.awardEvent(ctx, uid, eventID, opts)
	if err != nil {
		return nil, internal(err)
	}
	return res, nil
}

func (s *Service) awardEvent(ctx context.Context, uid, eventID string, opts AwardOptions) (*Result, error) {
	if strings.TrimSpace(uid) == "" {
		return nil, newError(KindValidation, "uid is required")
	}
	if strings.TrimSpace(eventID) == "" {
		return nil, newError(KindValidation, "eventId is required")
	}

	var eventTime *time.Time
	if opts.Timestamp != "" {
		t, err := parseTimestamp(opts.Timestamp)
		if err != nil {
			return nil, newError(KindValidation, "invalid timestamp %q", opts.Timestamp)
		}
		eventTime = &t
	}

	rule, ok := s.catalog.Lookup(eventID)
	if !ok {
		return nil, newError(KindUnknownAction, "unknown eventId: %s", eventID)
	}

	address, err := s.wallets.Resolver().Resolve(uid)
	if err != nil {
		return nil, newError(KindValidation, "%v", err)
	}

	zapLog := logger.FromContext(ctx,
		zap.String("uid", uid),
		zap.String("event_id", eventID),
		zap.String("address", address),
	)

	payload, err := encodePayload(journalPayload{EventTimestamp: eventTime, Source: strPtr(opts.Source)})
	if err != nil {
		return nil, err
	}

	entry, fresh, err := s.journal.begin(ctx, &JournalEntry{
		IdempotencyKey: strPtr(opts.IdempotencyKey),
		UID:            uid,
		Address:        address,
		Type:           TypeAward,
		EventID:        &eventID,
		Label:          &rule.Title,
		Amount:         rule.Amount,
		Payload:        payload,
	})
	if err != nil {
		zapLog.Error("failed to open transfer journal", zap.Error(err))
		return nil, err
	}
	if !fresh {
		zapLog.Info("replaying award for repeated idempotency key", zap.String("journal_id", entry.ID))
		return s.replay(ctx, entry)
	}

	var (
		txHash      string
		transferred bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.wallets.Ensure(ctx, tx, uid); err != nil {
			return fmt.Errorf("ensure wallet: %w", err)
		}

		if _, err := s.counters.WithTrx(tx).CreateIfAbsent(ctx, &Counter{UID: uid, EventID: eventID, UpdatedAt: time.Now().UTC()}); err != nil {
			return fmt.Errorf("ensure counter: %w", err)
		}

		var counter Counter
		res := lockCounter(tx.WithContext(ctx), uid, eventID).Find(&counter)
		if res.Error != nil {
			return fmt.Errorf("lock counter: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errors.New("lock counter: row vanished")
		}

		if !rule.Unlimited() {
			// transfers that may have paid out but never reached the
			// counter still use up the allowance
			outstanding, err := s.journal.withTx(tx).outstandingAwards(ctx, uid, eventID)
			if err != nil {
				return fmt.Errorf("count outstanding awards: %w", err)
			}
			if counter.Count+outstanding >= rule.MaxCount {
				return newError(KindMaxCountExceeded, "maxCount reached for this award")
			}
		}

		chainCtx, cancel := context.WithTimeout(ctx, s.transferTimeout)
		defer cancel()

		var err error
		txHash, err = s.ledger.Award(chainCtx, address, rule.Amount)
		if err != nil {
			return fmt.Errorf("award transfer: %w", err)
		}
		transferred = true

		now := time.Now().UTC()
		if err := tx.WithContext(ctx).Model(&Counter{}).
			Where("uid = ? AND event_id = ?", uid, eventID).
			Updates(map[string]any{"count": gorm.Expr("count + 1"), "updated_at": now}).Error; err != nil {
			return fmt.Errorf("increment counter: %w", err)
		}

		return s.audit.WithTrx(tx).Create(ctx, &AuditEntry{
			ID:             s.node.Generate().String(),
			UID:            uid,
			Address:        address,
			Type:           TypeAward,
			EventID:        &eventID,
			Label:          &rule.Title,
			Amount:         rule.Amount,
			TxHash:         txHash,
			ChainID:        s.ledger.ChainID(),
			EventTimestamp: eventTime,
			Source:         strPtr(opts.Source),
			CreatedAt:      now,
		})
	})
	if err != nil {
		status := failureStatus(err, txHash, transferred)
		s.journal.finish(ctx, entry, status, txHash, err)
		if KindOf(err) == KindMaxCountExceeded {
			zapLog.Info("award rejected, max count reached", zap.Int("max_count", rule.MaxCount))
		} else {
			zapLog.Error("award failed", zap.String("tx_hash", txHash), zap.String("journal_status", string(status)), zap.Error(err))
		}
		return nil, err
	}

	s.journal.finish(ctx, entry, JournalConfirmed, txHash, nil)
	zapLog.Info("award confirmed", zap.String("tx_hash", txHash), zap.String("amount", rule.Amount.String()))

	balance, err := s.ledger.BalanceOf(ctx, address)
	if err != nil {
		zapLog.Error("failed to read balance after award", zap.String("tx_hash", txHash), zap.Error(err))
		return nil, fmt.Errorf("read balance: %w", err)
	}

	return &Result{TxHash: txHash, Address: address, Balance: balance}, nil
}

// lockCounter selects the counter row of (uid, eventID) with FOR UPDATE.
// The lock is held until tx ends.
func lockCounter(tx *gorm.DB, uid, eventID string) *gorm.DB {
	return tx.Model(&Counter{}).
		Scopes(option.LockingUpdate).
		Where("uid = ? AND event_id = ?", uid, eventID).
		Limit(1)
}

// replay answers a repeated idempotency key with the stored transfer and
// the current balance.
func (s *Service) replay(ctx context.Context, entry *JournalEntry) (*Result, error) {
	balance, err := s.ledger.BalanceOf(ctx, entry.Address)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	return &Result{TxHash: derefString(entry.TxHash), Address: entry.Address, Balance: balance}, nil
}

// failureStatus picks the journal outcome of a failed transaction.
func failureStatus(err error, txHash string, transferred bool) JournalStatus {
	switch {
	case KindOf(err) != KindInternal:
		return JournalRejected
	case transferred:
		return JournalOrphaned
	case txHash != "" && errors.Is(err, chain.ErrTransferReverted):
		return JournalFailed
	case txHash != "":
		return JournalUnknown
	default:
		return JournalFailed
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
	}
	span.End()
}
