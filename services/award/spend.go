package award

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"encoin-rewards/pkg/logger"
	"encoin-rewards/pkg/units"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type SpendOptions struct {
	Label          string
	IdempotencyKey string
}

// Spend burns amount whole tokens from uid's wallet. The balance check is
// advisory: no off-chain lock is held, and a spend that loses a race to
// another spend reverts on chain and fails as INTERNAL_ERROR.
func (s *Service) Spend(ctx context.Context, uid, amount string, opts SpendOptions) (res *Result, err error) {
	ctx, span := tracer.Start(ctx, "award.Spend", trace.WithAttributes(
		attribute.String("uid", uid),
		attribute.String("amount", amount),
	))
	started := time.Now()
	defer func() {
		s.metrics.observe("spend", started, err)
		endSpan(span, err)
	}()

	res, err = s.spend(ctx, uid, amount, opts)
	if err != nil {
		return nil, internal(err)
	}
	return res, nil
}

func (s *Service) spend(ctx context.Context, uid, amountTokens string, opts SpendOptions) (*Result, error) {
	if strings.TrimSpace(uid) == "" {
		return nil, newError(KindValidation, "uid is required")
	}
	if strings.TrimSpace(amountTokens) == "" {
		return nil, newError(KindValidation, "amount is required")
	}

	amount, err := units.ParseTokens(amountTokens)
	if err != nil {
		return nil, newError(KindValidation, "invalid amount %q: %v", amountTokens, err)
	}
	if !amount.Positive() {
		return nil, newError(KindValidation, "amount must be > 0")
	}

	address, err := s.wallets.Ensure(ctx, nil, uid)
	if err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}

	zapLog := logger.FromContext(ctx,
		zap.String("uid", uid),
		zap.String("address", address),
		zap.String("amount", amount.String()),
	)

	entry, fresh, err := s.journal.begin(ctx, &JournalEntry{
		IdempotencyKey: strPtr(opts.IdempotencyKey),
		UID:            uid,
		Address:        address,
		Type:           TypeSpend,
		Label:          strPtr(opts.Label),
		Amount:         amount,
	})
	if err != nil {
		zapLog.Error("failed to open transfer journal", zap.Error(err))
		return nil, err
	}
	if !fresh {
		zapLog.Info("replaying spend for repeated idempotency key", zap.String("journal_id", entry.ID))
		return s.replay(ctx, entry)
	}

	balance, err := s.ledger.BalanceOf(ctx, address)
	if err != nil {
		s.journal.finish(ctx, entry, JournalFailed, "", err)
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if balance.Cmp(amount) < 0 {
		s.journal.finish(ctx, entry, JournalRejected, "", errors.New("insufficient balance"))
		zapLog.Info("spend rejected, insufficient balance", zap.String("balance", balance.String()))
		return nil, newError(KindInsufficientBalance, "insufficient balance")
	}

	var (
		txHash      string
		transferred bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chainCtx, cancel := context.WithTimeout(ctx, s.transferTimeout)
		defer cancel()

		hash, err := s.ledger.Spend(chainCtx, address, amount)
		txHash = hash
		if err != nil {
			return fmt.Errorf("spend transfer: %w", err)
		}
		transferred = true

		return s.audit.WithTrx(tx).Create(ctx, &AuditEntry{
			ID:        s.node.Generate().String(),
			UID:       uid,
			Address:   address,
			Type:      TypeSpend,
			Label:     strPtr(opts.Label),
			Amount:    amount,
			TxHash:    txHash,
			ChainID:   s.ledger.ChainID(),
			CreatedAt: time.Now().UTC(),
		})
	})
	if err != nil {
		status := failureStatus(err, txHash, transferred)
		s.journal.finish(ctx, entry, status, txHash, err)
		zapLog.Error("spend failed", zap.String("tx_hash", txHash), zap.String("journal_status", string(status)), zap.Error(err))
		return nil, err
	}

	s.journal.finish(ctx, entry, JournalConfirmed, txHash, nil)
	zapLog.Info("spend confirmed", zap.String("tx_hash", txHash))

	balance, err = s.ledger.BalanceOf(ctx, address)
	if err != nil {
		zapLog.Error("failed to read balance after spend", zap.String("tx_hash", txHash), zap.Error(err))
		return nil, fmt.Errorf("read balance: %w", err)
	}

	return &Result{TxHash: txHash, Address: address, Balance: balance}, nil
}
