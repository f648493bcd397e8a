package award

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"encoin-rewards/pkg/units"
	"encoin-rewards/services/chain"
	mock_chain "encoin-rewards/services/chain/mock"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"gorm.io/gorm"
)

// failAuditWrites makes the next audit_log insert fail after the chain
// transfer has gone through.
func failAuditWrites(t *testing.T, db *gorm.DB) *atomic.Bool {
	t.Helper()
	var armed atomic.Bool
	err := db.Callback().Create().Before("gorm:create").Register("test:fail_audit", func(tx *gorm.DB) {
		if tx.Statement.Table == "audit_log" && armed.CompareAndSwap(true, false) {
			_ = tx.AddError(errors.New("disk full"))
		}
	})
	require.NoError(t, err)
	return &armed
}

func TestOrphanedAwardIsReconciled(t *testing.T) {
	ctx := context.Background()
	ledger := chain.NewMemory(testChainID)
	f := newFixture(t, ledger)
	armed := failAuditWrites(t, f.db)

	armed.Store(true)
	_, err := f.service.AwardEvent(ctx, "r1", "daily_login", AwardOptions{Source: "web"})
	require.Equal(t, KindInternal, KindOf(err))

	// tokens moved, nothing recorded off-chain
	balance, err := ledger.BalanceOf(ctx, mustResolve(t, "r1"))
	require.NoError(t, err)
	require.Equal(t, "10", balance.Tokens())
	require.Zero(t, f.count(t, &AuditEntry{}))
	require.Zero(t, f.count(t, &Counter{}))

	journal := f.journalFor(t, "r1")
	require.Len(t, journal, 1)
	require.Equal(t, JournalOrphaned, journal[0].Status)
	require.NotNil(t, journal[0].TxHash)

	candidates, err := f.service.RepairCandidates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, journal[0].ID, candidates[0].ID)

	status, err := f.service.Repair(ctx, journal[0].ID)
	require.NoError(t, err)
	require.Equal(t, JournalReconciled, status)

	var entries []AuditEntry
	require.NoError(t, f.db.Where("uid = ?", "r1").Find(&entries).Error)
	require.Len(t, entries, 1)
	require.Equal(t, *journal[0].TxHash, entries[0].TxHash)
	require.Equal(t, "web", *entries[0].Source)
	require.Equal(t, "daily_login", *entries[0].EventID)

	var counter Counter
	require.NoError(t, f.db.Where("uid = ? AND event_id = ?", "r1", "daily_login").First(&counter).Error)
	require.Equal(t, 1, counter.Count)

	// a second repair is a no-op
	status, err = f.service.Repair(ctx, journal[0].ID)
	require.NoError(t, err)
	require.Equal(t, JournalReconciled, status)
	require.Equal(t, int64(1), f.count(t, &AuditEntry{}))

	candidates, err = f.service.RepairCandidates(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, candidates)

	_, err = f.service.AwardEvent(ctx, "r1", "daily_login", AwardOptions{})
	require.Equal(t, KindMaxCountExceeded, KindOf(err))
}

func TestOrphanedAwardHoldsAllowance(t *testing.T) {
	ctx := context.Background()
	ledger := chain.NewMemory(testChainID)
	f := newFixture(t, ledger)
	armed := failAuditWrites(t, f.db)

	armed.Store(true)
	_, err := f.service.AwardEvent(ctx, "p1", "daily_login", AwardOptions{})
	require.Equal(t, KindInternal, KindOf(err))

	_, err = f.service.AwardEvent(ctx, "p1", "daily_login", AwardOptions{})
	require.Equal(t, KindMaxCountExceeded, KindOf(err))
	require.Equal(t, 1, ledger.Calls("award"))

	balance, err := ledger.BalanceOf(ctx, mustResolve(t, "p1"))
	require.NoError(t, err)
	require.Equal(t, "10", balance.Tokens())

	var orphaned JournalEntry
	require.NoError(t, f.db.Where("uid = ? AND status = ?", "p1", JournalOrphaned).First(&orphaned).Error)

	status, err := f.service.Repair(ctx, orphaned.ID)
	require.NoError(t, err)
	require.Equal(t, JournalReconciled, status)

	var counter Counter
	require.NoError(t, f.db.Where("uid = ? AND event_id = ?", "p1", "daily_login").First(&counter).Error)
	require.Equal(t, 1, counter.Count)

	_, err = f.service.AwardEvent(ctx, "p1", "daily_login", AwardOptions{})
	require.Equal(t, KindMaxCountExceeded, KindOf(err))
	require.Equal(t, 1, ledger.Calls("award"))
}

func TestUnknownAwardHoldsAllowanceUntilSettled(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	ledger := mock_chain.NewMockLedger(ctrl)
	f := newFixture(t, ledger)

	const hash = "0x00000000000000000000000000000000000000000000000000000000000000dd"
	ledger.EXPECT().Award(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(hash, fmt.Errorf("%w: context deadline exceeded", chain.ErrUnconfirmed)).Times(1)

	_, err := f.service.AwardEvent(ctx, "p2", "daily_login", AwardOptions{})
	require.ErrorIs(t, err, chain.ErrUnconfirmed)

	_, err = f.service.AwardEvent(ctx, "p2", "daily_login", AwardOptions{})
	require.Equal(t, KindMaxCountExceeded, KindOf(err))

	// a reverted transfer gives the allowance back
	journal := f.journalFor(t, "p2")
	ledger.EXPECT().Receipt(gomock.Any(), hash).Return(chain.ReceiptReverted, nil)
	status, err := f.service.Repair(ctx, journal[0].ID)
	require.NoError(t, err)
	require.Equal(t, JournalFailed, status)

	ledger.EXPECT().ChainID().Return(testChainID).AnyTimes()
	ledger.EXPECT().Award(gomock.Any(), gomock.Any(), gomock.Any()).Return(hash[:len(hash)-2]+"ee", nil)
	ledger.EXPECT().BalanceOf(gomock.Any(), gomock.Any()).Return(units.FromInt(10), nil)
	_, err = f.service.AwardEvent(ctx, "p2", "daily_login", AwardOptions{})
	require.NoError(t, err)
}

func TestOrphanedSpendIsReconciled(t *testing.T) {
	ctx := context.Background()
	ledger := chain.NewMemory(testChainID)
	f := newFixture(t, ledger)
	armed := failAuditWrites(t, f.db)

	ledger.Mint(mustResolve(t, "r2"), tokens(t, "3"))
	armed.Store(true)
	_, err := f.service.Spend(ctx, "r2", "1", SpendOptions{Label: "sticker"})
	require.Equal(t, KindInternal, KindOf(err))

	journal := f.journalFor(t, "r2")
	require.Len(t, journal, 1)
	require.Equal(t, JournalOrphaned, journal[0].Status)

	status, err := f.service.Repair(ctx, journal[0].ID)
	require.NoError(t, err)
	require.Equal(t, JournalReconciled, status)

	var entry AuditEntry
	require.NoError(t, f.db.Where("uid = ?", "r2").First(&entry).Error)
	require.Equal(t, TypeSpend, entry.Type)
	require.Equal(t, "sticker", *entry.Label)
	require.Zero(t, f.count(t, &Counter{}))
}

func TestRepairUnconfirmedTransfer(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	ledger := mock_chain.NewMockLedger(ctrl)
	f := newFixture(t, ledger)

	const hash = "0x00000000000000000000000000000000000000000000000000000000000000bb"
	ledger.EXPECT().Award(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(hash, fmt.Errorf("%w: context deadline exceeded", chain.ErrUnconfirmed)).Times(1)

	_, err := f.service.AwardEvent(ctx, "r3", "share_post", AwardOptions{})
	require.Equal(t, KindInternal, KindOf(err))
	require.True(t, errors.Is(err, chain.ErrUnconfirmed))

	journal := f.journalFor(t, "r3")
	require.Len(t, journal, 1)
	require.Equal(t, JournalUnknown, journal[0].Status)
	id := journal[0].ID

	gomock.InOrder(
		ledger.EXPECT().Receipt(gomock.Any(), hash).Return(chain.ReceiptUnknown, nil),
		ledger.EXPECT().Receipt(gomock.Any(), hash).Return(chain.ReceiptReverted, nil),
	)

	status, err := f.service.Repair(ctx, id)
	require.ErrorIs(t, err, ErrReceiptPending)
	require.Equal(t, JournalUnknown, status)

	journal = f.journalFor(t, "r3")
	require.Equal(t, 1, journal[0].Attempts)

	status, err = f.service.Repair(ctx, id)
	require.NoError(t, err)
	require.Equal(t, JournalFailed, status)
	require.Zero(t, f.count(t, &AuditEntry{}))
}

func TestRepairGivesUpAfterAttempts(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	ledger := mock_chain.NewMockLedger(ctrl)
	f := newFixture(t, ledger)

	hash := "0x00000000000000000000000000000000000000000000000000000000000000cc"
	entry := &JournalEntry{
		ID:      "j-1",
		UID:     "r4",
		Address: mustResolve(t, "r4"),
		Type:    TypeSpend,
		Amount:  units.FromInt(1),
		Status:  JournalUnknown,
		TxHash:  &hash,
	}
	require.NoError(t, f.db.Create(entry).Error)

	ledger.EXPECT().Receipt(gomock.Any(), hash).Return(chain.ReceiptUnknown, nil).Times(3)

	for i := 0; i < 2; i++ {
		_, err := f.service.Repair(ctx, "j-1")
		require.ErrorIs(t, err, ErrReceiptPending)
	}

	status, err := f.service.Repair(ctx, "j-1")
	require.NoError(t, err)
	require.Equal(t, JournalNeedsReview, status)

	_, err = f.service.Repair(ctx, "missing")
	require.ErrorIs(t, err, ErrJournalEntryNotFound)
}

func TestFlagStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, chain.NewMemory(testChainID))

	old := time.Now().Add(-time.Hour).UTC()
	for i, updated := range []time.Time{old, time.Now().UTC()} {
		require.NoError(t, f.db.Create(&JournalEntry{
			ID:        fmt.Sprintf("p-%d", i),
			UID:       "r5",
			Address:   mustResolve(t, "r5"),
			Type:      TypeSpend,
			Amount:    units.FromInt(1),
			Status:    JournalPending,
			CreatedAt: updated,
			UpdatedAt: updated,
		}).Error)
	}

	n, err := f.service.FlagStale(ctx, time.Now().Add(-10*time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	journal := f.journalFor(t, "r5")
	require.Equal(t, JournalNeedsReview, journal[0].Status)
	require.Equal(t, JournalPending, journal[1].Status)
}

func TestPruneRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, chain.NewMemory(testChainID))

	_, err := f.service.AwardEvent(ctx, "r6", "daily_login", AwardOptions{})
	require.NoError(t, err)
	_, err = f.service.AwardEvent(ctx, "r6", "daily_login", AwardOptions{})
	require.Equal(t, KindMaxCountExceeded, KindOf(err))

	journal := f.journalFor(t, "r6")
	require.Len(t, journal, 2)
	require.Equal(t, JournalConfirmed, journal[0].Status)
	require.Equal(t, JournalRejected, journal[1].Status)

	n, err := f.service.PruneRejected(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = f.service.PruneRejected(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	journal = f.journalFor(t, "r6")
	require.Len(t, journal, 1)
	require.Equal(t, JournalConfirmed, journal[0].Status)
}
