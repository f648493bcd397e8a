package award

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"encoin-rewards/pkg/db/option"
	"encoin-rewards/pkg/logger"
	"encoin-rewards/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var errJournalNotWritten = errors.New("transfer journal entry was not written")

type journal struct {
	db      *gorm.DB
	node    *snowflake.Node
	entries repository.Repository[JournalEntry]
	metrics *Metrics
}

func newJournal(db *gorm.DB, node *snowflake.Node, metrics *Metrics) *journal {
	return &journal{
		db:      db,
		node:    node,
		entries: repository.ProvideStore[JournalEntry](db),
		metrics: metrics,
	}
}

func (j *journal) withTx(tx *gorm.DB) *journal {
	return &journal{
		db:      tx,
		node:    j.node,
		entries: j.entries.WithTrx(tx),
		metrics: j.metrics,
	}
}

// begin records a pending attempt before any chain call. If the entry's
// idempotency key was used before, the earlier entry is returned with
// fresh=false when it already succeeded, or reopened with fresh=true when
// it failed or was rejected.
func (j *journal) begin(ctx context.Context, entry *JournalEntry) (*JournalEntry, bool, error) {
	entry.ID = j.node.Generate().String()
	entry.Status = JournalPending

	inserted, err := j.entries.CreateIfAbsent(ctx, entry)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		j.metrics.transition(JournalPending)
		return entry, true, nil
	}
	if entry.IdempotencyKey == nil {
		return nil, false, errJournalNotWritten
	}

	key := *entry.IdempotencyKey
	prev, err := j.entries.FindOne(ctx, &JournalEntry{IdempotencyKey: entry.IdempotencyKey})
	if err != nil {
		return nil, false, err
	}
	if prev == nil {
		return nil, false, errJournalNotWritten
	}
	if !prev.sameRequest(entry) {
		return nil, false, newError(KindValidation, "idempotency key %q was used for a different request", key)
	}

	switch prev.Status {
	case JournalConfirmed, JournalReconciled:
		return prev, false, nil
	case JournalFailed, JournalRejected:
		reopened, err := j.move(ctx, prev.ID, []JournalStatus{JournalFailed, JournalRejected}, JournalPending, map[string]any{
			"tx_hash": nil,
			"error":   "",
			"payload": entry.Payload,
		})
		if err != nil {
			return nil, false, err
		}
		if reopened {
			prev.Status = JournalPending
			prev.TxHash = nil
			prev.Payload = entry.Payload
			return prev, true, nil
		}
	}

	return nil, false, newError(KindValidation, "a request with idempotency key %q is still in progress", key)
}

// finish moves a pending entry to its outcome. The operation result is
// already decided at this point, so failures are logged and not returned.
func (j *journal) finish(ctx context.Context, entry *JournalEntry, to JournalStatus, txHash string, cause error) {
	fields := map[string]any{}
	if txHash != "" {
		fields["tx_hash"] = txHash
	}
	if cause != nil {
		fields["error"] = cause.Error()
	}

	moved, err := j.move(context.WithoutCancel(ctx), entry.ID, []JournalStatus{JournalPending}, to, fields)
	zapLog := logger.FromContext(ctx,
		zap.String("journal_id", entry.ID),
		zap.String("status", string(to)),
		zap.String("tx_hash", txHash),
	)
	switch {
	case err != nil:
		zapLog.Error("failed to update transfer journal", zap.Error(err))
	case !moved:
		zapLog.Warn("transfer journal entry left pending state concurrently")
	case to == JournalOrphaned || to == JournalUnknown:
		zapLog.Warn("transfer needs reconciliation", zap.NamedError("cause", cause))
	}
}

// move applies a status transition guarded by the allowed source statuses.
// It reports whether the row changed.
func (j *journal) move(ctx context.Context, id string, from []JournalStatus, to JournalStatus, fields map[string]any) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range fields {
		updates[k] = v
	}

	q := j.db.WithContext(ctx).Model(&JournalEntry{}).Where("id = ?", id)
	if len(from) > 0 {
		q = q.Where("status IN ?", from)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	j.metrics.transition(to)
	return true, nil
}

// outstandingStatuses are award outcomes whose tokens may have moved
// without the counter being incremented.
var outstandingStatuses = []JournalStatus{JournalOrphaned, JournalUnknown, JournalNeedsReview}

// outstandingAwards counts awards of (uid, eventID) that are waiting on
// reconciliation or review.
func (j *journal) outstandingAwards(ctx context.Context, uid, eventID string) (int, error) {
	n, err := j.entries.Count(ctx, &JournalEntry{UID: uid, Type: TypeAward, EventID: &eventID},
		option.ApplyOperator(option.Condition{
			Field:    "status",
			Operator: option.IN,
			Value:    outstandingStatuses,
		}),
	)
	return int(n), err
}

func (e *JournalEntry) sameRequest(other *JournalEntry) bool {
	return e.UID == other.UID &&
		e.Type == other.Type &&
		derefString(e.EventID) == derefString(other.EventID) &&
		e.Amount.Cmp(other.Amount) == 0
}

func (e *JournalEntry) payload() (journalPayload, error) {
	var p journalPayload
	if len(e.Payload) == 0 {
		return p, nil
	}
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

func encodePayload(p journalPayload) (datatypes.JSON, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
