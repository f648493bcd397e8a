package award

import (
	"context"
	"strings"

	"encoin-rewards/pkg/db/option"
	"encoin-rewards/pkg/db/pagination"
	"encoin-rewards/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const snapshotHistorySize = 10

// AvailableAwards lists every catalog rule with the uid's progress on it.
// Remaining is nil for unlimited rules.
func (s *Service) AvailableAwards(ctx context.Context, uid string) ([]Availability, error) {
	if strings.TrimSpace(uid) == "" {
		return nil, newError(KindValidation, "uid is required")
	}

	if _, err := s.wallets.Ensure(ctx, nil, uid); err != nil {
		return nil, internal(err)
	}

	rows, err := s.counters.Find(ctx, &Counter{UID: uid})
	if err != nil {
		logger.FromContext(ctx, zap.String("uid", uid)).Error("failed to list award counters", zap.Error(err))
		return nil, internal(err)
	}

	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.EventID] = r.Count
	}

	rules := s.catalog.List()
	out := make([]Availability, 0, len(rules))
	for _, rule := range rules {
		item := Availability{
			ID:           rule.ID,
			Title:        rule.Title,
			EncAmount:    rule.EncAmount,
			MaxCount:     rule.MaxCount,
			AwardedCount: counts[rule.ID],
			IsAvailable:  true,
		}
		if !rule.Unlimited() {
			remaining := rule.MaxCount - item.AwardedCount
			if remaining < 0 {
				remaining = 0
			}
			item.Remaining = &remaining
			item.IsAvailable = remaining > 0
		}
		out = append(out, item)
	}

	return out, nil
}

// WalletSnapshot returns the live balance and the most recent transfers.
func (s *Service) WalletSnapshot(ctx context.Context, uid string) (*Snapshot, error) {
	if strings.TrimSpace(uid) == "" {
		return nil, newError(KindValidation, "uid is required")
	}

	address, err := s.wallets.Ensure(ctx, nil, uid)
	if err != nil {
		return nil, internal(err)
	}

	balance, err := s.ledger.BalanceOf(ctx, address)
	if err != nil {
		logger.FromContext(ctx, zap.String("uid", uid)).Error("failed to read balance", zap.Error(err))
		return nil, internal(err)
	}

	history, err := s.audit.Find(ctx, &AuditEntry{UID: uid}, newestFirst, option.WithLimit(snapshotHistorySize))
	if err != nil {
		return nil, internal(err)
	}

	return &Snapshot{
		UID:     uid,
		Address: address,
		Balance: balance,
		History: history,
	}, nil
}

// History pages through a uid's audit entries, newest first.
func (s *Service) History(ctx context.Context, uid string, p pagination.Pagination) ([]*AuditEntry, *pagination.PageInfo, error) {
	if strings.TrimSpace(uid) == "" {
		return nil, nil, newError(KindValidation, "uid is required")
	}

	limit := p.Limit
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}
	if limit > pagination.MaxLimit {
		limit = pagination.MaxLimit
	}

	opts := []option.QueryOption{newestFirst, option.ApplyPagination(pagination.Pagination{Limit: limit})}
	if p.Cursor != "" {
		cursor, err := pagination.DecodeCursor(p.Cursor)
		if err != nil {
			return nil, nil, newError(KindValidation, "%v", err)
		}
		after, _ := cursor.Time()
		opts = append(opts, func(db *gorm.DB) *gorm.DB {
			return db.Where("(created_at < ? OR (created_at = ? AND id < ?))", after, after, cursor.ID)
		})
	}

	rows, err := s.audit.Find(ctx, &AuditEntry{UID: uid}, opts...)
	if err != nil {
		return nil, nil, internal(err)
	}

	page, info, err := pagination.BuildCursorPageInfo(rows, limit, func(e *AuditEntry) pagination.Cursor {
		return pagination.NewCursor(e.CreatedAt, e.ID)
	})
	if err != nil {
		return nil, nil, internal(err)
	}
	return page, info, nil
}

func newestFirst(db *gorm.DB) *gorm.DB {
	return db.Order(clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: "created_at"}, Desc: true},
		{Column: clause.Column{Name: "id"}, Desc: true},
	}})
}
