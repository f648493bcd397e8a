package award

import (
	"time"

	"encoin-rewards/pkg/units"

	"gorm.io/datatypes"
)

type EntryType string

const (
	TypeAward EntryType = "award"
	TypeSpend EntryType = "spend"
)

// Counter tracks how many confirmed awards a uid received for an event.
// Rows are created at zero on first use and only ever incremented.
type Counter struct {
	UID       string    `gorm:"column:uid;primaryKey"`
	EventID   string    `gorm:"column:event_id;primaryKey"`
	Count     int       `gorm:"column:count;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Counter) TableName() string {
	return "award_counters"
}

// AuditEntry is the append-only record of a confirmed transfer.
type AuditEntry struct {
	ID             string       `gorm:"column:id;primaryKey" json:"id"`
	UID            string       `gorm:"column:uid;not null;index:idx_audit_log_uid_created_at,priority:1" json:"uid"`
	Address        string       `gorm:"column:address;not null" json:"address"`
	Type           EntryType    `gorm:"column:type;not null" json:"type"`
	EventID        *string      `gorm:"column:event_id" json:"event_id"`
	Label          *string      `gorm:"column:label" json:"label"`
	Amount         units.Amount `gorm:"column:amount;not null" json:"amount"`
	TxHash         string       `gorm:"column:tx_hash;not null;uniqueIndex" json:"tx_hash"`
	ChainID        int64        `gorm:"column:chain_id;not null" json:"chain_id"`
	EventTimestamp *time.Time   `gorm:"column:event_timestamp" json:"event_timestamp,omitempty"`
	Source         *string      `gorm:"column:source" json:"source,omitempty"`
	CreatedAt      time.Time    `gorm:"column:created_at;index:idx_audit_log_uid_created_at,priority:2" json:"created_at"`
}

func (AuditEntry) TableName() string {
	return "audit_log"
}

type JournalStatus string

const (
	JournalPending     JournalStatus = "pending"
	JournalConfirmed   JournalStatus = "confirmed"
	JournalRejected    JournalStatus = "rejected"
	JournalFailed      JournalStatus = "failed"
	JournalUnknown     JournalStatus = "unknown"
	JournalOrphaned    JournalStatus = "orphaned"
	JournalNeedsReview JournalStatus = "needs_review"
	JournalReconciled  JournalStatus = "reconciled"
)

// JournalEntry records a transfer attempt before the chain is touched, so a
// transfer that confirms on chain but never reaches the audit log can be
// found and repaired.
//
//	pending -> confirmed | rejected | failed | unknown | orphaned
//	unknown, orphaned -> reconciled | failed | needs_review
//	pending (stale) -> needs_review
type JournalEntry struct {
	ID             string         `gorm:"column:id;primaryKey"`
	IdempotencyKey *string        `gorm:"column:idempotency_key;uniqueIndex"`
	UID            string         `gorm:"column:uid;not null;index"`
	Address        string         `gorm:"column:address;not null"`
	Type           EntryType      `gorm:"column:type;not null"`
	EventID        *string        `gorm:"column:event_id"`
	Label          *string        `gorm:"column:label"`
	Amount         units.Amount   `gorm:"column:amount;not null"`
	Status         JournalStatus  `gorm:"column:status;not null;index"`
	TxHash         *string        `gorm:"column:tx_hash"`
	Error          string         `gorm:"column:error"`
	Attempts       int            `gorm:"column:attempts;not null;default:0"`
	Payload        datatypes.JSON `gorm:"column:payload"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;index"`
}

func (JournalEntry) TableName() string {
	return "transfer_journal"
}

// journalPayload carries the audit fields that are not columns of the
// journal itself.
type journalPayload struct {
	EventTimestamp *time.Time `json:"event_timestamp,omitempty"`
	Source         *string    `json:"source,omitempty"`
}

// Result is returned by AwardEvent and Spend.
type Result struct {
	TxHash  string       `json:"tx_hash"`
	Address string       `json:"address"`
	Balance units.Amount `json:"balance"`
}

// Availability is one catalog rule seen from a single uid.
type Availability struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	EncAmount    string `json:"encAmount"`
	MaxCount     int    `json:"maxCount"`
	AwardedCount int    `json:"awardedCount"`
	Remaining    *int   `json:"remaining"`
	IsAvailable  bool   `json:"isAvailable"`
}

type Snapshot struct {
	UID     string        `json:"uid"`
	Address string        `json:"address"`
	Balance units.Amount  `json:"balance"`
	History []*AuditEntry `json:"history"`
}

func Models() []any {
	return []any{&Counter{}, &AuditEntry{}, &JournalEntry{}}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
