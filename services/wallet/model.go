package wallet

import "time"

// Wallet binds a uid to its derived address. Rows are insert-only.
type Wallet struct {
	UID       string    `gorm:"column:uid;primaryKey"`
	Address   string    `gorm:"column:address;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}
