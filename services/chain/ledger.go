package chain

//go:generate mockgen -destination mock/ledger_mock.go -package mock_chain encoin-rewards/services/chain Ledger

import (
	"context"
	"errors"

	"encoin-rewards/pkg/units"
)

var (
	ErrInvalidAddress   = errors.New("invalid address")
	ErrInvalidAmount    = errors.New("transfer amount must not be negative")
	ErrTransferReverted = errors.New("transfer reverted on chain")
	ErrUnconfirmed      = errors.New("transfer submitted but its outcome is unknown")
)

type ReceiptStatus int

const (
	ReceiptUnknown ReceiptStatus = iota
	ReceiptConfirmed
	ReceiptReverted
)

func (s ReceiptStatus) String() string {
	switch s {
	case ReceiptConfirmed:
		return "confirmed"
	case ReceiptReverted:
		return "reverted"
	default:
		return "unknown"
	}
}

// Ledger is the authoritative token ledger. Award and Spend return only
// after the transfer is confirmed. Once a transfer has been submitted its
// tx hash is returned even on error (ErrTransferReverted, ErrUnconfirmed).
type Ledger interface {
	ChainID() int64
	BalanceOf(ctx context.Context, address string) (units.Amount, error)
	Award(ctx context.Context, to string, amount units.Amount) (string, error)
	Spend(ctx context.Context, from string, amount units.Amount) (string, error)
	Receipt(ctx context.Context, txHash string) (ReceiptStatus, error)
}
