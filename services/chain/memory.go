package chain

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"encoin-rewards/pkg/units"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Memory is an in-process ledger with the same contract semantics as the
// on-chain token: award mints, spend burns and reverts when the balance is
// short. It backs local runs and tests.
type Memory struct {
	chainID int64

	mu       sync.Mutex
	balances map[common.Address]units.Amount
	receipts map[string]ReceiptStatus
	seq      uint64
	calls    map[string]int
	failNext error
	onSubmit func(method string)
}

func NewMemory(chainID int64) *Memory {
	return &Memory{
		chainID:  chainID,
		balances: make(map[common.Address]units.Amount),
		receipts: make(map[string]ReceiptStatus),
		calls:    make(map[string]int),
	}
}

func (m *Memory) ChainID() int64 {
	return m.chainID
}

func (m *Memory) BalanceOf(_ context.Context, address string) (units.Amount, error) {
	account, err := parseAddress(address)
	if err != nil {
		return units.Amount{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["balanceOf"]++
	if err := m.takeFailure(); err != nil {
		return units.Amount{}, err
	}
	return m.balanceLocked(account), nil
}

func (m *Memory) Award(ctx context.Context, to string, amount units.Amount) (string, error) {
	return m.transfer(ctx, "award", to, amount)
}

func (m *Memory) Spend(ctx context.Context, from string, amount units.Amount) (string, error) {
	return m.transfer(ctx, "spend", from, amount)
}

func (m *Memory) transfer(ctx context.Context, method, address string, amount units.Amount) (string, error) {
	account, err := parseAddress(address)
	if err != nil {
		return "", err
	}
	if amount.IsNegative() {
		return "", ErrInvalidAmount
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	hook := m.onSubmit
	m.mu.Unlock()
	if hook != nil {
		hook(method)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[method]++
	if err := m.takeFailure(); err != nil {
		return "", err
	}

	m.seq++
	hash := m.hashLocked(method, account)

	current := m.balanceLocked(account)
	switch method {
	case "award":
		m.balances[account] = current.Add(amount)
	case "spend":
		if current.Cmp(amount) < 0 {
			m.receipts[hash] = ReceiptReverted
			return hash, ErrTransferReverted
		}
		m.balances[account] = current.Sub(amount)
	default:
		return "", fmt.Errorf("unknown method %q", method)
	}

	m.receipts[hash] = ReceiptConfirmed
	return hash, nil
}

func (m *Memory) Receipt(_ context.Context, txHash string) (ReceiptStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receipts[txHash], nil
}

// Mint credits an address without recording a call. Test setup only.
func (m *Memory) Mint(address string, amount units.Amount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account := common.HexToAddress(address)
	m.balances[account] = m.balanceLocked(account).Add(amount)
}

// FailNext makes the next ledger call return err without side effects.
func (m *Memory) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

// OnSubmit registers a hook run at the start of every award/spend call,
// before the ledger lock is taken.
func (m *Memory) OnSubmit(fn func(method string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSubmit = fn
}

// Calls reports how many times method was invoked.
func (m *Memory) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// SetReceipt overrides the receipt status of a tx hash.
func (m *Memory) SetReceipt(txHash string, status ReceiptStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[txHash] = status
}

func (m *Memory) Name() string {
	return "chain"
}

func (m *Memory) Check(context.Context) error {
	return nil
}

func (m *Memory) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *Memory) balanceLocked(account common.Address) units.Amount {
	if b, ok := m.balances[account]; ok {
		return b
	}
	return units.Zero()
}

func (m *Memory) hashLocked(method string, account common.Address) string {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], m.seq)
	return crypto.Keccak256Hash([]byte(method), account.Bytes(), seq[:]).Hex()
}
