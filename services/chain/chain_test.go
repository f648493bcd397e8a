package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"encoin-rewards/pkg/units"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const alice = "0x00000000000000000000000000000000000A11cE"

func tokens(t *testing.T, s string) units.Amount {
	t.Helper()
	a, err := units.ParseTokens(s)
	require.NoError(t, err)
	return a
}

func TestMemoryAwardAndSpend(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(80002)
	require.Equal(t, int64(80002), m.ChainID())

	hash, err := m.Award(ctx, alice, tokens(t, "10"))
	require.NoError(t, err)
	require.True(t, isHexHash(hash))

	status, err := m.Receipt(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, ReceiptConfirmed, status)

	_, err = m.Spend(ctx, alice, tokens(t, "4"))
	require.NoError(t, err)

	bal, err := m.BalanceOf(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, "6", bal.Tokens())

	require.Equal(t, 1, m.Calls("award"))
	require.Equal(t, 1, m.Calls("spend"))
}

func TestMemorySpendRevertsOnShortBalance(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(1)
	m.Mint(alice, tokens(t, "1"))

	hash, err := m.Spend(ctx, alice, tokens(t, "2"))
	require.ErrorIs(t, err, ErrTransferReverted)
	require.NotEmpty(t, hash)

	status, err := m.Receipt(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, ReceiptReverted, status)

	bal, err := m.BalanceOf(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, "1", bal.Tokens())
}

func TestMemoryHashesAreUnique(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(1)

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		h, err := m.Award(ctx, alice, tokens(t, "1"))
		require.NoError(t, err)
		require.False(t, seen[h])
		seen[h] = true
	}
}

func TestMemoryFailNext(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(1)
	boom := errors.New("rpc down")

	m.FailNext(boom)
	_, err := m.Award(ctx, alice, tokens(t, "1"))
	require.ErrorIs(t, err, boom)

	bal, err := m.BalanceOf(ctx, alice)
	require.NoError(t, err)
	require.True(t, bal.IsZero())
}

func TestMemoryRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(1)

	_, err := m.Award(ctx, "not-an-address", tokens(t, "1"))
	require.ErrorIs(t, err, ErrInvalidAddress)

	_, err = m.Award(ctx, alice, tokens(t, "-1"))
	require.ErrorIs(t, err, ErrInvalidAmount)

	status, err := m.Receipt(ctx, common.Hash{}.Hex())
	require.NoError(t, err)
	require.Equal(t, ReceiptUnknown, status)
}

func TestEnCoinABIPacksTransfers(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(EnCoinABI))
	require.NoError(t, err)

	for _, method := range []string{"award", "spend"} {
		data, err := parsed.Pack(method, common.HexToAddress(alice), tokens(t, "1").Big())
		require.NoError(t, err)
		require.Len(t, data, 4+32+32)
	}

	_, ok := parsed.Methods["balanceOf"]
	require.True(t, ok)
}

func TestNewEVMValidatesConfig(t *testing.T) {
	_, err := NewEVM(nil, EVMConfig{Contract: "nope", PrivateKey: strings.Repeat("1", 64)})
	require.ErrorIs(t, err, ErrInvalidAddress)

	_, err = NewEVM(nil, EVMConfig{Contract: alice, PrivateKey: "zz"})
	require.Error(t, err)

	evm, err := NewEVM(nil, EVMConfig{ChainID: 80002, Contract: alice, PrivateKey: strings.Repeat("1", 64)})
	require.NoError(t, err)
	require.Equal(t, int64(80002), evm.ChainID())
	require.NotEqual(t, common.Address{}, evm.Signer())
}

func TestReceiptStatusString(t *testing.T) {
	require.Equal(t, "confirmed", ReceiptConfirmed.String())
	require.Equal(t, "reverted", ReceiptReverted.String())
	require.Equal(t, "unknown", ReceiptUnknown.String())
}

// blockingBackend answers balanceOf calls once release is closed. Only
// CallContract is implemented.
type blockingBackend struct {
	Backend
	output  []byte
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (b *blockingBackend) CallContract(ctx context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.calls.Add(1)
	select {
	case b.started <- struct{}{}:
	default:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.release:
		return b.output, nil
	}
}

func TestEVMBalanceOfSurvivesCancelledPeer(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(EnCoinABI))
	require.NoError(t, err)
	output, err := parsed.Methods["balanceOf"].Outputs.Pack(big.NewInt(42))
	require.NoError(t, err)

	backend := &blockingBackend{
		output:  output,
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	evm, err := NewEVM(backend, EVMConfig{ChainID: 80002, Contract: alice, PrivateKey: strings.Repeat("1", 64)})
	require.NoError(t, err)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := evm.BalanceOf(first, alice)
		firstErr <- err
	}()
	<-backend.started

	type result struct {
		balance units.Amount
		err     error
	}
	second := make(chan result, 1)
	go func() {
		balance, err := evm.BalanceOf(context.Background(), alice)
		second <- result{balance, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(backend.release)
	res := <-second
	require.NoError(t, res.err)
	require.Equal(t, "42", res.balance.String())
}
