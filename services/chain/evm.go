package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"encoin-rewards/pkg/units"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const balanceReadTimeout = 15 * time.Second

// EnCoinABI is the subset of the token contract the service calls.
const EnCoinABI = `[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"award","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"spend","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

// Backend is the RPC surface used by EVM. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
}

type EVMConfig struct {
	ChainID     int64
	Contract    string
	PrivateKey  string
	ReadRetries uint64
}

// EVM talks to the EnCoin contract through a JSON-RPC node. Submissions are
// serialized so nonces are assigned in order; confirmation waits run
// concurrently.
type EVM struct {
	backend  Backend
	contract *bind.BoundContract
	address  common.Address
	chainID  *big.Int
	key      *ecdsa.PrivateKey

	submitMu    sync.Mutex
	reads       singleflight.Group
	readRetries uint64
}

func DialEVM(ctx context.Context, rpcURL string, cfg EVMConfig) (*EVM, *ethclient.Client, error) {
	endpoint := strings.TrimSpace(rpcURL)
	if endpoint == "" {
		return nil, nil, errors.New("rpc url required")
	}

	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	remote, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("fetch chain id: %w", err)
	}
	if remote.Int64() != cfg.ChainID {
		client.Close()
		return nil, nil, fmt.Errorf("rpc serves chain %s, configured %d", remote, cfg.ChainID)
	}

	evm, err := NewEVM(client, cfg)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return evm, client, nil
}

func NewEVM(backend Backend, cfg EVMConfig) (*EVM, error) {
	if !common.IsHexAddress(cfg.Contract) {
		return nil, fmt.Errorf("%w: contract %q", ErrInvalidAddress, cfg.Contract)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(EnCoinABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}

	address := common.HexToAddress(cfg.Contract)
	return &EVM{
		backend:     backend,
		contract:    bind.NewBoundContract(address, parsed, backend, backend, backend),
		address:     address,
		chainID:     big.NewInt(cfg.ChainID),
		key:         key,
		readRetries: cfg.ReadRetries,
	}, nil
}

func (e *EVM) ChainID() int64 {
	return e.chainID.Int64()
}

func (e *EVM) Signer() common.Address {
	return crypto.PubkeyToAddress(e.key.PublicKey)
}

// BalanceOf reads the live balance. Concurrent reads for the same address
// share one RPC call; transient failures are retried with backoff. The
// shared call runs detached from any single caller, and each caller stops
// waiting when its own ctx ends.
func (e *EVM) BalanceOf(ctx context.Context, address string) (units.Amount, error) {
	account, err := parseAddress(address)
	if err != nil {
		return units.Amount{}, err
	}

	ch := e.reads.DoChan(account.Hex(), func() (interface{}, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), balanceReadTimeout)
		defer cancel()
		return e.readBalance(readCtx, account)
	})

	select {
	case <-ctx.Done():
		return units.Amount{}, fmt.Errorf("balanceOf %s: %w", account.Hex(), ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return units.Amount{}, fmt.Errorf("balanceOf %s: %w", account.Hex(), res.Err)
		}
		return units.FromBig(res.Val.(*big.Int)), nil
	}
}

func (e *EVM) readBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	var balance *big.Int
	op := func() error {
		var out []interface{}
		if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", account); err != nil {
			return err
		}
		if len(out) != 1 {
			return backoff.Permanent(fmt.Errorf("balanceOf returned %d values", len(out)))
		}
		b, ok := out[0].(*big.Int)
		if !ok {
			return backoff.Permanent(fmt.Errorf("balanceOf returned %T", out[0]))
		}
		balance = b
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = 10 * time.Second
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, e.readRetries), ctx))
	return balance, err
}

func (e *EVM) Award(ctx context.Context, to string, amount units.Amount) (string, error) {
	return e.transfer(ctx, "award", to, amount)
}

func (e *EVM) Spend(ctx context.Context, from string, amount units.Amount) (string, error) {
	return e.transfer(ctx, "spend", from, amount)
}

func (e *EVM) transfer(ctx context.Context, method, address string, amount units.Amount) (string, error) {
	account, err := parseAddress(address)
	if err != nil {
		return "", err
	}
	if amount.IsNegative() {
		return "", ErrInvalidAmount
	}

	zapLog := zap.L().With(
		zap.String("method", method),
		zap.String("address", account.Hex()),
		zap.String("amount", amount.String()),
	)

	tx, err := e.submit(ctx, method, account, amount.Big())
	if err != nil {
		zapLog.Error("failed to submit transfer", zap.Error(err))
		return "", fmt.Errorf("submit %s: %w", method, err)
	}

	hash := tx.Hash().Hex()
	zapLog = zapLog.With(zap.String("tx_hash", hash))
	zapLog.Info("transfer submitted, waiting for confirmation")

	receipt, err := bind.WaitMined(ctx, e.backend, tx)
	if err != nil {
		zapLog.Warn("transfer not confirmed", zap.Error(err))
		return hash, fmt.Errorf("%w: %v", ErrUnconfirmed, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		zapLog.Error("transfer reverted", zap.Uint64("block", receipt.BlockNumber.Uint64()))
		return hash, ErrTransferReverted
	}

	zapLog.Info("transfer confirmed", zap.Uint64("block", receipt.BlockNumber.Uint64()))
	return hash, nil
}

func (e *EVM) submit(ctx context.Context, method string, account common.Address, amount *big.Int) (*types.Transaction, error) {
	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	opts, err := bind.NewKeyedTransactorWithChainID(e.key, e.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx

	return e.contract.Transact(opts, method, account, amount)
}

func (e *EVM) Receipt(ctx context.Context, txHash string) (ReceiptStatus, error) {
	if !isHexHash(txHash) {
		return ReceiptUnknown, fmt.Errorf("invalid tx hash %q", txHash)
	}

	receipt, err := e.backend.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return ReceiptUnknown, nil
		}
		return ReceiptUnknown, fmt.Errorf("fetch receipt: %w", err)
	}
	if receipt == nil {
		return ReceiptUnknown, nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return ReceiptReverted, nil
	}
	return ReceiptConfirmed, nil
}

func (e *EVM) Name() string {
	return "chain"
}

// Check is the readiness probe: the node must answer a block number query.
func (e *EVM) Check(ctx context.Context) error {
	_, err := e.backend.BlockNumber(ctx)
	return err
}

func parseAddress(address string) (common.Address, error) {
	if !common.IsHexAddress(address) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return common.HexToAddress(address), nil
}

func isHexHash(h string) bool {
	h = strings.TrimPrefix(h, "0x")
	if len(h) != 2*common.HashLength {
		return false
	}
	for _, c := range h {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}
