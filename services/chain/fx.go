package chain

import (
	"context"
	"time"

	"encoin-rewards/pkg/config"
	"encoin-rewards/pkg/health"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("chain",
	fx.Provide(
		NewLedger,
		fx.Annotate(
			provideChecker,
			fx.ResultTags(`group:"readiness"`),
		),
	),
)

type ledgerParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
}

func NewLedger(p ledgerParams) (Ledger, error) {
	c := p.Config.Chain
	if c.Driver == config.ChainDriverMemory {
		zap.L().Warn("[Chain] using in-memory ledger, balances are not persisted", zap.Int64("chain_id", c.ChainID))
		return NewMemory(c.ChainID), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	evm, client, err := DialEVM(ctx, c.RPCURL, EVMConfig{
		ChainID:     c.ChainID,
		Contract:    c.ContractAddress,
		PrivateKey:  c.PrivateKey,
		ReadRetries: c.ReadRetries,
	})
	if err != nil {
		zap.L().Error("[Chain] failed to connect", zap.Error(err))
		return nil, err
	}

	zap.L().Info("[Chain] connected",
		zap.Int64("chain_id", evm.ChainID()),
		zap.String("contract", c.ContractAddress),
		zap.String("signer", evm.Signer().Hex()),
	)

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			client.Close()
			return nil
		},
	})

	return evm, nil
}

func provideChecker(l Ledger) health.Checker {
	if c, ok := l.(health.Checker); ok {
		return c
	}
	return health.CheckerFunc("chain", func(context.Context) error { return nil })
}
