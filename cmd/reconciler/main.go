package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"encoin-rewards/pkg/config"
	"encoin-rewards/pkg/db"
	"encoin-rewards/pkg/gen"
	"encoin-rewards/pkg/logger"
	"encoin-rewards/pkg/otelcol"
	"encoin-rewards/pkg/redis"
	"encoin-rewards/pkg/task"
	"encoin-rewards/services/award"
	"encoin-rewards/services/catalog"
	"encoin-rewards/services/chain"
	"encoin-rewards/services/reconcile"
	"encoin-rewards/services/wallet"
)

// reconciler runs the journal sweep and the repair queue worker. It shares
// the database and chain settings of the API process.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		db.Module,
		redis.Module,
		gen.Module,
		catalog.Module,
		wallet.Module,
		chain.Module,
		award.Module,
		task.Client,
		task.Server,
		reconcile.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.IsProduction() {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger.Named("fx")}
})
