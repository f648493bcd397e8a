package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"encoin-rewards/pkg/config"
	"encoin-rewards/pkg/db"
	"encoin-rewards/pkg/gen"
	"encoin-rewards/pkg/health"
	"encoin-rewards/pkg/httpapi"
	"encoin-rewards/pkg/logger"
	"encoin-rewards/pkg/otelcol"
	"encoin-rewards/pkg/server"
	"encoin-rewards/services/award"
	"encoin-rewards/services/catalog"
	"encoin-rewards/services/chain"
	"encoin-rewards/services/wallet"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		db.Module,
		gen.Module,
		catalog.Module,
		wallet.Module,
		chain.Module,
		health.Module,
		httpapi.Module,
		award.Module,
		award.Gateway,
		server.ProvideHTTPServer,
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
