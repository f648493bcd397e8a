package award

import (
	"encoin-rewards/services/wallet"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("award.service",
	fx.Provide(
		NewService,
		NewHandler,
	),
	fx.Invoke(Migrate),
)

var Gateway = fx.Module("award.gateway",
	fx.Invoke(RegisterRoutes),
)

// Migrate creates or updates the tables owned by the reward service.
func Migrate(db *gorm.DB) error {
	models := append([]any{&wallet.Wallet{}}, Models()...)
	if err := db.AutoMigrate(models...); err != nil {
		zap.L().Error("failed to migrate reward tables", zap.Error(err))
		return err
	}
	return nil
}
