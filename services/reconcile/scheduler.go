package reconcile

import (
	"context"
	"time"

	"encoin-rewards/pkg/config"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const sweepJobName = "reconcile-sweep"

func sweepInterval(cfg *config.Config) time.Duration {
	if cfg.Reconcile.Interval <= 0 {
		return time.Minute
	}
	return cfg.Reconcile.Interval
}

type SchedulerParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Sweeper   *Sweeper
	Locker    gocron.Locker
}

// RegisterScheduler runs Sweep on a fixed interval for the lifetime of the
// app. Nothing is scheduled when reconciliation is disabled.
func RegisterScheduler(p SchedulerParams) error {
	if !p.Config.Reconcile.Enable {
		zap.L().Info("[Reconcile] Sweep disabled")
		return nil
	}

	interval := sweepInterval(p.Config)
	s, err := gocron.NewScheduler(
		gocron.WithDistributedLocker(p.Locker),
		gocron.WithLogger(gocronLogger{}),
	)
	if err != nil {
		return err
	}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func(ctx context.Context) {
			_, _ = p.Sweeper.Sweep(ctx)
		}),
		gocron.WithName(sweepJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.Start()
			zap.L().Info("[Reconcile] Sweep scheduled", zap.Duration("interval", interval))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return s.Shutdown()
		},
	})

	return nil
}

type gocronLogger struct{}

func (gocronLogger) Debug(msg string, args ...any) { zap.S().Named("gocron").Debugw(msg, args...) }
func (gocronLogger) Error(msg string, args ...any) { zap.S().Named("gocron").Errorw(msg, args...) }
func (gocronLogger) Info(msg string, args ...any)  { zap.S().Named("gocron").Infow(msg, args...) }
func (gocronLogger) Warn(msg string, args ...any)  { zap.S().Named("gocron").Warnw(msg, args...) }
