package httpapi

import (
	"encoin-rewards/pkg/config"
	"encoin-rewards/pkg/errutil"
	"encoin-rewards/pkg/health"
	"encoin-rewards/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewEngine),
	fx.Invoke(registerHealthEndpoint),
)

// NewEngine returns the gin engine every gateway registers its routes on.
func NewEngine(cfg *config.Config) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.Trace(cfg.AppName),
		middleware.Logger(),
		middleware.Channel(),
		middleware.Error(),
	)
	r.NoRoute(func(c *gin.Context) {
		_ = c.Error(errutil.NotFound("route not found", nil))
	})
	return r
}

func registerHealthEndpoint(r *gin.Engine, h health.HealthService) {
	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
