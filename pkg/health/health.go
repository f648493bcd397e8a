package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("health", fx.Provide(ProvideHealth))

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps,omitempty"`
}

// Checker is a readiness dependency. Modules contribute checkers to the
// "readiness" value group.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

type checkerFunc struct {
	name string
	fn   func(context.Context) error
}

func (c checkerFunc) Name() string                    { return c.name }
func (c checkerFunc) Check(ctx context.Context) error { return c.fn(ctx) }

func CheckerFunc(name string, fn func(context.Context) error) Checker {
	return checkerFunc{name: name, fn: fn}
}

type HealthService interface {
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
}

type health struct {
	checkers []Checker
	timeout  time.Duration
}

type HealthParams struct {
	fx.In
	DB       *gorm.DB      `optional:"true"`
	Redis    *redis.Client `optional:"true"`
	Checkers []Checker     `group:"readiness"`
}

func ProvideHealth(p HealthParams) HealthService {
	h := &health{timeout: 3 * time.Second}

	if p.DB != nil {
		db := p.DB
		h.checkers = append(h.checkers, CheckerFunc(db.Name(), func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}))
	}

	if p.Redis != nil {
		rdb := p.Redis
		h.checkers = append(h.checkers, CheckerFunc("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}

	for _, c := range p.Checkers {
		if c != nil {
			h.checkers = append(h.checkers, c)
		}
	}

	return h
}

func (h *health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, &Health{
		Status:  statusHealthy,
		Message: "OK",
	})
}

func (h *health) Readiness(c *gin.Context) {
	this := &Health{
		Status:  statusHealthy,
		Message: "OK",
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	deps := make([]Dependency, 0, len(h.checkers))
	for _, checker := range h.checkers {
		dep := Dependency{
			Name:    checker.Name(),
			Status:  statusHealthy,
			Message: "OK",
		}

		if err := checker.Check(ctx); err != nil {
			dep.Status = statusUnhealthy
			dep.Message = err.Error()
			this.Status = statusUnhealthy
			this.Message = "dependency unavailable"
		}

		deps = append(deps, dep)
	}

	this.Deps = deps

	code := http.StatusOK
	if this.Status != statusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, this)
}
