package reconcile

import (
	"encoin-rewards/pkg/taskname"
	"encoin-rewards/services/award"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("reconcile",
	fx.Provide(
		asRepairer,
		NewSweeper,
		NewHandler,
		NewLocker,
	),
	fx.Invoke(
		RegisterTasks,
		RegisterScheduler,
	),
)

func asRepairer(s *award.Service) Repairer {
	return s
}

func RegisterTasks(mux *asynq.ServeMux, h *Handler) {
	mux.Handle(taskname.ReconcileRepair, h)
}
