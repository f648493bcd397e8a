package taskname

const (
	// Reconciliation tasks
	ReconcileRepair = "reconcile:repair"
	ReconcileSweep  = "reconcile:sweep"
)
