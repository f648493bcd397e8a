package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"encoin-rewards/pkg/task"
	"encoin-rewards/pkg/taskname"
	"encoin-rewards/services/award"

	"github.com/hibiken/asynq"
)

// Repairer is the slice of award.Service the reconciler drives.
type Repairer interface {
	FlagStale(ctx context.Context, cutoff time.Time) (int64, error)
	PruneRejected(ctx context.Context, cutoff time.Time) (int64, error)
	RepairCandidates(ctx context.Context, limit int) ([]*award.JournalEntry, error)
	Repair(ctx context.Context, journalID string) (award.JournalStatus, error)
}

type RepairPayload struct {
	JournalID string `json:"journal_id"`
}

// NewRepairTask builds the task that repairs one journal entry. The task id
// is derived from the entry so a sweep never queues the same entry twice.
func NewRepairTask(journalID string, maxRetry int) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(RepairPayload{JournalID: journalID})
	if err != nil {
		return nil, nil, err
	}

	opts := []asynq.Option{
		asynq.TaskID(repairTaskID(journalID)),
		asynq.MaxRetry(maxRetry),
		asynq.Queue(task.QueueCritical),
		asynq.Timeout(time.Minute),
	}
	return asynq.NewTask(taskname.ReconcileRepair, payload), opts, nil
}

func repairTaskID(journalID string) string {
	return taskname.ReconcileRepair + ":" + journalID
}

func decodeRepairPayload(t *asynq.Task) (RepairPayload, error) {
	var p RepairPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", t.Type(), err)
	}
	if p.JournalID == "" {
		return p, errors.New("journal_id is empty")
	}
	return p, nil
}
