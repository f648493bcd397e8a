package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"encoin-rewards/pkg/config"
	"encoin-rewards/pkg/taskname"
	"encoin-rewards/services/award"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type repairerMock struct {
	FlagStaleFn        func(ctx context.Context, cutoff time.Time) (int64, error)
	PruneRejectedFn    func(ctx context.Context, cutoff time.Time) (int64, error)
	RepairCandidatesFn func(ctx context.Context, limit int) ([]*award.JournalEntry, error)
	RepairFn           func(ctx context.Context, journalID string) (award.JournalStatus, error)
}

func (m *repairerMock) FlagStale(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.FlagStaleFn != nil {
		return m.FlagStaleFn(ctx, cutoff)
	}
	return 0, nil
}

func (m *repairerMock) PruneRejected(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.PruneRejectedFn != nil {
		return m.PruneRejectedFn(ctx, cutoff)
	}
	return 0, nil
}

func (m *repairerMock) RepairCandidates(ctx context.Context, limit int) ([]*award.JournalEntry, error) {
	if m.RepairCandidatesFn != nil {
		return m.RepairCandidatesFn(ctx, limit)
	}
	return nil, nil
}

func (m *repairerMock) Repair(ctx context.Context, journalID string) (award.JournalStatus, error) {
	if m.RepairFn != nil {
		return m.RepairFn(ctx, journalID)
	}
	return award.JournalReconciled, nil
}

type queued struct {
	task *asynq.Task
	opts []asynq.Option
}

type enqueuerMock struct {
	queued []queued
	seen   map[string]bool
	fail   map[string]error
}

func (m *enqueuerMock) Enqueue(ctx context.Context, t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	var p RepairPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return nil, err
	}
	if err := m.fail[p.JournalID]; err != nil {
		return nil, err
	}
	if m.seen == nil {
		m.seen = map[string]bool{}
	}
	if m.seen[p.JournalID] {
		return nil, asynq.ErrTaskIDConflict
	}
	m.seen[p.JournalID] = true
	m.queued = append(m.queued, queued{task: t, opts: opts})
	return &asynq.TaskInfo{ID: repairTaskID(p.JournalID), Type: t.Type()}, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Reconcile.StaleAfter = 10 * time.Minute
	cfg.Reconcile.BatchSize = 50
	cfg.Reconcile.MaxRetry = 4
	return cfg
}

func entries(ids ...string) []*award.JournalEntry {
	out := make([]*award.JournalEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, &award.JournalEntry{ID: id, Status: award.JournalOrphaned})
	}
	return out
}

func TestSweepQueuesCandidates(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	var cutoff time.Time
	var limit int
	repairer := &repairerMock{
		FlagStaleFn: func(ctx context.Context, c time.Time) (int64, error) {
			cutoff = c
			return 2, nil
		},
		RepairCandidatesFn: func(ctx context.Context, l int) ([]*award.JournalEntry, error) {
			limit = l
			return entries("j1", "j2"), nil
		},
	}
	enqueuer := &enqueuerMock{}

	s := NewSweeper(testConfig(), repairer, enqueuer)
	s.now = func() time.Time { return now }

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, SweepResult{Flagged: 2, Enqueued: 2}, res)
	require.Equal(t, now.Add(-10*time.Minute), cutoff)
	require.Equal(t, 50, limit)

	require.Len(t, enqueuer.queued, 2)
	for _, q := range enqueuer.queued {
		require.Equal(t, taskname.ReconcileRepair, q.task.Type())
		require.NotEmpty(t, q.opts)
	}

	// a second sweep over the same entries finds them already queued
	res, err = s.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, res.Enqueued)
	require.Equal(t, 2, res.Skipped)
}

func TestSweepPrunesRejectedEntries(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	var pruneCutoff time.Time
	repairer := &repairerMock{
		PruneRejectedFn: func(ctx context.Context, c time.Time) (int64, error) {
			pruneCutoff = c
			return 3, nil
		},
		RepairCandidatesFn: func(ctx context.Context, l int) ([]*award.JournalEntry, error) {
			return entries("j1"), nil
		},
	}

	s := NewSweeper(testConfig(), repairer, &enqueuerMock{})
	s.now = func() time.Time { return now }

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, SweepResult{Pruned: 3, Enqueued: 1}, res)
	require.Equal(t, now.Add(-10*time.Minute), pruneCutoff)
}

func TestSweepContinuesPastPruneFailure(t *testing.T) {
	pruneErr := errors.New("delete timed out")
	repairer := &repairerMock{
		PruneRejectedFn: func(ctx context.Context, c time.Time) (int64, error) {
			return 0, pruneErr
		},
		RepairCandidatesFn: func(ctx context.Context, l int) ([]*award.JournalEntry, error) {
			return entries("j1", "j2"), nil
		},
	}

	res, err := NewSweeper(testConfig(), repairer, &enqueuerMock{}).Sweep(context.Background())
	require.ErrorIs(t, err, pruneErr)
	require.Equal(t, 2, res.Enqueued)
}

func TestSweepContinuesPastEnqueueFailures(t *testing.T) {
	repairer := &repairerMock{
		RepairCandidatesFn: func(ctx context.Context, l int) ([]*award.JournalEntry, error) {
			return entries("j1", "j2", "j3"), nil
		},
	}
	boom := errors.New("redis down")
	enqueuer := &enqueuerMock{fail: map[string]error{"j2": boom}}

	res, err := NewSweeper(testConfig(), repairer, enqueuer).Sweep(context.Background())
	require.ErrorIs(t, err, boom)
	require.Equal(t, 2, res.Enqueued)
}

func TestSweepStopsWhenFlaggingFails(t *testing.T) {
	boom := errors.New("db down")
	called := false
	repairer := &repairerMock{
		FlagStaleFn: func(ctx context.Context, c time.Time) (int64, error) {
			return 0, boom
		},
		RepairCandidatesFn: func(ctx context.Context, l int) ([]*award.JournalEntry, error) {
			called = true
			return nil, nil
		},
	}

	_, err := NewSweeper(testConfig(), repairer, &enqueuerMock{}).Sweep(context.Background())
	require.ErrorIs(t, err, boom)
	require.False(t, called)
}

func TestNewSweeperDefaults(t *testing.T) {
	s := NewSweeper(&config.Config{}, &repairerMock{}, &enqueuerMock{})
	require.Equal(t, defaultStaleAfter, s.staleAfter)
	require.Equal(t, defaultBatchSize, s.batchSize)
	require.Equal(t, defaultMaxRetry, s.maxRetry)
}

func repairTask(t *testing.T, id string) *asynq.Task {
	t.Helper()
	task, _, err := NewRepairTask(id, 3)
	require.NoError(t, err)
	return task
}

func TestHandlerProcessTask(t *testing.T) {
	ctx := context.Background()

	var repaired string
	h := NewHandler(&repairerMock{
		RepairFn: func(ctx context.Context, id string) (award.JournalStatus, error) {
			repaired = id
			return award.JournalReconciled, nil
		},
	})
	require.NoError(t, h.ProcessTask(ctx, repairTask(t, "j9")))
	require.Equal(t, "j9", repaired)
}

func TestHandlerRetryPolicy(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("rpc unavailable")

	cases := []struct {
		name      string
		err       error
		skipRetry bool
	}{
		{"receipt pending", award.ErrReceiptPending, false},
		{"entry missing", award.ErrJournalEntryNotFound, true},
		{"other failure", boom, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(&repairerMock{
				RepairFn: func(ctx context.Context, id string) (award.JournalStatus, error) {
					return award.JournalUnknown, tc.err
				},
			})
			err := h.ProcessTask(ctx, repairTask(t, "j1"))
			require.ErrorIs(t, err, tc.err)
			require.Equal(t, tc.skipRetry, errors.Is(err, asynq.SkipRetry))
		})
	}
}

func TestHandlerDropsMalformedPayload(t *testing.T) {
	called := false
	h := NewHandler(&repairerMock{
		RepairFn: func(ctx context.Context, id string) (award.JournalStatus, error) {
			called = true
			return award.JournalReconciled, nil
		},
	})

	for _, payload := range []string{"not json", `{"journal_id":""}`} {
		err := h.ProcessTask(context.Background(), asynq.NewTask(taskname.ReconcileRepair, []byte(payload)))
		require.ErrorIs(t, err, asynq.SkipRetry)
	}
	require.False(t, called)
}

func TestRegisterSchedulerDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Reconcile.Enable = false
	require.NoError(t, RegisterScheduler(SchedulerParams{Config: cfg}))
}
