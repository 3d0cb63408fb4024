package journal_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/feeward/feeward/distributor/pkg/journal"
	"github.com/feeward/feeward/distributor/pkg/statstore"
	feewardtesting "github.com/feeward/feeward/utils/pkg/testing"
)

// testJournal opens a journal on a fresh, migrated database.
func testJournal(t *testing.T) *journal.Journal {
	t.Helper()
	log := feewardtesting.NewLogger()
	connStr := sharedDB.NewDatabase(t)
	require.NoError(t, journal.MigrateUp(log, connStr))
	j, err := journal.Open(t.Context(), journal.Config{
		Logger:  log,
		ConnStr: connStr,
	})
	require.NoError(t, err)
	t.Cleanup(j.Close)
	return j
}

func TestFeeward_Journal_RecordCycle(t *testing.T) {
	j := testJournal(t)
	ctx := t.Context()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := journal.CycleRecord{
		ID:         uuid.New(),
		StartedAt:  start,
		FinishedAt: start.Add(3 * time.Second),
		Withdrawn:  1_000_000,
		State:      statstore.DistributionState{RewardToSolAmount: 400_000},
		Dispatches: []journal.DispatchRecord{
			{Stage: "withdraw", Signature: "sig-1", Confirmed: true, Attempts: 2, At: start.Add(time.Second)},
			{Stage: "burn", Attempts: 51, Error: "submission exhausted", At: start.Add(2 * time.Second)},
		},
	}
	second := journal.CycleRecord{
		ID:          uuid.New(),
		StartedAt:   start.Add(time.Minute),
		FinishedAt:  start.Add(time.Minute + time.Second),
		Armed:       true,
		StageErrors: map[string]string{"swap": "connection refused"},
		State:       statstore.DistributionState{PendingSolAmount: 10},
	}
	require.NoError(t, j.RecordCycle(ctx, first))
	require.NoError(t, j.RecordCycle(ctx, second))

	cycles, err := j.RecentCycles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	require.Equal(t, second.ID, cycles[0].ID, "newest first")

	got := map[uuid.UUID]journal.CycleRecord{}
	for _, c := range cycles {
		got[c.ID] = c
	}

	c1 := got[first.ID]
	require.Equal(t, uint64(1_000_000), c1.Withdrawn)
	require.Equal(t, first.State, c1.State)
	require.Empty(t, c1.StageErrors)
	require.Len(t, c1.Dispatches, 2)
	require.Equal(t, "withdraw", c1.Dispatches[0].Stage)
	require.Equal(t, "sig-1", c1.Dispatches[0].Signature)
	require.True(t, c1.Dispatches[0].Confirmed)
	require.Equal(t, "submission exhausted", c1.Dispatches[1].Error)

	c2 := got[second.ID]
	require.True(t, c2.Armed)
	require.Equal(t, map[string]string{"swap": "connection refused"}, c2.StageErrors)
	require.Empty(t, c2.Dispatches)
}

func TestFeeward_Journal_DuplicateCycleRejected(t *testing.T) {
	j := testJournal(t)
	ctx := t.Context()

	rec := journal.CycleRecord{ID: uuid.New(), StartedAt: time.Now(), FinishedAt: time.Now()}
	require.NoError(t, j.RecordCycle(ctx, rec))
	require.Error(t, j.RecordCycle(ctx, rec))
}

func TestFeeward_Journal_MigrateDownUp(t *testing.T) {
	log := feewardtesting.NewLogger()
	connStr := sharedDB.NewDatabase(t)
	require.NoError(t, journal.MigrateUp(log, connStr))
	require.NoError(t, journal.MigrateStatus(log, connStr))
	require.NoError(t, journal.MigrateDown(log, connStr))

	j, err := journal.Open(t.Context(), journal.Config{Logger: log, ConnStr: connStr})
	require.NoError(t, err)
	defer j.Close()
	rec := journal.CycleRecord{
		ID:         uuid.New(),
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
		Dispatches: []journal.DispatchRecord{{Stage: "burn", Attempts: 1, At: time.Now()}},
	}
	require.Error(t, j.RecordCycle(t.Context(), rec), "dispatch table is gone after rolling back")

	require.NoError(t, journal.MigrateUp(log, connStr))
	require.NoError(t, j.RecordCycle(t.Context(), rec))
}

func TestFeeward_Journal_ConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := journal.Config{}
	require.Error(t, cfg.Validate())
	cfg.Logger = feewardtesting.NewLogger()
	require.Error(t, cfg.Validate())
	cfg.ConnStr = "postgres://x"
	require.NoError(t, cfg.Validate())
	require.Equal(t, int32(4), cfg.MaxConns)
}
