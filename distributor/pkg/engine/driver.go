package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/feeward/feeward/distributor/pkg/metrics"
	"github.com/feeward/feeward/distributor/pkg/notify"
	"github.com/feeward/feeward/distributor/pkg/statstore"
)

// Snapshot is the engine's last published view, safe to read from other
// goroutines.
type Snapshot struct {
	Ready          bool                        `json:"ready"`
	State          statstore.DistributionState `json:"state"`
	NeedDistribute bool                        `json:"needDistribute"`
	Cycles         uint64                      `json:"cycles"`
	LastCycleID    string                      `json:"lastCycleId,omitempty"`
	LastCycleAt    time.Time                   `json:"lastCycleAt"`
	LastWithdrawn  uint64                      `json:"lastWithdrawn"`
	StageErrors    map[string]string           `json:"stageErrors,omitempty"`
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap := e.snap
	snap.StageErrors = maps.Clone(e.snap.StageErrors)
	return snap
}

func (e *Engine) publish(c Cycle, r *report) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snap.Ready = true
	e.snap.State = c.State
	e.snap.NeedDistribute = c.NeedDistribute
	if r != nil {
		e.snap.Cycles++
		e.snap.LastCycleID = r.id.String()
		e.snap.LastCycleAt = r.finishedAt
		e.snap.LastWithdrawn = r.withdrawn
		e.snap.StageErrors = maps.Clone(r.stageErrors)
	}
	for bucket, amount := range c.State.Buckets() {
		metrics.StateAmount.WithLabelValues(bucket).Set(float64(amount))
	}
}

// Run loads the persisted state and runs cycles until ctx is done. Each
// cycle's state is saved before the next one starts. The driver sleeps
// DistributePeriod between cycles unless the cycle armed a distribution.
func (e *Engine) Run(ctx context.Context) error {
	state, err := e.cfg.Store.Load()
	if err != nil {
		return fmt.Errorf("failed to load distribution state: %w", err)
	}
	e.log.Info("engine: loaded distribution state", "state", state)

	c := Cycle{State: state, NeedDistribute: true}
	e.publish(c, nil)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		next, r := e.runCycle(ctx, c)
		if err := e.cfg.Store.Save(next.State); err != nil {
			e.log.Error("engine: failed to save distribution state", "error", err)
			e.alert(ctx, notify.Event{Severity: notify.SeverityError, Title: "failed to save distribution state", Err: err})
		}
		e.recordCycle(ctx, next, r)
		e.publish(next, r)
		c = next

		if c.Armed {
			e.log.Debug("engine: distribution armed, starting next cycle immediately")
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-e.cfg.Clock.After(e.s.DistributePeriod):
		}
	}
}

func (e *Engine) recordCycle(ctx context.Context, c Cycle, r *report) {
	if e.cfg.Journal == nil {
		return
	}
	// The cycle already happened; record it even when shutdown has begun.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.cfg.Journal.RecordCycle(ctx, r.record(c.State, c.Armed)); err != nil && !errors.Is(err, context.Canceled) {
		e.log.Warn("engine: failed to journal cycle", "cycle", r.id, "error", err)
	}
}
