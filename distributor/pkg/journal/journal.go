package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/feeward/feeward/distributor/pkg/statstore"
)

// CycleRecord is the audit entry for one distribution cycle.
type CycleRecord struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Withdrawn  uint64
	Armed      bool
	Panicked   bool
	// StageErrors maps a stage name to the error it ended with.
	StageErrors map[string]string
	State       statstore.DistributionState
	Dispatches  []DispatchRecord
}

// DispatchRecord is one submitted transaction within a cycle.
type DispatchRecord struct {
	Stage     string
	Signature string
	Confirmed bool
	Attempts  int
	Error     string
	At        time.Time
}

type Config struct {
	Logger  *slog.Logger
	ConnStr string

	MaxConns int32
	MinConns int32
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ConnStr == "" {
		return errors.New("connection string is required")
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 4
	}
	if cfg.MinConns == 0 {
		cfg.MinConns = 1
	}
	return nil
}

// Journal writes cycle history to PostgreSQL. It is an audit trail only;
// the stat file remains the source of truth for DistributionState.
type Journal struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func Open(ctx context.Context, cfg Config) (*Journal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &Journal{
		log:  cfg.Logger.With("component", "journal"),
		pool: pool,
	}, nil
}

func (j *Journal) Close() {
	j.pool.Close()
}

func (j *Journal) Ping(ctx context.Context) error {
	return j.pool.Ping(ctx)
}

// RecordCycle stores rec and its dispatches in one transaction.
func (j *Journal) RecordCycle(ctx context.Context, rec CycleRecord) error {
	state, err := json.Marshal(rec.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	stageErrors := rec.StageErrors
	if stageErrors == nil {
		stageErrors = map[string]string{}
	}
	errs, err := json.Marshal(stageErrors)
	if err != nil {
		return fmt.Errorf("failed to marshal stage errors: %w", err)
	}

	return pgx.BeginFunc(ctx, j.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO distribution_cycles (id, started_at, finished_at, withdrawn, armed, panicked, stage_errors, state)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, rec.ID.String(), rec.StartedAt, rec.FinishedAt, clampInt64(rec.Withdrawn), rec.Armed, rec.Panicked, errs, state); err != nil {
			return fmt.Errorf("failed to insert cycle: %w", err)
		}

		if len(rec.Dispatches) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, d := range rec.Dispatches {
			batch.Queue(`
				INSERT INTO distribution_dispatches (cycle_id, stage, signature, confirmed, attempts, error, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, rec.ID.String(), d.Stage, d.Signature, d.Confirmed, d.Attempts, d.Error, d.At)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert dispatches: %w", err)
		}
		return nil
	})
}

// RecentCycles returns up to limit cycles, newest first, with their
// dispatches.
func (j *Journal) RecentCycles(ctx context.Context, limit int) ([]CycleRecord, error) {
	rows, err := j.pool.Query(ctx, `
		SELECT id::text, started_at, finished_at, withdrawn, armed, panicked, stage_errors, state
		FROM distribution_cycles
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	var (
		cycles []CycleRecord
		index  = map[uuid.UUID]int{}
	)
	for rows.Next() {
		var (
			id          string
			withdrawn   int64
			errs, state []byte
			rec         CycleRecord
		)
		if err := rows.Scan(&id, &rec.StartedAt, &rec.FinishedAt, &withdrawn, &rec.Armed, &rec.Panicked, &errs, &state); err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid cycle id %q: %w", id, err)
		}
		rec.Withdrawn = uint64(withdrawn)
		if err := json.Unmarshal(errs, &rec.StageErrors); err != nil {
			return nil, fmt.Errorf("failed to decode stage errors: %w", err)
		}
		if err := json.Unmarshal(state, &rec.State); err != nil {
			return nil, fmt.Errorf("failed to decode state: %w", err)
		}
		index[rec.ID] = len(cycles)
		cycles = append(cycles, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cycles: %w", err)
	}
	if len(cycles) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(cycles))
	for _, c := range cycles {
		ids = append(ids, c.ID.String())
	}
	drows, err := j.pool.Query(ctx, `
		SELECT cycle_id::text, stage, signature, confirmed, attempts, error, created_at
		FROM distribution_dispatches
		WHERE cycle_id::text = ANY($1)
		ORDER BY id
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query dispatches: %w", err)
	}
	defer drows.Close()

	for drows.Next() {
		var (
			cycleID string
			d       DispatchRecord
		)
		if err := drows.Scan(&cycleID, &d.Stage, &d.Signature, &d.Confirmed, &d.Attempts, &d.Error, &d.At); err != nil {
			return nil, fmt.Errorf("failed to scan dispatch: %w", err)
		}
		id, err := uuid.Parse(cycleID)
		if err != nil {
			continue
		}
		if i, ok := index[id]; ok {
			cycles[i].Dispatches = append(cycles[i].Dispatches, d)
		}
	}
	return cycles, drows.Err()
}

func clampInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
