package statstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var ErrNotFound = errors.New("stat file not found")

// DistributionState is the persisted progress of the reward pipeline, in
// base units of the token (buckets) or of each reward asset (pending).
type DistributionState struct {
	DevAmount          uint64 `json:"devAmount"`
	BurnAmount         uint64 `json:"burnAmount"`
	RewardToSolAmount  uint64 `json:"rewardToSolAmount"`
	RewardToBonkAmount uint64 `json:"rewardToBonkAmount"`
	RewardToJupAmount  uint64 `json:"rewardToJupAmount"`
	PendingSolAmount   uint64 `json:"pendingSolAmount"`
	PendingBonkAmount  uint64 `json:"pendingBonkAmount"`
	PendingJupAmount   uint64 `json:"pendingJupAmount"`
}

// HasPending reports whether any swapped proceeds await fan-out.
func (s DistributionState) HasPending() bool {
	return s.PendingSolAmount > 0 || s.PendingBonkAmount > 0 || s.PendingJupAmount > 0
}

// Buckets returns the state as bucket name to amount, for metrics and display.
func (s DistributionState) Buckets() map[string]uint64 {
	return map[string]uint64{
		"dev":            s.DevAmount,
		"burn":           s.BurnAmount,
		"reward_to_sol":  s.RewardToSolAmount,
		"reward_to_bonk": s.RewardToBonkAmount,
		"reward_to_jup":  s.RewardToJupAmount,
		"pending_sol":    s.PendingSolAmount,
		"pending_bonk":   s.PendingBonkAmount,
		"pending_jup":    s.PendingJupAmount,
	}
}

// Store persists DistributionState as a single JSON file.
type Store struct {
	path string
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("path is required")
	}
	return &Store{path: path}, nil
}

func (s *Store) Path() string {
	return s.path
}

// Load reads the state. A missing or malformed file is an error; no default
// state is synthesized.
func (s *Store) Load() (DistributionState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DistributionState{}, fmt.Errorf("%w: %s", ErrNotFound, s.path)
		}
		return DistributionState{}, fmt.Errorf("failed to read stat file: %w", err)
	}

	var state DistributionState
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&state); err != nil {
		return DistributionState{}, fmt.Errorf("failed to parse stat file %s: %w", s.path, err)
	}
	return state, nil
}

// Save replaces the file with state. The new content is written to a
// temporary file in the same directory and renamed over the old one, so a
// reader never observes a partial record.
func (s *Store) Save(state DistributionState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp stat file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp stat file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temp stat file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp stat file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace stat file: %w", err)
	}
	return nil
}

// Init writes a zero state unless the file already exists.
func (s *Store) Init() (bool, error) {
	if _, err := os.Stat(s.path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("failed to stat %s: %w", s.path, err)
	}
	if err := s.Save(DistributionState{}); err != nil {
		return false, err
	}
	return true, nil
}
