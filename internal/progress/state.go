// Package progress persists which trials of an evaluation matrix have
// completed so an interrupted run can resume where it stopped.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/signalnine/trialmatrix/internal/atomicfile"
)

// Version is the on-disk schema version. Files with any other version are
// ignored by Load.
const Version = "1.0"

// State records completed run numbers per tier and model.
type State struct {
	Version       string                      `json:"version"`
	TestID        string                      `json:"test_id"`
	StartedAt     time.Time                   `json:"started_at"`
	CompletedRuns map[string]map[string][]int `json:"completed_runs"`
}

// NewState returns an empty state for testID.
func NewState(testID string, startedAt time.Time) *State {
	return &State{
		Version:       Version,
		TestID:        testID,
		StartedAt:     startedAt.UTC(),
		CompletedRuns: map[string]map[string][]int{},
	}
}

// IsRunCompleted reports whether run has been recorded for tier and model.
func (s *State) IsRunCompleted(tier, model string, run int) bool {
	runs := s.CompletedRuns[tier][model]
	i := sort.SearchInts(runs, run)
	return i < len(runs) && runs[i] == run
}

// MarkRunCompleted records run for tier and model. Recording the same run
// again leaves the state unchanged.
func (s *State) MarkRunCompleted(tier, model string, run int) {
	if s.CompletedRuns == nil {
		s.CompletedRuns = map[string]map[string][]int{}
	}
	models := s.CompletedRuns[tier]
	if models == nil {
		models = map[string][]int{}
		s.CompletedRuns[tier] = models
	}
	runs := models[model]
	i := sort.SearchInts(runs, run)
	if i < len(runs) && runs[i] == run {
		return
	}
	runs = append(runs, 0)
	copy(runs[i+1:], runs[i:])
	runs[i] = run
	models[model] = runs
}

// CompletedCount returns how many runs are recorded for tier and model.
func (s *State) CompletedCount(tier, model string) int {
	return len(s.CompletedRuns[tier][model])
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	out := &State{
		Version:       s.Version,
		TestID:        s.TestID,
		StartedAt:     s.StartedAt,
		CompletedRuns: make(map[string]map[string][]int, len(s.CompletedRuns)),
	}
	for tier, models := range s.CompletedRuns {
		m := make(map[string][]int, len(models))
		for model, runs := range models {
			m[model] = append([]int(nil), runs...)
		}
		out.CompletedRuns[tier] = m
	}
	return out
}

// Save writes state to path atomically, so readers never observe a partial
// file.
func Save(state *State, path string) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling progress: %w", err)
	}
	if err := atomicfile.Write(path, data, 0o644); err != nil {
		return fmt.Errorf("saving progress: %w", err)
	}
	return nil
}

// Load reads a state from path. A missing file or a file written with a
// different schema version yields (nil, nil) so the caller starts fresh.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading progress %s: %w", path, err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing progress %s: %w", path, err)
	}
	if state.Version != Version {
		return nil, nil
	}
	if state.CompletedRuns == nil {
		state.CompletedRuns = map[string]map[string][]int{}
	}
	for tier, models := range state.CompletedRuns {
		if models == nil {
			delete(state.CompletedRuns, tier)
			continue
		}
		for model, runs := range models {
			models[model] = normalizeRuns(runs)
		}
	}
	return &state, nil
}

func normalizeRuns(runs []int) []int {
	sort.Ints(runs)
	out := runs[:0]
	for i, r := range runs {
		if i > 0 && r == runs[i-1] {
			continue
		}
		out = append(out, r)
	}
	return out
}
