package progress

import "sync"

// Tracker owns a State shared by concurrent trial workers. Every mutation
// and the flush that follows it happen under one mutex.
type Tracker struct {
	mu    sync.Mutex
	state *State
	path  string
}

// NewTracker wraps state. When path is empty nothing is written to disk.
func NewTracker(state *State, path string) *Tracker {
	return &Tracker{state: state, path: path}
}

// Path returns the file the tracker flushes to, if any.
func (t *Tracker) Path() string {
	return t.path
}

// TestID returns the test the tracked state belongs to.
func (t *Tracker) TestID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.TestID
}

// Completed reports whether run is already recorded.
func (t *Tracker) Completed(tier, model string, run int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.IsRunCompleted(tier, model, run)
}

// Record marks run complete and flushes the state when a path is set.
func (t *Tracker) Record(tier, model string, run int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.MarkRunCompleted(tier, model, run)
	return t.flushLocked()
}

// Flush writes the current state when a path is set.
func (t *Tracker) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushLocked()
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() *State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Clone()
}

func (t *Tracker) flushLocked() error {
	if t.path == "" {
		return nil
	}
	return Save(t.state, t.path)
}
