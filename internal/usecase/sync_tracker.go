package usecase

import (
	"sync"
	"time"

	"affsync/internal/domain"
)

// SyncTracker owns the live per-network run state and the process-wide
// single-flight flag. All transitions happen under its mutex.
type SyncTracker struct {
	mu      sync.Mutex
	running bool
	order   []domain.Network
	states  map[domain.Network]*domain.SyncRunState
	now     func() time.Time
}

func NewSyncTracker(networks []domain.Network) *SyncTracker {
	t := &SyncTracker{
		order:  append([]domain.Network(nil), networks...),
		states: make(map[domain.Network]*domain.SyncRunState, len(networks)),
		now:    time.Now,
	}
	for _, n := range networks {
		t.states[n] = &domain.SyncRunState{Network: n, Status: domain.SyncIdle}
	}
	return t
}

// Begin claims the global flag and moves each network to running with
// fresh counters. It fails with ErrSyncInProgress while any run is active.
func (t *SyncTracker) Begin(networks ...domain.Network) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return domain.ErrSyncInProgress
	}
	for _, state := range t.states {
		if state.Status == domain.SyncRunning {
			return domain.ErrSyncInProgress
		}
	}

	t.running = true
	started := t.now().UTC()
	for _, n := range networks {
		if _, ok := t.states[n]; !ok {
			t.order = append(t.order, n)
		}
		t.states[n] = &domain.SyncRunState{
			Network:   n,
			Status:    domain.SyncRunning,
			StartedAt: &started,
		}
	}
	return nil
}

// Record counts one upsert outcome
func (t *SyncTracker) Record(network domain.Network, collection domain.Collection, status domain.UpsertStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if state, ok := t.states[network]; ok {
		if counter := state.Counters.For(collection); counter != nil {
			counter.Record(status)
		}
	}
}

func (t *SyncTracker) Pruned(network domain.Network, collection domain.Collection, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if state, ok := t.states[network]; ok {
		if counter := state.Counters.For(collection); counter != nil {
			counter.Pruned += n
		}
	}
}

// Fail moves a running network to error with the captured message
func (t *SyncTracker) Fail(network domain.Network, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[network]
	if !ok || state.Status != domain.SyncRunning {
		return
	}
	completed := t.now().UTC()
	state.Status = domain.SyncError
	state.Error = err.Error()
	state.CompletedAt = &completed
}

// Complete moves a running network to complete and returns its final state
func (t *SyncTracker) Complete(network domain.Network) (domain.SyncRunState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[network]
	if !ok || state.Status != domain.SyncRunning {
		return domain.SyncRunState{}, false
	}
	completed := t.now().UTC()
	state.Status = domain.SyncComplete
	state.CompletedAt = &completed
	return *state, true
}

// End releases the global flag. Any network still running is resolved to
// complete so no state outlives the run.
func (t *SyncTracker) End() {
	t.mu.Lock()
	defer t.mu.Unlock()

	completed := t.now().UTC()
	for _, state := range t.states {
		if state.Status == domain.SyncRunning {
			state.Status = domain.SyncComplete
			state.CompletedAt = &completed
		}
	}
	t.running = false
}

func (t *SyncTracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Snapshot copies every network's state in registration order
func (t *SyncTracker) Snapshot() []domain.SyncRunState {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]domain.SyncRunState, 0, len(t.order))
	for _, n := range t.order {
		out = append(out, *t.states[n])
	}
	return out
}

func (t *SyncTracker) State(network domain.Network) (domain.SyncRunState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[network]
	if !ok {
		return domain.SyncRunState{}, false
	}
	return *state, true
}
