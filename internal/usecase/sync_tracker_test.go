package usecase

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"affsync/internal/domain"
)

func TestTrackerSingleFlight(t *testing.T) {
	tracker := NewSyncTracker(domain.AllNetworks)

	require.NoError(t, tracker.Begin(domain.NetworkAwin))
	assert.ErrorIs(t, tracker.Begin(domain.NetworkCJ), domain.ErrSyncInProgress)
	assert.ErrorIs(t, tracker.Begin(domain.NetworkAwin), domain.ErrSyncInProgress)

	tracker.End()
	assert.NoError(t, tracker.Begin(domain.NetworkCJ))
}

func TestTrackerConcurrentBeginAdmitsOne(t *testing.T) {
	tracker := NewSyncTracker(domain.AllNetworks)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tracker.Begin(domain.AllNetworks...) == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, admitted)
}

func TestTrackerTransitions(t *testing.T) {
	tracker := NewSyncTracker(domain.AllNetworks)
	require.NoError(t, tracker.Begin(domain.NetworkAwin, domain.NetworkCJ, domain.NetworkImpact))

	tracker.Record(domain.NetworkAwin, domain.CollectionOffers, domain.UpsertCreated)
	tracker.Record(domain.NetworkAwin, domain.CollectionOffers, domain.UpsertSkipped)
	tracker.Pruned(domain.NetworkAwin, domain.CollectionOffers, 3)
	tracker.Fail(domain.NetworkCJ, errors.New("store unavailable"))

	state, ok := tracker.Complete(domain.NetworkAwin)
	require.True(t, ok)
	assert.Equal(t, domain.EntityCounter{Checked: 2, New: 1, Skipped: 1, Pruned: 3}, state.Counters.Offers)

	_, ok = tracker.Complete(domain.NetworkCJ)
	assert.False(t, ok, "errored networks stay errored")

	tracker.End()
	assert.False(t, tracker.Running())

	byNetwork := map[domain.Network]domain.SyncRunState{}
	for _, s := range tracker.Snapshot() {
		byNetwork[s.Network] = s
	}
	assert.Equal(t, domain.SyncComplete, byNetwork[domain.NetworkAwin].Status)
	assert.Equal(t, domain.SyncError, byNetwork[domain.NetworkCJ].Status)
	assert.Equal(t, "store unavailable", byNetwork[domain.NetworkCJ].Error)
	assert.Equal(t, domain.SyncComplete, byNetwork[domain.NetworkImpact].Status, "running states are resolved on End")
	assert.Equal(t, domain.SyncIdle, byNetwork[domain.NetworkRakuten].Status)
	assert.NotNil(t, byNetwork[domain.NetworkImpact].CompletedAt)
}

func TestTrackerBeginResetsCounters(t *testing.T) {
	tracker := NewSyncTracker([]domain.Network{domain.NetworkAwin})

	require.NoError(t, tracker.Begin(domain.NetworkAwin))
	tracker.Record(domain.NetworkAwin, domain.CollectionProducts, domain.UpsertCreated)
	tracker.Fail(domain.NetworkAwin, errors.New("boom"))
	tracker.End()

	require.NoError(t, tracker.Begin(domain.NetworkAwin))
	state, ok := tracker.State(domain.NetworkAwin)
	require.True(t, ok)
	assert.Equal(t, domain.SyncRunning, state.Status)
	assert.Empty(t, state.Error)
	assert.Zero(t, state.Counters.Products.Checked)
}
