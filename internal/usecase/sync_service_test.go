package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"affsync/internal/domain"
)

func stateOf(t *testing.T, h *harness, network domain.Network) domain.SyncRunState {
	t.Helper()
	state, ok := h.tracker.State(network)
	require.True(t, ok)
	return state
}

func TestSyncEndToEndCounters(t *testing.T) {
	adapter := &fakeAdapter{
		network: domain.NetworkAwin,
		advertisers: []domain.Advertiser{
			advertiser(domain.NetworkAwin, "2", "Unchanged"),
			advertiser(domain.NetworkAwin, "3", "Old Name"),
		},
	}
	h := newHarness(t, SyncOptions{}, adapter)
	ctx := context.Background()

	require.NoError(t, h.sync.RunNetwork(ctx, domain.NetworkAwin))

	adapter.advertisers = []domain.Advertiser{
		advertiser(domain.NetworkAwin, "1", "Brand New"),
		advertiser(domain.NetworkAwin, "2", "Unchanged"),
		advertiser(domain.NetworkAwin, "3", "New Name"),
	}
	require.NoError(t, h.sync.RunNetwork(ctx, domain.NetworkAwin))

	state := stateOf(t, h, domain.NetworkAwin)
	assert.Equal(t, domain.SyncComplete, state.Status)
	assert.Equal(t, domain.EntityCounter{Checked: 3, New: 1, Updated: 1, Skipped: 1}, state.Counters.Advertisers)

	require.NoError(t, h.sync.RunNetwork(ctx, domain.NetworkAwin))
	state = stateOf(t, h, domain.NetworkAwin)
	assert.Equal(t, domain.EntityCounter{Checked: 3, Skipped: 3}, state.Counters.Advertisers)

	logs, err := h.sync.History(ctx, domain.NetworkAwin, 10)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, 3, logs[0].Counters.Advertisers.Skipped)
	assert.Equal(t, domain.SyncComplete, logs[0].Status)
	assert.NotEmpty(t, logs[0].ID)

	settings, err := h.records.GetSettings(ctx)
	require.NoError(t, err)
	assert.Contains(t, settings.LastSyncAt, "awin")
	assert.Nil(t, settings.LastFullSyncAt)
}

func TestSyncPrunesAbsentRecords(t *testing.T) {
	adapter := &fakeAdapter{
		network:     domain.NetworkCJ,
		advertisers: []domain.Advertiser{advertiser(domain.NetworkCJ, "7", "Northwind")},
		productPages: [][]domain.Product{{
			product(domain.NetworkCJ, "A", "7", 10, 0),
			product(domain.NetworkCJ, "B", "7", 10, 0),
			product(domain.NetworkCJ, "C", "7", 10, 0),
		}},
	}
	h := newHarness(t, SyncOptions{}, adapter)
	ctx := context.Background()

	require.NoError(t, h.sync.RunNetwork(ctx, domain.NetworkCJ))

	adapter.productPages = [][]domain.Product{{
		product(domain.NetworkCJ, "A", "7", 10, 0),
		product(domain.NetworkCJ, "C", "7", 10, 0),
	}}
	require.NoError(t, h.sync.RunNetwork(ctx, domain.NetworkCJ))

	keys, err := h.repo.ListKeys(ctx, domain.CollectionProducts, domain.NetworkCJ)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"cj-A", "cj-C"}, keys)
	assert.Equal(t, 1, stateOf(t, h, domain.NetworkCJ).Counters.Products.Pruned)

	stored, err := h.records.Get(ctx, domain.CollectionAdvertisers, "cj-7")
	require.NoError(t, err)
	assert.Equal(t, 2.0, stored[domain.FieldProductCount])
}

func TestSyncSkipsPruneAfterPartialFetch(t *testing.T) {
	adapter := &fakeAdapter{
		network:     domain.NetworkRakuten,
		advertisers: []domain.Advertiser{advertiser(domain.NetworkRakuten, "1", "Cafe")},
		productPages: [][]domain.Product{
			{product(domain.NetworkRakuten, "A", "1", 5, 0), product(domain.NetworkRakuten, "B", "1", 5, 0)},
		},
	}
	h := newHarness(t, SyncOptions{}, adapter)
	ctx := context.Background()
	require.NoError(t, h.sync.RunNetwork(ctx, domain.NetworkRakuten))

	adapter.productPages = [][]domain.Product{{product(domain.NetworkRakuten, "A", "1", 5, 0)}}
	adapter.productErrs = []error{errors.New("advertiser 2 feed: timeout")}
	require.NoError(t, h.sync.RunNetwork(ctx, domain.NetworkRakuten))

	keys, err := h.repo.ListKeys(ctx, domain.CollectionProducts, domain.NetworkRakuten)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"rakuten-A", "rakuten-B"}, keys)
	assert.Equal(t, domain.SyncComplete, stateOf(t, h, domain.NetworkRakuten).Status)
}

func TestSyncSkipsPruneWhenPassIsEmpty(t *testing.T) {
	adapter := &fakeAdapter{
		network:     domain.NetworkImpact,
		advertisers: []domain.Advertiser{advertiser(domain.NetworkImpact, "1", "Acme")},
	}
	h := newHarness(t, SyncOptions{}, adapter)
	ctx := context.Background()
	require.NoError(t, h.sync.RunNetwork(ctx, domain.NetworkImpact))

	adapter.advertisers = nil
	require.NoError(t, h.sync.RunNetwork(ctx, domain.NetworkImpact))

	keys, err := h.repo.ListKeys(ctx, domain.CollectionAdvertisers, domain.NetworkImpact)
	require.NoError(t, err)
	assert.Equal(t, []string{"impact-1"}, keys)
}

func TestRunAllIsolatesFailedNetwork(t *testing.T) {
	broken := &fakeAdapter{network: domain.NetworkAwin, advertiserErr: errors.New("401 unauthorized")}
	healthy := &fakeAdapter{
		network:     domain.NetworkCJ,
		advertisers: []domain.Advertiser{advertiser(domain.NetworkCJ, "7", "Northwind")},
		offers: []domain.Offer{{
			Network: domain.NetworkCJ, OfferID: "o1", AdvertiserID: "7", Title: "Sale", Link: "https://cj.example/o1",
		}},
	}
	h := newHarness(t, SyncOptions{}, broken, healthy)
	ctx := context.Background()

	err := h.sync.RunAll(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401 unauthorized")

	awin := stateOf(t, h, domain.NetworkAwin)
	assert.Equal(t, domain.SyncError, awin.Status)
	assert.Contains(t, awin.Error, "401 unauthorized")
	assert.Equal(t, domain.SyncComplete, stateOf(t, h, domain.NetworkCJ).Status)
	assert.False(t, h.tracker.Running())

	awinLogs, err := h.sync.History(ctx, domain.NetworkAwin, 10)
	require.NoError(t, err)
	assert.Empty(t, awinLogs)

	offer, err := h.records.Get(ctx, domain.CollectionOffers, "cj-o1")
	require.NoError(t, err)
	assert.Equal(t, "Northwind", offer.String("advertiserName"))
	assert.Equal(t, map[string]string{"7": "Northwind"}, healthy.seenOfferNames)

	settings, err := h.records.GetSettings(ctx)
	require.NoError(t, err)
	assert.NotNil(t, settings.LastFullSyncAt)
}

func TestRunAllSkipsPausedNetworks(t *testing.T) {
	paused := &fakeAdapter{network: domain.NetworkAwin, advertisers: []domain.Advertiser{advertiser(domain.NetworkAwin, "1", "A")}}
	active := &fakeAdapter{network: domain.NetworkImpact, advertisers: []domain.Advertiser{advertiser(domain.NetworkImpact, "2", "B")}}
	h := newHarness(t, SyncOptions{}, paused, active)
	ctx := context.Background()

	_, err := h.operator.SetPausedNetworks(ctx, []string{"AWIN"})
	require.NoError(t, err)
	require.NoError(t, h.sync.RunAll(ctx))

	assert.Equal(t, domain.SyncIdle, stateOf(t, h, domain.NetworkAwin).Status)
	keys, err := h.repo.ListKeys(ctx, domain.CollectionAdvertisers, domain.NetworkAwin)
	require.NoError(t, err)
	assert.Empty(t, keys)

	assert.Equal(t, domain.SyncComplete, stateOf(t, h, domain.NetworkImpact).Status)
}

func TestSyncRejectsConcurrentRun(t *testing.T) {
	adapter := &fakeAdapter{network: domain.NetworkAwin}
	h := newHarness(t, SyncOptions{}, adapter)

	require.NoError(t, h.tracker.Begin(domain.NetworkAwin))
	assert.ErrorIs(t, h.sync.RunAll(context.Background()), domain.ErrSyncInProgress)
	assert.ErrorIs(t, h.sync.RunNetwork(context.Background(), domain.NetworkAwin), domain.ErrSyncInProgress)
	_, err := h.sync.StartAll(context.Background())
	assert.ErrorIs(t, err, domain.ErrSyncInProgress)
}

func TestRunNetworkUnknown(t *testing.T) {
	h := newHarness(t, SyncOptions{}, &fakeAdapter{network: domain.NetworkAwin})

	err := h.sync.RunNetwork(context.Background(), domain.NetworkCJ)
	assert.ErrorIs(t, err, domain.ErrUnknownNetwork)
	assert.False(t, h.tracker.Running())
}

func TestSyncRecoversPanickingAdapter(t *testing.T) {
	adapter := &fakeAdapter{
		network:       domain.NetworkAwin,
		advertisers:   []domain.Advertiser{advertiser(domain.NetworkAwin, "1", "A")},
		panicProducts: true,
	}
	h := newHarness(t, SyncOptions{}, adapter)

	var err error
	require.NotPanics(t, func() {
		err = h.sync.RunNetwork(context.Background(), domain.NetworkAwin)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed decoder crashed")

	assert.False(t, h.tracker.Running())
	awin := stateOf(t, h, domain.NetworkAwin)
	assert.Equal(t, domain.SyncError, awin.Status)
	assert.Contains(t, awin.Error, "products phase panicked")

	adapter.panicProducts = false
	assert.NoError(t, h.sync.RunNetwork(context.Background(), domain.NetworkAwin))
	assert.Equal(t, domain.SyncComplete, stateOf(t, h, domain.NetworkAwin).Status)
}

func TestStartAllContinuesPastPanickingNetwork(t *testing.T) {
	broken := &fakeAdapter{
		network:       domain.NetworkAwin,
		advertisers:   []domain.Advertiser{advertiser(domain.NetworkAwin, "1", "A")},
		panicProducts: true,
	}
	healthy := &fakeAdapter{
		network:      domain.NetworkImpact,
		advertisers:  []domain.Advertiser{advertiser(domain.NetworkImpact, "2", "B")},
		productPages: [][]domain.Product{{product(domain.NetworkImpact, "B", "2", 5, 0)}},
	}
	h := newHarness(t, SyncOptions{}, broken, healthy)

	_, err := h.sync.StartAll(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !h.tracker.Running() }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.SyncError, stateOf(t, h, domain.NetworkAwin).Status)

	impact := stateOf(t, h, domain.NetworkImpact)
	assert.Equal(t, domain.SyncComplete, impact.Status)
	assert.Equal(t, 1, impact.Counters.Products.New)
}

func TestStartAllRunsInBackground(t *testing.T) {
	adapter := &fakeAdapter{
		network:     domain.NetworkImpact,
		advertisers: []domain.Advertiser{advertiser(domain.NetworkImpact, "1", "Acme")},
	}
	h := newHarness(t, SyncOptions{}, adapter)

	ctx, cancel := context.WithCancel(context.Background())
	id, err := h.sync.StartAll(ctx)
	cancel()
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Eventually(t, func() bool { return !h.tracker.Running() }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.SyncComplete, stateOf(t, h, domain.NetworkImpact).Status)

	keys, err := h.repo.ListKeys(context.Background(), domain.CollectionAdvertisers, domain.NetworkImpact)
	require.NoError(t, err)
	assert.Equal(t, []string{"impact-1"}, keys)
}

func TestSyncCachesChangedProductImages(t *testing.T) {
	p := product(domain.NetworkAwin, "A", "1", 10, 0)
	p.ImageURL = "https://img.example/a-1.jpg"
	adapter := &fakeAdapter{
		network:      domain.NetworkAwin,
		advertisers:  []domain.Advertiser{advertiser(domain.NetworkAwin, "1", "A")},
		productPages: [][]domain.Product{{p}},
	}
	h := newHarness(t, SyncOptions{CacheProductImages: true}, adapter)
	ctx := context.Background()

	require.NoError(t, h.sync.RunNetwork(ctx, domain.NetworkAwin))
	require.NoError(t, h.sync.RunNetwork(ctx, domain.NetworkAwin))
	assert.Equal(t, 1, h.images.Calls())

	stored, err := h.records.Get(ctx, domain.CollectionProducts, "awin-A")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/products/a-1.jpg", stored.String(domain.FieldStorageImageURL))
	assert.Equal(t, 1, stateOf(t, h, domain.NetworkAwin).Counters.Products.Skipped)
}
