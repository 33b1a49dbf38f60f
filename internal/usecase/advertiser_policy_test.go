package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"affsync/internal/domain"
)

// upsertAdvertiser runs one advertiser through the policy and the store
func upsertAdvertiser(t *testing.T, h *harness, adv domain.Advertiser, quota *domain.LookupQuota) domain.Document {
	t.Helper()
	ctx := context.Background()

	existing, err := h.records.Get(ctx, domain.CollectionAdvertisers, adv.Key())
	require.NoError(t, err)
	candidate, err := h.policy.Candidate(ctx, adv, existing, quota)
	require.NoError(t, err)
	_, err = h.records.UpsertKnown(ctx, domain.CollectionAdvertisers, candidate, existing)
	require.NoError(t, err)

	stored, err := h.records.Get(ctx, domain.CollectionAdvertisers, adv.Key())
	require.NoError(t, err)
	return stored
}

func TestManualLogoIsSticky(t *testing.T) {
	h := newHarness(t, SyncOptions{})
	ctx := context.Background()

	adv := advertiser(domain.NetworkAwin, "1", "Acme")
	adv.LogoURL = "https://network.example/acme-v1.png"
	upsertAdvertiser(t, h, adv, nil)

	_, err := h.operator.UploadLogo(ctx, domain.NetworkAwin, "1", []byte("png"), "image/png")
	require.NoError(t, err)
	calls := h.images.Calls()

	adv.LogoURL = "https://network.example/acme-v2.png"
	stored := upsertAdvertiser(t, h, adv, nil)

	assert.True(t, stored.Bool(domain.FieldIsManualLogo))
	assert.Equal(t, "https://cdn.test/logos/uploaded.png", stored.String(domain.FieldLogoURL))
	assert.Equal(t, "https://cdn.test/logos/uploaded.png", stored.String(domain.FieldStorageLogoURL))
	assert.Equal(t, calls, h.images.Calls())
}

func TestNetworkLogoCachedOnlyWhenChanged(t *testing.T) {
	h := newHarness(t, SyncOptions{})

	adv := advertiser(domain.NetworkAwin, "1", "Acme")
	adv.LogoURL = "https://network.example/acme-v1.png"

	stored := upsertAdvertiser(t, h, adv, nil)
	assert.Equal(t, "https://cdn.test/logos/acme-v1.png", stored.String(domain.FieldStorageLogoURL))
	assert.Equal(t, 1, h.images.Calls())

	upsertAdvertiser(t, h, adv, nil)
	assert.Equal(t, 1, h.images.Calls())

	adv.LogoURL = "https://network.example/acme-v2.png"
	stored = upsertAdvertiser(t, h, adv, nil)
	assert.Equal(t, 2, h.images.Calls())
	assert.Equal(t, "https://cdn.test/logos/acme-v2.png", stored.String(domain.FieldStorageLogoURL))
}

func TestLogoCacheFailureKeepsPreviousCopy(t *testing.T) {
	h := newHarness(t, SyncOptions{})

	adv := advertiser(domain.NetworkAwin, "1", "Acme")
	adv.LogoURL = "https://network.example/acme-v1.png"
	upsertAdvertiser(t, h, adv, nil)

	h.images.failing = true
	adv.LogoURL = "https://network.example/acme-v2.png"
	stored := upsertAdvertiser(t, h, adv, nil)

	assert.Equal(t, "https://network.example/acme-v1.png", stored.String(domain.FieldLogoURL))
	assert.Equal(t, "https://cdn.test/logos/acme-v1.png", stored.String(domain.FieldStorageLogoURL))
}

func TestEmptyCategoriesDoNotEraseStored(t *testing.T) {
	h := newHarness(t, SyncOptions{})

	adv := advertiser(domain.NetworkCJ, "5", "Northwind")
	adv.Categories = []string{"Fashion"}
	upsertAdvertiser(t, h, adv, nil)

	adv.Categories = nil
	stored := upsertAdvertiser(t, h, adv, nil)
	assert.Equal(t, []string{"Fashion"}, stored.Strings(domain.FieldCategories))

	adv.Categories = []string{"Shoes", "Fashion"}
	stored = upsertAdvertiser(t, h, adv, nil)
	assert.Equal(t, []string{"Fashion", "Shoes"}, stored.Strings(domain.FieldCategories))
}

func TestManualCategoriesSurviveSync(t *testing.T) {
	h := newHarness(t, SyncOptions{})
	ctx := context.Background()

	adv := advertiser(domain.NetworkCJ, "5", "Northwind")
	adv.Categories = []string{"Home"}
	upsertAdvertiser(t, h, adv, nil)

	_, err := h.operator.SetCategories(ctx, domain.NetworkCJ, "5", []string{"Outdoor", " outdoor "})
	require.NoError(t, err)

	adv.Categories = []string{"Garden"}
	stored := upsertAdvertiser(t, h, adv, nil)
	assert.Equal(t, []string{"Outdoor"}, stored.Strings(domain.FieldCategories))

	_, err = h.operator.ClearManualCategories(ctx, domain.NetworkCJ, "5")
	require.NoError(t, err)
	stored = upsertAdvertiser(t, h, adv, nil)
	assert.Equal(t, []string{"Garden"}, stored.Strings(domain.FieldCategories))
}

func TestBrandLookupRespectsQuota(t *testing.T) {
	h := newHarness(t, SyncOptions{})
	quota := domain.NewLookupQuota(2)

	for _, id := range []string{"a", "b", "c"} {
		upsertAdvertiser(t, h, advertiser(domain.NetworkImpact, id, "Brand "+id), quota)
	}

	assert.Equal(t, 2, h.brands.calls)
	assert.Equal(t, 0, quota.Remaining())

	withLogo, err := h.records.Get(context.Background(), domain.CollectionAdvertisers, "impact-a")
	require.NoError(t, err)
	assert.Equal(t, "https://brand.test/a.example/logo.png", withLogo.String(domain.FieldLogoURL))
	assert.Equal(t, "https://cdn.test/logos/logo.png", withLogo.String(domain.FieldStorageLogoURL))

	without, err := h.records.Get(context.Background(), domain.CollectionAdvertisers, "impact-c")
	require.NoError(t, err)
	assert.Empty(t, without.String(domain.FieldLogoURL))
}

func TestBrandLogoIsKeptOnLaterRuns(t *testing.T) {
	h := newHarness(t, SyncOptions{})
	adv := advertiser(domain.NetworkImpact, "a", "Brand a")

	upsertAdvertiser(t, h, adv, domain.NewLookupQuota(1))
	stored := upsertAdvertiser(t, h, adv, domain.NewLookupQuota(1))

	assert.Equal(t, 1, h.brands.calls)
	assert.Equal(t, "https://brand.test/a.example/logo.png", stored.String(domain.FieldLogoURL))
}

func TestBrandLogoCachingIsRetriedAfterFailure(t *testing.T) {
	h := newHarness(t, SyncOptions{})
	adv := advertiser(domain.NetworkImpact, "a", "Brand a")

	h.images.failing = true
	first := upsertAdvertiser(t, h, adv, domain.NewLookupQuota(1))
	assert.Equal(t, "https://brand.test/a.example/logo.png", first.String(domain.FieldLogoURL))
	assert.Empty(t, first.String(domain.FieldStorageLogoURL))

	h.images.failing = false
	second := upsertAdvertiser(t, h, adv, domain.NewLookupQuota(1))

	assert.Equal(t, 1, h.brands.calls)
	assert.Equal(t, "https://brand.test/a.example/logo.png", second.String(domain.FieldLogoURL))
	assert.Equal(t, "https://cdn.test/logos/logo.png", second.String(domain.FieldStorageLogoURL))
	assert.Equal(t, 2, h.images.Calls())
}
