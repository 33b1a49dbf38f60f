package usecase

import (
	"context"
	"errors"
	"io"
	"iter"
	"path"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"affsync/internal/domain"
	"affsync/internal/infrastructure"
	"affsync/pkg/logger"
	"affsync/pkg/metrics"
)

func testLogger() *logger.Logger {
	log := logger.New("error")
	log.SetOutput(io.Discard)
	return log
}

func testMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

// countingRepository counts writes on top of the in-memory store
type countingRepository struct {
	*infrastructure.MemoryRepository
	mu      sync.Mutex
	puts    int
	deletes [][]string
}

func newCountingRepository() *countingRepository {
	return &countingRepository{MemoryRepository: infrastructure.NewMemoryRepository(testLogger())}
}

func (r *countingRepository) Put(ctx context.Context, collection domain.Collection, key string, doc domain.Document) error {
	r.mu.Lock()
	r.puts++
	r.mu.Unlock()
	return r.MemoryRepository.Put(ctx, collection, key, doc)
}

func (r *countingRepository) DeleteBatch(ctx context.Context, collection domain.Collection, keys []string) error {
	r.mu.Lock()
	r.deletes = append(r.deletes, append([]string(nil), keys...))
	r.mu.Unlock()
	return r.MemoryRepository.DeleteBatch(ctx, collection, keys)
}

func (r *countingRepository) Puts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.puts
}

// fakeAdapter replays canned records
type fakeAdapter struct {
	network        domain.Network
	advertisers    []domain.Advertiser
	advertiserErr  error
	offers         []domain.Offer
	offerErr       error
	productPages   [][]domain.Product
	productErrs    []error
	panicProducts  bool
	seenOfferNames map[string]string
}

func (a *fakeAdapter) Network() domain.Network { return a.network }

func (a *fakeAdapter) FetchAdvertisers(ctx context.Context) ([]domain.Advertiser, error) {
	return a.advertisers, a.advertiserErr
}

func (a *fakeAdapter) FetchOffers(ctx context.Context, oc domain.OfferContext) ([]domain.Offer, error) {
	a.seenOfferNames = oc.AdvertiserNames
	return a.offers, a.offerErr
}

func (a *fakeAdapter) FetchProducts(ctx context.Context) iter.Seq2[[]domain.Product, error] {
	return func(yield func([]domain.Product, error) bool) {
		if a.panicProducts {
			panic("feed decoder crashed")
		}
		for i, page := range a.productPages {
			if !yield(page, nil) {
				return
			}
			if i < len(a.productErrs) && a.productErrs[i] != nil {
				if !yield(nil, a.productErrs[i]) {
					return
				}
			}
		}
	}
}

// fakeImages records cache calls and returns deterministic URLs
type fakeImages struct {
	mu      sync.Mutex
	calls   []string
	failing bool
}

func (f *fakeImages) Cache(ctx context.Context, sourceURL, folder string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sourceURL)
	if f.failing {
		return "", errors.New("origin unreachable")
	}
	return "https://cdn.test/" + folder + "/" + path.Base(sourceURL), nil
}

func (f *fakeImages) StoreBytes(ctx context.Context, data []byte, folder, contentType string) (string, error) {
	if len(data) == 0 {
		return "", domain.ErrNotImage
	}
	return "https://cdn.test/" + folder + "/uploaded.png", nil
}

func (f *fakeImages) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeBrands struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeBrands) LogoURL(ctx context.Context, host string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return "https://brand.test/" + host + "/logo.png", nil
}

type harness struct {
	repo      *countingRepository
	records   *RecordService
	images    *fakeImages
	brands    *fakeBrands
	policy    *AdvertiserPolicy
	reconcile *ReconcileService
	tracker   *SyncTracker
	sync      *SyncService
	operator  *OperatorService
}

func newHarness(t *testing.T, opts SyncOptions, adapters ...domain.NetworkAdapter) *harness {
	t.Helper()

	log := testLogger()
	m := testMetrics()
	h := &harness{
		repo:   newCountingRepository(),
		images: &fakeImages{},
		brands: &fakeBrands{},
	}
	h.records = NewRecordService(h.repo, log, m, 0)
	h.policy = NewAdvertiserPolicy(h.images, h.brands, "logos", log)
	h.reconcile = NewReconcileService(h.records, log, 2)

	networks := make([]domain.Network, 0, len(adapters))
	for _, a := range adapters {
		networks = append(networks, a.Network())
	}
	h.tracker = NewSyncTracker(networks)
	h.sync = NewSyncService(adapters, h.records, h.policy, h.reconcile, h.tracker, h.images, opts, log, m)
	h.operator = NewOperatorService(h.records, h.images, "logos", log)
	return h
}

func advertiser(network domain.Network, id, name string) domain.Advertiser {
	return domain.Advertiser{
		Network:   network,
		NetworkID: id,
		Name:      name,
		Status:    "joined",
		URL:       "https://" + id + ".example",
	}
}

func product(network domain.Network, id, advertiserID string, price, sale float64) domain.Product {
	return domain.Product{
		Network:      network,
		ItemID:       id,
		AdvertiserID: advertiserID,
		Name:         "Product " + id,
		Price:        domain.PriceOf(price),
		SalePrice:    domain.PriceOf(sale),
		Link:         "https://shop.example/" + id,
	}
}

func ptr[T any](v T) *T {
	return &v
}
