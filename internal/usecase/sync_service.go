package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"affsync/internal/domain"
	"affsync/pkg/logger"
	"affsync/pkg/metrics"
)

// SyncOptions tune a SyncService
type SyncOptions struct {
	LogoLookupQuota    int
	CacheProductImages bool
	ProductFolder      string
}

// SyncService runs adapter passes through the record store and tracks
// their state
type SyncService struct {
	adapters  map[domain.Network]domain.NetworkAdapter
	order     []domain.Network
	records   *RecordService
	policy    *AdvertiserPolicy
	reconcile *ReconcileService
	tracker   *SyncTracker
	images    domain.ImageCache
	opts      SyncOptions
	logger    *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewSyncService(
	adapters []domain.NetworkAdapter,
	records *RecordService,
	policy *AdvertiserPolicy,
	reconcile *ReconcileService,
	tracker *SyncTracker,
	images domain.ImageCache,
	opts SyncOptions,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *SyncService {
	if opts.ProductFolder == "" {
		opts.ProductFolder = "products"
	}
	s := &SyncService{
		adapters:  make(map[domain.Network]domain.NetworkAdapter, len(adapters)),
		records:   records,
		policy:    policy,
		reconcile: reconcile,
		tracker:   tracker,
		images:    images,
		opts:      opts,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
	for _, a := range adapters {
		s.adapters[a.Network()] = a
		s.order = append(s.order, a.Network())
	}
	return s
}

// run is one claimed sync: the tracker is held until execute returns
type run struct {
	id        string
	networks  []domain.Network
	full      bool
	startedAt time.Time
}

// RunAll syncs every unpaused network in three phases, then reconciles
// all advertisers. It returns the joined errors of failed networks.
func (s *SyncService) RunAll(ctx context.Context) error {
	r, err := s.beginAll(ctx)
	if err != nil {
		return err
	}
	return s.execute(ctx, r)
}

// RunNetwork syncs a single network and reconciles its advertisers
func (s *SyncService) RunNetwork(ctx context.Context, network domain.Network) error {
	r, err := s.beginNetwork(network)
	if err != nil {
		return err
	}
	return s.execute(ctx, r)
}

// StartAll claims the run synchronously and executes it in the
// background. The returned id tags the run's log lines.
func (s *SyncService) StartAll(ctx context.Context) (string, error) {
	r, err := s.beginAll(ctx)
	if err != nil {
		return "", err
	}
	go s.execute(context.WithoutCancel(ctx), r)
	return r.id, nil
}

// StartNetwork is StartAll for one network
func (s *SyncService) StartNetwork(ctx context.Context, network domain.Network) (string, error) {
	r, err := s.beginNetwork(network)
	if err != nil {
		return "", err
	}
	go s.execute(context.WithoutCancel(ctx), r)
	return r.id, nil
}

// Reconcile recalculates counters outside a sync run
func (s *SyncService) Reconcile(ctx context.Context, network domain.Network) (domain.ReconcileSummary, error) {
	return s.reconcile.ReconcileAll(ctx, network)
}

func (s *SyncService) Status() []domain.SyncRunState {
	return s.tracker.Snapshot()
}

// Running reports whether a run currently holds the sync flag
func (s *SyncService) Running() bool {
	return s.tracker.Running()
}

// Networks lists the configured networks in run order
func (s *SyncService) Networks() []domain.Network {
	return append([]domain.Network(nil), s.order...)
}

func (s *SyncService) History(ctx context.Context, network domain.Network, limit int) ([]domain.SyncLog, error) {
	if _, ok := s.adapters[network]; !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownNetwork, network)
	}
	return s.records.SyncHistory(ctx, network, limit)
}

func (s *SyncService) beginAll(ctx context.Context) (run, error) {
	settings, err := s.records.GetSettings(ctx)
	if err != nil {
		return run{}, err
	}

	var networks []domain.Network
	for _, n := range s.order {
		if settings.IsPaused(n) {
			s.logger.WithContext(ctx).WithField("network", n).Info("Network paused, skipping")
			continue
		}
		networks = append(networks, n)
	}

	if err := s.tracker.Begin(networks...); err != nil {
		return run{}, err
	}
	return run{id: uuid.NewString(), networks: networks, full: true, startedAt: s.now()}, nil
}

func (s *SyncService) beginNetwork(network domain.Network) (run, error) {
	if _, ok := s.adapters[network]; !ok {
		return run{}, fmt.Errorf("%w: %s", domain.ErrUnknownNetwork, network)
	}
	if err := s.tracker.Begin(network); err != nil {
		return run{}, err
	}
	return run{id: uuid.NewString(), networks: []domain.Network{network}, startedAt: s.now()}, nil
}

// execute runs the advertiser, offer and product phases across the run's
// networks in that order. A network that fails a phase is skipped by the
// later ones.
func (s *SyncService) execute(ctx context.Context, r run) (err error) {
	defer s.tracker.End()
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("sync run panicked: %v", recovered)
			s.logger.WithContext(ctx).WithFields(map[string]any{
				"error": recovered,
				"stack": string(debug.Stack()),
			}).Error("Panic recovered")
			for _, n := range r.networks {
				s.tracker.Fail(n, err)
			}
		}
	}()
	s.metrics.IncSyncRunsInProgress()
	defer s.metrics.DecSyncRunsInProgress()

	ctx = logger.WithRunID(ctx, r.id)
	log := s.logger.WithContext(ctx)
	log.WithFields(map[string]any{
		"networks": r.networks,
		"full":     r.full,
	}).Info("Starting sync")

	quota := domain.NewLookupQuota(s.opts.LogoLookupQuota)
	failed := make(map[domain.Network]error)
	names := make(map[domain.Network]map[string]string)

	for _, n := range r.networks {
		var advertiserNames map[string]string
		err := s.guard(ctx, n, "advertisers", func() (err error) {
			advertiserNames, err = s.syncAdvertisers(ctx, s.adapters[n], quota)
			return err
		})
		if err != nil {
			failed[n] = s.fail(ctx, n, r, err)
			continue
		}
		names[n] = advertiserNames
	}

	for _, n := range r.networks {
		if failed[n] != nil {
			continue
		}
		err := s.guard(ctx, n, "offers", func() error {
			return s.syncOffers(ctx, s.adapters[n], names[n])
		})
		if err != nil {
			failed[n] = s.fail(ctx, n, r, err)
		}
	}

	for _, n := range r.networks {
		if failed[n] != nil {
			continue
		}
		err := s.guard(ctx, n, "products", func() error {
			return s.syncProducts(ctx, s.adapters[n])
		})
		if err != nil {
			failed[n] = s.fail(ctx, n, r, err)
		}
	}

	scope := domain.Network("")
	if !r.full {
		scope = r.networks[0]
	}
	if err := s.guard(ctx, scope, "reconcile", func() error {
		_, err := s.reconcile.ReconcileAll(ctx, scope)
		return err
	}); err != nil {
		log.WithError(err).Error("Reconciliation failed")
	}

	var errs []error
	for _, n := range r.networks {
		if err := failed[n]; err != nil {
			errs = append(errs, err)
			continue
		}
		s.complete(ctx, n, r)
	}

	if r.full {
		finished := s.now().UTC()
		if _, err := s.records.UpdateSettings(ctx, func(settings *domain.Settings) {
			settings.LastFullSyncAt = &finished
		}); err != nil {
			log.WithError(err).Error("Failed to record full sync time")
		}
	}

	log.WithFields(map[string]any{
		"duration": s.now().Sub(r.startedAt),
		"failed":   len(errs),
	}).Info("Sync finished")

	return errors.Join(errs...)
}

// guard runs one phase of a pass, turning a panic into an error so the
// remaining networks still sync
func (s *SyncService) guard(ctx context.Context, network domain.Network, phase string, fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.WithContext(ctx).WithFields(map[string]any{
				"network": network,
				"phase":   phase,
				"error":   recovered,
				"stack":   string(debug.Stack()),
			}).Error("Panic recovered")
			err = fmt.Errorf("%s phase panicked: %v", phase, recovered)
		}
	}()
	return fn()
}

func (s *SyncService) fail(ctx context.Context, network domain.Network, r run, err error) error {
	err = fmt.Errorf("%s: %w", network, err)
	s.tracker.Fail(network, err)
	s.metrics.RecordFailure(string(network), "sync")
	s.metrics.RecordSyncRun(string(network), string(domain.SyncError), s.now().Sub(r.startedAt))
	s.logger.WithContext(ctx).WithError(err).WithField("network", network).Error("Network sync failed")
	return err
}

func (s *SyncService) complete(ctx context.Context, network domain.Network, r run) {
	log := s.logger.WithContext(ctx).WithField("network", network)

	state, ok := s.tracker.Complete(network)
	if !ok {
		return
	}
	finished := s.now().UTC()
	duration := finished.Sub(r.startedAt)
	s.metrics.RecordSyncRun(string(network), string(domain.SyncComplete), duration)

	entry := domain.SyncLog{
		ID:         uuid.NewString(),
		Network:    network,
		Status:     domain.SyncComplete,
		Counters:   state.Counters,
		StartedAt:  r.startedAt.UTC(),
		FinishedAt: finished,
		Duration:   duration,
	}
	if err := s.records.AppendSyncLog(ctx, entry); err != nil {
		log.WithError(err).Error("Failed to append sync log")
	}

	if _, err := s.records.UpdateSettings(ctx, func(settings *domain.Settings) {
		if settings.LastSyncAt == nil {
			settings.LastSyncAt = make(map[string]time.Time)
		}
		settings.LastSyncAt[string(network)] = finished
	}); err != nil {
		log.WithError(err).Error("Failed to record sync time")
	}

	log.WithFields(map[string]any{
		"advertisers": state.Counters.Advertisers,
		"offers":      state.Counters.Offers,
		"products":    state.Counters.Products,
		"duration":    duration,
	}).Info("Network sync completed")
}

// fetchOutcome splits an adapter error into a fatal error and the partial
// flag that disables pruning
func (s *SyncService) fetchOutcome(ctx context.Context, network domain.Network, collection domain.Collection, err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	if errors.Is(err, domain.ErrPartialResult) {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"network":    network,
			"collection": collection,
		}).Warn("Partial fetch, pruning disabled for this pass")
		return true, nil
	}
	return false, fmt.Errorf("failed to fetch %s: %w", collection, err)
}

func (s *SyncService) syncAdvertisers(ctx context.Context, adapter domain.NetworkAdapter, quota *domain.LookupQuota) (map[string]string, error) {
	network := adapter.Network()
	log := s.logger.WithContext(ctx).WithField("network", network)

	advertisers, err := adapter.FetchAdvertisers(ctx)
	partial, err := s.fetchOutcome(ctx, network, domain.CollectionAdvertisers, err)
	if err != nil {
		return nil, err
	}

	names := make(map[string]string, len(advertisers))
	active := make(map[string]struct{}, len(advertisers))
	for _, adv := range advertisers {
		if strings.TrimSpace(adv.NetworkID) == "" {
			continue
		}
		key := adv.Key()

		existing, err := s.records.Get(ctx, domain.CollectionAdvertisers, key)
		if err != nil {
			return names, err
		}
		candidate, err := s.policy.Candidate(ctx, adv, existing, quota)
		if err != nil {
			log.WithError(err).WithField("advertiser", key).Warn("Skipping advertiser")
			continue
		}
		result, err := s.records.UpsertKnown(ctx, domain.CollectionAdvertisers, candidate, existing)
		if err != nil {
			return names, err
		}

		s.count(network, domain.CollectionAdvertisers, result.Status)
		active[result.Key] = struct{}{}
		names[adv.NetworkID] = adv.Name
	}

	s.prune(ctx, network, domain.CollectionAdvertisers, active, partial)
	return names, nil
}

func (s *SyncService) syncOffers(ctx context.Context, adapter domain.NetworkAdapter, names map[string]string) error {
	network := adapter.Network()
	log := s.logger.WithContext(ctx).WithField("network", network)

	offers, err := adapter.FetchOffers(ctx, domain.OfferContext{AdvertiserNames: names})
	partial, err := s.fetchOutcome(ctx, network, domain.CollectionOffers, err)
	if err != nil {
		return err
	}

	active := make(map[string]struct{}, len(offers))
	for _, offer := range offers {
		if offer.AdvertiserName == "" {
			offer.AdvertiserName = names[offer.AdvertiserID]
		}
		candidate, err := offer.ToDocument()
		if err != nil {
			log.WithError(err).Warn("Skipping offer")
			continue
		}
		result, err := s.records.Upsert(ctx, domain.CollectionOffers, candidate)
		if errors.Is(err, domain.ErrMissingIdentity) {
			log.WithField("title", offer.Title).Warn("Skipping offer without identity")
			continue
		}
		if err != nil {
			return err
		}

		s.count(network, domain.CollectionOffers, result.Status)
		active[result.Key] = struct{}{}
	}

	s.prune(ctx, network, domain.CollectionOffers, active, partial)
	return nil
}

// syncProducts pulls product pages one at a time so only a page is held
// in memory
func (s *SyncService) syncProducts(ctx context.Context, adapter domain.NetworkAdapter) error {
	network := adapter.Network()
	log := s.logger.WithContext(ctx).WithField("network", network)

	partial := false
	active := make(map[string]struct{})
	for page, err := range adapter.FetchProducts(ctx) {
		if err != nil {
			partial = true
			log.WithError(err).Warn("Product unit failed")
			continue
		}
		for _, product := range page {
			key, err := product.Key()
			if err != nil {
				log.WithField("name", product.Name).Warn("Skipping product without identity")
				continue
			}

			existing, err := s.records.Get(ctx, domain.CollectionProducts, key)
			if err != nil {
				return err
			}
			candidate, err := product.ToDocument()
			if err != nil {
				log.WithError(err).WithField("product", key).Warn("Skipping product")
				continue
			}
			s.cacheProductImage(ctx, candidate, product, existing)

			result, err := s.records.UpsertKnown(ctx, domain.CollectionProducts, candidate, existing)
			if err != nil {
				return err
			}
			s.count(network, domain.CollectionProducts, result.Status)
			active[result.Key] = struct{}{}
		}
	}

	s.prune(ctx, network, domain.CollectionProducts, active, partial)
	return nil
}

// cacheProductImage stores a copy of a new or changed product image
func (s *SyncService) cacheProductImage(ctx context.Context, candidate domain.Document, product domain.Product, existing domain.Document) {
	if !s.opts.CacheProductImages || product.ImageURL == "" {
		return
	}
	if product.ImageURL == existing.String(domain.FieldImageURL) && existing.String(domain.FieldStorageImageURL) != "" {
		return
	}
	cached, err := s.images.Cache(ctx, product.ImageURL, s.opts.ProductFolder)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("image", product.ImageURL).Debug("Product image not cached")
		return
	}
	candidate[domain.FieldStorageImageURL] = cached
}

func (s *SyncService) count(network domain.Network, collection domain.Collection, status domain.UpsertStatus) {
	s.tracker.Record(network, collection, status)
	s.metrics.RecordRecord(string(network), string(collection), string(status))
}

// prune removes records the pass did not see. Partial or empty passes are
// never pruned, and a prune failure only costs this collection's cleanup.
func (s *SyncService) prune(ctx context.Context, network domain.Network, collection domain.Collection, active map[string]struct{}, partial bool) {
	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"network":    network,
		"collection": collection,
	})

	switch {
	case partial:
		log.Warn("Skipping prune after partial fetch")
		return
	case len(active) == 0:
		log.Info("Skipping prune, pass saw no records")
		return
	}

	deleted, err := s.records.Prune(ctx, network, collection, active)
	if deleted > 0 {
		s.tracker.Pruned(network, collection, deleted)
	}
	if err != nil {
		log.WithError(err).Error("Prune failed")
	}
}
