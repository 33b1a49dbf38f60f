package usecase

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"affsync/internal/domain"
	"affsync/pkg/logger"
)

const DefaultReconcileChunkSize = 10

// AdvertiserCounts are the derived values reconciliation writes back
type AdvertiserCounts struct {
	ProductCount     int  `json:"productCount"`
	SaleProductCount int  `json:"saleProductCount"`
	OfferCount       int  `json:"offerCount"`
	HasPromoCodes    bool `json:"hasPromoCodes"`
	HasSaleItems     bool `json:"hasSaleItems"`
}

// ReconcileService recomputes advertiser counters from the stored offers
// and products
type ReconcileService struct {
	records   *RecordService
	logger    *logger.Logger
	chunkSize int
	now       func() time.Time
}

func NewReconcileService(records *RecordService, logger *logger.Logger, chunkSize int) *ReconcileService {
	if chunkSize <= 0 {
		chunkSize = DefaultReconcileChunkSize
	}
	return &ReconcileService{
		records:   records,
		logger:    logger,
		chunkSize: chunkSize,
		now:       time.Now,
	}
}

// RecalculateCounts counts the advertiser's products and live offers and
// writes the result through the upsert path. Advertisers that are not
// stored yield ErrNotFound.
func (s *ReconcileService) RecalculateCounts(ctx context.Context, network domain.Network, advertiserID string) (domain.UpsertResult, error) {
	key := domain.AdvertiserKey(network, advertiserID)
	existing, err := s.records.Get(ctx, domain.CollectionAdvertisers, key)
	if err != nil {
		return domain.UpsertResult{Key: key}, err
	}
	if existing == nil {
		return domain.UpsertResult{Key: key}, fmt.Errorf("advertiser %s: %w", key, domain.ErrNotFound)
	}

	counts, err := s.Counts(ctx, network, advertiserID)
	if err != nil {
		return domain.UpsertResult{Key: key}, err
	}

	candidate := domain.Document{
		domain.FieldNetwork:          string(network),
		domain.FieldNetworkID:        existing.String(domain.FieldNetworkID),
		domain.FieldProductCount:     counts.ProductCount,
		domain.FieldSaleProductCount: counts.SaleProductCount,
		domain.FieldOfferCount:       counts.OfferCount,
		domain.FieldHasPromoCodes:    counts.HasPromoCodes,
		domain.FieldHasSaleItems:     counts.HasSaleItems,
	}
	return s.records.UpsertKnown(ctx, domain.CollectionAdvertisers, candidate, existing)
}

// Counts derives the counters without writing them
func (s *ReconcileService) Counts(ctx context.Context, network domain.Network, advertiserID string) (AdvertiserCounts, error) {
	var counts AdvertiserCounts

	products, err := s.findByAdvertiser(ctx, domain.CollectionProducts, network, advertiserID)
	if err != nil {
		return counts, err
	}
	counts.ProductCount = len(products)
	for _, p := range products {
		if domain.IsOnSale(p.Data.Float(domain.FieldPrice), p.Data.Float(domain.FieldSalePrice)) {
			counts.SaleProductCount++
		}
	}
	counts.HasSaleItems = counts.SaleProductCount > 0

	offers, err := s.findByAdvertiser(ctx, domain.CollectionOffers, network, advertiserID)
	if err != nil {
		return counts, err
	}
	now := s.now()
	for _, o := range offers {
		view := domain.OfferViewOf(o.Data)
		if view.IsExpired(now) {
			continue
		}
		counts.OfferCount++
		if view.HasRealCode() {
			counts.HasPromoCodes = true
		}
	}
	return counts, nil
}

// findByAdvertiser reads records under the canonical string id and, for
// numeric ids, under the legacy number-typed id as well. Both reads are
// merged by key.
func (s *ReconcileService) findByAdvertiser(ctx context.Context, collection domain.Collection, network domain.Network, advertiserID string) ([]domain.Record, error) {
	records, err := s.records.FindByAdvertiser(ctx, collection, network, advertiserID)
	if err != nil {
		return nil, err
	}

	numeric, err := strconv.ParseInt(strings.TrimSpace(advertiserID), 10, 64)
	if err != nil {
		return records, nil
	}
	legacy, err := s.records.FindByAdvertiser(ctx, collection, network, numeric)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(records))
	for _, r := range records {
		seen[r.Key] = true
	}
	for _, r := range legacy {
		if !seen[r.Key] {
			seen[r.Key] = true
			records = append(records, r)
		}
	}
	return records, nil
}

// ReconcileAll recalculates every stored advertiser of network, or of all
// networks when network is empty. Advertisers run in fixed-size chunks; a
// chunk finishes before the next starts. Failures are logged per
// advertiser and do not stop the pass.
func (s *ReconcileService) ReconcileAll(ctx context.Context, network domain.Network) (domain.ReconcileSummary, error) {
	log := s.logger.WithContext(ctx)

	advertisers, err := s.records.List(ctx, domain.CollectionAdvertisers, network)
	if err != nil {
		return domain.ReconcileSummary{}, err
	}

	summary := domain.ReconcileSummary{Advertisers: len(advertisers)}
	var mu sync.Mutex

	for start := 0; start < len(advertisers); start += s.chunkSize {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		end := min(start+s.chunkSize, len(advertisers))

		var wg sync.WaitGroup
		for _, record := range advertisers[start:end] {
			wg.Add(1)
			go func(record domain.Record) {
				defer wg.Done()

				n := domain.Network(record.Data.String(domain.FieldNetwork))
				id := record.Data.String(domain.FieldNetworkID)
				result, err := s.RecalculateCounts(ctx, n, id)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					summary.Failed++
					log.WithError(err).WithField("advertiser", record.Key).Warn("Reconciliation failed")
					return
				}
				if result.Status == domain.UpsertSkipped {
					summary.Skipped++
				} else {
					summary.Updated++
				}
			}(record)
		}
		wg.Wait()
	}

	log.WithFields(map[string]any{
		"network":     network,
		"advertisers": summary.Advertisers,
		"updated":     summary.Updated,
		"skipped":     summary.Skipped,
		"failed":      summary.Failed,
	}).Info("Reconciliation completed")

	return summary, nil
}
