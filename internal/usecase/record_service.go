package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"affsync/internal/domain"
	"affsync/pkg/logger"
	"affsync/pkg/metrics"
)

// DefaultPruneBatchSize stays below the 500-writes-per-batch limit common to
// document stores
const DefaultPruneBatchSize = 400

// RecordService is the single write path into the record store: keyed
// upserts with change detection, batched pruning, settings and sync history
type RecordService struct {
	repo           domain.RecordRepository
	logger         *logger.Logger
	metrics        *metrics.Metrics
	pruneBatchSize int
	now            func() time.Time

	settingsMu sync.Mutex
}

func NewRecordService(repo domain.RecordRepository, logger *logger.Logger, metrics *metrics.Metrics, pruneBatchSize int) *RecordService {
	if pruneBatchSize <= 0 {
		pruneBatchSize = DefaultPruneBatchSize
	}
	return &RecordService{
		repo:           repo,
		logger:         logger,
		metrics:        metrics,
		pruneBatchSize: pruneBatchSize,
		now:            time.Now,
	}
}

// Get returns the stored document, or nil when none exists
func (s *RecordService) Get(ctx context.Context, collection domain.Collection, key string) (domain.Document, error) {
	doc, err := s.repo.Get(ctx, collection, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", collection, key, err)
	}
	return doc, nil
}

// Upsert reads the stored record and writes candidate over it if anything
// changed
func (s *RecordService) Upsert(ctx context.Context, collection domain.Collection, candidate domain.Document) (domain.UpsertResult, error) {
	key, err := domain.KeyFor(collection, candidate)
	if err != nil {
		return domain.UpsertResult{}, err
	}
	existing, err := s.Get(ctx, collection, key)
	if err != nil {
		return domain.UpsertResult{Key: key}, err
	}
	return s.write(ctx, collection, key, candidate, existing)
}

// UpsertKnown is Upsert for callers that already hold the stored record;
// nil means there is none
func (s *RecordService) UpsertKnown(ctx context.Context, collection domain.Collection, candidate, existing domain.Document) (domain.UpsertResult, error) {
	key, err := domain.KeyFor(collection, candidate)
	if err != nil {
		return domain.UpsertResult{}, err
	}
	return s.write(ctx, collection, key, candidate, existing)
}

func (s *RecordService) write(ctx context.Context, collection domain.Collection, key string, candidate, existing domain.Document) (domain.UpsertResult, error) {
	candidate, err := domain.ToDocument(candidate)
	if err != nil {
		return domain.UpsertResult{Key: key}, err
	}

	if !domain.HasChanged(candidate, existing) {
		return domain.UpsertResult{Key: key, Status: domain.UpsertSkipped}, nil
	}

	merged := existing.Clone()
	if merged == nil {
		merged = make(domain.Document, len(candidate)+1)
	}
	for field, value := range candidate {
		merged[field] = value
	}
	merged[domain.FieldUpdatedAt] = s.now().UTC().Format(time.RFC3339Nano)

	if err := s.repo.Put(ctx, collection, key, merged); err != nil {
		return domain.UpsertResult{Key: key}, fmt.Errorf("failed to write %s/%s: %w", collection, key, err)
	}

	status := domain.UpsertUpdated
	if existing == nil {
		status = domain.UpsertCreated
	}
	return domain.UpsertResult{Key: key, Status: status}, nil
}

// Prune deletes every stored key of the network's collection that is absent
// from active, in batches of at most pruneBatchSize
func (s *RecordService) Prune(ctx context.Context, network domain.Network, collection domain.Collection, active map[string]struct{}) (int, error) {
	keys, err := s.repo.ListKeys(ctx, collection, network)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s keys: %w", collection, err)
	}

	var stale []string
	for _, key := range keys {
		if _, ok := active[key]; !ok {
			stale = append(stale, key)
		}
	}

	deleted := 0
	for start := 0; start < len(stale); start += s.pruneBatchSize {
		end := min(start+s.pruneBatchSize, len(stale))
		if err := s.repo.DeleteBatch(ctx, collection, stale[start:end]); err != nil {
			return deleted, fmt.Errorf("failed to delete %s batch: %w", collection, err)
		}
		deleted += end - start
	}

	if deleted > 0 {
		s.metrics.RecordPruned(string(network), string(collection), deleted)
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"network":    network,
			"collection": collection,
			"deleted":    deleted,
		}).Info("Pruned stale records")
	}
	return deleted, nil
}

func (s *RecordService) List(ctx context.Context, collection domain.Collection, network domain.Network) ([]domain.Record, error) {
	records, err := s.repo.List(ctx, collection, network)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	return records, nil
}

func (s *RecordService) FindByAdvertiser(ctx context.Context, collection domain.Collection, network domain.Network, advertiserID any) ([]domain.Record, error) {
	records, err := s.repo.FindByAdvertiser(ctx, collection, network, advertiserID)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s by advertiser: %w", collection, err)
	}
	return records, nil
}

// GetSettings returns the settings singleton, zero-valued when unset
func (s *RecordService) GetSettings(ctx context.Context) (domain.Settings, error) {
	var settings domain.Settings
	doc, err := s.Get(ctx, domain.CollectionSettings, domain.SettingsKey)
	if err != nil || doc == nil {
		return settings, err
	}
	if err := doc.Decode(&settings); err != nil {
		return settings, err
	}
	return settings, nil
}

// UpdateSettings applies mutate to the stored settings and merge-writes the
// result. Fields the settings type does not know are kept.
func (s *RecordService) UpdateSettings(ctx context.Context, mutate func(*domain.Settings)) (domain.Settings, error) {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()

	existing, err := s.Get(ctx, domain.CollectionSettings, domain.SettingsKey)
	if err != nil {
		return domain.Settings{}, err
	}

	var settings domain.Settings
	if existing != nil {
		if err := existing.Decode(&settings); err != nil {
			return settings, err
		}
	}
	mutate(&settings)

	candidate, err := domain.ToDocument(settings)
	if err != nil {
		return settings, err
	}
	merged := existing.Clone()
	if merged == nil {
		merged = domain.Document{}
	}
	for _, field := range []string{"lastFullSyncAt", "lastSyncAt", "pausedNetworks"} {
		if value, ok := candidate[field]; ok {
			merged[field] = value
		} else {
			delete(merged, field)
		}
	}
	merged[domain.FieldUpdatedAt] = s.now().UTC().Format(time.RFC3339Nano)

	if err := s.repo.Put(ctx, domain.CollectionSettings, domain.SettingsKey, merged); err != nil {
		return settings, fmt.Errorf("failed to write settings: %w", err)
	}
	return settings, nil
}

func (s *RecordService) AppendSyncLog(ctx context.Context, log domain.SyncLog) error {
	if err := s.repo.AppendSyncLog(ctx, log); err != nil {
		return fmt.Errorf("failed to append sync log: %w", err)
	}
	return nil
}

func (s *RecordService) SyncHistory(ctx context.Context, network domain.Network, limit int) ([]domain.SyncLog, error) {
	logs, err := s.repo.ListSyncLogs(ctx, network, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	return logs, nil
}
