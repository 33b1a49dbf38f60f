package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"affsync/internal/domain"
	"affsync/pkg/logger"
)

var _ domain.RecordRepository = (*MemoryRepository)(nil)

// implements domain.RecordRepository in memory. Documents are held as JSON
// so reads never alias stored state and numeric/string ids keep their type.
type MemoryRepository struct {
	data   map[domain.Collection]map[string][]byte
	logs   []domain.SyncLog
	mutex  sync.RWMutex
	logger *logger.Logger
}

// creates a new in-memory record repository
func NewMemoryRepository(logger *logger.Logger) *MemoryRepository {
	return &MemoryRepository{
		data:   make(map[domain.Collection]map[string][]byte),
		logger: logger,
	}
}

func (r *MemoryRepository) Get(ctx context.Context, collection domain.Collection, key string) (domain.Document, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	raw, ok := r.data[collection][key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return decodeDocument(raw)
}

func (r *MemoryRepository) Put(ctx context.Context, collection domain.Collection, key string, doc domain.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.data[collection] == nil {
		r.data[collection] = make(map[string][]byte)
	}
	r.data[collection][key] = raw
	return nil
}

func (r *MemoryRepository) DeleteBatch(ctx context.Context, collection domain.Collection, keys []string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, key := range keys {
		delete(r.data[collection], key)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"collection": collection,
		"count":      len(keys),
	}).Debug("Deleted records from memory")
	return nil
}

func (r *MemoryRepository) ListKeys(ctx context.Context, collection domain.Collection, network domain.Network) ([]string, error) {
	records, err := r.List(ctx, collection, network)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(records))
	for _, rec := range records {
		keys = append(keys, rec.Key)
	}
	return keys, nil
}

func (r *MemoryRepository) List(ctx context.Context, collection domain.Collection, network domain.Network) ([]domain.Record, error) {
	return r.filter(collection, func(doc domain.Document) bool {
		return network == "" || doc.String(domain.FieldNetwork) == string(network)
	})
}

func (r *MemoryRepository) FindByAdvertiser(ctx context.Context, collection domain.Collection, network domain.Network, advertiserID any) ([]domain.Record, error) {
	want := domain.NormalizeValue(advertiserID)
	return r.filter(collection, func(doc domain.Document) bool {
		if doc.String(domain.FieldNetwork) != string(network) {
			return false
		}
		got, ok := doc[domain.FieldAdvertiserID]
		return ok && reflect.DeepEqual(got, want)
	})
}

func (r *MemoryRepository) AppendSyncLog(ctx context.Context, log domain.SyncLog) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.logs = append(r.logs, log)
	return nil
}

func (r *MemoryRepository) ListSyncLogs(ctx context.Context, network domain.Network, limit int) ([]domain.SyncLog, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []domain.SyncLog
	for i := len(r.logs) - 1; i >= 0; i-- {
		if r.logs[i].Network != network {
			continue
		}
		result = append(result, r.logs[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (r *MemoryRepository) filter(collection domain.Collection, match func(domain.Document) bool) ([]domain.Record, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []domain.Record
	for key, raw := range r.data[collection] {
		doc, err := decodeDocument(raw)
		if err != nil {
			return nil, err
		}
		if match(doc) {
			result = append(result, domain.Record{Key: key, Data: doc})
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})
	return result, nil
}

func decodeDocument(raw []byte) (domain.Document, error) {
	var doc domain.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}
