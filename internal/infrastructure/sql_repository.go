package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"affsync/internal/domain"
	"affsync/pkg/logger"
)

var _ domain.RecordRepository = (*SQLRepository)(nil)

const (
	advertiserKindString = "string"
	advertiserKindNumber = "number"
)

// implements domain.RecordRepository on postgres or sqlite.
//
// Each record is a JSON document with denormalized network and advertiser
// columns for the pruning and reconciliation queries. advertiser_id_kind
// keeps a string id and its legacy numeric form apart.
type SQLRepository struct {
	db      *sqlx.DB
	builder sq.StatementBuilderType
	logger  *logger.Logger
}

type recordRow struct {
	Key  string `db:"doc_key"`
	Data string `db:"data"`
}

type syncLogRow struct {
	ID         string    `db:"id"`
	Network    string    `db:"network"`
	Status     string    `db:"status"`
	Counters   string    `db:"counters"`
	StartedAt  time.Time `db:"started_at"`
	FinishedAt time.Time `db:"finished_at"`
	DurationMs int64     `db:"duration_ms"`
}

// creates a repository for a database opened with OpenDatabase
func NewSQLRepository(db *sqlx.DB, driver string, logger *logger.Logger) *SQLRepository {
	var format sq.PlaceholderFormat = sq.Question
	if driver == "postgres" {
		format = sq.Dollar
	}
	return &SQLRepository{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(format),
		logger:  logger,
	}
}

func (r *SQLRepository) Get(ctx context.Context, collection domain.Collection, key string) (domain.Document, error) {
	query, args, err := r.builder.
		Select("data").
		From("records").
		Where(sq.Eq{"collection": string(collection), "doc_key": key}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var data string
	if err := r.db.GetContext(ctx, &data, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get record %s/%s: %w", collection, key, err)
	}
	return decodeDocument([]byte(data))
}

func (r *SQLRepository) Put(ctx context.Context, collection domain.Collection, key string, doc domain.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	advertiserID, kind := advertiserRef(doc[domain.FieldAdvertiserID])

	query, args, err := r.builder.
		Insert("records").
		Columns("collection", "doc_key", "network", "advertiser_id", "advertiser_id_kind", "data", "updated_at").
		Values(string(collection), key, doc.String(domain.FieldNetwork), advertiserID, kind, string(raw), time.Now().UTC()).
		Suffix(`ON CONFLICT (collection, doc_key) DO UPDATE SET
			network = excluded.network,
			advertiser_id = excluded.advertiser_id,
			advertiser_id_kind = excluded.advertiser_id_kind,
			data = excluded.data,
			updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to write record %s/%s: %w", collection, key, err)
	}
	return nil
}

func (r *SQLRepository) DeleteBatch(ctx context.Context, collection domain.Collection, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	query, args, err := r.builder.
		Delete("records").
		Where(sq.Eq{"collection": string(collection), "doc_key": keys}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete %d records from %s: %w", len(keys), collection, err)
	}

	deleted, _ := result.RowsAffected()
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"collection": collection,
		"requested":  len(keys),
		"deleted":    deleted,
	}).Debug("Deleted record batch")
	return nil
}

func (r *SQLRepository) ListKeys(ctx context.Context, collection domain.Collection, network domain.Network) ([]string, error) {
	query, args, err := r.builder.
		Select("doc_key").
		From("records").
		Where(sq.Eq{"collection": string(collection), "network": string(network)}).
		OrderBy("doc_key").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var keys []string
	if err := r.db.SelectContext(ctx, &keys, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list keys of %s/%s: %w", collection, network, err)
	}
	return keys, nil
}

func (r *SQLRepository) List(ctx context.Context, collection domain.Collection, network domain.Network) ([]domain.Record, error) {
	where := sq.Eq{"collection": string(collection)}
	if network != "" {
		where["network"] = string(network)
	}
	return r.selectRecords(ctx, where)
}

func (r *SQLRepository) FindByAdvertiser(ctx context.Context, collection domain.Collection, network domain.Network, advertiserID any) ([]domain.Record, error) {
	id, kind := advertiserRef(domain.NormalizeValue(advertiserID))
	if kind == "" {
		return nil, nil
	}
	return r.selectRecords(ctx, sq.Eq{
		"collection":         string(collection),
		"network":            string(network),
		"advertiser_id":      id,
		"advertiser_id_kind": kind,
	})
}

func (r *SQLRepository) AppendSyncLog(ctx context.Context, log domain.SyncLog) error {
	counters, err := json.Marshal(log.Counters)
	if err != nil {
		return fmt.Errorf("failed to encode counters: %w", err)
	}

	query, args, err := r.builder.
		Insert("sync_logs").
		Columns("id", "network", "status", "counters", "started_at", "finished_at", "duration_ms").
		Values(log.ID, string(log.Network), string(log.Status), string(counters),
			log.StartedAt.UTC(), log.FinishedAt.UTC(), log.Duration.Milliseconds()).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to append sync log: %w", err)
	}
	return nil
}

func (r *SQLRepository) ListSyncLogs(ctx context.Context, network domain.Network, limit int) ([]domain.SyncLog, error) {
	builder := r.builder.
		Select("id", "network", "status", "counters", "started_at", "finished_at", "duration_ms").
		From("sync_logs").
		Where(sq.Eq{"network": string(network)}).
		OrderBy("finished_at DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var rows []syncLogRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}

	logs := make([]domain.SyncLog, 0, len(rows))
	for _, row := range rows {
		entry := domain.SyncLog{
			ID:         row.ID,
			Network:    domain.Network(row.Network),
			Status:     domain.SyncStatus(row.Status),
			StartedAt:  row.StartedAt,
			FinishedAt: row.FinishedAt,
			Duration:   time.Duration(row.DurationMs) * time.Millisecond,
		}
		if err := json.Unmarshal([]byte(row.Counters), &entry.Counters); err != nil {
			return nil, fmt.Errorf("failed to decode counters of sync log %s: %w", row.ID, err)
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func (r *SQLRepository) selectRecords(ctx context.Context, where sq.Eq) ([]domain.Record, error) {
	query, args, err := r.builder.
		Select("doc_key", "data").
		From("records").
		Where(where).
		OrderBy("doc_key").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var rows []recordRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}

	records := make([]domain.Record, 0, len(rows))
	for _, row := range rows {
		doc, err := decodeDocument([]byte(row.Data))
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", row.Key, err)
		}
		records = append(records, domain.Record{Key: row.Key, Data: doc})
	}
	return records, nil
}

// advertiserRef splits a stored advertiserId into its text form and kind
func advertiserRef(v any) (string, string) {
	switch id := v.(type) {
	case string:
		return id, advertiserKindString
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), advertiserKindNumber
	}
	return "", ""
}
