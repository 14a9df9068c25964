package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/patentscope-crawler/internal/entity"
	"github.com/user/patentscope-crawler/internal/repository"
)

const schema = `
CREATE TABLE IF NOT EXISTS patent_records (
	wo_number     TEXT PRIMARY KEY,
	source_link   TEXT NOT NULL,
	attributes    JSONB NOT NULL,
	attempts      INTEGER NOT NULL,
	duration_ms   BIGINT NOT NULL,
	processed_at  TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// RecordRepoImpl provides a concrete implementation for the RecordRepository interface using PostgreSQL.
type RecordRepoImpl struct {
	db *pgxpool.Pool
}

// NewRecordRepo creates a new instance of RecordRepoImpl.
func NewRecordRepo(db *pgxpool.Pool) *RecordRepoImpl {
	return &RecordRepoImpl{db: db}
}

// EnsureSchema creates the archive table if it does not exist.
func (r *RecordRepoImpl) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, schema)
	return err
}

// Save stores or updates the archived record for a document key.
func (r *RecordRepoImpl) Save(ctx context.Context, record *entity.ExtractionRecord) error {
	attributesJSON, err := json.Marshal(record.Attributes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO patent_records (wo_number, source_link, attributes, attempts, duration_ms, processed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (wo_number) DO UPDATE SET
			source_link = EXCLUDED.source_link,
			attributes = EXCLUDED.attributes,
			attempts = EXCLUDED.attempts,
			duration_ms = EXCLUDED.duration_ms,
			processed_at = EXCLUDED.processed_at,
			updated_at = now();
	`

	_, err = r.db.Exec(ctx, query,
		record.Key,
		record.SourceLink,
		attributesJSON,
		record.Attempts,
		record.Duration.Milliseconds(),
		record.ProcessedAt,
	)
	return err
}

// FindByKey retrieves the archived record for a document key.
func (r *RecordRepoImpl) FindByKey(ctx context.Context, key string) (*entity.ExtractionRecord, error) {
	query := `
		SELECT wo_number, source_link, attributes, attempts, duration_ms, processed_at
		FROM patent_records
		WHERE wo_number = $1;
	`
	row := r.db.QueryRow(ctx, query, key)

	var rec entity.ExtractionRecord
	var attributesJSON []byte
	var durationMS int64

	err := row.Scan(
		&rec.Key,
		&rec.SourceLink,
		&attributesJSON,
		&rec.Attempts,
		&durationMS,
		&rec.ProcessedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(attributesJSON, &rec.Attributes); err != nil {
		return nil, err
	}
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	// Only successful records are archived.
	rec.Outcome = entity.OutcomeSuccess
	return &rec, nil
}

func (r *RecordRepoImpl) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}
