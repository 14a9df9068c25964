package repository

import (
	"context"

	"github.com/user/patentscope-crawler/internal/entity"
)

// RecordRepository archives successful extraction records.
type RecordRepository interface {
	// Save stores the record for its key, replacing any earlier one.
	Save(ctx context.Context, record *entity.ExtractionRecord) error
	// FindByKey returns ErrRecordNotFound when nothing is archived for key.
	FindByKey(ctx context.Context, key string) (*entity.ExtractionRecord, error)
	Ping(ctx context.Context) error
}
