package repository

import (
	"context"
	"time"

	"github.com/user/patentscope-crawler/internal/entity"
)

// CacheEntryInfo describes one cached record.
type CacheEntryInfo struct {
	Key        string  `json:"wo_number"`
	AgeSeconds float64 `json:"age_seconds"`
	ExpiresIn  float64 `json:"expires_in"`
}

// CacheStats summarises the record cache.
type CacheStats struct {
	Size       int              `json:"size"`
	TTLSeconds float64          `json:"ttl_seconds"`
	Entries    []CacheEntryInfo `json:"entries"`
}

// RecordCache is a TTL key/value cache of successful extraction records.
type RecordCache interface {
	// Get returns ErrCacheMiss when the key is absent or expired.
	Get(ctx context.Context, key string) (*entity.ExtractionRecord, error)
	Set(ctx context.Context, record *entity.ExtractionRecord) error
	// Delete reports whether an entry was removed.
	Delete(ctx context.Context, key string) (bool, error)
	// Clear removes every entry and returns how many were removed.
	Clear(ctx context.Context) (int, error)
	Stats(ctx context.Context) (*CacheStats, error)
	TTL() time.Duration
	Ping(ctx context.Context) error
}
