package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/patentscope-crawler/internal/entity"
	"github.com/user/patentscope-crawler/internal/repository"
)

const recordKeyPrefix = "patent:"

// cacheEntry is the stored form of a record; CachedAt lets Stats report entry age.
type cacheEntry struct {
	CachedAt time.Time               `json:"cached_at"`
	Record   entity.ExtractionRecord `json:"record"`
}

// RecordCacheImpl provides a concrete implementation for the RecordCache interface using Redis.
type RecordCacheImpl struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRecordCache creates a new instance of RecordCacheImpl. Entries expire after ttl.
func NewRecordCache(client *redis.Client, ttl time.Duration) *RecordCacheImpl {
	return &RecordCacheImpl{client: client, ttl: ttl}
}

func (r *RecordCacheImpl) generateKey(key string) string {
	return recordKeyPrefix + key
}

func (r *RecordCacheImpl) Get(ctx context.Context, key string) (*entity.ExtractionRecord, error) {
	raw, err := r.client.Get(ctx, r.generateKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, repository.ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode cached record %s: %w", key, err)
	}
	return &entry.Record, nil
}

// Set stores the record with the cache TTL, replacing any earlier entry.
func (r *RecordCacheImpl) Set(ctx context.Context, record *entity.ExtractionRecord) error {
	raw, err := json.Marshal(cacheEntry{CachedAt: time.Now().UTC(), Record: *record})
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.generateKey(record.Key), raw, r.ttl).Err()
}

func (r *RecordCacheImpl) Delete(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Del(ctx, r.generateKey(key)).Result()
	return n > 0, err
}

func (r *RecordCacheImpl) Clear(ctx context.Context) (int, error) {
	keys, err := r.keys(ctx)
	if err != nil || len(keys) == 0 {
		return 0, err
	}
	n, err := r.client.Del(ctx, keys...).Result()
	return int(n), err
}

func (r *RecordCacheImpl) Stats(ctx context.Context) (*repository.CacheStats, error) {
	keys, err := r.keys(ctx)
	if err != nil {
		return nil, err
	}

	stats := &repository.CacheStats{
		TTLSeconds: r.ttl.Seconds(),
		Entries:    make([]repository.CacheEntryInfo, 0, len(keys)),
	}
	if len(keys) == 0 {
		return stats, nil
	}

	pipe := r.client.Pipeline()
	gets := make([]*redis.StringCmd, len(keys))
	ttls := make([]*redis.DurationCmd, len(keys))
	for i, key := range keys {
		gets[i] = pipe.Get(ctx, key)
		ttls[i] = pipe.TTL(ctx, key)
	}
	// Keys that expired between SCAN and the pipeline come back as redis.Nil.
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	now := time.Now()
	for i, key := range keys {
		raw, err := gets[i].Bytes()
		if err != nil {
			continue
		}
		var entry cacheEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		stats.Entries = append(stats.Entries, repository.CacheEntryInfo{
			Key:        key[len(recordKeyPrefix):],
			AgeSeconds: roundSeconds(now.Sub(entry.CachedAt)),
			ExpiresIn:  roundSeconds(ttls[i].Val()),
		})
	}
	slices.SortFunc(stats.Entries, func(a, b repository.CacheEntryInfo) int {
		return cmp.Compare(a.AgeSeconds, b.AgeSeconds)
	})
	stats.Size = len(stats.Entries)
	return stats, nil
}

func (r *RecordCacheImpl) TTL() time.Duration {
	return r.ttl
}

func (r *RecordCacheImpl) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// keys lists every cached record key with SCAN so large caches do not block Redis.
func (r *RecordCacheImpl) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, recordKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func roundSeconds(d time.Duration) float64 {
	return float64(d.Round(100*time.Millisecond)) / float64(time.Second)
}
