package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/user/patentscope-crawler/internal/entity"
	"github.com/user/patentscope-crawler/internal/repository"
	"github.com/user/patentscope-crawler/pkg/metrics"
	"github.com/user/patentscope-crawler/pkg/utils"
)

// ErrCacheDisabled is returned by cache operations when no cache is configured.
var ErrCacheDisabled = errors.New("record cache is disabled")

// Extraction is the single and flat-batch extraction API the delivery layer depends on.
type Extraction interface {
	Extract(ctx context.Context, key string, useCache bool) (entity.ExtractionRecord, error)
	ExtractBatch(ctx context.Context, keys []string, opts BatchOptions) (*BatchExtraction, error)
	ClearCache(ctx context.Context, key string) (int, error)
	CacheStats(ctx context.Context) (*repository.CacheStats, error)
	ArchivedRecord(ctx context.Context, key string) (*entity.ExtractionRecord, error)
}

// BatchOptions controls ExtractBatch.
type BatchOptions struct {
	UseCache bool
	UsePool  bool
	PoolSize int
}

// BatchExtraction is the result of ExtractBatch, in input order.
type BatchExtraction struct {
	Total   int                       `json:"total"`
	Cached  int                       `json:"cached"`
	Fetched int                       `json:"fetched"`
	Results []entity.ExtractionRecord `json:"results"`
}

type ServiceConfig struct {
	Extractor ExtractorConfig
	Pool      PoolConfig
	// PoolMaxSize caps the pool size a caller may request.
	PoolMaxSize int
	// MinPoolBatch is the smallest number of uncached keys worth starting a pool for.
	MinPoolBatch int
}

// ExtractionService fronts the extractor with a read-through cache and an optional archive.
type ExtractionService struct {
	factory repository.BrowserFactory
	cache   repository.RecordCache
	archive repository.RecordRepository
	cfg     ServiceConfig
	logger  *zap.Logger

	// mu guards start-up and teardown of the shared session. Each extraction opens its
	// own page, so callers use the session concurrently.
	mu     sync.Mutex
	shared *Extractor
}

// NewExtractionService wires the service. cache and archive may be nil.
func NewExtractionService(factory repository.BrowserFactory, cache repository.RecordCache, archive repository.RecordRepository, cfg ServiceConfig, logger *zap.Logger) *ExtractionService {
	if cfg.PoolMaxSize <= 0 {
		cfg.PoolMaxSize = 5
	}
	if cfg.MinPoolBatch <= 0 {
		cfg.MinPoolBatch = 3
	}
	return &ExtractionService{
		factory: factory,
		cache:   cache,
		archive: archive,
		cfg:     cfg,
		logger:  logger.Named("service"),
	}
}

// Extract returns the record for one document key. A failed extraction is returned as
// a Failure record, not as an error; errors are reserved for session start-up.
func (s *ExtractionService) Extract(ctx context.Context, key string, useCache bool) (entity.ExtractionRecord, error) {
	key = utils.NormalizeKey(key)
	if useCache {
		if rec, ok := s.cached(ctx, key); ok {
			return *rec, nil
		}
	}

	extractor, err := s.session(ctx)
	if err != nil {
		return entity.ExtractionRecord{}, err
	}
	rec := extractor.Extract(ctx, key)
	s.store(ctx, &rec)
	return rec, nil
}

// ExtractBatch serves what it can from the cache and fetches the rest, through a
// dedicated worker pool when the batch is large enough or sequentially otherwise.
func (s *ExtractionService) ExtractBatch(ctx context.Context, keys []string, opts BatchOptions) (*BatchExtraction, error) {
	normalized := make([]string, len(keys))
	for i, key := range keys {
		normalized[i] = utils.NormalizeKey(key)
	}

	found := make(map[string]entity.ExtractionRecord, len(normalized))
	var toFetch []string
	queued := make(map[string]bool)
	for _, key := range normalized {
		if _, ok := found[key]; ok || queued[key] {
			continue
		}
		if opts.UseCache {
			if rec, ok := s.cached(ctx, key); ok {
				found[key] = *rec
				continue
			}
		}
		queued[key] = true
		toFetch = append(toFetch, key)
	}
	cachedCount := len(found)

	var fetched []entity.ExtractionRecord
	if len(toFetch) > 0 {
		var err error
		if opts.UsePool && len(toFetch) >= s.cfg.MinPoolBatch {
			fetched, err = s.fetchWithPool(ctx, toFetch, s.clampPoolSize(opts.PoolSize))
		} else {
			fetched, err = s.fetchSequential(ctx, toFetch)
		}
		if err != nil {
			return nil, err
		}
	}
	for i := range fetched {
		s.store(ctx, &fetched[i])
		found[fetched[i].Key] = fetched[i]
	}

	results := make([]entity.ExtractionRecord, 0, len(normalized))
	for _, key := range normalized {
		if rec, ok := found[key]; ok {
			results = append(results, rec)
		}
	}

	s.logger.Info("Batch extraction finished",
		zap.Int("total", len(normalized)),
		zap.Int("cached", cachedCount),
		zap.Int("fetched", len(fetched)),
	)
	return &BatchExtraction{
		Total:   len(normalized),
		Cached:  cachedCount,
		Fetched: len(fetched),
		Results: results,
	}, nil
}

// ClearCache removes one key, or every entry when key is empty.
func (s *ExtractionService) ClearCache(ctx context.Context, key string) (int, error) {
	if s.cache == nil {
		return 0, ErrCacheDisabled
	}
	if key == "" {
		return s.cache.Clear(ctx)
	}
	removed, err := s.cache.Delete(ctx, utils.NormalizeKey(key))
	if err != nil || !removed {
		return 0, err
	}
	return 1, nil
}

func (s *ExtractionService) CacheStats(ctx context.Context) (*repository.CacheStats, error) {
	if s.cache == nil {
		return nil, ErrCacheDisabled
	}
	return s.cache.Stats(ctx)
}

// ArchivedRecord returns repository.ErrRecordNotFound when the key was never archived
// or no archive is configured.
func (s *ExtractionService) ArchivedRecord(ctx context.Context, key string) (*entity.ExtractionRecord, error) {
	if s.archive == nil {
		return nil, repository.ErrRecordNotFound
	}
	return s.archive.FindByKey(ctx, utils.NormalizeKey(key))
}

// Close releases the shared session if one was started.
func (s *ExtractionService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shared == nil {
		return nil
	}
	err := s.shared.Close()
	s.shared = nil
	return err
}

// session starts the shared session on first use.
func (s *ExtractionService) session(ctx context.Context) (*Extractor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shared != nil {
		return s.shared, nil
	}
	browser, err := s.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	s.shared = NewExtractor(browser, s.cfg.Extractor, s.logger)
	return s.shared, nil
}

func (s *ExtractionService) fetchSequential(ctx context.Context, keys []string) ([]entity.ExtractionRecord, error) {
	extractor, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	return extractor.ExtractMany(ctx, keys), nil
}

func (s *ExtractionService) fetchWithPool(ctx context.Context, keys []string, size int) ([]entity.ExtractionRecord, error) {
	pool := NewWorkerPool(s.factory, s.cfg.Extractor, s.cfg.Pool, s.logger)
	defer func() {
		if err := pool.Close(); err != nil {
			s.logger.Warn("Failed to close pool", zap.Error(err))
		}
	}()
	if err := pool.Initialize(ctx, size); err != nil {
		return nil, err
	}

	progress := make(chan entity.PoolProgress, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range progress {
			s.logger.Info("Pool progress",
				zap.Int("processed", p.Processed),
				zap.Int("total", p.Total),
				zap.Float64("percentage", p.Percentage),
			)
		}
	}()
	records, err := pool.RunBatch(ctx, keys, progress)
	<-done
	return records, err
}

func (s *ExtractionService) clampPoolSize(size int) int {
	if size < 1 {
		return 1
	}
	return min(size, s.cfg.PoolMaxSize)
}

func (s *ExtractionService) cached(ctx context.Context, key string) (*entity.ExtractionRecord, bool) {
	if s.cache == nil {
		return nil, false
	}
	rec, err := s.cache.Get(ctx, key)
	if err != nil {
		result := "miss"
		if !errors.Is(err, repository.ErrCacheMiss) {
			result = "error"
			s.logger.Warn("Cache lookup failed", zap.String("key", key), zap.Error(err))
		}
		metrics.CacheLookups.WithLabelValues(result).Inc()
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	s.logger.Debug("Cache hit", zap.String("key", key))
	return rec, true
}

// store caches and archives successful records. Storage errors are logged only.
func (s *ExtractionService) store(ctx context.Context, rec *entity.ExtractionRecord) {
	if !rec.Succeeded() {
		return
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, rec); err != nil {
			s.logger.Warn("Failed to cache record", zap.String("key", rec.Key), zap.Error(err))
		}
	}
	if s.archive != nil {
		if err := s.archive.Save(ctx, rec); err != nil {
			s.logger.Warn("Failed to archive record", zap.String("key", rec.Key), zap.Error(err))
		}
	}
}
