package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/patentscope-crawler/internal/entity"
	"github.com/user/patentscope-crawler/internal/repository"
	"github.com/user/patentscope-crawler/pkg/metrics"
	"github.com/user/patentscope-crawler/pkg/utils"
)

var (
	ErrPoolNotInitialized = errors.New("worker pool not initialized")
	ErrPoolClosed         = errors.New("worker pool is closed")
	ErrPoolBusy           = errors.New("worker pool is already running a batch")
)

// PoolConfig tunes a WorkerPool.
type PoolConfig struct {
	// QueueSize bounds the number of outstanding work items; a full queue blocks the enqueuer.
	QueueSize        int
	ProgressInterval time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		QueueSize:        100,
		ProgressInterval: 2 * time.Second,
	}
}

// workItem is one queued document key, or the stop signal for a worker.
type workItem struct {
	key  string
	stop bool
}

// WorkerPool fans a batch of document keys out over a fixed set of rendering sessions,
// one worker per session.
type WorkerPool struct {
	factory      repository.BrowserFactory
	extractorCfg ExtractorConfig
	cfg          PoolConfig
	logger       *zap.Logger

	runMu    sync.Mutex
	sessions []*Extractor
	queue    chan workItem
	closed   bool

	mu      sync.Mutex
	stats   entity.PoolStats
	results []entity.ExtractionRecord
}

// NewWorkerPool creates a pool; sessions are started by Initialize.
func NewWorkerPool(factory repository.BrowserFactory, extractorCfg ExtractorConfig, cfg PoolConfig, logger *zap.Logger) *WorkerPool {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 2 * time.Second
	}
	return &WorkerPool{
		factory:      factory,
		extractorCfg: extractorCfg,
		cfg:          cfg,
		logger:       logger.Named("pool"),
	}
}

// Initialize eagerly starts size sessions. If any session fails to start, the ones
// already started are released and the error is returned.
func (p *WorkerPool) Initialize(ctx context.Context, size int) error {
	if size <= 0 {
		return fmt.Errorf("pool size must be positive, got %d", size)
	}

	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	if len(p.sessions) > 0 {
		return errors.New("worker pool already initialized")
	}

	p.logger.Info("Initializing pool", zap.Int("size", size))
	for i := 0; i < size; i++ {
		browser, err := p.factory(ctx)
		if err != nil {
			p.closeSessions()
			return fmt.Errorf("start session %d/%d: %w", i+1, size, err)
		}
		p.sessions = append(p.sessions, NewExtractor(browser, p.extractorCfg, p.logger.With(zap.Int("session", i+1))))
		p.logger.Debug("Session ready", zap.Int("session", i+1), zap.Int("size", size))
	}
	p.mu.Lock()
	p.queue = make(chan workItem, p.cfg.QueueSize)
	p.stats = entity.PoolStats{PoolSize: size}
	p.mu.Unlock()
	return nil
}

// RunBatch extracts every key and returns the records in completion order. When progress
// is non-nil, snapshots are sent to it without blocking every ProgressInterval and the
// channel is closed once the batch is over. A cancelled ctx stops enqueueing; items
// already queued still drain.
func (p *WorkerPool) RunBatch(ctx context.Context, keys []string, progress chan<- entity.PoolProgress) ([]entity.ExtractionRecord, error) {
	if progress != nil {
		defer close(progress)
	}
	if !p.runMu.TryLock() {
		return nil, ErrPoolBusy
	}
	defer p.runMu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	if len(p.sessions) == 0 {
		return nil, ErrPoolNotInitialized
	}

	total := len(keys)
	p.logger.Info("Processing batch", zap.Int("items", total), zap.Int("workers", len(p.sessions)))

	p.mu.Lock()
	p.stats = entity.PoolStats{PoolSize: len(p.sessions)}
	p.results = make([]entity.ExtractionRecord, 0, total)
	p.mu.Unlock()

	var pending, workers sync.WaitGroup
	for i, session := range p.sessions {
		workers.Add(1)
		go func(id int, session *Extractor) {
			defer workers.Done()
			p.worker(ctx, id, session, &pending)
		}(i+1, session)
	}

	monitorDone := make(chan struct{})
	var monitor sync.WaitGroup
	if progress != nil {
		monitor.Add(1)
		go func() {
			defer monitor.Done()
			p.monitor(total, progress, monitorDone)
		}()
	}

	var enqueueErr error
enqueue:
	for i, key := range keys {
		if err := ctx.Err(); err != nil {
			enqueueErr = fmt.Errorf("enqueued %d of %d items: %w", i, total, err)
			break
		}
		pending.Add(1)
		select {
		case p.queue <- workItem{key: key}:
		case <-ctx.Done():
			pending.Done()
			enqueueErr = fmt.Errorf("enqueued %d of %d items: %w", i, total, ctx.Err())
			break enqueue
		}
	}

	pending.Wait()
	for range p.sessions {
		p.queue <- workItem{stop: true}
	}
	workers.Wait()

	close(monitorDone)
	monitor.Wait()
	if progress != nil {
		p.publish(total, progress)
	}

	stats := p.Stats()
	p.logger.Info("Batch finished",
		zap.Int("processed", stats.Processed),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
		zap.Float64("success_rate", stats.SuccessRate),
	)

	p.mu.Lock()
	results := make([]entity.ExtractionRecord, len(p.results))
	copy(results, p.results)
	p.mu.Unlock()
	return results, enqueueErr
}

// Stats returns a snapshot of the pool counters.
func (p *WorkerPool) Stats() entity.PoolStats {
	p.mu.Lock()
	s := p.stats
	s.QueueLength = len(p.queue)
	p.mu.Unlock()

	processed := s.Processed
	if processed < 1 {
		processed = 1
	}
	s.SuccessRate = float64(s.Succeeded) / float64(processed) * 100
	return s
}

// Close releases every session. A session that fails to close is logged and does not
// keep the others open.
func (p *WorkerPool) Close() error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.closeSessions()
}

func (p *WorkerPool) closeSessions() error {
	var errs []error
	for i, session := range p.sessions {
		if err := session.Close(); err != nil {
			p.logger.Error("Failed to close session", zap.Int("session", i+1), zap.Error(err))
			errs = append(errs, err)
		}
	}
	p.sessions = nil
	return errors.Join(errs...)
}

func (p *WorkerPool) worker(ctx context.Context, id int, session *Extractor, pending *sync.WaitGroup) {
	p.logger.Debug("Worker started", zap.Int("worker", id))
	for item := range p.queue {
		if item.stop {
			p.logger.Debug("Worker stopped", zap.Int("worker", id))
			return
		}
		p.process(ctx, id, session, item.key)
		pending.Done()
	}
}

func (p *WorkerPool) process(ctx context.Context, id int, session *Extractor, key string) {
	p.mu.Lock()
	p.stats.Active++
	if p.stats.Active > p.stats.PeakActive {
		p.stats.PeakActive = p.stats.Active
	}
	p.mu.Unlock()
	metrics.PoolActiveWorkers.Inc()
	defer metrics.PoolActiveWorkers.Dec()

	start := time.Now()
	rec := p.extract(ctx, session, key)
	rec.WorkerID = id
	rec.ProcessedAt = time.Now()
	duration := time.Since(start)

	p.mu.Lock()
	p.results = append(p.results, rec)
	p.stats.Processed++
	if rec.Succeeded() {
		p.stats.Succeeded++
	} else {
		p.stats.Failed++
	}
	p.stats.Active--
	p.mu.Unlock()

	metrics.PoolItemsProcessed.WithLabelValues(string(rec.Outcome)).Inc()
	if rec.Succeeded() {
		p.logger.Info("Worker succeeded", zap.Int("worker", id), zap.String("key", key), zap.Duration("duration", duration))
	} else {
		p.logger.Warn("Worker failed", zap.Int("worker", id), zap.String("key", key), zap.String("reason", rec.FailureReason))
	}
}

// extract shields the worker loop from a panicking session.
func (p *WorkerPool) extract(ctx context.Context, session *Extractor, key string) (rec entity.ExtractionRecord) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Extraction panicked", zap.String("key", key), zap.Any("panic", r))
			rec = entity.ExtractionRecord{
				Key:           key,
				SourceLink:    utils.DocumentURL(p.extractorCfg.BaseURL, key),
				Outcome:       entity.OutcomeFailure,
				FailureReason: fmt.Sprintf("panic: %v", r),
			}
		}
	}()
	return session.Extract(ctx, key)
}

func (p *WorkerPool) monitor(total int, out chan<- entity.PoolProgress, done <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.ProgressInterval)
	defer ticker.Stop()
	for {
		p.publish(total, out)
		select {
		case <-done:
			return
		case <-ticker.C:
		}
	}
}

// publish never blocks; a consumer that lags simply misses intermediate snapshots.
func (p *WorkerPool) publish(total int, out chan<- entity.PoolProgress) {
	select {
	case out <- p.Stats().Progress(total):
	default:
	}
}
