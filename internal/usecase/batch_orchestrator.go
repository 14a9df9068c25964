package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/user/patentscope-crawler/internal/entity"
	"github.com/user/patentscope-crawler/pkg/metrics"
)

var (
	ErrJobNotFound   = errors.New("batch job not found")
	ErrJobNotPending = errors.New("batch job is not pending")
	ErrNoItems       = errors.New("batch job needs at least one item")
)

// ItemRunner performs the work of one batch item and returns a serializable payload.
type ItemRunner interface {
	RunItem(ctx context.Context, name string, params entity.BatchParams) (any, error)
}

// ItemRunnerFunc adapts a function to ItemRunner.
type ItemRunnerFunc func(ctx context.Context, name string, params entity.BatchParams) (any, error)

func (f ItemRunnerFunc) RunItem(ctx context.Context, name string, params entity.BatchParams) (any, error) {
	return f(ctx, name, params)
}

// BatchManager is the job API the delivery layer depends on.
type BatchManager interface {
	Create(items []string, params entity.BatchParams) (string, error)
	Process(ctx context.Context, id string) error
	Status(id string) (entity.BatchSnapshot, bool)
	Results(id string) (entity.BatchResults, bool)
	Cancel(id string) bool
	List(status entity.BatchStatus) []entity.BatchSummary
	Cleanup(maxAge time.Duration) int
}

type OrchestratorConfig struct {
	// MaxConcurrent bounds running items across every job of the orchestrator.
	MaxConcurrent int
}

type itemJob struct {
	name        string
	status      entity.BatchStatus
	result      any
	err         string
	startedAt   time.Time
	completedAt time.Time
	duration    time.Duration
}

type batchJob struct {
	mu sync.Mutex

	id          string
	items       []string
	params      entity.BatchParams
	status      entity.BatchStatus
	err         string
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
	jobs        map[string]*itemJob

	completedCount int
	failedCount    int
	progress       float64
	eta            float64
}

// BatchOrchestrator owns a registry of batch jobs and runs their items under one global
// concurrency bound.
type BatchOrchestrator struct {
	runner ItemRunner
	sem    *semaphore.Weighted
	logger *zap.Logger
	now    func() time.Time

	mu   sync.RWMutex
	jobs map[string]*batchJob
}

func NewBatchOrchestrator(runner ItemRunner, cfg OrchestratorConfig, logger *zap.Logger) *BatchOrchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	return &BatchOrchestrator{
		runner: runner,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger: logger.Named("batch"),
		now:    time.Now,
		jobs:   make(map[string]*batchJob),
	}
}

// Create registers a pending job with one pending item per distinct name. It does no work.
func (o *BatchOrchestrator) Create(items []string, params entity.BatchParams) (string, error) {
	names := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		names = append(names, item)
	}
	if len(names) == 0 {
		return "", ErrNoItems
	}

	job := &batchJob{
		items:     names,
		params:    params,
		status:    entity.StatusPending,
		createdAt: o.now(),
		jobs:      make(map[string]*itemJob, len(names)),
	}
	for _, name := range names {
		job.jobs[name] = &itemJob{name: name, status: entity.StatusPending}
	}

	o.mu.Lock()
	for {
		job.id = newBatchID(job.createdAt)
		if _, exists := o.jobs[job.id]; !exists {
			break
		}
	}
	o.jobs[job.id] = job
	o.mu.Unlock()

	metrics.BatchJobsTotal.WithLabelValues("created").Inc()
	o.logger.Info("Batch created", zap.String("batch_id", job.id), zap.Int("items", len(names)))
	return job.id, nil
}

// Process runs every item of a pending job and blocks until they settle. Items that fail
// are recorded and never abort their siblings. A job cancelled before Process starts is
// left untouched.
func (o *BatchOrchestrator) Process(ctx context.Context, id string) (err error) {
	job := o.get(id)
	if job == nil {
		return ErrJobNotFound
	}

	job.mu.Lock()
	switch job.status {
	case entity.StatusPending:
	case entity.StatusCancelled:
		job.mu.Unlock()
		o.logger.Info("Skipping cancelled batch", zap.String("batch_id", id))
		return nil
	default:
		status := job.status
		job.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrJobNotPending, id, status)
	}
	job.status = entity.StatusProcessing
	job.startedAt = o.now()
	job.mu.Unlock()

	o.logger.Info("Batch processing started", zap.String("batch_id", id), zap.Int("items", len(job.items)))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch %s: panic: %v", id, r)
			o.failJob(job, err)
		}
	}()

	var wg sync.WaitGroup
	for _, name := range job.items {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			o.runItem(ctx, job, name)
		}(name)
	}
	wg.Wait()

	job.mu.Lock()
	stillProcessing := job.status == entity.StatusProcessing
	job.mu.Unlock()
	if stillProcessing {
		// Only items that never acquired a slot keep the job open.
		err = fmt.Errorf("batch %s interrupted: %w", id, context.Cause(ctx))
		o.failJob(job, err)
		return err
	}

	snap, _ := o.Status(id)
	o.logger.Info("Batch processing finished",
		zap.String("batch_id", id),
		zap.String("status", string(snap.Status)),
		zap.Int("completed", snap.CompletedCount),
		zap.Int("failed", snap.FailedCount),
	)
	return nil
}

func (o *BatchOrchestrator) runItem(ctx context.Context, job *batchJob, name string) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer o.sem.Release(1)

	job.mu.Lock()
	if job.status != entity.StatusProcessing {
		job.mu.Unlock()
		return
	}
	item := job.jobs[name]
	item.status = entity.StatusProcessing
	item.startedAt = o.now()
	job.updateProgress(o.now())
	job.mu.Unlock()

	result, err := o.invoke(ctx, name, job.params)

	job.mu.Lock()
	defer job.mu.Unlock()
	item.completedAt = o.now()
	item.duration = item.completedAt.Sub(item.startedAt)
	if err != nil {
		item.status = entity.StatusFailed
		item.err = err.Error()
		o.logger.Warn("Batch item failed", zap.String("batch_id", job.id), zap.String("item", name), zap.Error(err))
	} else {
		item.status = entity.StatusCompleted
		item.result = result
		o.logger.Info("Batch item completed", zap.String("batch_id", job.id), zap.String("item", name), zap.Duration("duration", item.duration))
	}
	metrics.BatchItemsTotal.WithLabelValues(string(item.status)).Inc()

	job.updateProgress(o.now())
	if job.status == entity.StatusProcessing && job.completedCount+job.failedCount == len(job.items) {
		job.status = entity.StatusCompleted
		job.completedAt = o.now()
		job.eta = 0
		metrics.BatchJobsTotal.WithLabelValues("completed").Inc()
	}
}

func (o *BatchOrchestrator) invoke(ctx context.Context, name string, params entity.BatchParams) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return o.runner.RunItem(ctx, name, params)
}

func (o *BatchOrchestrator) failJob(job *batchJob, err error) {
	job.mu.Lock()
	defer job.mu.Unlock()
	if job.status != entity.StatusProcessing {
		return
	}
	job.status = entity.StatusFailed
	job.err = err.Error()
	job.completedAt = o.now()
	job.updateProgress(o.now())
	metrics.BatchJobsTotal.WithLabelValues("failed").Inc()
	o.logger.Error("Batch failed", zap.String("batch_id", job.id), zap.Error(err))
}

// Status returns a snapshot of the job, or false when the id is unknown.
func (o *BatchOrchestrator) Status(id string) (entity.BatchSnapshot, bool) {
	job := o.get(id)
	if job == nil {
		return entity.BatchSnapshot{}, false
	}
	job.mu.Lock()
	defer job.mu.Unlock()
	job.updateProgress(o.now())
	return job.snapshot(), true
}

// Results returns the payloads and errors recorded so far, keyed by item name.
func (o *BatchOrchestrator) Results(id string) (entity.BatchResults, bool) {
	job := o.get(id)
	if job == nil {
		return entity.BatchResults{}, false
	}
	job.mu.Lock()
	defer job.mu.Unlock()
	job.updateProgress(o.now())

	res := entity.BatchResults{
		ID:             job.id,
		Status:         job.status,
		CompletedCount: job.completedCount,
		FailedCount:    job.failedCount,
		Results:        make(map[string]any),
		Errors:         make(map[string]string),
	}
	for name, item := range job.jobs {
		if item.result != nil {
			res.Results[name] = item.result
		}
		if item.err != "" {
			res.Errors[name] = item.err
		}
	}
	return res, true
}

// Cancel marks a pending or processing job as cancelled. Items already running finish
// on their own; items not yet started are never run. Finished jobs cannot be cancelled.
func (o *BatchOrchestrator) Cancel(id string) bool {
	job := o.get(id)
	if job == nil {
		return false
	}
	job.mu.Lock()
	defer job.mu.Unlock()
	if job.status != entity.StatusPending && job.status != entity.StatusProcessing {
		return false
	}
	job.status = entity.StatusCancelled
	job.completedAt = o.now()
	job.eta = 0
	metrics.BatchJobsTotal.WithLabelValues("cancelled").Inc()
	o.logger.Info("Batch cancelled", zap.String("batch_id", id))
	return true
}

// List returns job summaries, newest first. An empty status lists every job.
func (o *BatchOrchestrator) List(status entity.BatchStatus) []entity.BatchSummary {
	o.mu.RLock()
	jobs := make([]*batchJob, 0, len(o.jobs))
	for _, job := range o.jobs {
		jobs = append(jobs, job)
	}
	o.mu.RUnlock()

	summaries := make([]entity.BatchSummary, 0, len(jobs))
	for _, job := range jobs {
		job.mu.Lock()
		if status == "" || job.status == status {
			job.updateProgress(o.now())
			summaries = append(summaries, job.summary())
		}
		job.mu.Unlock()
	}

	slices.SortFunc(summaries, func(a, b entity.BatchSummary) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return summaries
}

// Cleanup removes completed and failed jobs that finished more than maxAge ago.
func (o *BatchOrchestrator) Cleanup(maxAge time.Duration) int {
	cutoff := o.now().Add(-maxAge)

	o.mu.Lock()
	defer o.mu.Unlock()
	removed := 0
	for id, job := range o.jobs {
		job.mu.Lock()
		expired := (job.status == entity.StatusCompleted || job.status == entity.StatusFailed) &&
			!job.completedAt.IsZero() && job.completedAt.Before(cutoff)
		job.mu.Unlock()
		if expired {
			delete(o.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		metrics.BatchJobsTotal.WithLabelValues("cleaned").Add(float64(removed))
		o.logger.Info("Old batches removed", zap.Int("count", removed), zap.Duration("max_age", maxAge))
	}
	return removed
}

// RunJanitor calls Cleanup every interval until ctx is done.
func (o *BatchOrchestrator) RunJanitor(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Cleanup(maxAge)
		}
	}
}

func (o *BatchOrchestrator) get(id string) *batchJob {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.jobs[id]
}

func newBatchID(now time.Time) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("batch_%s_%d", hex[:12], now.Unix())
}

// updateProgress recomputes counters, percentage and ETA from item states. Callers hold job.mu.
func (j *batchJob) updateProgress(now time.Time) {
	j.completedCount, j.failedCount = 0, 0
	for _, item := range j.jobs {
		switch item.status {
		case entity.StatusCompleted:
			j.completedCount++
		case entity.StatusFailed:
			j.failedCount++
		}
	}

	settled := j.completedCount + j.failedCount
	total := len(j.items)
	if total > 0 {
		j.progress = float64(settled) / float64(total) * 100
	}

	if j.status.Terminal() || settled == 0 || j.startedAt.IsZero() {
		j.eta = 0
		return
	}
	elapsed := now.Sub(j.startedAt).Seconds()
	j.eta = elapsed / float64(settled) * float64(total-settled)
}

func (j *batchJob) snapshot() entity.BatchSnapshot {
	snap := entity.BatchSnapshot{
		ID:                 j.id,
		Items:              slices.Clone(j.items),
		Params:             j.params,
		Status:             j.status,
		Error:              j.err,
		CreatedAt:          j.createdAt,
		StartedAt:          timePtr(j.startedAt),
		CompletedAt:        timePtr(j.completedAt),
		TotalItems:         len(j.items),
		CompletedCount:     j.completedCount,
		FailedCount:        j.failedCount,
		ProgressPercentage: round(j.progress, 2),
		ETASeconds:         round(j.eta, 1),
		Jobs:               make(map[string]entity.ItemSnapshot, len(j.jobs)),
	}
	for name, item := range j.jobs {
		snap.Jobs[name] = entity.ItemSnapshot{
			Name:            item.name,
			Status:          item.status,
			Result:          item.result,
			Error:           item.err,
			StartedAt:       timePtr(item.startedAt),
			CompletedAt:     timePtr(item.completedAt),
			DurationSeconds: round(item.duration.Seconds(), 2),
		}
	}
	return snap
}

func (j *batchJob) summary() entity.BatchSummary {
	return entity.BatchSummary{
		ID:                 j.id,
		Status:             j.status,
		TotalItems:         len(j.items),
		CompletedCount:     j.completedCount,
		FailedCount:        j.failedCount,
		ProgressPercentage: round(j.progress, 2),
		CreatedAt:          j.createdAt,
		ETASeconds:         round(j.eta, 1),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
