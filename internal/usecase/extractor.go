package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/user/patentscope-crawler/internal/entity"
	"github.com/user/patentscope-crawler/internal/repository"
	"github.com/user/patentscope-crawler/pkg/metrics"
	"github.com/user/patentscope-crawler/pkg/utils"
)

// Range is an interval a randomized delay is drawn from.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// ExtractorConfig tunes a single Extractor.
type ExtractorConfig struct {
	BaseURL     string
	MaxAttempts int
	// Timeout bounds every navigation and every scrape.
	Timeout           time.Duration
	LandmarkWait      time.Duration
	LandmarkSelectors []string
	PreNavigateDelay  Range
	SettleDelay       Range
	ScrollPause       Range
	InterRequestDelay Range
	// BackoffBase scales the retry wait: base*2^attempt plus up to one base of jitter.
	BackoffBase time.Duration
}

// DefaultLandmarkSelectors are the elements whose presence marks a rendered document.
var DefaultLandmarkSelectors = []string{"h3.tab_title", ".patent-title", "div.abstract", "h1"}

// DefaultExtractorConfig returns the production pacing.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		BaseURL:           utils.DefaultBaseURL,
		MaxAttempts:       5,
		Timeout:           60 * time.Second,
		LandmarkWait:      20 * time.Second,
		LandmarkSelectors: DefaultLandmarkSelectors,
		PreNavigateDelay:  Range{Min: time.Second, Max: 3 * time.Second},
		SettleDelay:       Range{Min: 2 * time.Second, Max: 4 * time.Second},
		ScrollPause:       Range{Min: time.Second, Max: 1500 * time.Millisecond},
		InterRequestDelay: Range{Min: 3 * time.Second, Max: 6 * time.Second},
		BackoffBase:       time.Second,
	}
}

// Extractor runs the retry/backoff state machine for one document at a time on a
// single rendering session.
type Extractor struct {
	browser repository.Browser
	cfg     ExtractorConfig
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewExtractor wraps a rendering session.
func NewExtractor(browser repository.Browser, cfg ExtractorConfig, logger *zap.Logger) *Extractor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if len(cfg.LandmarkSelectors) == 0 {
		cfg.LandmarkSelectors = DefaultLandmarkSelectors
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = utils.DefaultBaseURL
	}
	return &Extractor{
		browser: browser,
		cfg:     cfg,
		logger:  logger.Named("extractor"),
		sleep:   sleepContext,
	}
}

// Extract fetches and scrapes one document, retrying failed attempts with exponential
// backoff. It always returns a record; exhausted retries yield a Failure record.
func (e *Extractor) Extract(ctx context.Context, key string) entity.ExtractionRecord {
	start := time.Now()
	url := utils.DocumentURL(e.cfg.BaseURL, key)

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		attempts++
		e.logger.Info("Extraction attempt",
			zap.String("key", key),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", e.cfg.MaxAttempts),
		)

		attrs, err := e.attempt(ctx, url)
		if err == nil {
			metrics.ExtractionAttemptsTotal.WithLabelValues("success", "").Inc()
			rec := e.finish(key, url, start, attempts, entity.OutcomeSuccess)
			rec.Attributes = *attrs
			e.logger.Info("Extraction succeeded",
				zap.String("key", key),
				zap.Int("attempts", attempts),
				zap.Float64("duration_seconds", rec.DurationSeconds()),
			)
			return rec
		}

		lastErr = err
		metrics.ExtractionAttemptsTotal.WithLabelValues("failure", repository.ErrorType(err)).Inc()
		e.logger.Warn("Extraction attempt failed", zap.String("key", key), zap.Int("attempt", attempts), zap.Error(err))

		if ctx.Err() != nil || attempt+1 >= e.cfg.MaxAttempts {
			break
		}
		wait := e.backoff(attempt)
		e.logger.Info("Retrying after backoff", zap.String("key", key), zap.Duration("backoff", wait))
		if err := e.sleep(ctx, wait); err != nil {
			break
		}
	}

	rec := e.finish(key, url, start, attempts, entity.OutcomeFailure)
	rec.FailureReason = lastErr.Error()
	e.logger.Error("Extraction failed",
		zap.String("key", key),
		zap.Int("attempts", attempts),
		zap.String("error_type", repository.ErrorType(lastErr)),
		zap.Error(lastErr),
	)
	return rec
}

// ExtractMany extracts the keys one after another with a randomized pause between them.
func (e *Extractor) ExtractMany(ctx context.Context, keys []string) []entity.ExtractionRecord {
	records := make([]entity.ExtractionRecord, 0, len(keys))
	for i, key := range keys {
		e.logger.Info("Sequential extraction", zap.String("key", key), zap.Int("index", i+1), zap.Int("total", len(keys)))
		records = append(records, e.Extract(ctx, key))
		if i < len(keys)-1 {
			// A cancelled context makes the remaining extractions fail fast.
			_ = e.sleep(ctx, jitter(e.cfg.InterRequestDelay))
		}
	}
	return records
}

// Close releases the rendering session.
func (e *Extractor) Close() error {
	return e.browser.Close()
}

// attempt opens one page, drives it and always closes it before returning.
func (e *Extractor) attempt(ctx context.Context, url string) (attrs *entity.Attributes, err error) {
	page, err := e.browser.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: open page: %v", repository.ErrNavigationFailed, err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			e.logger.Debug("Failed to close page", zap.Error(cerr))
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			attrs, err = nil, fmt.Errorf("%w: panic: %v", repository.ErrScrapeFailed, r)
		}
	}()

	if err := e.sleep(ctx, jitter(e.cfg.PreNavigateDelay)); err != nil {
		return nil, err
	}

	nav, err := page.Navigate(ctx, url, e.cfg.Timeout)
	if err != nil {
		if errors.Is(err, repository.ErrNavigationTimeout) || errors.Is(err, repository.ErrNavigationFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", repository.ErrNavigationFailed, err)
	}
	if !nav.OK || nav.Status < 200 || nav.Status > 299 {
		return nil, fmt.Errorf("%w: HTTP %d", repository.ErrBadStatus, nav.Status)
	}
	e.logger.Debug("Page loaded", zap.String("url", url), zap.Int("status", nav.Status))

	if !page.WaitForAny(ctx, e.cfg.LandmarkSelectors, e.cfg.LandmarkWait) {
		e.logger.Debug("No landmark appeared before the wait window closed", zap.String("url", url))
	}
	if err := e.sleep(ctx, jitter(e.cfg.SettleDelay)); err != nil {
		return nil, err
	}

	for _, target := range []repository.ScrollTarget{repository.ScrollBottom, repository.ScrollTop} {
		if err := page.Scroll(ctx, target); err != nil {
			e.logger.Debug("Scroll failed", zap.Error(err))
		}
		if err := e.sleep(ctx, jitter(e.cfg.ScrollPause)); err != nil {
			return nil, err
		}
	}

	scrapeCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	attrs, err = page.Scrape(scrapeCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrScrapeFailed, err)
	}
	if attrs == nil || !attrs.HasEssentialData() {
		return nil, repository.ErrNoEssentialData
	}
	return attrs, nil
}

func (e *Extractor) finish(key, url string, start time.Time, attempts int, outcome entity.Outcome) entity.ExtractionRecord {
	rec := entity.ExtractionRecord{
		Key:         key,
		SourceLink:  url,
		Outcome:     outcome,
		Attempts:    attempts,
		Duration:    time.Since(start),
		ProcessedAt: time.Now(),
	}
	metrics.ExtractionsTotal.WithLabelValues(string(outcome)).Inc()
	metrics.ExtractionDuration.Observe(rec.Duration.Seconds())
	return rec
}

func (e *Extractor) backoff(attempt int) time.Duration {
	base := e.cfg.BackoffBase
	return base*time.Duration(1<<attempt) + jitter(Range{Max: base})
}

func jitter(r Range) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + rand.N(r.Max-r.Min)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
