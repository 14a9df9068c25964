package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/patentscope-crawler/internal/entity"
	"github.com/user/patentscope-crawler/internal/repository"
)

// tracker records how many pages are between Navigate and Close at once.
type tracker struct {
	active atomic.Int32
	peak   atomic.Int32
}

func (t *tracker) enter() {
	n := t.active.Add(1)
	for {
		p := t.peak.Load()
		if n <= p || t.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (t *tracker) leave() { t.active.Add(-1) }

type fakeBrowser struct {
	scrape   func(url string) (*entity.Attributes, error)
	navigate func(url string) (repository.NavigationResult, error)
	hold     time.Duration
	closeErr error
	tracker  *tracker

	mu         sync.Mutex
	opened     int
	pageCloses int
	closed     bool
	urls       []string
}

func (b *fakeBrowser) NewPage(ctx context.Context) (repository.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("browser closed")
	}
	b.opened++
	return &fakePage{browser: b}, nil
}

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return b.closeErr
}

func (b *fakeBrowser) counts() (opened, closed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened, b.pageCloses
}

type fakePage struct {
	browser *fakeBrowser
	url     string
	entered bool
	closed  bool
}

func (p *fakePage) Navigate(ctx context.Context, url string, timeout time.Duration) (repository.NavigationResult, error) {
	p.url = url
	p.browser.mu.Lock()
	p.browser.urls = append(p.browser.urls, url)
	p.browser.mu.Unlock()
	if t := p.browser.tracker; t != nil && !p.entered {
		p.entered = true
		t.enter()
	}
	if p.browser.hold > 0 {
		time.Sleep(p.browser.hold)
	}
	if p.browser.navigate != nil {
		return p.browser.navigate(url)
	}
	return repository.NavigationResult{Status: 200, OK: true}, nil
}

func (p *fakePage) WaitForAny(ctx context.Context, selectors []string, timeout time.Duration) bool {
	return true
}

func (p *fakePage) Scroll(ctx context.Context, target repository.ScrollTarget) error {
	return nil
}

func (p *fakePage) Scrape(ctx context.Context) (*entity.Attributes, error) {
	if p.browser.scrape != nil {
		return p.browser.scrape(p.url)
	}
	return titled(p.url), nil
}

func (p *fakePage) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if t := p.browser.tracker; t != nil && p.entered {
		t.leave()
	}
	p.browser.mu.Lock()
	p.browser.pageCloses++
	p.browser.mu.Unlock()
	return nil
}

func titled(url string) *entity.Attributes {
	return &entity.Attributes{Title: "Title of " + url[strings.LastIndex(url, "=")+1:]}
}

// fakeFactory hands out fakeBrowsers built by newBrowser and remembers them.
type fakeFactory struct {
	newBrowser func() *fakeBrowser
	failAt     int

	mu       sync.Mutex
	browsers []*fakeBrowser
}

func (f *fakeFactory) Factory() repository.BrowserFactory {
	return func(ctx context.Context) (repository.Browser, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failAt > 0 && len(f.browsers)+1 == f.failAt {
			return nil, errors.New("chrome did not start")
		}
		var b *fakeBrowser
		if f.newBrowser != nil {
			b = f.newBrowser()
		} else {
			b = &fakeBrowser{}
		}
		f.browsers = append(f.browsers, b)
		return b, nil
	}
}

func (f *fakeFactory) started() []*fakeBrowser {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeBrowser(nil), f.browsers...)
}

// instantConfig removes every pacing delay.
func instantConfig() ExtractorConfig {
	return ExtractorConfig{
		BaseURL:     "https://example.test",
		MaxAttempts: 3,
		Timeout:     time.Second,
	}
}

type memoryCache struct {
	mu      sync.Mutex
	records map[string]entity.ExtractionRecord
	gets    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{records: make(map[string]entity.ExtractionRecord)}
}

func (c *memoryCache) Get(ctx context.Context, key string) (*entity.ExtractionRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	rec, ok := c.records[key]
	if !ok {
		return nil, repository.ErrCacheMiss
	}
	return &rec, nil
}

func (c *memoryCache) Set(ctx context.Context, record *entity.ExtractionRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[record.Key] = *record
	return nil
}

func (c *memoryCache) Delete(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.records[key]
	delete(c.records, key)
	return ok, nil
}

func (c *memoryCache) Clear(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.records)
	c.records = make(map[string]entity.ExtractionRecord)
	return n, nil
}

func (c *memoryCache) Stats(ctx context.Context) (*repository.CacheStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &repository.CacheStats{Size: len(c.records), TTLSeconds: 3600}, nil
}

func (c *memoryCache) TTL() time.Duration { return time.Hour }

func (c *memoryCache) Ping(ctx context.Context) error { return nil }

type memoryArchive struct {
	mu      sync.Mutex
	records map[string]entity.ExtractionRecord
}

func (a *memoryArchive) Save(ctx context.Context, record *entity.ExtractionRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.records == nil {
		a.records = make(map[string]entity.ExtractionRecord)
	}
	a.records[record.Key] = *record
	return nil
}

func (a *memoryArchive) FindByKey(ctx context.Context, key string) (*entity.ExtractionRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[key]
	if !ok {
		return nil, repository.ErrRecordNotFound
	}
	return &rec, nil
}

func (a *memoryArchive) Ping(ctx context.Context) error { return nil }
