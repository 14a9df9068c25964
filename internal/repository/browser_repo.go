package repository

import (
	"context"
	"time"

	"github.com/user/patentscope-crawler/internal/entity"
)

// ScrollTarget selects where a page scroll motion ends.
type ScrollTarget int

const (
	ScrollBottom ScrollTarget = iota
	ScrollTop
)

// NavigationResult describes the main-document response of a navigation.
type NavigationResult struct {
	Status int
	OK     bool
}

// Browser is one rendering session. It hands out isolated pages, each behaving
// like a distinct client.
type Browser interface {
	// NewPage opens an isolated execution context. The page must be closed exactly once.
	NewPage(ctx context.Context) (Page, error)
	// Close releases the session and every page still open on it.
	Close() error
}

// Page is an isolated execution context opened on a Browser.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) (NavigationResult, error)
	// WaitForAny polls until one of the selectors is present or the timeout elapses.
	WaitForAny(ctx context.Context, selectors []string, timeout time.Duration) bool
	Scroll(ctx context.Context, target ScrollTarget) error
	// Scrape returns whatever attributes the current document exposes, possibly none.
	Scrape(ctx context.Context) (*entity.Attributes, error)
	// Close is idempotent and must succeed after a prior error.
	Close() error
}

// BrowserFactory starts a new rendering session.
type BrowserFactory func(ctx context.Context) (Browser, error)
