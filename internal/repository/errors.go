package repository

import (
	"context"
	"errors"
)

var (
	ErrNavigationFailed  = errors.New("navigation failed")
	ErrNavigationTimeout = errors.New("navigation timed out")
	ErrBadStatus         = errors.New("unexpected response status")
	ErrNoEssentialData   = errors.New("no essential data extracted")
	ErrScrapeFailed      = errors.New("scrape failed")
	ErrCacheMiss         = errors.New("cache miss")
	ErrRecordNotFound    = errors.New("record not found")
)

// ErrorType maps an extraction error to a short label for metrics and logs.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrNavigationTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrBadStatus):
		return "status"
	case errors.Is(err, ErrNavigationFailed):
		return "navigation"
	case errors.Is(err, ErrNoEssentialData):
		return "no_data"
	case errors.Is(err, ErrScrapeFailed):
		return "scrape"
	default:
		return "unknown"
	}
}
