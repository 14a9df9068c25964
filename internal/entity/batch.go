package entity

import (
	"math"
	"time"
)

// BatchStatus is the lifecycle state of a batch job or one of its items.
type BatchStatus string

const (
	StatusPending    BatchStatus = "pending"
	StatusProcessing BatchStatus = "processing"
	StatusCompleted  BatchStatus = "completed"
	StatusFailed     BatchStatus = "failed"
	StatusCancelled  BatchStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s BatchStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ParseBatchStatus returns the status named by s and whether it is known.
func ParseBatchStatus(s string) (BatchStatus, bool) {
	switch st := BatchStatus(s); st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return st, true
	}
	return "", false
}

// BatchParams is the parameter bundle shared by every item of a batch job.
type BatchParams struct {
	CountryFilter string `json:"country_filter,omitempty"`
	Limit         int    `json:"limit"`
}

// ItemSnapshot is the serializable state of one item of a batch job.
type ItemSnapshot struct {
	Name            string      `json:"name"`
	Status          BatchStatus `json:"status"`
	Result          any         `json:"result,omitempty"`
	Error           string      `json:"error,omitempty"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	DurationSeconds float64     `json:"duration_seconds"`
}

// BatchSnapshot is the serializable state of a batch job.
type BatchSnapshot struct {
	ID                 string                  `json:"batch_id"`
	Items              []string                `json:"items"`
	Params             BatchParams             `json:"params"`
	Status             BatchStatus             `json:"status"`
	Error              string                  `json:"error,omitempty"`
	CreatedAt          time.Time               `json:"created_at"`
	StartedAt          *time.Time              `json:"started_at,omitempty"`
	CompletedAt        *time.Time              `json:"completed_at,omitempty"`
	TotalItems         int                     `json:"total_items"`
	CompletedCount     int                     `json:"completed_count"`
	FailedCount        int                     `json:"failed_count"`
	ProgressPercentage float64                 `json:"progress_percentage"`
	ETASeconds         float64                 `json:"estimated_time_remaining_seconds"`
	Jobs               map[string]ItemSnapshot `json:"jobs"`
}

// BatchSummary is the condensed view returned when listing batch jobs.
type BatchSummary struct {
	ID                 string      `json:"batch_id"`
	Status             BatchStatus `json:"status"`
	TotalItems         int         `json:"total_items"`
	CompletedCount     int         `json:"completed_count"`
	FailedCount        int         `json:"failed_count"`
	ProgressPercentage float64     `json:"progress_percentage"`
	CreatedAt          time.Time   `json:"created_at"`
	ETASeconds         float64     `json:"estimated_time_remaining_seconds"`
}

// BatchResults holds the payloads and errors of a batch job keyed by item name.
type BatchResults struct {
	ID             string            `json:"batch_id"`
	Status         BatchStatus       `json:"status"`
	CompletedCount int               `json:"completed_count"`
	FailedCount    int               `json:"failed_count"`
	Results        map[string]any    `json:"results"`
	Errors         map[string]string `json:"errors"`
}

func roundTo(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
