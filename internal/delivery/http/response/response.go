package response

import (
	"time"

	"github.com/user/patentscope-crawler/internal/entity"
)

type ServiceInfo struct {
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Status    string            `json:"status"`
	Endpoints map[string]string `json:"endpoints"`
}

// HealthResponse reports the state of each dependency; Checks maps a dependency to "ok" or its error.
type HealthResponse struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Checks      map[string]string `json:"checks"`
	ActiveJobs  int               `json:"active_batches"`
	TrackedJobs int               `json:"tracked_batches"`
}

type BatchCreatedResponse struct {
	BatchID    string             `json:"batch_id"`
	Status     entity.BatchStatus `json:"status"`
	TotalItems int                `json:"total_items"`
	Message    string             `json:"message"`
}

type BatchListResponse struct {
	Total   int                   `json:"total"`
	Batches []entity.BatchSummary `json:"batches"`
}

type CancelResponse struct {
	BatchID string `json:"batch_id"`
	Message string `json:"message"`
}

type CleanupResponse struct {
	Removed     int     `json:"removed"`
	MaxAgeHours float64 `json:"max_age_hours"`
}

type CacheClearResponse struct {
	Message string `json:"message"`
	Removed int    `json:"removed"`
}
