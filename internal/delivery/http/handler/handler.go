package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/user/patentscope-crawler/internal/delivery/http/request"
	"github.com/user/patentscope-crawler/internal/delivery/http/response"
	"github.com/user/patentscope-crawler/internal/entity"
	"github.com/user/patentscope-crawler/internal/repository"
	"github.com/user/patentscope-crawler/internal/usecase"
)

const serviceVersion = "1.0.0"

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	// BaseContext outlives requests; background batch processing runs on it.
	BaseContext context.Context
	// BatchMaxAge is the cleanup age used when the request does not name one.
	BatchMaxAge time.Duration
	// Checks are probed by the health endpoint, keyed by dependency name.
	Checks map[string]Pinger
	// PoolSize is the batch extraction pool size used when the request does not name one.
	PoolSize int
	// MaxPoolSize is the largest pool size a request may ask for.
	MaxPoolSize int
}

type Handler struct {
	extraction usecase.Extraction
	batches    usecase.BatchManager
	cfg        Config
	logger     *zap.Logger
	background sync.WaitGroup
}

func NewHandler(extraction usecase.Extraction, batches usecase.BatchManager, cfg Config, logger *zap.Logger) *Handler {
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.BatchMaxAge <= 0 {
		cfg.BatchMaxAge = 24 * time.Hour
	}
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = 5
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = min(3, cfg.MaxPoolSize)
	}
	return &Handler{
		extraction: extraction,
		batches:    batches,
		cfg:        cfg,
		logger:     logger.Named("handler"),
	}
}

// Wait blocks until every batch started by HandleCreateBatch has finished processing.
func (h *Handler) Wait() {
	h.background.Wait()
}

func (h *Handler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, response.ServiceInfo{
		Service: "PatentScope Crawler API",
		Version: serviceVersion,
		Status:  "operational",
		Endpoints: map[string]string{
			"health":  "/health",
			"metrics": "/metrics",
			"single":  "/api/wipo/patent",
			"batch":   "/api/wipo/patents/batch",
			"jobs":    "/api/batch",
		},
	})
}

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := response.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]string, len(h.cfg.Checks)),
	}
	for name, check := range h.cfg.Checks {
		if err := check.Ping(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Checks[name] = "ok"
	}
	for _, b := range h.batches.List("") {
		resp.TrackedJobs++
		if !b.Status.Terminal() {
			resp.ActiveJobs++
		}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) HandleExtract(w http.ResponseWriter, r *http.Request) {
	var req request.ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.WONumber == "" {
		h.writeJSONError(w, "wo_number is required", http.StatusBadRequest)
		return
	}

	rec, err := h.extraction.Extract(r.Context(), req.WONumber, request.BoolOr(req.UseCache, true))
	if err != nil {
		h.logger.Error("Failed to extract document", zap.String("wo_number", req.WONumber), zap.Error(err))
		h.writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) HandleExtractBatch(w http.ResponseWriter, r *http.Request) {
	var req request.BatchExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.WONumbers) == 0 {
		h.writeJSONError(w, "wo_numbers cannot be empty", http.StatusBadRequest)
		return
	}
	poolSize := req.PoolSize
	if poolSize == 0 {
		poolSize = h.cfg.PoolSize
	}
	if poolSize < 1 || poolSize > h.cfg.MaxPoolSize {
		h.writeJSONError(w, fmt.Sprintf("pool_size must be between 1 and %d", h.cfg.MaxPoolSize), http.StatusBadRequest)
		return
	}

	res, err := h.extraction.ExtractBatch(r.Context(), req.WONumbers, usecase.BatchOptions{
		UseCache: request.BoolOr(req.UseCache, true),
		UsePool:  request.BoolOr(req.UsePool, true),
		PoolSize: poolSize,
	})
	if err != nil {
		h.logger.Error("Failed to extract batch", zap.Int("items", len(req.WONumbers)), zap.Error(err))
		h.writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("wo_number")
	removed, err := h.extraction.ClearCache(r.Context(), key)
	if err != nil {
		h.cacheError(w, err)
		return
	}

	msg := fmt.Sprintf("Cache cleared (%d entries)", removed)
	if key != "" {
		msg = "Cache entry not found: " + key
		if removed > 0 {
			msg = "Cache entry cleared: " + key
		}
	}
	h.writeJSON(w, http.StatusOK, response.CacheClearResponse{Message: msg, Removed: removed})
}

func (h *Handler) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.extraction.CacheStats(r.Context())
	if err != nil {
		h.cacheError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) HandleGetRecord(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	rec, err := h.extraction.ArchivedRecord(r.Context(), key)
	if errors.Is(err, repository.ErrRecordNotFound) {
		h.writeJSONError(w, "Record not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("Failed to load archived record", zap.String("key", key), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) HandleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req request.CreateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Limit < 0 {
		h.writeJSONError(w, "limit cannot be negative", http.StatusBadRequest)
		return
	}

	id, err := h.batches.Create(req.Items, entity.BatchParams{CountryFilter: req.CountryFilter, Limit: req.Limit})
	if errors.Is(err, usecase.ErrNoItems) {
		h.writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.logger.Error("Failed to create batch", zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.background.Add(1)
	go func() {
		defer h.background.Done()
		if err := h.batches.Process(h.cfg.BaseContext, id); err != nil {
			h.logger.Error("Batch processing failed", zap.String("batch_id", id), zap.Error(err))
		}
	}()

	snap, _ := h.batches.Status(id)
	h.writeJSON(w, http.StatusAccepted, response.BatchCreatedResponse{
		BatchID:    id,
		Status:     entity.StatusPending,
		TotalItems: snap.TotalItems,
		Message:    "Batch accepted for processing",
	})
}

func (h *Handler) HandleListBatches(w http.ResponseWriter, r *http.Request) {
	var status entity.BatchStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		var ok bool
		if status, ok = entity.ParseBatchStatus(raw); !ok {
			h.writeJSONError(w, "Unknown status: "+raw, http.StatusBadRequest)
			return
		}
	}
	batches := h.batches.List(status)
	h.writeJSON(w, http.StatusOK, response.BatchListResponse{Total: len(batches), Batches: batches})
}

func (h *Handler) HandleGetBatch(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.batches.Status(chi.URLParam(r, "id"))
	if !ok {
		h.writeJSONError(w, "Batch not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) HandleGetBatchResults(w http.ResponseWriter, r *http.Request) {
	res, ok := h.batches.Results(chi.URLParam(r, "id"))
	if !ok {
		h.writeJSONError(w, "Batch not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleCancelBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.batches.Cancel(id) {
		h.writeJSON(w, http.StatusOK, response.CancelResponse{BatchID: id, Message: "Batch cancelled"})
		return
	}
	snap, ok := h.batches.Status(id)
	if !ok {
		h.writeJSONError(w, "Batch not found", http.StatusNotFound)
		return
	}
	h.writeJSONError(w, fmt.Sprintf("Batch is %s and cannot be cancelled", snap.Status), http.StatusConflict)
}

func (h *Handler) HandleCleanupBatches(w http.ResponseWriter, r *http.Request) {
	maxAge := h.cfg.BatchMaxAge
	if raw := r.URL.Query().Get("max_age_hours"); raw != "" {
		hours, err := strconv.ParseFloat(raw, 64)
		if err != nil || hours < 0 {
			h.writeJSONError(w, "max_age_hours must be a non-negative number", http.StatusBadRequest)
			return
		}
		maxAge = time.Duration(hours * float64(time.Hour))
	}
	removed := h.batches.Cleanup(maxAge)
	h.writeJSON(w, http.StatusOK, response.CleanupResponse{Removed: removed, MaxAgeHours: maxAge.Hours()})
}

func (h *Handler) cacheError(w http.ResponseWriter, err error) {
	if errors.Is(err, usecase.ErrCacheDisabled) {
		h.writeJSONError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	h.logger.Error("Cache operation failed", zap.Error(err))
	h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

func (h *Handler) writeJSONError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
