package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/user/patentscope-crawler/internal/delivery/http/handler"
	"github.com/user/patentscope-crawler/internal/delivery/http/middleware"
)

func New(h *handler.Handler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(logger.Named("http")))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics)

	r.Get("/", h.HandleRoot)
	r.Get("/health", h.HandleHealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/wipo/patent", h.HandleExtract)
		r.Post("/wipo/patents/batch", h.HandleExtractBatch)

		r.Delete("/cache/clear", h.HandleClearCache)
		r.Get("/cache/stats", h.HandleCacheStats)

		r.Get("/records/{key}", h.HandleGetRecord)

		r.Route("/batch", func(r chi.Router) {
			r.Post("/", h.HandleCreateBatch)
			r.Get("/", h.HandleListBatches)
			r.Post("/cleanup", h.HandleCleanupBatches)
			r.Get("/{id}", h.HandleGetBatch)
			r.Get("/{id}/results", h.HandleGetBatchResults)
			r.Post("/{id}/cancel", h.HandleCancelBatch)
		})
	})

	return r
}
