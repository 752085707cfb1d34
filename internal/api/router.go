package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notifyhub/reminder-dispatch/internal/api/handler"
	apimw "github.com/notifyhub/reminder-dispatch/internal/api/middleware"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	svc handler.ReminderService,
	db handler.Pinger,
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestSize(1 << 20))
	r.Use(apimw.CorrelationID(logger))
	r.Use(apimw.RequestLogger(logger))

	rh := handler.NewReminderHandler(svc, logger)
	hh := handler.NewHealthHandler(db)

	r.Get("/health", hh.Health)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1/businesses/{businessID}", func(r chi.Router) {
		r.Post("/dispatch", rh.Dispatch)
		r.Get("/queue", rh.QueueCounts)
		r.Get("/delivery-logs.csv", rh.ExportLogs)
		r.Delete("/delivery-logs", rh.PurgeLogs)
	})

	return r
}
