package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultTriggerPerMinute caps manual replication triggers per client IP.
const DefaultTriggerPerMinute = 6

// RouterOptions tune the middleware stack.
type RouterOptions struct {
	// CORSOrigins enables CORS for these origins. Empty leaves CORS off.
	CORSOrigins []string
	// TriggerPerMinute limits POST /api/replication/run per client IP.
	TriggerPerMinute int
}

// WithRouterOptions sets the options used by Routes.
func (h *Handler) WithRouterOptions(opts RouterOptions) *Handler {
	h.opts = opts
	return h
}

// Routes builds the router. events serves /events and may be nil.
func (h *Handler) Routes(events http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogger(h.log))
	r.Use(Recover(h.log))
	if len(h.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())
	if events != nil {
		r.Method(http.MethodGet, "/events", events)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/inventory", h.GetInventory)
		r.Get("/inventory/{format}", h.ExportInventory)
		r.Get("/audit", h.Audit)

		r.Get("/replication/runs", h.ListRuns)
		r.With(h.triggerLimit()).Post("/replication/run", h.TriggerReplication)

		r.Get("/alerts", h.ListAlerts)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, "Not found", r.URL.Path, http.StatusNotFound)
	})
	return r
}

func (h *Handler) triggerLimit() func(http.Handler) http.Handler {
	n := h.opts.TriggerPerMinute
	if n <= 0 {
		n = DefaultTriggerPerMinute
	}
	return httprate.Limit(n, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			h.writeError(w, "Too many requests", "replication trigger rate limit exceeded", http.StatusTooManyRequests)
		}),
	)
}
