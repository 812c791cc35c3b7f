package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"hearth/internal/domain"
	"hearth/internal/logging"
	"hearth/internal/replicate"
	"hearth/internal/repository"
	"hearth/internal/service"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 1000
)

// RunHistory reads past replication runs.
type RunHistory interface {
	ListRuns(ctx context.Context, limit int) ([]domain.ReplicationRun, error)
	LastRun(ctx context.Context) (*domain.ReplicationRun, error)
}

// ReplicationTrigger starts a replication in the background.
type ReplicationTrigger interface {
	Trigger(ctx context.Context) (string, error)
	Running() bool
}

// AlertHistory reads stored alerts.
type AlertHistory interface {
	ListAlerts(ctx context.Context, activeOnly bool) ([]domain.Alert, error)
}

// Handler serves the API. Runs, Replicator and Alerts may be nil, the
// matching routes then answer 503.
type Handler struct {
	svc        *service.InventoryService
	runs       RunHistory
	replicator ReplicationTrigger
	alerts     AlertHistory
	opts       RouterOptions
	log        zerolog.Logger
}

// Deps are the optional collaborators of a Handler.
type Deps struct {
	Runs       RunHistory
	Replicator ReplicationTrigger
	Alerts     AlertHistory
}

// New creates a Handler.
func New(svc *service.InventoryService, deps Deps) *Handler {
	return &Handler{
		svc:        svc,
		runs:       deps.Runs,
		replicator: deps.Replicator,
		alerts:     deps.Alerts,
		log:        logging.Component("http"),
	}
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status             string          `json:"status"`
	Hosts              int             `json:"hosts"`
	Services           int             `json:"services"`
	InventoryLoadedAt  time.Time       `json:"inventory_loaded_at"`
	ReplicationRunning bool            `json:"replication_running"`
	LastRun            *LastRunSummary `json:"last_run,omitempty"`
}

// LastRunSummary is the latest replication in /healthz.
type LastRunSummary struct {
	ID        string           `json:"id"`
	Status    domain.RunStatus `json:"status"`
	StartedAt time.Time        `json:"started_at"`
}

// Health reports that the server is up along with a short status summary.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	inv := h.svc.Inventory()
	resp := HealthResponse{
		Status:            "ok",
		Hosts:             len(inv.Hosts),
		Services:          len(inv.Services),
		InventoryLoadedAt: h.svc.LoadedAt(),
	}
	if h.replicator != nil {
		resp.ReplicationRunning = h.replicator.Running()
	}
	if h.runs != nil {
		last, err := h.runs.LastRun(r.Context())
		switch {
		case err == nil:
			resp.LastRun = &LastRunSummary{ID: last.ID, Status: last.Status, StartedAt: last.StartedAt}
		case !errors.Is(err, repository.ErrNotFound):
			h.log.Warn().Err(err).Msg("failed to read last replication run")
		}
	}
	h.writeJSON(w, resp, http.StatusOK)
}

// GetInventory returns the inventory as JSON.
func (h *Handler) GetInventory(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.svc.Inventory(), http.StatusOK)
}

// ExportInventory renders the inventory in the format named in the path.
func (h *Handler) ExportInventory(w http.ResponseWriter, r *http.Request) {
	format := chi.URLParam(r, "format")

	// Render into a buffer so a failed export can still answer with an error.
	var buf bytes.Buffer
	contentType, err := h.svc.Export(format, &buf)
	if errors.Is(err, service.ErrUnknownFormat) {
		h.writeError(w, "Unknown format", err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("format", format).Msg("failed to export inventory")
		h.writeError(w, "Failed to export inventory", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// Audit runs the audit. ?live=true adds the directory and network checks.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	live, err := boolParam(r, "live")
	if err != nil {
		h.writeError(w, "Invalid live parameter", err.Error(), http.StatusBadRequest)
		return
	}
	h.writeJSON(w, h.svc.Audit(r.Context(), live), http.StatusOK)
}

// ListRuns returns replication runs, newest first. ?limit=N caps the count.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.writeError(w, "Replication history unavailable", "", http.StatusServiceUnavailable)
		return
	}
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeError(w, "Invalid limit", "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list replication runs")
		h.writeError(w, "Failed to list runs", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, runs, http.StatusOK)
}

// TriggerReplication starts a replication and answers 202 with its ID.
func (h *Handler) TriggerReplication(w http.ResponseWriter, r *http.Request) {
	if h.replicator == nil {
		h.writeError(w, "Replication not configured", "", http.StatusServiceUnavailable)
		return
	}

	id, err := h.replicator.Trigger(r.Context())
	if errors.Is(err, replicate.ErrRunInProgress) {
		h.writeError(w, "Replication already running", err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		h.writeError(w, "Cannot start replication", err.Error(), http.StatusBadRequest)
		return
	}

	h.log.Info().Str("run", id).Str("remote", r.RemoteAddr).Msg("replication triggered over HTTP")
	h.writeJSON(w, map[string]string{"id": id, "status": string(domain.RunRunning)}, http.StatusAccepted)
}

// ListAlerts returns alerts. ?active=true keeps only unresolved ones.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	if h.alerts == nil {
		h.writeError(w, "Alert history unavailable", "", http.StatusServiceUnavailable)
		return
	}
	active, err := boolParam(r, "active")
	if err != nil {
		h.writeError(w, "Invalid active parameter", err.Error(), http.StatusBadRequest)
		return
	}

	alerts, err := h.alerts.ListAlerts(r.Context(), active)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list alerts")
		h.writeError(w, "Failed to list alerts", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, alerts, http.StatusOK)
}

func (h *Handler) writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("failed to encode JSON")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, error, details string, statusCode int) {
	h.writeJSON(w, ErrorResponse{Error: error, Details: details}, statusCode)
}

func boolParam(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}
