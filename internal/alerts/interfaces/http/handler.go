package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	alertapp "terrarium-cloud/internal/alerts/application"
	alerts "terrarium-cloud/internal/alerts/domain"
	"terrarium-cloud/internal/audit"
	"terrarium-cloud/internal/auth"
	profilesapp "terrarium-cloud/internal/profiles/application"
	telemetry "terrarium-cloud/internal/telemetry/domain"
)

// Profiles resolves a source to its ecosystem and owner.
type Profiles interface {
	Resolve(ctx context.Context, sourceID string) (profilesapp.Resolved, error)
	SourceOwner(ctx context.Context, sourceID string) (string, error)
}

// Handler provides alert HTTP endpoints.
type Handler struct {
	dispatcher *alertapp.Dispatcher
	profiles   Profiles
	audit      audit.Logger
	logger     *log.Logger
}

// NewHandler constructs a handler.
func NewHandler(dispatcher *alertapp.Dispatcher, profiles Profiles, auditLogger audit.Logger, logger *log.Logger) (*Handler, error) {
	if dispatcher == nil {
		return nil, errors.New("alerts handler: nil dispatcher")
	}
	if profiles == nil {
		return nil, errors.New("alerts handler: nil profiles")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{dispatcher: dispatcher, profiles: profiles, audit: auditLogger, logger: logger}, nil
}

type testRequest struct {
	SourceID string `json:"source_id"`
	Metric   string `json:"metric"`
}

// ServeHTTP handles /api/v1/alerts and /api/v1/alerts/test.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/v1/alerts":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleList(w, r)
	case "/api/v1/alerts/test":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleTest(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	sourceID := r.URL.Query().Get("source_id")
	if sourceID == "" {
		http.Error(w, "source_id is required", http.StatusBadRequest)
		return
	}
	from, err := parseOptionalTime(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseOptionalTime(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := auth.EnsureSourceAccess(r.Context(), h.profiles, sourceID); err != nil {
		auth.RespondAccessError(w, err)
		return
	}
	list, err := h.dispatcher.List(r.Context(), sourceID, from, to)
	if err != nil {
		h.logger.Printf("alerts list: source=%s err=%v", sourceID, err)
		http.Error(w, "list alerts error", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []alerts.AlertRecord{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleTest(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.SourceID == "" {
		http.Error(w, "source_id is required", http.StatusBadRequest)
		return
	}
	var metric telemetry.Metric
	if req.Metric != "" {
		parsed, err := telemetry.ParseMetric(req.Metric)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		metric = parsed
	}
	if err := auth.EnsureSourceAccess(r.Context(), h.profiles, req.SourceID); err != nil {
		auth.RespondAccessError(w, err)
		return
	}
	resolved, err := h.profiles.Resolve(r.Context(), req.SourceID)
	if err != nil {
		http.Error(w, "resolve profile error", http.StatusInternalServerError)
		return
	}
	record, err := h.dispatcher.EmitTest(r.Context(), req.SourceID, metric, resolved.Ecosystem)
	if err != nil {
		h.logger.Printf("alerts test: source=%s err=%v", req.SourceID, err)
		http.Error(w, "emit test alert error", http.StatusInternalServerError)
		return
	}
	if err := audit.Record(r.Context(), h.audit, audit.FromRequest(r, audit.ActionTestAlert, req.SourceID, req)); err != nil {
		h.logger.Printf("alerts test audit: source=%s err=%v", req.SourceID, err)
	}
	writeJSON(w, http.StatusCreated, record)
}

func parseOptionalTime(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
