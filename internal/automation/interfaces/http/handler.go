package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"terrarium-cloud/internal/audit"
	"terrarium-cloud/internal/auth"
	"terrarium-cloud/internal/automation/application"
	automation "terrarium-cloud/internal/automation/domain"
)

const prefix = "/api/v1/automation/"

// Handler exposes automation control for a source.
type Handler struct {
	controller *application.Controller
	owners     auth.SourceOwnerResolver
	audit      audit.Logger
	logger     *log.Logger
}

// NewHandler constructs a handler.
func NewHandler(controller *application.Controller, owners auth.SourceOwnerResolver, auditLogger audit.Logger, logger *log.Logger) (*Handler, error) {
	if controller == nil {
		return nil, errors.New("automation handler: nil controller")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{controller: controller, owners: owners, audit: auditLogger, logger: logger}, nil
}

// ServeHTTP routes:
//
//	GET  /api/v1/automation/{source_id}
//	GET  /api/v1/automation/{source_id}/commands?from=&to=
//	POST /api/v1/automation/{source_id}/mist
//	POST /api/v1/automation/{source_id}/{auto_mist|light_cycle}/{enable|disable}
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"), "/")
	if !strings.HasPrefix(r.URL.Path, prefix) || len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	sourceID := parts[0]
	if err := auth.EnsureSourceAccess(r.Context(), h.owners, sourceID); err != nil {
		auth.RespondAccessError(w, err)
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleSnapshot(w, r, sourceID)
	case len(parts) == 2 && parts[1] == "commands" && r.Method == http.MethodGet:
		h.handleCommands(w, r, sourceID)
	case len(parts) == 2 && parts[1] == "mist" && r.Method == http.MethodPost:
		h.handleMist(w, r, sourceID)
	case len(parts) == 3 && r.Method == http.MethodPost:
		h.handleToggle(w, r, sourceID, parts[1], parts[2])
	case len(parts) <= 3:
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request, sourceID string) {
	snap, err := h.controller.Snapshot(r.Context(), sourceID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleCommands(w http.ResponseWriter, r *http.Request, sourceID string) {
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
	records, err := h.controller.Commands(r.Context(), sourceID, from, to)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if records == nil {
		records = []automation.CommandRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) handleMist(w http.ResponseWriter, r *http.Request, sourceID string) {
	state, err := h.controller.TriggerMist(r.Context(), sourceID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if err := audit.Record(r.Context(), h.audit, audit.FromRequest(r, audit.ActionManualMist, sourceID, nil)); err != nil {
		h.logger.Printf("manual mist audit: source=%s err=%v", sourceID, err)
	}
	writeJSON(w, http.StatusAccepted, state)
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request, sourceID, kindValue, action string) {
	kind, err := automation.ParseKind(kindValue)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var enabled bool
	switch action {
	case "enable":
		enabled = true
	case "disable":
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	state, err := h.controller.SetEnabled(r.Context(), sourceID, kind, enabled)
	if err != nil {
		h.respondError(w, err)
		return
	}
	meta := map[string]any{"kind": kind, "enabled": enabled}
	if err := audit.Record(r.Context(), h.audit, audit.FromRequest(r, audit.ActionAutomationToggle, sourceID, meta)); err != nil {
		h.logger.Printf("automation toggle audit: source=%s err=%v", sourceID, err)
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, automation.ErrCoolingDown), errors.Is(err, automation.ErrAlreadyMisting):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, automation.ErrConnectionUnavailable),
		errors.Is(err, automation.ErrProfileNotLoaded),
		errors.Is(err, automation.ErrAutomationNotConfigured):
		http.Error(w, err.Error(), http.StatusLocked)
	case errors.Is(err, automation.ErrUnknownKind):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		h.logger.Printf("automation handler: err=%v", err)
		http.Error(w, "automation error", http.StatusInternalServerError)
	}
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
