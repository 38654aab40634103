package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"terrarium-cloud/internal/audit"
	"terrarium-cloud/internal/auth"
	ecosystem "terrarium-cloud/internal/ecosystem/domain"
	"terrarium-cloud/internal/profiles/application"
	profiles "terrarium-cloud/internal/profiles/domain"
)

// Handler serves source profiles and the biome catalogue.
type Handler struct {
	service *application.Service
	audit   audit.Logger
	logger  *log.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *application.Service, auditLogger audit.Logger, logger *log.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("profile handler: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{service: service, audit: auditLogger, logger: logger}, nil
}

type profileRequest struct {
	OwnerID    string                       `json:"owner_id"`
	Biome      string                       `json:"biome"`
	Automation *profiles.AutomationSettings `json:"automation"`
}

// ServeHTTP handles /api/v1/biomes and /api/v1/profiles[/{source_id}].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/biomes":
		h.handleBiomes(w, r)
	case r.URL.Path == "/api/v1/profiles":
		h.handleList(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/profiles/"):
		sourceID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/profiles/"), "/")
		if sourceID == "" || strings.Contains(sourceID, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.handleProfile(w, r, sourceID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleBiomes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.service.Registry().Profiles())
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	list, err := h.service.List(r.Context())
	if err != nil {
		http.Error(w, "list profiles error", http.StatusInternalServerError)
		return
	}
	subject := auth.SubjectFromContext(r.Context())
	out := make([]profiles.Profile, 0, len(list))
	for _, p := range list {
		if subject != "" && auth.RoleFromContext(r.Context()) != auth.RoleAdmin && p.OwnerID != subject {
			continue
		}
		out = append(out, p)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request, sourceID string) {
	if err := auth.EnsureSourceAccess(r.Context(), h.service, sourceID); err != nil {
		auth.RespondAccessError(w, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		resolved, err := h.service.Resolve(r.Context(), sourceID)
		if err != nil {
			http.Error(w, "resolve profile error", http.StatusInternalServerError)
			return
		}
		if resolved.Profile == nil {
			http.Error(w, profiles.ErrNotFound.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"profile":   resolved.Profile,
			"ecosystem": resolved.Ecosystem,
			"fell_back": resolved.FellBack,
		})
	case http.MethodPut:
		h.handleSave(w, r, sourceID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request, sourceID string) {
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	biome, err := ecosystem.ParseBiome(req.Biome)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	owner := strings.TrimSpace(req.OwnerID)
	if owner == "" {
		owner = auth.SubjectFromContext(r.Context())
	}
	p := &profiles.Profile{SourceID: sourceID, OwnerID: owner, Biome: biome, Automation: req.Automation}
	if err := h.service.Save(r.Context(), p); err != nil {
		if isValidation(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Printf("profile save: source=%s err=%v", sourceID, err)
		http.Error(w, "save profile error", http.StatusInternalServerError)
		return
	}
	if err := audit.Record(r.Context(), h.audit, audit.FromRequest(r, audit.ActionProfileSave, sourceID, req)); err != nil {
		h.logger.Printf("profile save audit: source=%s err=%v", sourceID, err)
	}
	writeJSON(w, http.StatusOK, p)
}

func isValidation(err error) bool {
	return errors.Is(err, profiles.ErrEmptySourceID) ||
		errors.Is(err, profiles.ErrInvalidBrightness) ||
		errors.Is(err, profiles.ErrInvalidTriggerMode) ||
		errors.Is(err, ecosystem.ErrUnknownBiome)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
