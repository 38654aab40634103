package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"terrarium-cloud/internal/auth"
	automationapp "terrarium-cloud/internal/automation/application"
	ecosystem "terrarium-cloud/internal/ecosystem/domain"
	health "terrarium-cloud/internal/health/domain"
	profilesapp "terrarium-cloud/internal/profiles/application"
	telemetryapp "terrarium-cloud/internal/telemetry/application"
	telemetry "terrarium-cloud/internal/telemetry/domain"
)

const statusPrefix = "/api/v1/status/"

// Profiles resolves a source to its ecosystem and owner.
type Profiles interface {
	Resolve(ctx context.Context, sourceID string) (profilesapp.Resolved, error)
	SourceOwner(ctx context.Context, sourceID string) (string, error)
}

// Latest returns the newest evaluated reading of a source.
type Latest interface {
	Get(sourceID string) (telemetryapp.Snapshot, bool)
}

// Presence reports source liveness.
type Presence interface {
	LastSeen(sourceID string) (time.Time, bool)
	Connected(sourceID string) bool
}

// Controls returns the automation view of a source.
type Controls interface {
	Snapshot(ctx context.Context, sourceID string) (automationapp.Snapshot, error)
}

// StatusHandler serves the dashboard view of one source.
type StatusHandler struct {
	profiles Profiles
	latest   Latest
	presence Presence
	controls Controls
}

// NewStatusHandler constructs a StatusHandler. Controls may be nil.
func NewStatusHandler(profiles Profiles, latest Latest, presence Presence, controls Controls) (*StatusHandler, error) {
	if profiles == nil || latest == nil || presence == nil {
		return nil, errors.New("status handler: nil dependency")
	}
	return &StatusHandler{profiles: profiles, latest: latest, presence: presence, controls: controls}, nil
}

type assessmentView struct {
	Violations  []health.Violation `json:"violations"`
	HealthScore int                `json:"health_score"`
	Headline    *health.Violation  `json:"headline,omitempty"`
}

type statusResponse struct {
	SourceID   string                  `json:"source_id"`
	Connected  bool                    `json:"connected"`
	LastSeen   *time.Time              `json:"last_seen,omitempty"`
	Reading    *telemetry.Reading      `json:"reading,omitempty"`
	Assessment *assessmentView         `json:"assessment,omitempty"`
	Ecosystem  ecosystem.Profile       `json:"ecosystem"`
	FellBack   bool                    `json:"fell_back"`
	Automation *automationapp.Snapshot `json:"automation,omitempty"`
}

// ServeHTTP handles GET /api/v1/status/{source_id}.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sourceID := strings.Trim(strings.TrimPrefix(r.URL.Path, statusPrefix), "/")
	if !strings.HasPrefix(r.URL.Path, statusPrefix) || sourceID == "" || strings.Contains(sourceID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := auth.EnsureSourceAccess(r.Context(), h.profiles, sourceID); err != nil {
		auth.RespondAccessError(w, err)
		return
	}

	resolved, err := h.profiles.Resolve(r.Context(), sourceID)
	if err != nil {
		http.Error(w, "resolve profile error", http.StatusInternalServerError)
		return
	}
	resp := statusResponse{
		SourceID:  sourceID,
		Connected: h.presence.Connected(sourceID),
		Ecosystem: resolved.Ecosystem,
		FellBack:  resolved.FellBack,
	}
	if at, ok := h.presence.LastSeen(sourceID); ok {
		resp.LastSeen = &at
	}
	if snap, ok := h.latest.Get(sourceID); ok {
		reading := snap.Reading
		resp.Reading = &reading
		// reclassify so a biome switch is reflected before the next reading
		assessment := health.Classify(reading, resolved.Ecosystem)
		view := &assessmentView{Violations: assessment.Violations, HealthScore: assessment.HealthScore}
		if head, ok := assessment.Headline(); ok {
			view.Headline = &head
		}
		resp.Assessment = view
	}
	if h.controls != nil {
		snap, err := h.controls.Snapshot(r.Context(), sourceID)
		if err != nil {
			http.Error(w, "automation snapshot error", http.StatusInternalServerError)
			return
		}
		resp.Automation = &snap
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
