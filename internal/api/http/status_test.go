package apihttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terrarium-cloud/internal/auth"
	automationapp "terrarium-cloud/internal/automation/application"
	automation "terrarium-cloud/internal/automation/domain"
	ecosystem "terrarium-cloud/internal/ecosystem/domain"
	profilesapp "terrarium-cloud/internal/profiles/application"
	profiles "terrarium-cloud/internal/profiles/domain"
	profilesmem "terrarium-cloud/internal/profiles/infrastructure/memory"
	telemetryapp "terrarium-cloud/internal/telemetry/application"
	telemetry "terrarium-cloud/internal/telemetry/domain"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type stubControls struct{}

func (stubControls) Snapshot(ctx context.Context, sourceID string) (automationapp.Snapshot, error) {
	return automationapp.Snapshot{
		SourceID:           sourceID,
		Restriction:        automation.Restriction{Reason: automation.ReasonReady, Enabled: true, CanUpdate: true},
		DaylightBrightness: 200,
	}, nil
}

func newStatus(t *testing.T) (*StatusHandler, *telemetryapp.LatestStore, *telemetryapp.Presence, *profilesapp.Service) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg, err := ecosystem.NewRegistry(nil)
	require.NoError(t, err)
	svc, err := profilesapp.NewService(profilesmem.NewProfileRepository(), reg)
	require.NoError(t, err)
	require.NoError(t, svc.Save(context.Background(), &profiles.Profile{SourceID: "tank-1", OwnerID: "alice", Biome: ecosystem.BiomeWoodland}))
	latest := telemetryapp.NewLatestStore()
	presence := telemetryapp.NewPresence(telemetryapp.WithPresenceClock(fixedClock{now: now}))
	h, err := NewStatusHandler(svc, latest, presence, stubControls{})
	require.NoError(t, err)
	return h, latest, presence, svc
}

func TestStatusReportsLatestAssessment(t *testing.T) {
	h, latest, presence, _ := newStatus(t)
	presence.Mark("tank-1")
	latest.Put(telemetryapp.Snapshot{Reading: telemetry.Reading{
		SourceID: "tank-1", Temperature: 30, Humidity: 70, Moisture: 50, Lux: 3000,
		Timestamp: time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC),
	}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status/tank-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Connected  bool `json:"connected"`
		Assessment struct {
			HealthScore int `json:"health_score"`
			Headline    struct {
				Metric   string `json:"metric"`
				Severity string `json:"severity"`
			} `json:"headline"`
		} `json:"assessment"`
		Ecosystem struct {
			Name string `json:"name"`
		} `json:"ecosystem"`
		Automation struct {
			Restriction struct {
				Reason string `json:"reason"`
			} `json:"restriction"`
		} `json:"automation"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Connected)
	assert.Equal(t, "Temperate Woodland", body.Ecosystem.Name)
	assert.Equal(t, "temperature", body.Assessment.Headline.Metric)
	assert.Equal(t, "danger", body.Assessment.Headline.Severity)
	assert.Equal(t, 70, body.Assessment.HealthScore)
	assert.Equal(t, automation.ReasonReady, body.Automation.Restriction.Reason)
}

func TestStatusUnknownSourceFallsBack(t *testing.T) {
	h, _, _, _ := newStatus(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status/tank-9", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"fell_back":true`)
	assert.Contains(t, rec.Body.String(), `"connected":false`)
	assert.NotContains(t, rec.Body.String(), `"reading"`)
}

func TestStatusRoutingAndAccess(t *testing.T) {
	h, _, _, _ := newStatus(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/status/tank-1", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status/tank-1", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.RoleViewer, "bob"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
