package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terrarium-cloud/internal/audit"
	"terrarium-cloud/internal/automation/application"
	automation "terrarium-cloud/internal/automation/domain"
	"terrarium-cloud/internal/automation/infrastructure/memory"
	ecosystem "terrarium-cloud/internal/ecosystem/domain"
	profilesapp "terrarium-cloud/internal/profiles/application"
	profiles "terrarium-cloud/internal/profiles/domain"
	profilesmem "terrarium-cloud/internal/profiles/infrastructure/memory"
)

type nopSink struct{}

func (nopSink) SetActuator(context.Context, automation.Command) error { return nil }

type connected map[string]bool

func (c connected) Connected(id string) bool { return c[id] }

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newHandler(t *testing.T) (*Handler, *profilesapp.Service, *audit.MemoryLog) {
	t.Helper()
	reg, err := ecosystem.NewRegistry(nil)
	require.NoError(t, err)
	svc, err := profilesapp.NewService(profilesmem.NewProfileRepository(), reg)
	require.NoError(t, err)
	clock := fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	ctl, err := application.NewController(nopSink{}, svc, connected{"tank-1": true},
		application.WithClock(clock), application.WithCommandLog(memory.NewCommandLog()))
	require.NoError(t, err)
	logs := audit.NewMemoryLog()
	h, err := NewHandler(ctl, svc, logs, nil)
	require.NoError(t, err)
	return h, svc, logs
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestSnapshotReportsRestriction(t *testing.T) {
	h, _, _ := newHandler(t)
	rec := serve(h, http.MethodGet, "/api/v1/automation/tank-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap application.Snapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
	assert.Equal(t, automation.ReasonNoProfile, snap.Restriction.Reason)
	assert.False(t, snap.Restriction.Enabled)
}

func TestManualMistStatuses(t *testing.T) {
	h, svc, logs := newHandler(t)
	assert.Equal(t, http.StatusLocked, serve(h, http.MethodPost, "/api/v1/automation/tank-1/mist").Code)
	assert.Equal(t, http.StatusLocked, serve(h, http.MethodPost, "/api/v1/automation/tank-2/mist").Code)

	settings := profiles.DefaultAutomationSettings()
	require.NoError(t, svc.Save(context.Background(), &profiles.Profile{SourceID: "tank-1", Biome: ecosystem.BiomeTropical, Automation: &settings}))

	assert.Equal(t, http.StatusAccepted, serve(h, http.MethodPost, "/api/v1/automation/tank-1/mist").Code)
	assert.Equal(t, http.StatusConflict, serve(h, http.MethodPost, "/api/v1/automation/tank-1/mist").Code)
	require.Len(t, logs.Entries(), 1)
	assert.Equal(t, audit.ActionManualMist, logs.Entries()[0].Action)

	rec := serve(h, http.MethodGet, "/api/v1/automation/tank-1/commands")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []automation.CommandRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&records))
	require.Len(t, records, 1)
	assert.True(t, records[0].Command.On)
}

func TestToggleRoutes(t *testing.T) {
	h, svc, _ := newHandler(t)
	_, err := svc.SwitchBiome(context.Background(), "tank-1", ecosystem.BiomeBog)
	require.NoError(t, err)

	rec := serve(h, http.MethodPost, "/api/v1/automation/tank-1/light_cycle/enable")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var state automation.State
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&state))
	assert.True(t, state.Enabled)
	assert.Equal(t, automation.PhaseDay, state.Phase)

	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodPost, "/api/v1/automation/tank-1/heater/enable").Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodPost, "/api/v1/automation/tank-1/auto_mist/toggle").Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodGet, "/api/v1/automation/tank-1/commands?from=yesterday").Code)
}
