package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alertapp "terrarium-cloud/internal/alerts/application"
	alerts "terrarium-cloud/internal/alerts/domain"
	"terrarium-cloud/internal/alerts/infrastructure/memory"
	"terrarium-cloud/internal/audit"
	ecosystem "terrarium-cloud/internal/ecosystem/domain"
	profilesapp "terrarium-cloud/internal/profiles/application"
	profilesmem "terrarium-cloud/internal/profiles/infrastructure/memory"
	telemetry "terrarium-cloud/internal/telemetry/domain"
)

func newFixture(t *testing.T) (*Handler, *alertapp.Dispatcher, *SSEBroker, *audit.MemoryLog) {
	t.Helper()
	reg, err := ecosystem.NewRegistry(nil)
	require.NoError(t, err)
	profiles, err := profilesapp.NewService(profilesmem.NewProfileRepository(), reg)
	require.NoError(t, err)
	broker := NewSSEBroker()
	dispatcher, err := alertapp.NewDispatcher(memory.NewStore(), alertapp.WithNotifier(broker))
	require.NoError(t, err)
	logs := audit.NewMemoryLog()
	h, err := NewHandler(dispatcher, profiles, logs, nil)
	require.NoError(t, err)
	return h, dispatcher, broker, logs
}

func TestPostTestAlertThenList(t *testing.T) {
	h, _, _, logs := newFixture(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alerts/test", strings.NewReader(`{"source_id":"tank-1","metric":"Moisture"}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created alerts.AlertRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.True(t, created.IsTest)
	assert.Equal(t, telemetry.MetricMoisture, created.Type)
	assert.Equal(t, "Tropical Understory", created.Ecosystem)
	require.Len(t, logs.Entries(), 1)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alerts?source_id=tank-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []alerts.AlertRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)
}

func TestAlertRequestValidation(t *testing.T) {
	h, _, _, _ := newFixture(t)
	cases := []struct {
		method, path, body string
		status             int
	}{
		{http.MethodGet, "/api/v1/alerts", "", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/alerts?source_id=tank-1&from=bad", "", http.StatusBadRequest},
		{http.MethodPost, "/api/v1/alerts/test", `{"metric":"lux"}`, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/alerts/test", `{"source_id":"tank-1","metric":"co2"}`, http.StatusBadRequest},
		{http.MethodDelete, "/api/v1/alerts", "", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body)))
		assert.Equal(t, tc.status, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestStreamDeliversSourceAlerts(t *testing.T) {
	_, dispatcher, broker, _ := newFixture(t)
	server := httptest.NewServer(NewStreamHandler(broker, nil))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"?source_id=tank-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: ready\n", line)

	p, err := ecosystem.GetProfile(ecosystem.BiomeTropical)
	require.NoError(t, err)
	_, err = dispatcher.EmitTest(context.Background(), "tank-2", telemetry.MetricLux, p)
	require.NoError(t, err)
	_, err = dispatcher.EmitTest(context.Background(), "tank-1", telemetry.MetricLux, p)
	require.NoError(t, err)

	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") && line != "data: {}\n" {
			break
		}
	}
	var record alerts.AlertRecord
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &record))
	assert.Equal(t, "tank-1", record.SourceID)
}
