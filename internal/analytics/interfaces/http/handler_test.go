package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"terrarium-cloud/internal/analytics/application"
	"terrarium-cloud/internal/analytics/domain/rollup"
	"terrarium-cloud/internal/analytics/infrastructure/memory"
	telemetry "terrarium-cloud/internal/telemetry/domain"
)

func seededHandler(t *testing.T) *Handler {
	t.Helper()
	agg, err := application.NewAggregator(memory.NewBucketStore())
	if err != nil {
		t.Fatalf("aggregator: %v", err)
	}
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		r := telemetry.Reading{
			SourceID:    "tank-1",
			Temperature: 24 + float64(i),
			Humidity:    80,
			Moisture:    50,
			Lux:         5000,
			Timestamp:   start.Add(time.Duration(i) * 12 * time.Hour),
		}
		if err := agg.Ingest(context.Background(), r); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}
	h, err := NewHandler(agg, nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return h
}

const rangeQuery = "source_id=tank-1&from=2026-03-01T00:00:00Z&to=2026-03-04T00:00:00Z"

func TestRollupsDaily(t *testing.T) {
	h := seededHandler(t)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/rollups?granularity=day&"+rangeQuery, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var buckets []rollup.Bucket
	if err := json.Unmarshal(resp.Body.Bytes(), &buckets); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(buckets) != 2 || buckets[0].Count != 2 || buckets[1].Count != 2 {
		t.Fatalf("unexpected buckets %+v", buckets)
	}
}

func TestRollupsValidation(t *testing.T) {
	h := seededHandler(t)
	cases := []string{
		"/api/v1/rollups?from=2026-03-01T00:00:00Z&to=2026-03-02T00:00:00Z",
		"/api/v1/rollups?source_id=tank-1&from=yesterday&to=2026-03-02T00:00:00Z",
		"/api/v1/rollups?source_id=tank-1&from=2026-03-02T00:00:00Z&to=2026-03-01T00:00:00Z",
		"/api/v1/rollups?granularity=week&" + rangeQuery,
	}
	for _, target := range cases {
		resp := httptest.NewRecorder()
		h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, target, nil))
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, resp.Code)
		}
	}
}

func TestReportExports(t *testing.T) {
	h := seededHandler(t)
	cases := []struct {
		format string
		prefix []byte
	}{
		{"json", []byte("{")},
		{"csv", []byte("day,count,temperature_min")},
		{"xlsx", []byte("PK")},
		{"pdf", []byte("%PDF")},
	}
	for _, tc := range cases {
		resp := httptest.NewRecorder()
		h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/reports/rollup."+tc.format+"?"+rangeQuery, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", tc.format, resp.Code, resp.Body.String())
		}
		if !bytes.HasPrefix(resp.Body.Bytes(), tc.prefix) {
			t.Fatalf("%s: unexpected body prefix %q", tc.format, resp.Body.Bytes()[:8])
		}
	}
}

func TestReportEmptyRange(t *testing.T) {
	h := seededHandler(t)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/reports/rollup.pdf?source_id=tank-9&from=2026-03-01T00:00:00Z&to=2026-03-04T00:00:00Z", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
