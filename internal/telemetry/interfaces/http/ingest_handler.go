package http

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"terrarium-cloud/internal/observability/metrics"
	"terrarium-cloud/internal/telemetry/application"
	"terrarium-cloud/internal/telemetry/application/events"
)

// MaxBodyBytes bounds an ingest request body.
const MaxBodyBytes = 1 << 20

// IngestHandler accepts sensor readings pushed over HTTP.
type IngestHandler struct {
	intake *application.Intake
	logger *log.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(intake *application.Intake, logger *log.Logger) (*IngestHandler, error) {
	if intake == nil {
		return nil, errors.New("telemetry ingest: nil intake")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{intake: intake, logger: logger}, nil
}

// ServeHTTP ingests one reading or a batch.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveIngest(result, time.Since(start))
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		result = metrics.ResultError
		metrics.IncIngestError("read")
		h.logger.Printf("telemetry ingest: read body error: %v", err)
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if len(body) > MaxBodyBytes {
		result = metrics.ResultError
		metrics.IncIngestError("too_large")
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	readings, err := application.DecodeReadings(body, r.URL.Query().Get("source_id"), h.intake.Now())
	if err != nil {
		result = metrics.ResultError
		metrics.IncIngestError("decode")
		h.logger.Printf("telemetry ingest: invalid payload: %v", err)
		http.Error(w, "invalid payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	accepted, err := h.intake.Accept(r.Context(), readings, events.TransportHTTP)
	if errors.Is(err, application.ErrRateLimited) {
		result = metrics.ResultError
		metrics.IncIngestError("rate_limited")
		w.Header().Set("Retry-After", "1")
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}
	resp := map[string]any{"accepted": accepted}
	if err != nil {
		metrics.IncIngestError("pipeline")
		resp["error"] = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(resp)
}
