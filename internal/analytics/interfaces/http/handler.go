package http

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"terrarium-cloud/internal/analytics/application"
	"terrarium-cloud/internal/analytics/domain/rollup"
	"terrarium-cloud/internal/auth"
	"terrarium-cloud/internal/observability/metrics"
	telemetry "terrarium-cloud/internal/telemetry/domain"
)

const timeLayout = time.RFC3339

// Handler serves rollup queries and report exports.
type Handler struct {
	aggregator *application.Aggregator
	owners     auth.SourceOwnerResolver
}

// NewHandler constructs a handler.
func NewHandler(aggregator *application.Aggregator, owners auth.SourceOwnerResolver) (*Handler, error) {
	if aggregator == nil {
		return nil, errors.New("rollup handler: nil aggregator")
	}
	return &Handler{aggregator: aggregator, owners: owners}, nil
}

// ServeHTTP handles /api/v1/rollups and /api/v1/reports/rollup.{json,csv,xlsx,pdf}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch {
	case r.URL.Path == "/api/v1/rollups":
		h.handleRollups(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/reports/rollup."):
		h.handleReport(w, r, strings.TrimPrefix(r.URL.Path, "/api/v1/reports/rollup."))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleRollups(w http.ResponseWriter, r *http.Request) {
	sourceID, from, to, ok := h.parseRange(w, r)
	if !ok {
		return
	}
	granularity := rollup.Granularity(strings.ToUpper(r.URL.Query().Get("granularity")))
	if granularity == "" {
		granularity = rollup.GranularityHour
	}
	if !granularity.IsValid() {
		http.Error(w, "granularity must be HOUR or DAY", http.StatusBadRequest)
		return
	}

	buckets, err := h.aggregator.Buckets(r.Context(), sourceID, granularity, from, to)
	if err != nil {
		http.Error(w, "query rollups error", http.StatusInternalServerError)
		return
	}
	if buckets == nil {
		buckets = []rollup.Bucket{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(buckets)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request, format string) {
	sourceID, from, to, ok := h.parseRange(w, r)
	if !ok {
		return
	}
	start := time.Now()
	report, err := h.aggregator.BuildRangeReport(r.Context(), sourceID, from, to)
	if err != nil {
		metrics.ObserveReportExport(format, metrics.ResultError, time.Since(start))
		if errors.Is(err, application.ErrEmptyRange) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, "build report error", http.StatusInternalServerError)
		return
	}

	var (
		body        []byte
		contentType string
	)
	switch format {
	case "json":
		body, err = json.Marshal(report)
		contentType = "application/json"
	case "csv":
		body, err = BuildReportCSV(report)
		contentType = "text/csv"
	case "xlsx":
		body, err = BuildReportXLSX(report)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		body, err = BuildReportPDF(report)
		contentType = "application/pdf"
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		metrics.ObserveReportExport(format, metrics.ResultError, time.Since(start))
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}
	metrics.ObserveReportExport(format, metrics.ResultSuccess, time.Since(start))

	w.Header().Set("Content-Type", contentType)
	if format != "json" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s_%s_%s.%s", sourceID, from.Format("20060102"), to.Format("20060102"), format))
	}
	_, _ = w.Write(body)
}

func (h *Handler) parseRange(w http.ResponseWriter, r *http.Request) (string, time.Time, time.Time, bool) {
	sourceID := r.URL.Query().Get("source_id")
	if sourceID == "" {
		http.Error(w, "source_id is required", http.StatusBadRequest)
		return "", time.Time{}, time.Time{}, false
	}
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", time.Time{}, time.Time{}, false
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", time.Time{}, time.Time{}, false
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return "", time.Time{}, time.Time{}, false
	}
	if err := auth.EnsureSourceAccess(r.Context(), h.owners, sourceID); err != nil {
		auth.RespondAccessError(w, err)
		return "", time.Time{}, time.Time{}, false
	}
	return sourceID, from, to, true
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}

// BuildReportCSV renders one row per day with min/avg/max per metric.
func BuildReportCSV(report *application.RangeReport) ([]byte, error) {
	var sb strings.Builder
	writer := csv.NewWriter(&sb)
	header := []string{"day", "count"}
	for _, m := range telemetry.Metrics() {
		header = append(header, string(m)+"_min", string(m)+"_avg", string(m)+"_max")
	}
	if err := writer.Write(header); err != nil {
		return nil, err
	}
	for _, day := range report.Days {
		row := []string{day.PeriodStart.Format("2006-01-02"), strconv.FormatInt(day.Count, 10)}
		for _, m := range telemetry.Metrics() {
			s := day.Metrics.Get(m)
			row = append(row, formatFloat(s.Min), formatFloat(s.Avg), formatFloat(s.Max))
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
