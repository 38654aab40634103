package application

import (
	"context"
	"errors"
	"sort"
	"time"

	"terrarium-cloud/internal/analytics/domain/rollup"
	telemetry "terrarium-cloud/internal/telemetry/domain"
)

// MetricSummary is the range summary of one metric.
type MetricSummary struct {
	Metric telemetry.Metric `json:"metric"`
	Min    float64          `json:"min"`
	Max    float64          `json:"max"`
	Avg    float64          `json:"avg"`
}

// RangeReport summarizes daily buckets over a date range.
type RangeReport struct {
	SourceID     string          `json:"source_id"`
	From         time.Time       `json:"from"`
	To           time.Time       `json:"to"`
	Days         []rollup.Bucket `json:"days"`
	ReadingCount int64           `json:"reading_count"`
	Summary      []MetricSummary `json:"summary"`
}

// ErrEmptyRange is returned when no bucket falls in the requested range.
var ErrEmptyRange = errors.New("report: no data in range")

// BuildRangeReport loads daily buckets in [from, to) and weights each day's
// mean by its reading count.
func (a *Aggregator) BuildRangeReport(ctx context.Context, sourceID string, from, to time.Time) (*RangeReport, error) {
	if !to.After(from) {
		return nil, errors.New("report: to must be after from")
	}
	days, err := a.Buckets(ctx, sourceID, rollup.GranularityDay, from, to)
	if err != nil {
		return nil, err
	}
	return SummarizeBuckets(sourceID, from, to, days)
}

// SummarizeBuckets folds buckets into a range report.
func SummarizeBuckets(sourceID string, from, to time.Time, buckets []rollup.Bucket) (*RangeReport, error) {
	var kept []rollup.Bucket
	for _, b := range buckets {
		if b.Count > 0 {
			kept = append(kept, b)
		}
	}
	if len(kept) == 0 {
		return nil, ErrEmptyRange
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].PeriodStart.Before(kept[j].PeriodStart) })

	report := &RangeReport{SourceID: sourceID, From: from, To: to, Days: kept}
	for _, b := range kept {
		report.ReadingCount += b.Count
	}
	for _, m := range telemetry.Metrics() {
		summary := MetricSummary{Metric: m}
		var weighted float64
		for i, b := range kept {
			s := b.Metrics.Get(m)
			if i == 0 {
				summary.Min, summary.Max = s.Min, s.Max
			}
			summary.Min = min(summary.Min, s.Min)
			summary.Max = max(summary.Max, s.Max)
			weighted += s.Avg * float64(b.Count)
		}
		summary.Avg = weighted / float64(report.ReadingCount)
		report.Summary = append(report.Summary, summary)
	}
	return report, nil
}
