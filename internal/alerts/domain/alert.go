package alerts

import (
	"errors"
	"sort"
	"time"

	health "terrarium-cloud/internal/health/domain"
	telemetry "terrarium-cloud/internal/telemetry/domain"
)

var (
	ErrNotFound      = errors.New("alerts: not found")
	ErrEmptySourceID = errors.New("alerts: empty source id")
)

// AlertRecord is an emitted alert. Records are immutable once stored.
type AlertRecord struct {
	ID        string           `json:"id"`
	Type      telemetry.Metric `json:"type"`
	Severity  health.Severity  `json:"severity"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Action    string           `json:"action,omitempty"`
	Value     float64          `json:"value"`
	Threshold float64          `json:"threshold"`
	Ecosystem string           `json:"ecosystem"`
	SourceID  string           `json:"source_id"`
	CreatedAt time.Time        `json:"created_at"`
	IsTest    bool             `json:"is_test"`
}

// Critical reports whether the record came from a danger tier.
func (r AlertRecord) Critical() bool {
	return r.Severity == health.SeverityDanger
}

// Decider picks the records to store given the last non-test emission of a
// source and its non-test count since the day start.
type Decider func(lastAt time.Time, today int) []AlertRecord

const (
	DefaultWindow   = 60 * time.Minute
	DefaultDailyCap = 50
)

// Policy is the per-source rate limit.
type Policy struct {
	Window   time.Duration
	DailyCap int
	Location *time.Location
}

// DefaultPolicy returns the 60 minute, 50 per day policy in UTC.
func DefaultPolicy() Policy {
	return Policy{Window: DefaultWindow, DailyCap: DefaultDailyCap, Location: time.UTC}
}

// DayStart returns the start of the local calendar day containing t.
func (p Policy) DayStart(t time.Time) time.Time {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// Outcome of a limiter decision.
const (
	SuppressedWindow   = "window"
	SuppressedDailyCap = "daily_cap"
)

// Admit applies the policy to candidates given the last emission time and
// today's count. It returns the admitted records and the suppression reason
// for anything dropped. Candidates keep their order unless the daily cap cuts
// the batch, in which case danger entries are kept first.
func (p Policy) Admit(now, lastAt time.Time, today int, candidates []AlertRecord) ([]AlertRecord, string) {
	if len(candidates) == 0 {
		return nil, ""
	}
	if !lastAt.IsZero() && now.Sub(lastAt) < p.Window {
		return nil, SuppressedWindow
	}
	remaining := p.DailyCap - today
	if remaining <= 0 {
		return nil, SuppressedDailyCap
	}
	if len(candidates) > remaining {
		ranked := append([]AlertRecord(nil), candidates...)
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].Severity.Rank() > ranked[j].Severity.Rank()
		})
		return ranked[:remaining], SuppressedDailyCap
	}
	return candidates, ""
}
