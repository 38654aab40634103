package rollup

import "time"

// Granularity is the rollup period length.
type Granularity string

const (
	GranularityHour Granularity = "HOUR"
	GranularityDay  Granularity = "DAY"
)

// Granularities lists the rollups maintained for every reading.
func Granularities() []Granularity {
	return []Granularity{GranularityHour, GranularityDay}
}

// IsValid reports whether the granularity is supported.
func (g Granularity) IsValid() bool {
	return g == GranularityHour || g == GranularityDay
}

// PeriodKey is the persisted representation of a period boundary.
type PeriodKey string

// String returns the raw string for storage.
func (k PeriodKey) String() string { return string(k) }

// PeriodStart truncates t to the start of its period in loc.
func PeriodStart(g Granularity, t time.Time, loc *time.Location) (time.Time, error) {
	if t.IsZero() {
		return time.Time{}, ErrInvalidPeriodStart
	}
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	switch g {
	case GranularityHour:
		return time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc), nil
	case GranularityDay:
		return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc), nil
	default:
		return time.Time{}, ErrInvalidGranularity
	}
}

// NewPeriodKey builds the key of the period containing t in loc.
func NewPeriodKey(g Granularity, t time.Time, loc *time.Location) (PeriodKey, error) {
	start, err := PeriodStart(g, t, loc)
	if err != nil {
		return "", err
	}
	layout, err := keyLayout(g)
	if err != nil {
		return "", err
	}
	return PeriodKey(start.Format(layout)), nil
}

// ParsePeriodKey converts a key back into its period start in loc.
func ParsePeriodKey(g Granularity, key PeriodKey, loc *time.Location) (time.Time, error) {
	layout, err := keyLayout(g)
	if err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(layout, string(key), loc)
}

func keyLayout(g Granularity) (string, error) {
	switch g {
	case GranularityHour:
		return "20060102T15", nil
	case GranularityDay:
		return "20060102", nil
	default:
		return "", ErrInvalidGranularity
	}
}

// Retention is the age past which buckets of each granularity may be pruned.
type Retention struct {
	Hourly time.Duration
	Daily  time.Duration
}

// DefaultRetention keeps hourly buckets a week and daily buckets ninety days.
var DefaultRetention = Retention{
	Hourly: 7 * 24 * time.Hour,
	Daily:  90 * 24 * time.Hour,
}

// Cutoff returns the period start before which buckets of g are expired.
func (r Retention) Cutoff(g Granularity, now time.Time) (time.Time, error) {
	switch g {
	case GranularityHour:
		return now.Add(-r.Hourly), nil
	case GranularityDay:
		return now.Add(-r.Daily), nil
	default:
		return time.Time{}, ErrInvalidGranularity
	}
}
