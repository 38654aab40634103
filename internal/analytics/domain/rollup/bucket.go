package rollup

import (
	"strings"
	"time"

	telemetry "terrarium-cloud/internal/telemetry/domain"
)

// MetricStats is the running summary of one metric in a bucket.
// Sum is only maintained for hourly buckets.
type MetricStats struct {
	Sum float64 `json:"sum,omitempty"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

// MetricSet holds the stats of every metric.
type MetricSet struct {
	Temperature MetricStats `json:"temperature"`
	Humidity    MetricStats `json:"humidity"`
	Moisture    MetricStats `json:"moisture"`
	Lux         MetricStats `json:"lux"`
}

// Get returns the stats of metric m.
func (s MetricSet) Get(m telemetry.Metric) MetricStats {
	if ref := s.ref(m); ref != nil {
		return *ref
	}
	return MetricStats{}
}

func (s *MetricSet) ref(m telemetry.Metric) *MetricStats {
	switch m {
	case telemetry.MetricTemperature:
		return &s.Temperature
	case telemetry.MetricHumidity:
		return &s.Humidity
	case telemetry.MetricMoisture:
		return &s.Moisture
	case telemetry.MetricLux:
		return &s.Lux
	default:
		return nil
	}
}

// Bucket is an hourly or daily summary for one source. It only grows.
type Bucket struct {
	SourceID      string      `json:"source_id"`
	Granularity   Granularity `json:"granularity"`
	Key           PeriodKey   `json:"period_key"`
	PeriodStart   time.Time   `json:"period_start"`
	Count         int64       `json:"count"`
	Metrics       MetricSet   `json:"metrics"`
	LastReadingAt time.Time   `json:"last_reading_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// NewBucket creates the empty bucket of the period containing at.
func NewBucket(sourceID string, g Granularity, at time.Time, loc *time.Location) (*Bucket, error) {
	if strings.TrimSpace(sourceID) == "" {
		return nil, ErrEmptySourceID
	}
	start, err := PeriodStart(g, at, loc)
	if err != nil {
		return nil, err
	}
	key, err := NewPeriodKey(g, at, loc)
	if err != nil {
		return nil, err
	}
	return &Bucket{
		SourceID:    sourceID,
		Granularity: g,
		Key:         key,
		PeriodStart: start,
	}, nil
}

// Apply folds a reading into the bucket. Hourly buckets keep a raw sum and
// derive the mean from it; daily buckets use the running mean recurrence.
func (b *Bucket) Apply(r telemetry.Reading, loc *time.Location) error {
	key, err := NewPeriodKey(b.Granularity, r.Timestamp, loc)
	if err != nil {
		return err
	}
	if key != b.Key || r.SourceID != b.SourceID {
		return ErrPeriodMismatch
	}

	n := float64(b.Count)
	for _, m := range telemetry.Metrics() {
		v, _ := r.Value(m)
		s := b.Metrics.ref(m)
		if b.Count == 0 {
			*s = MetricStats{Min: v, Max: v, Avg: v}
			if b.Granularity == GranularityHour {
				s.Sum = v
			}
			continue
		}
		s.Min = min(s.Min, v)
		s.Max = max(s.Max, v)
		if b.Granularity == GranularityHour {
			s.Sum += v
			s.Avg = s.Sum / (n + 1)
		} else {
			s.Avg = (s.Avg*n + v) / (n + 1)
		}
	}
	b.Count++
	if r.Timestamp.After(b.LastReadingAt) {
		b.LastReadingAt = r.Timestamp
	}
	return nil
}

// Clone returns a copy safe to mutate.
func (b *Bucket) Clone() *Bucket {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}
