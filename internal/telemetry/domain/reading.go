package telemetry

import (
	"errors"
	"math"
	"strings"
	"time"
)

var (
	ErrEmptySourceID  = errors.New("telemetry: empty source id")
	ErrZeroTimestamp  = errors.New("telemetry: zero timestamp")
	ErrUnknownMetric  = errors.New("telemetry: unknown metric")
	ErrNonFiniteValue = errors.New("telemetry: non-finite value")
)

// Metric names one of the sensor channels a terrarium reports.
type Metric string

const (
	MetricTemperature Metric = "temperature"
	MetricHumidity    Metric = "humidity"
	MetricMoisture    Metric = "moisture"
	MetricLux         Metric = "lux"
)

var metricOrder = []Metric{MetricTemperature, MetricHumidity, MetricMoisture, MetricLux}

// Metrics returns every metric in the fixed evaluation order.
func Metrics() []Metric {
	out := make([]Metric, len(metricOrder))
	copy(out, metricOrder)
	return out
}

// ParseMetric resolves a metric name.
func ParseMetric(value string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range metricOrder {
		if m == known {
			return m, nil
		}
	}
	return "", ErrUnknownMetric
}

// Unit returns the display unit of a metric.
func (m Metric) Unit() string {
	switch m {
	case MetricTemperature:
		return "°C"
	case MetricHumidity, MetricMoisture:
		return "%"
	case MetricLux:
		return "lux"
	default:
		return ""
	}
}

// Reading is one sample from a terrarium sensor board.
type Reading struct {
	SourceID    string    `json:"source_id"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Moisture    float64   `json:"moisture"`
	Lux         float64   `json:"lux"`
	Timestamp   time.Time `json:"timestamp"`
}

// Value returns the reading value for a metric.
func (r Reading) Value(m Metric) (float64, error) {
	switch m {
	case MetricTemperature:
		return r.Temperature, nil
	case MetricHumidity:
		return r.Humidity, nil
	case MetricMoisture:
		return r.Moisture, nil
	case MetricLux:
		return r.Lux, nil
	default:
		return 0, ErrUnknownMetric
	}
}

// Validate checks the envelope fields. Values are not range checked.
func (r Reading) Validate() error {
	if strings.TrimSpace(r.SourceID) == "" {
		return ErrEmptySourceID
	}
	if r.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}
	for _, m := range metricOrder {
		v, _ := r.Value(m)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrNonFiniteValue
		}
	}
	return nil
}
