package application

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	telemetry "terrarium-cloud/internal/telemetry/domain"
)

var (
	ErrEmptyPayload     = errors.New("telemetry: empty payload")
	ErrMissingMetric    = errors.New("telemetry: missing metric value")
	ErrInvalidTimestamp = errors.New("telemetry: invalid timestamp")
)

// MaxBatchSize bounds the number of readings accepted in one payload.
const MaxBatchSize = 500

type readingPayload struct {
	SourceID    string          `json:"source_id"`
	Temperature *float64        `json:"temperature"`
	Humidity    *float64        `json:"humidity"`
	Moisture    *float64        `json:"moisture"`
	Lux         *float64        `json:"lux"`
	Timestamp   json.RawMessage `json:"timestamp"`
	TS          int64           `json:"ts"`
}

type batchPayload struct {
	SourceID string           `json:"source_id"`
	Readings []readingPayload `json:"readings"`
}

// DecodeReadings parses a single reading object, a {"readings": [...]}
// batch or a bare JSON array. defaultSource fills readings without a
// source_id and receivedAt fills readings without a timestamp.
func DecodeReadings(body []byte, defaultSource string, receivedAt time.Time) ([]telemetry.Reading, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, ErrEmptyPayload
	}

	var items []readingPayload
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, err
		}
	case '{':
		var shape map[string]json.RawMessage
		if err := json.Unmarshal(body, &shape); err != nil {
			return nil, err
		}
		if _, ok := shape["readings"]; ok {
			var batch batchPayload
			if err := json.Unmarshal(body, &batch); err != nil {
				return nil, err
			}
			if strings.TrimSpace(batch.SourceID) != "" {
				defaultSource = batch.SourceID
			}
			items = batch.Readings
		} else {
			var single readingPayload
			if err := json.Unmarshal(body, &single); err != nil {
				return nil, err
			}
			items = []readingPayload{single}
		}
	default:
		return nil, fmt.Errorf("telemetry: unexpected payload start %q", body[0])
	}

	if len(items) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(items) > MaxBatchSize {
		return nil, fmt.Errorf("telemetry: batch of %d exceeds %d", len(items), MaxBatchSize)
	}

	readings := make([]telemetry.Reading, 0, len(items))
	for i, item := range items {
		reading, err := item.toReading(defaultSource, receivedAt)
		if err != nil {
			return nil, fmt.Errorf("reading %d: %w", i, err)
		}
		readings = append(readings, reading)
	}
	return readings, nil
}

func (p readingPayload) toReading(defaultSource string, receivedAt time.Time) (telemetry.Reading, error) {
	sourceID := strings.TrimSpace(p.SourceID)
	if sourceID == "" {
		sourceID = strings.TrimSpace(defaultSource)
	}
	if p.Temperature == nil || p.Humidity == nil || p.Moisture == nil || p.Lux == nil {
		return telemetry.Reading{}, ErrMissingMetric
	}
	ts, err := p.timestamp(receivedAt)
	if err != nil {
		return telemetry.Reading{}, err
	}
	reading := telemetry.Reading{
		SourceID:    sourceID,
		Temperature: *p.Temperature,
		Humidity:    *p.Humidity,
		Moisture:    *p.Moisture,
		Lux:         *p.Lux,
		Timestamp:   ts,
	}
	if err := reading.Validate(); err != nil {
		return telemetry.Reading{}, err
	}
	return reading, nil
}

func (p readingPayload) timestamp(receivedAt time.Time) (time.Time, error) {
	raw := bytes.TrimSpace(p.Timestamp)
	if len(raw) == 0 || string(raw) == "null" {
		if p.TS != 0 {
			return parseEpoch(p.TS)
		}
		return receivedAt.UTC(), nil
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return time.Time{}, ErrInvalidTimestamp
		}
		text = strings.TrimSpace(text)
		if ts, err := time.Parse(time.RFC3339Nano, text); err == nil {
			return ts.UTC(), nil
		}
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return parseEpoch(n)
		}
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, text)
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", ErrInvalidTimestamp, raw)
	}
	return parseEpoch(n)
}

func parseEpoch(value int64) (time.Time, error) {
	if value <= 0 {
		return time.Time{}, ErrInvalidTimestamp
	}
	// Accept milliseconds or seconds.
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC(), nil
	}
	return time.Unix(value, 0).UTC(), nil
}
