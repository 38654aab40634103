package events

import (
	"time"

	telemetry "terrarium-cloud/internal/telemetry/domain"
)

// ReadingReceived is published when a sensor reading has been accepted from a feed.
type ReadingReceived struct {
	EventID    string
	Reading    telemetry.Reading
	Transport  string
	ReceivedAt time.Time
}

const (
	TransportHTTP = "http"
	TransportMQTT = "mqtt"
)
