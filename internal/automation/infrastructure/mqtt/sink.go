package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	automation "terrarium-cloud/internal/automation/domain"
)

// DefaultTopicPrefix is the root of device topics.
const DefaultTopicPrefix = "terrarium"

var ErrPublishTimeout = errors.New("mqtt sink: publish timeout")

// Sink publishes actuator commands to terrarium/{source}/controls/{actuator}.
type Sink struct {
	client  paho.Client
	prefix  string
	qos     byte
	timeout time.Duration
}

// SinkOption configures the sink.
type SinkOption func(*Sink)

// WithTopicPrefix overrides the topic root.
func WithTopicPrefix(prefix string) SinkOption {
	return func(s *Sink) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithQoS sets the publish QoS.
func WithQoS(qos byte) SinkOption {
	return func(s *Sink) {
		if qos <= 2 {
			s.qos = qos
		}
	}
}

// WithPublishTimeout bounds how long a publish may wait for the broker.
func WithPublishTimeout(timeout time.Duration) SinkOption {
	return func(s *Sink) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// NewSink constructs a sink on a connected client.
func NewSink(client paho.Client, opts ...SinkOption) (*Sink, error) {
	if client == nil {
		return nil, errors.New("mqtt sink: nil client")
	}
	s := &Sink{client: client, prefix: DefaultTopicPrefix, qos: 1, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type controlPayload struct {
	On         bool      `json:"on"`
	Brightness *int      `json:"brightness,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// Topic returns the control topic of an actuator.
func (s *Sink) Topic(sourceID string, actuator automation.Actuator) string {
	return fmt.Sprintf("%s/%s/controls/%s", s.prefix, sourceID, actuator)
}

// SetActuator publishes the retained desired state of the actuator.
func (s *Sink) SetActuator(ctx context.Context, cmd automation.Command) error {
	payload := controlPayload{On: cmd.On, Reason: cmd.Reason, At: cmd.At.UTC()}
	if cmd.Actuator == automation.ActuatorLight {
		brightness := cmd.Brightness
		payload.Brightness = &brightness
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	token := s.client.Publish(s.Topic(cmd.SourceID, cmd.Actuator), s.qos, true, body)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.timeout):
		return ErrPublishTimeout
	}
}
