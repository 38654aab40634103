package mqtt

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"terrarium-cloud/internal/observability/metrics"
	"terrarium-cloud/internal/telemetry/application"
	"terrarium-cloud/internal/telemetry/application/events"
)

// DefaultTopic matches every source's reading topic.
const DefaultTopic = "terrarium/+/readings"

var ErrSubscribeTimeout = errors.New("mqtt subscriber: subscribe timeout")

// ClientConfig holds broker connection settings.
type ClientConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Timeout  time.Duration
}

// Connect dials the broker and waits for the connection.
func Connect(cfg ClientConfig, logger *log.Logger) (paho.Client, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: empty broker url")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			if logger != nil {
				logger.Printf("mqtt: connection lost err=%v", err)
			}
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, errors.New("mqtt: connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, err
	}
	return client, nil
}

// Subscriber feeds readings published on terrarium/{source}/readings into
// the intake.
type Subscriber struct {
	client  paho.Client
	intake  *application.Intake
	topic   string
	qos     byte
	timeout time.Duration
	logger  *log.Logger
}

// SubscriberOption configures the subscriber.
type SubscriberOption func(*Subscriber)

// WithTopic overrides the subscription filter.
func WithTopic(topic string) SubscriberOption {
	return func(s *Subscriber) {
		if topic != "" {
			s.topic = topic
		}
	}
}

// WithQoS sets the subscription QoS.
func WithQoS(qos byte) SubscriberOption {
	return func(s *Subscriber) {
		if qos <= 2 {
			s.qos = qos
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) SubscriberOption {
	return func(s *Subscriber) {
		s.logger = logger
	}
}

// NewSubscriber constructs a subscriber on a connected client.
func NewSubscriber(client paho.Client, intake *application.Intake, opts ...SubscriberOption) (*Subscriber, error) {
	if client == nil {
		return nil, errors.New("mqtt subscriber: nil client")
	}
	if intake == nil {
		return nil, errors.New("mqtt subscriber: nil intake")
	}
	s := &Subscriber{client: client, intake: intake, topic: DefaultTopic, qos: 1, timeout: 10 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Run subscribes and blocks until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	token := s.client.Subscribe(s.topic, s.qos, func(_ paho.Client, msg paho.Message) {
		s.handle(ctx, msg.Topic(), msg.Payload())
	})
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return err
		}
	case <-ctx.Done():
		return nil
	case <-time.After(s.timeout):
		return ErrSubscribeTimeout
	}
	s.logf("mqtt subscriber: subscribed topic=%s", s.topic)

	<-ctx.Done()
	s.client.Unsubscribe(s.topic).WaitTimeout(s.timeout)
	return nil
}

func (s *Subscriber) handle(ctx context.Context, topic string, payload []byte) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveIngest(result, time.Since(start))
	}()

	sourceID := SourceFromTopic(topic)
	readings, err := application.DecodeReadings(payload, sourceID, s.intake.Now())
	if err != nil {
		result = metrics.ResultError
		metrics.IncIngestError("decode")
		s.logf("mqtt subscriber: invalid payload topic=%s err=%v", topic, err)
		return
	}
	for i := range readings {
		if sourceID != "" {
			readings[i].SourceID = sourceID
		}
	}
	if _, err := s.intake.Accept(ctx, readings, events.TransportMQTT); err != nil {
		if errors.Is(err, application.ErrRateLimited) {
			result = metrics.ResultError
			metrics.IncIngestError("rate_limited")
		} else {
			metrics.IncIngestError("pipeline")
		}
		s.logf("mqtt subscriber: accept error topic=%s err=%v", topic, err)
	}
}

// SourceFromTopic extracts the source segment of {prefix}/{source}/readings.
func SourceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[len(parts)-1] != "readings" {
		return ""
	}
	return parts[len(parts)-2]
}

func (s *Subscriber) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
