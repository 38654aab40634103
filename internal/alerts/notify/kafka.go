package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/segmentio/kafka-go"

	alerts "terrarium-cloud/internal/alerts/domain"
	"terrarium-cloud/internal/observability/metrics"
)

// DefaultAlertTopic carries every emitted alert record.
const DefaultAlertTopic = "terrarium.alerts"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher appends alert records to a topic keyed by source id.
type KafkaPublisher struct {
	writer messageWriter
	logger *log.Logger
}

// NewKafkaWriter builds a synchronous writer for brokers.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	if topic == "" {
		topic = DefaultAlertTopic
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

// NewKafkaPublisher constructs a publisher over writer.
func NewKafkaPublisher(writer messageWriter, logger *log.Logger) (*KafkaPublisher, error) {
	if writer == nil {
		return nil, errors.New("kafka publisher: nil writer")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &KafkaPublisher{writer: writer, logger: logger}, nil
}

// Notify writes the record. Failures are logged.
func (p *KafkaPublisher) Notify(ctx context.Context, record alerts.AlertRecord) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(record)
	if err != nil {
		p.logger.Printf("kafka publisher: marshal id=%s err=%v", record.ID, err)
		return
	}
	msg := kafka.Message{
		Key:   []byte(record.SourceID),
		Value: payload,
		Time:  record.CreatedAt,
		Headers: []kafka.Header{
			{Key: "severity", Value: []byte(record.Severity)},
			{Key: "type", Value: []byte(record.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		metrics.IncAlertDelivery("kafka", metrics.ResultError)
		p.logger.Printf("kafka publisher: write id=%s source=%s err=%v", record.ID, record.SourceID, err)
		return
	}
	metrics.IncAlertDelivery("kafka", metrics.ResultSuccess)
}

// Close closes the writer.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
