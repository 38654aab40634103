package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	alerts "terrarium-cloud/internal/alerts/domain"
	health "terrarium-cloud/internal/health/domain"
	telemetry "terrarium-cloud/internal/telemetry/domain"
)

func sampleRecord() alerts.AlertRecord {
	return alerts.AlertRecord{
		ID:        "alert-1",
		Type:      telemetry.MetricHumidity,
		Severity:  health.SeverityDanger,
		Title:     "Humidity DANGEROUSLY LOW",
		Message:   "CRITICAL: Humidity is 40%, below the critical minimum of 50%",
		Action:    "Mist heavily and close ventilation",
		Value:     40,
		Threshold: 50,
		Ecosystem: "Tropical Understory",
		SourceID:  "tank-1",
		CreatedAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestTemplateSubjects(t *testing.T) {
	tpl, err := NewTemplate("", "")
	if err != nil {
		t.Fatalf("new template: %v", err)
	}
	msg, err := tpl.Render(sampleRecord())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if msg.Subject != "CRITICAL ALERT: humidity issue in Tropical Understory terrarium" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	for _, expected := range []string{"Terrarium: tank-1", "Current Value: 40.00", "Threshold: 50.00", "Recommended Action: Mist heavily"} {
		if !strings.Contains(msg.Body, expected) {
			t.Fatalf("expected body to include %q, got %s", expected, msg.Body)
		}
	}

	warning := sampleRecord()
	warning.Severity = health.SeverityWarning
	msg, err = tpl.Render(warning)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if msg.Subject != "Warning: humidity issue in your Tropical Understory terrarium" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
}

func TestWebhookChannelPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	notifier, err := NewNotifier(channel, nil)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	notifier.Notify(context.Background(), sampleRecord())

	select {
	case payload := <-payloadCh:
		if !strings.HasPrefix(payload.Subject, "CRITICAL ALERT") {
			t.Fatalf("unexpected subject %q", payload.Subject)
		}
		if payload.Alert.ID != "alert-1" {
			t.Fatalf("expected alert id in payload, got %q", payload.Alert.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for webhook payload")
	}
}

type recordingChannel struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (r *recordingChannel) Name() string { return "recording" }

func (r *recordingChannel) Send(_ context.Context, msg Message, _ alerts.AlertRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingChannel) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestNotifierDedupeWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	notifier, err := NewNotifier(channel, nil, WithClock(clock), WithDedupeWindow(30*time.Minute))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	record := sampleRecord()
	notifier.Notify(context.Background(), record)
	clock.Add(5 * time.Minute)
	notifier.Notify(context.Background(), record)
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected 1 notification during dedupe window, got %d", got)
	}

	record.Value = 38
	notifier.Notify(context.Background(), record)
	if got := channel.Count(); got != 2 {
		t.Fatalf("expected notification when content changes, got %d", got)
	}

	clock.Add(31 * time.Minute)
	notifier.Notify(context.Background(), record)
	if got := channel.Count(); got != 3 {
		t.Fatalf("expected notification after window, got %d", got)
	}
}

func TestNotifierRetriesAfterFailedSend(t *testing.T) {
	channel := &recordingChannel{err: errors.New("down")}
	notifier, err := NewNotifier(channel, nil, WithDedupeWindow(time.Hour))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	notifier.Notify(context.Background(), sampleRecord())

	channel.mu.Lock()
	channel.err = nil
	channel.mu.Unlock()
	notifier.Notify(context.Background(), sampleRecord())
	if got := channel.Count(); got != 1 {
		t.Fatalf("failed send must not mark content as sent, got %d", got)
	}
}

type countingNotifier struct{ n int }

func (c *countingNotifier) Notify(context.Context, alerts.AlertRecord) { c.n++ }

func TestMultiNotifierFansOut(t *testing.T) {
	a, b := &countingNotifier{}, &countingNotifier{}
	NewMultiNotifier(a, nil, b).Notify(context.Background(), sampleRecord())
	if a.n != 1 || b.n != 1 {
		t.Fatalf("expected both notifiers called, got %d %d", a.n, b.n)
	}
}

type memoryWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *memoryWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memoryWriter) Close() error { return nil }

func TestKafkaPublisherKeysBySource(t *testing.T) {
	writer := &memoryWriter{}
	publisher, err := NewKafkaPublisher(writer, nil)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	publisher.Notify(context.Background(), sampleRecord())
	if len(writer.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(writer.msgs))
	}
	msg := writer.msgs[0]
	if string(msg.Key) != "tank-1" {
		t.Fatalf("unexpected key %q", msg.Key)
	}
	var decoded alerts.AlertRecord
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Type != telemetry.MetricHumidity || decoded.Severity != health.SeverityDanger {
		t.Fatalf("unexpected record %+v", decoded)
	}
}

func TestNewKafkaWriterDefaults(t *testing.T) {
	w := NewKafkaWriter([]string{"localhost:9092"}, "")
	if w.Topic != DefaultAlertTopic {
		t.Fatalf("unexpected topic %q", w.Topic)
	}
}
