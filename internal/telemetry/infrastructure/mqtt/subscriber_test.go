package mqtt

import (
	"context"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terrarium-cloud/internal/eventing"
	"terrarium-cloud/internal/telemetry/application"
	"terrarium-cloud/internal/telemetry/application/events"
)

type doneToken struct{ done chan struct{} }

func finishedToken() *doneToken {
	t := &doneToken{done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return nil }

type subscribeClient struct {
	paho.Client
	subscribed   chan string
	callback     paho.MessageHandler
	unsubscribed []string
}

func (c *subscribeClient) Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token {
	c.callback = callback
	c.subscribed <- topic
	return finishedToken()
}

func (c *subscribeClient) Unsubscribe(topics ...string) paho.Token {
	c.unsubscribed = append(c.unsubscribed, topics...)
	return finishedToken()
}

type message struct {
	paho.Message
	topic   string
	payload []byte
}

func (m message) Topic() string   { return m.topic }
func (m message) Payload() []byte { return m.payload }

func TestSourceFromTopic(t *testing.T) {
	assert.Equal(t, "tank-1", SourceFromTopic("terrarium/tank-1/readings"))
	assert.Equal(t, "", SourceFromTopic("terrarium/tank-1/controls/light"))
	assert.Equal(t, "", SourceFromTopic("readings"))
}

func TestSubscriberPublishesReadingsFromTopic(t *testing.T) {
	bus := eventing.NewInMemoryBus()
	got := make(chan events.ReadingReceived, 4)
	eventing.Handle(bus, func(ctx context.Context, evt events.ReadingReceived) error {
		got <- evt
		return nil
	})
	intake, err := application.NewIntake(bus)
	require.NoError(t, err)

	client := &subscribeClient{subscribed: make(chan string, 1)}
	sub, err := NewSubscriber(client, intake)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	select {
	case topic := <-client.subscribed:
		assert.Equal(t, DefaultTopic, topic)
	case <-time.After(time.Second):
		t.Fatal("subscribe not called")
	}

	payload := []byte(`{"source_id":"spoofed","temperature":27,"humidity":80,"moisture":50,"lux":5000,"timestamp":1772366400000}`)
	client.callback(client, message{topic: "terrarium/tank-7/readings", payload: payload})
	client.callback(client, message{topic: "terrarium/tank-7/readings", payload: []byte(`garbage`)})

	evt := <-got
	assert.Equal(t, "tank-7", evt.Reading.SourceID)
	assert.Equal(t, events.TransportMQTT, evt.Transport)
	assert.Len(t, got, 0)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{DefaultTopic}, client.unsubscribed)
}
