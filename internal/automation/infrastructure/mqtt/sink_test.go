package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	automation "terrarium-cloud/internal/automation/domain"
)

type doneToken struct {
	err  error
	done chan struct{}
}

func newToken(err error, finished bool) *doneToken {
	t := &doneToken{err: err, done: make(chan struct{})}
	if finished {
		close(t.done)
	}
	return t
}

func (t *doneToken) Wait() bool                     { <-t.done; return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

type publishClient struct {
	paho.Client
	topic    string
	retained bool
	payload  []byte
	token    *doneToken
}

func (c *publishClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.topic = topic
	c.retained = retained
	c.payload = payload.([]byte)
	return c.token
}

func TestSinkPublishesLightBrightness(t *testing.T) {
	client := &publishClient{token: newToken(nil, true)}
	sink, err := NewSink(client)
	require.NoError(t, err)

	cmd := automation.Command{SourceID: "tank-1", Actuator: automation.ActuatorLight, On: true, Brightness: 180, At: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	require.NoError(t, sink.SetActuator(context.Background(), cmd))
	assert.Equal(t, "terrarium/tank-1/controls/light", client.topic)
	assert.True(t, client.retained)

	var body map[string]any
	require.NoError(t, json.Unmarshal(client.payload, &body))
	assert.Equal(t, 180.0, body["brightness"])
	assert.Equal(t, true, body["on"])
}

func TestSinkHumidifierOmitsBrightness(t *testing.T) {
	client := &publishClient{token: newToken(nil, true)}
	sink, err := NewSink(client, WithTopicPrefix("lab"))
	require.NoError(t, err)

	require.NoError(t, sink.SetActuator(context.Background(), automation.Command{SourceID: "tank-2", Actuator: automation.ActuatorHumidifier}))
	assert.Equal(t, "lab/tank-2/controls/humidifier", client.topic)
	assert.NotContains(t, string(client.payload), "brightness")
}

func TestSinkReportsBrokerErrorAndTimeout(t *testing.T) {
	brokerErr := errors.New("not connected")
	client := &publishClient{token: newToken(brokerErr, true)}
	sink, err := NewSink(client)
	require.NoError(t, err)
	assert.ErrorIs(t, sink.SetActuator(context.Background(), automation.Command{SourceID: "tank-1", Actuator: automation.ActuatorLight}), brokerErr)

	client.token = newToken(nil, false)
	sink, err = NewSink(client, WithPublishTimeout(10*time.Millisecond))
	require.NoError(t, err)
	assert.ErrorIs(t, sink.SetActuator(context.Background(), automation.Command{SourceID: "tank-1", Actuator: automation.ActuatorLight}), ErrPublishTimeout)
}
