package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	alerts "terrarium-cloud/internal/alerts/domain"
)

// WebhookChannel posts alert messages to an HTTP endpoint.
type WebhookChannel struct {
	url    string
	client *http.Client
}

type webhookPayload struct {
	Subject string             `json:"subject"`
	Body    string             `json:"body"`
	Alert   alerts.AlertRecord `json:"alert"`
}

// NewWebhookChannel constructs a channel.
func NewWebhookChannel(url string) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	return &WebhookChannel{url: url, client: &http.Client{Timeout: 10 * time.Second}}, nil
}

// SetTimeout bounds each delivery.
func (c *WebhookChannel) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.client.Timeout = timeout
	}
}

// Name identifies the channel in metrics.
func (c *WebhookChannel) Name() string { return "webhook" }

// Send posts a message.
func (c *WebhookChannel) Send(ctx context.Context, msg Message, record alerts.AlertRecord) error {
	body, err := json.Marshal(webhookPayload{Subject: msg.Subject, Body: msg.Body, Alert: record})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook channel: status %d", resp.StatusCode)
	}
	return nil
}
