package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"log"
	"sync"
	"time"

	alerts "terrarium-cloud/internal/alerts/domain"
	"terrarium-cloud/internal/observability/metrics"
)

// Channel delivers a rendered message.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message, record alerts.AlertRecord) error
}

// Clock provides time for dedupe.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders alerts and sends them through a channel, dropping
// identical content repeated within the dedupe window.
type Notifier struct {
	channel      Channel
	template     *Template
	clock        Clock
	logger       *log.Logger
	dedupeWindow time.Duration

	mu   sync.Mutex
	sent map[string]sendRecord
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewNotifier constructs a notifier.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("alert notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("", "")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		channel:  channel,
		template: template,
		clock:    systemClock{},
		logger:   log.Default(),
		sent:     make(map[string]sendRecord),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements the dispatcher notifier.
func (n *Notifier) Notify(ctx context.Context, record alerts.AlertRecord) {
	if n == nil || n.channel == nil {
		return
	}
	msg, err := n.template.Render(record)
	if err != nil {
		n.logger.Printf("alert notify: render source=%s err=%v", record.SourceID, err)
		return
	}
	key := record.SourceID + "|" + string(record.Type)
	hash := hashContent(msg.Subject + "\n" + msg.Body)
	if !n.shouldSend(key, hash) {
		return
	}
	if err := n.channel.Send(ctx, msg, record); err != nil {
		metrics.IncAlertDelivery(n.channel.Name(), metrics.ResultError)
		n.logger.Printf("alert notify: channel=%s source=%s err=%v", n.channel.Name(), record.SourceID, err)
		return
	}
	metrics.IncAlertDelivery(n.channel.Name(), metrics.ResultSuccess)
	n.markSent(key, hash)
}

func (n *Notifier) shouldSend(key, hash string) bool {
	if n.dedupeWindow <= 0 {
		return true
	}
	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	return record.hash != hash || n.clock.Now().UTC().Sub(record.at) >= n.dedupeWindow
}

func (n *Notifier) markSent(key, hash string) {
	n.mu.Lock()
	n.sent[key] = sendRecord{at: n.clock.Now().UTC(), hash: hash}
	n.mu.Unlock()
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
