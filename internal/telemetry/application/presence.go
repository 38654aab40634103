package application

import (
	"strings"
	"sync"
	"time"
)

// DefaultPresenceTimeout is how long a source counts as connected after its
// last reading.
const DefaultPresenceTimeout = 2 * time.Minute

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Presence tracks when each source last delivered a reading.
type Presence struct {
	mu       sync.RWMutex
	lastSeen map[string]time.Time
	timeout  time.Duration
	clock    Clock
}

// PresenceOption customizes the tracker.
type PresenceOption func(*Presence)

// WithPresenceTimeout sets the connected window.
func WithPresenceTimeout(timeout time.Duration) PresenceOption {
	return func(p *Presence) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithPresenceClock overrides the clock.
func WithPresenceClock(clock Clock) PresenceOption {
	return func(p *Presence) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// NewPresence constructs a tracker.
func NewPresence(opts ...PresenceOption) *Presence {
	p := &Presence{
		lastSeen: make(map[string]time.Time),
		timeout:  DefaultPresenceTimeout,
		clock:    systemClock{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Mark records that sourceID was heard from at the current clock time.
// Device timestamps are not trusted for liveness.
func (p *Presence) Mark(sourceID string) {
	sourceID = strings.TrimSpace(sourceID)
	if p == nil || sourceID == "" {
		return
	}
	now := p.clock.Now()
	p.mu.Lock()
	if now.After(p.lastSeen[sourceID]) {
		p.lastSeen[sourceID] = now
	}
	p.mu.Unlock()
}

// LastSeen returns the last time sourceID was heard from.
func (p *Presence) LastSeen(sourceID string) (time.Time, bool) {
	if p == nil {
		return time.Time{}, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	at, ok := p.lastSeen[sourceID]
	return at, ok
}

// Connected reports whether sourceID delivered a reading within the timeout.
func (p *Presence) Connected(sourceID string) bool {
	at, ok := p.LastSeen(sourceID)
	if !ok {
		return false
	}
	return p.clock.Now().Sub(at) <= p.timeout
}
