package application

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestPresenceConnectedWindow(t *testing.T) {
	clock := &fakeClock{now: received}
	p := NewPresence(WithPresenceClock(clock), WithPresenceTimeout(time.Minute))

	assert.False(t, p.Connected("tank-1"))
	p.Mark("tank-1")
	assert.True(t, p.Connected("tank-1"))

	clock.Advance(time.Minute)
	assert.True(t, p.Connected("tank-1"))
	clock.Advance(time.Second)
	assert.False(t, p.Connected("tank-1"))

	p.Mark(" ")
	_, ok := p.LastSeen("")
	assert.False(t, ok)
}

func TestLatestStoreKeepsNewest(t *testing.T) {
	s := NewLatestStore()
	newer := Snapshot{}
	newer.Reading.SourceID = "tank-1"
	newer.Reading.Timestamp = received
	older := newer
	older.Reading.Timestamp = received.Add(-time.Minute)
	older.Reading.Temperature = 99

	assert.True(t, s.Put(newer))
	assert.False(t, s.Put(older))
	got, ok := s.Get("tank-1")
	assert.True(t, ok)
	assert.Equal(t, 0.0, got.Reading.Temperature)

	_, ok = s.Get("tank-2")
	assert.False(t, ok)
}
