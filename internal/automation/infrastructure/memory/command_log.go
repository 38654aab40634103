package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	automation "terrarium-cloud/internal/automation/domain"
)

// CommandLog keeps actuator write records in memory.
type CommandLog struct {
	mu      sync.Mutex
	records []automation.CommandRecord
}

// NewCommandLog constructs a log.
func NewCommandLog() *CommandLog {
	return &CommandLog{}
}

// Append stores a record.
func (l *CommandLog) Append(ctx context.Context, record automation.CommandRecord) error {
	_ = ctx
	l.mu.Lock()
	l.records = append(l.records, record)
	l.mu.Unlock()
	return nil
}

// List returns records of sourceID within [from, to) in time order. Zero
// bounds are open.
func (l *CommandLog) List(ctx context.Context, sourceID string, from, to time.Time) ([]automation.CommandRecord, error) {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []automation.CommandRecord
	for _, r := range l.records {
		if r.Command.SourceID != sourceID {
			continue
		}
		if !from.IsZero() && r.Command.At.Before(from) {
			continue
		}
		if !to.IsZero() && !r.Command.At.Before(to) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Command.At.Before(out[j].Command.At) })
	return out, nil
}

// DeleteBefore drops records older than cutoff.
func (l *CommandLog) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.records[:0]
	var deleted int64
	for _, r := range l.records {
		if r.Command.At.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	l.records = kept
	return deleted, nil
}
