package memory

import (
	"context"
	"log"
	"sync"

	automation "terrarium-cloud/internal/automation/domain"
)

// Recorder is an actuator sink for deployments without a broker. It logs and
// keeps the last command per source and actuator.
type Recorder struct {
	mu     sync.Mutex
	last   map[string]automation.Command
	logger *log.Logger
}

// NewRecorder constructs a recorder. A nil logger silences it.
func NewRecorder(logger *log.Logger) *Recorder {
	return &Recorder{last: make(map[string]automation.Command), logger: logger}
}

// SetActuator records cmd.
func (r *Recorder) SetActuator(ctx context.Context, cmd automation.Command) error {
	_ = ctx
	r.mu.Lock()
	r.last[cmd.SourceID+"/"+string(cmd.Actuator)] = cmd
	r.mu.Unlock()
	if r.logger != nil {
		r.logger.Printf("actuator: source=%s actuator=%s on=%t brightness=%d reason=%s",
			cmd.SourceID, cmd.Actuator, cmd.On, cmd.Brightness, cmd.Reason)
	}
	return nil
}

// Last returns the most recent command for an actuator of a source.
func (r *Recorder) Last(sourceID string, actuator automation.Actuator) (automation.Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.last[sourceID+"/"+string(actuator)]
	return cmd, ok
}
