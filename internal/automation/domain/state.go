package automation

import "time"

// Phase is the current state of an automation loop.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseMisting  Phase = "misting"
	PhaseCooldown Phase = "cooldown"
	PhaseDay      Phase = "day"
	PhaseNight    Phase = "night"
)

// State is the externally visible controller state of one loop.
type State struct {
	SourceID       string     `json:"source_id"`
	Kind           Kind       `json:"kind"`
	Enabled        bool       `json:"enabled"`
	Active         bool       `json:"active"`
	Phase          Phase      `json:"phase"`
	LastActivation *time.Time `json:"last_activation"`
	CooldownUntil  *time.Time `json:"cooldown_until"`
	ActiveUntil    *time.Time `json:"active_until,omitempty"`
	Brightness     int        `json:"brightness,omitempty"`
	Reason         string     `json:"reason,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
