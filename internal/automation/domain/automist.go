package automation

import (
	"fmt"
	"time"
)

const (
	DefaultMistDuration = 30 * time.Second
	DefaultMistCooldown = 300 * time.Second
)

// MistConfig holds the mist timers.
type MistConfig struct {
	Duration time.Duration
	Cooldown time.Duration
}

// DefaultMistConfig returns the default timers.
func DefaultMistConfig() MistConfig {
	return MistConfig{Duration: DefaultMistDuration, Cooldown: DefaultMistCooldown}
}

// AutoMist is the idle, misting, cooldown state machine of one source. The
// timers are the source of truth; emitted commands are best effort.
type AutoMist struct {
	sourceID       string
	cfg            MistConfig
	enabled        bool
	phase          Phase
	lastActivation time.Time
	activeUntil    time.Time
	cooldownUntil  time.Time
	reason         string
}

// NewAutoMist creates an idle, disabled machine.
func NewAutoMist(sourceID string, cfg MistConfig) *AutoMist {
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultMistDuration
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	return &AutoMist{sourceID: sourceID, cfg: cfg, phase: PhaseIdle}
}

// Phase returns the current phase.
func (m *AutoMist) Phase() Phase { return m.phase }

// Advance expires the misting and cooldown timers at now.
func (m *AutoMist) Advance(now time.Time) []Command {
	var out []Command
	if m.phase == PhaseMisting && !now.Before(m.activeUntil) {
		m.phase = PhaseCooldown
		out = append(out, m.command(m.activeUntil, false, "mist duration elapsed"))
	}
	if m.phase == PhaseCooldown && !now.Before(m.cooldownUntil) {
		m.phase = PhaseIdle
	}
	return out
}

// Observe advances the timers and starts misting when enabled, idle and
// moisture is below threshold.
func (m *AutoMist) Observe(now time.Time, moisture, threshold float64) []Command {
	out := m.Advance(now)
	if !m.enabled || m.phase != PhaseIdle || moisture >= threshold {
		return out
	}
	reason := fmt.Sprintf("moisture %.1f%% below %.1f%%", moisture, threshold)
	if cmd, err := m.activate(now, reason); err == nil {
		out = append(out, cmd)
	}
	return out
}

// Trigger starts a manual mist. It is allowed only from idle.
func (m *AutoMist) Trigger(now time.Time) ([]Command, error) {
	out := m.Advance(now)
	cmd, err := m.activate(now, "manual trigger")
	if err != nil {
		return out, err
	}
	return append(out, cmd), nil
}

// SetEnabled toggles automatic misting. Turning it off while misting stops
// the humidifier and returns to idle without a cooldown. Re-applying the
// current flag is a no-op, so a manual mist runs its full duration while
// automation stays off.
func (m *AutoMist) SetEnabled(now time.Time, enabled bool) []Command {
	out := m.Advance(now)
	wasEnabled := m.enabled
	m.enabled = enabled
	if enabled || !wasEnabled || m.phase != PhaseMisting {
		return out
	}
	m.phase = PhaseIdle
	m.activeUntil = time.Time{}
	m.cooldownUntil = time.Time{}
	return append(out, m.command(now, false, "automation disabled"))
}

// Enabled reports whether automatic misting is on.
func (m *AutoMist) Enabled() bool { return m.enabled }

// State returns a snapshot.
func (m *AutoMist) State() State {
	s := State{
		SourceID:       m.sourceID,
		Kind:           KindAutoMist,
		Enabled:        m.enabled,
		Active:         m.phase == PhaseMisting,
		Phase:          m.phase,
		LastActivation: timePtr(m.lastActivation),
		Reason:         m.reason,
	}
	if m.phase == PhaseMisting {
		s.ActiveUntil = timePtr(m.activeUntil)
	}
	if m.phase != PhaseIdle {
		s.CooldownUntil = timePtr(m.cooldownUntil)
	}
	return s
}

func (m *AutoMist) activate(now time.Time, reason string) (Command, error) {
	switch {
	case m.phase == PhaseMisting:
		return Command{}, ErrAlreadyMisting
	case m.phase == PhaseCooldown, now.Before(m.cooldownUntil):
		return Command{}, ErrCoolingDown
	}
	m.phase = PhaseMisting
	m.lastActivation = now
	m.activeUntil = now.Add(m.cfg.Duration)
	m.cooldownUntil = m.activeUntil.Add(m.cfg.Cooldown)
	m.reason = reason
	return m.command(now, true, reason), nil
}

func (m *AutoMist) command(at time.Time, on bool, reason string) Command {
	return Command{SourceID: m.sourceID, Actuator: ActuatorHumidifier, On: on, Reason: reason, At: at}
}
