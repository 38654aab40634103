package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ecosystem "terrarium-cloud/internal/ecosystem/domain"
)

var (
	ErrNotFound           = errors.New("profiles: not found")
	ErrEmptySourceID      = errors.New("profiles: empty source id")
	ErrInvalidBrightness  = errors.New("profiles: daylight brightness must be within 0..255")
	ErrInvalidTriggerMode = errors.New("profiles: invalid trigger mode")
)

// TriggerMode selects which moisture bound starts a mist cycle.
type TriggerMode string

const (
	TriggerModeMin         TriggerMode = "min"
	TriggerModeCriticalLow TriggerMode = "critical_low"
)

// Valid reports whether the mode is known.
func (m TriggerMode) Valid() bool {
	return m == TriggerModeMin || m == TriggerModeCriticalLow
}

// MoistureThreshold returns the bound of r the mode triggers below.
func (m TriggerMode) MoistureThreshold(r ecosystem.MetricRange) float64 {
	if m == TriggerModeCriticalLow {
		return r.CriticalLow
	}
	return r.Min
}

const (
	MaxBrightness     = 255
	DefaultBrightness = 200
)

// AutomationSettings are the user controlled automation flags of a source.
type AutomationSettings struct {
	AutoMistEnabled    bool        `json:"auto_mist_enabled" yaml:"auto_mist_enabled"`
	LightCycleEnabled  bool        `json:"light_cycle_enabled" yaml:"light_cycle_enabled"`
	DaylightBrightness int         `json:"daylight_brightness" yaml:"daylight_brightness"`
	TriggerMode        TriggerMode `json:"trigger_mode" yaml:"trigger_mode"`
}

// DefaultAutomationSettings has everything off with sensible values.
func DefaultAutomationSettings() AutomationSettings {
	return AutomationSettings{DaylightBrightness: DefaultBrightness, TriggerMode: TriggerModeMin}
}

// Validate checks the settings.
func (s AutomationSettings) Validate() error {
	if s.DaylightBrightness < 0 || s.DaylightBrightness > MaxBrightness {
		return ErrInvalidBrightness
	}
	if !s.TriggerMode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTriggerMode, s.TriggerMode)
	}
	return nil
}

// Profile is the per-source user configuration. Automation is nil until the
// user configures it.
type Profile struct {
	SourceID   string              `json:"source_id"`
	OwnerID    string              `json:"owner_id"`
	Biome      ecosystem.Biome     `json:"biome"`
	Automation *AutomationSettings `json:"automation,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// Validate checks profile invariants.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.SourceID) == "" {
		return ErrEmptySourceID
	}
	if !p.Biome.Valid() {
		return fmt.Errorf("%w: %q", ecosystem.ErrUnknownBiome, p.Biome)
	}
	if p.Automation != nil {
		return p.Automation.Validate()
	}
	return nil
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	if p.Automation != nil {
		settings := *p.Automation
		c.Automation = &settings
	}
	return &c
}

// Repository persists profiles.
type Repository interface {
	Get(ctx context.Context, sourceID string) (*Profile, error)
	List(ctx context.Context) ([]Profile, error)
	Save(ctx context.Context, profile *Profile) error
}
