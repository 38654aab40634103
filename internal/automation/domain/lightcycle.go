package automation

import (
	"fmt"
	"time"
)

// NightBrightness is fixed. It is not user configurable.
const NightBrightness = 0

// TimeOfDay is minutes since midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSchedule, value)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Schedule is the daylight window. Start is inclusive, End exclusive; a
// window with End before Start wraps past midnight.
type Schedule struct {
	Start TimeOfDay
	End   TimeOfDay
}

// DefaultSchedule is 06:30 to 18:00.
var DefaultSchedule = Schedule{Start: 6*60 + 30, End: 18 * 60}

// ParseSchedule parses start and end "HH:MM" values.
func ParseSchedule(start, end string) (Schedule, error) {
	s, err := ParseTimeOfDay(start)
	if err != nil {
		return Schedule{}, err
	}
	e, err := ParseTimeOfDay(end)
	if err != nil {
		return Schedule{}, err
	}
	if s == e {
		return Schedule{}, fmt.Errorf("%w: empty window %s-%s", ErrInvalidSchedule, start, end)
	}
	return Schedule{Start: s, End: e}, nil
}

// IsDay reports whether t falls inside the window, using t's location.
func (s Schedule) IsDay(t time.Time) bool {
	now := TimeOfDay(t.Hour()*60 + t.Minute())
	if s.Start < s.End {
		return now >= s.Start && now < s.End
	}
	return now >= s.Start || now < s.End
}

// LightCycle is the day/night brightness loop of one source.
type LightCycle struct {
	sourceID   string
	schedule   Schedule
	loc        *time.Location
	enabled    bool
	phase      Phase
	brightness int
}

// NewLightCycle creates a disabled loop evaluated in loc.
func NewLightCycle(sourceID string, schedule Schedule, loc *time.Location) *LightCycle {
	if loc == nil {
		loc = time.UTC
	}
	return &LightCycle{sourceID: sourceID, schedule: schedule, loc: loc, phase: PhaseNight}
}

// SetEnabled toggles the loop. A disabled loop emits nothing.
func (l *LightCycle) SetEnabled(enabled bool) { l.enabled = enabled }

// Enabled reports whether the loop drives the light.
func (l *LightCycle) Enabled() bool { return l.enabled }

// Tick classifies now and returns the brightness command when enabled.
func (l *LightCycle) Tick(now time.Time, daylight int) (Command, bool) {
	local := now.In(l.loc)
	if l.schedule.IsDay(local) {
		l.phase = PhaseDay
	} else {
		l.phase = PhaseNight
		l.brightness = NightBrightness
	}
	if !l.enabled {
		return Command{}, false
	}
	target := NightBrightness
	if l.phase == PhaseDay {
		target = clampBrightness(daylight)
	}
	l.brightness = target
	return Command{
		SourceID:   l.sourceID,
		Actuator:   ActuatorLight,
		On:         target > 0,
		Brightness: target,
		Reason:     fmt.Sprintf("%s schedule %s-%s", l.phase, l.schedule.Start, l.schedule.End),
		At:         now,
	}, true
}

// State returns a snapshot.
func (l *LightCycle) State() State {
	return State{
		SourceID:   l.sourceID,
		Kind:       KindLightCycle,
		Enabled:    l.enabled,
		Active:     l.enabled && l.brightness > 0,
		Phase:      l.phase,
		Brightness: l.brightness,
	}
}

func clampBrightness(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return v
}
