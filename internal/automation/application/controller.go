package application

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	automation "terrarium-cloud/internal/automation/domain"
	"terrarium-cloud/internal/observability/metrics"
	profilesapp "terrarium-cloud/internal/profiles/application"
	profiles "terrarium-cloud/internal/profiles/domain"
	telemetry "terrarium-cloud/internal/telemetry/domain"
)

// ActuatorSink writes actuator state to the device.
type ActuatorSink interface {
	SetActuator(ctx context.Context, cmd automation.Command) error
}

// CommandLog stores actuator write attempts.
type CommandLog interface {
	Append(ctx context.Context, record automation.CommandRecord) error
	List(ctx context.Context, sourceID string, from, to time.Time) ([]automation.CommandRecord, error)
}

// Profiles resolves and updates source profiles.
type Profiles interface {
	Resolve(ctx context.Context, sourceID string) (profilesapp.Resolved, error)
	List(ctx context.Context) ([]profiles.Profile, error)
	SetAutoMistEnabled(ctx context.Context, sourceID string, enabled bool) (*profiles.Profile, error)
	SetLightCycleEnabled(ctx context.Context, sourceID string, enabled bool) (*profiles.Profile, error)
}

// Presence reports whether a source is connected.
type Presence interface {
	Connected(sourceID string) bool
}

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Snapshot is the combined control view of one source.
type Snapshot struct {
	SourceID           string                   `json:"source_id"`
	Restriction        automation.Restriction   `json:"restriction"`
	Mist               automation.State         `json:"mist"`
	Light              automation.State         `json:"light"`
	Reported           automation.ReportedState `json:"reported"`
	DaylightBrightness int                      `json:"daylight_brightness"`
	NightBrightness    int                      `json:"night_brightness"`
}

type source struct {
	mu       sync.Mutex
	mist     *automation.AutoMist
	light    *automation.LightCycle
	reported automation.ReportedState

	// last light command handed to the sink, used for write throttling
	lightSent   bool
	lightTarget int
	lightAt     time.Time
}

// DefaultLightInterval is the minimum gap between repeated light writes.
const DefaultLightInterval = time.Minute

// Controller owns the automation loops of every source.
type Controller struct {
	sink     ActuatorSink
	log      CommandLog
	profiles Profiles
	presence Presence
	clock    Clock
	logger   *log.Logger
	mistCfg  automation.MistConfig
	schedule automation.Schedule
	location *time.Location
	lightGap time.Duration

	mu      sync.Mutex
	sources map[string]*source
}

// Option configures the controller.
type Option func(*Controller)

// WithMistConfig overrides the mist timers.
func WithMistConfig(cfg automation.MistConfig) Option {
	return func(c *Controller) {
		c.mistCfg = cfg
	}
}

// WithSchedule overrides the daylight window.
func WithSchedule(schedule automation.Schedule) Option {
	return func(c *Controller) {
		c.schedule = schedule
	}
}

// WithLocation sets the zone the daylight window is evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(c *Controller) {
		if loc != nil {
			c.location = loc
		}
	}
}

// WithLightInterval sets how often an unchanged light target is rewritten.
func WithLightInterval(interval time.Duration) Option {
	return func(c *Controller) {
		if interval > 0 {
			c.lightGap = interval
		}
	}
}

// WithCommandLog records every actuator write.
func WithCommandLog(commandLog CommandLog) Option {
	return func(c *Controller) {
		c.log = commandLog
	}
}

// WithClock overrides the clock.
func WithClock(clock Clock) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewController constructs a controller.
func NewController(sink ActuatorSink, profileStore Profiles, presence Presence, opts ...Option) (*Controller, error) {
	if sink == nil {
		return nil, errors.New("automation controller: nil actuator sink")
	}
	if profileStore == nil {
		return nil, errors.New("automation controller: nil profiles")
	}
	if presence == nil {
		return nil, errors.New("automation controller: nil presence")
	}
	c := &Controller{
		sink:     sink,
		profiles: profileStore,
		presence: presence,
		clock:    systemClock{},
		logger:   log.Default(),
		mistCfg:  automation.DefaultMistConfig(),
		schedule: automation.DefaultSchedule,
		location: time.UTC,
		lightGap: DefaultLightInterval,
		sources:  make(map[string]*source),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// HandleReading runs the mist loop for a fresh reading.
func (c *Controller) HandleReading(ctx context.Context, reading telemetry.Reading, resolved profilesapp.Resolved) error {
	restriction := automation.Restrict(c.presence.Connected(reading.SourceID), resolved.Profile)
	src := c.source(reading.SourceID)
	now := c.clock.Now()

	src.mu.Lock()
	defer src.mu.Unlock()
	var cmds []automation.Command
	if !restriction.Enabled {
		cmds = src.mist.Advance(now)
	} else {
		settings := resolved.Profile.Automation
		cmds = append(cmds, src.mist.SetEnabled(now, settings.AutoMistEnabled)...)
		threshold := settings.TriggerMode.MoistureThreshold(resolved.Ecosystem.Moisture)
		before := src.mist.Phase()
		cmds = append(cmds, src.mist.Observe(now, reading.Moisture, threshold)...)
		if before != automation.PhaseMisting && src.mist.Phase() == automation.PhaseMisting {
			metrics.IncMistActivation("auto")
		}
	}
	c.write(ctx, src, cmds)
	return nil
}

// Tick expires mist timers and re-evaluates the light cycle of every known source.
func (c *Controller) Tick(ctx context.Context) error {
	ids, err := c.knownSources(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.tickSource(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run ticks every interval until ctx is done.
func (c *Controller) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.Tick(ctx); err != nil {
				c.logger.Printf("automation tick: err=%v", err)
			}
		}
	}
}

// TriggerMist starts a manual mist. It bypasses the enabled flag but needs a
// connected source with automation settings.
func (c *Controller) TriggerMist(ctx context.Context, sourceID string) (automation.State, error) {
	resolved, err := c.profiles.Resolve(ctx, sourceID)
	if err != nil {
		return automation.State{}, err
	}
	restriction := automation.Restrict(c.presence.Connected(sourceID), resolved.Profile)
	if !restriction.Enabled {
		return automation.State{}, restriction.Err
	}
	src := c.source(sourceID)
	src.mu.Lock()
	defer src.mu.Unlock()
	cmds, err := src.mist.Trigger(c.clock.Now())
	c.write(ctx, src, cmds)
	if err != nil {
		return src.mist.State(), err
	}
	metrics.IncMistActivation("manual")
	return src.mist.State(), nil
}

// SetEnabled stores the user flag and applies it to the running loop.
func (c *Controller) SetEnabled(ctx context.Context, sourceID string, kind automation.Kind, enabled bool) (automation.State, error) {
	resolved, err := c.profiles.Resolve(ctx, sourceID)
	if err != nil {
		return automation.State{}, err
	}
	restriction := automation.Restrict(c.presence.Connected(sourceID), resolved.Profile)
	if !restriction.CanUpdate {
		return automation.State{}, restriction.Err
	}

	var updated *profiles.Profile
	switch kind {
	case automation.KindAutoMist:
		updated, err = c.profiles.SetAutoMistEnabled(ctx, sourceID, enabled)
	case automation.KindLightCycle:
		updated, err = c.profiles.SetLightCycleEnabled(ctx, sourceID, enabled)
	default:
		return automation.State{}, automation.ErrUnknownKind
	}
	if err != nil {
		return automation.State{}, err
	}

	src := c.source(sourceID)
	src.mu.Lock()
	defer src.mu.Unlock()
	now := c.clock.Now()
	if kind == automation.KindAutoMist {
		c.write(ctx, src, src.mist.SetEnabled(now, enabled))
		return src.mist.State(), nil
	}
	src.light.SetEnabled(enabled)
	if cmd, ok := src.light.Tick(now, updated.Automation.DaylightBrightness); ok {
		c.write(ctx, src, []automation.Command{cmd})
	}
	return src.light.State(), nil
}

// Snapshot returns the control view of a source.
func (c *Controller) Snapshot(ctx context.Context, sourceID string) (Snapshot, error) {
	resolved, err := c.profiles.Resolve(ctx, sourceID)
	if err != nil {
		return Snapshot{}, err
	}
	restriction := automation.Restrict(c.presence.Connected(sourceID), resolved.Profile)
	src := c.source(sourceID)
	src.mu.Lock()
	defer src.mu.Unlock()
	c.write(ctx, src, src.mist.Advance(c.clock.Now()))
	snap := Snapshot{
		SourceID:        sourceID,
		Restriction:     restriction,
		Mist:            src.mist.State(),
		Light:           src.light.State(),
		Reported:        src.reported,
		NightBrightness: automation.NightBrightness,
	}
	if resolved.Profile != nil && resolved.Profile.Automation != nil {
		snap.DaylightBrightness = resolved.Profile.Automation.DaylightBrightness
	}
	if !restriction.Enabled {
		snap.Mist.Enabled = false
		snap.Light.Enabled = false
	}
	return snap, nil
}

// Commands lists logged actuator writes for a source.
func (c *Controller) Commands(ctx context.Context, sourceID string, from, to time.Time) ([]automation.CommandRecord, error) {
	if c.log == nil {
		return nil, nil
	}
	return c.log.List(ctx, sourceID, from, to)
}

func (c *Controller) tickSource(ctx context.Context, sourceID string) error {
	resolved, err := c.profiles.Resolve(ctx, sourceID)
	if err != nil {
		return err
	}
	restriction := automation.Restrict(c.presence.Connected(sourceID), resolved.Profile)
	src := c.source(sourceID)
	now := c.clock.Now()

	src.mu.Lock()
	defer src.mu.Unlock()
	cmds := src.mist.Advance(now)
	daylight := 0
	if restriction.Enabled {
		settings := resolved.Profile.Automation
		cmds = append(cmds, src.mist.SetEnabled(now, settings.AutoMistEnabled)...)
		src.light.SetEnabled(settings.LightCycleEnabled)
		daylight = settings.DaylightBrightness
	} else {
		src.light.SetEnabled(false)
	}
	if cmd, ok := src.light.Tick(now, daylight); ok && c.lightDue(src, cmd) {
		cmds = append(cmds, cmd)
	}
	c.write(ctx, src, cmds)
	return nil
}

func (c *Controller) lightDue(src *source, cmd automation.Command) bool {
	return !src.lightSent || src.lightTarget != cmd.Brightness || cmd.At.Sub(src.lightAt) >= c.lightGap
}

// write sends commands in order. Failures are logged and recorded but never
// roll back controller state.
func (c *Controller) write(ctx context.Context, src *source, cmds []automation.Command) {
	for _, cmd := range cmds {
		record := automation.CommandRecord{ID: uuid.NewString(), Command: cmd, Status: automation.StatusSent}
		if cmd.Actuator == automation.ActuatorLight {
			src.lightSent, src.lightTarget, src.lightAt = true, cmd.Brightness, cmd.At
		}
		if err := c.sink.SetActuator(ctx, cmd); err != nil {
			record.Status = automation.StatusFailed
			record.Error = err.Error()
			metrics.IncActuatorWrite(string(cmd.Actuator), metrics.ResultError)
			c.logger.Printf("actuator write: source=%s actuator=%s err=%v", cmd.SourceID, cmd.Actuator, errors.Join(automation.ErrActuatorWriteFailed, err))
		} else {
			src.reported.Apply(cmd)
			metrics.IncActuatorWrite(string(cmd.Actuator), metrics.ResultSuccess)
		}
		if c.log == nil {
			continue
		}
		if err := c.log.Append(ctx, record); err != nil {
			c.logger.Printf("command log: source=%s err=%v", cmd.SourceID, err)
		}
	}
}

func (c *Controller) source(sourceID string) *source {
	c.mu.Lock()
	defer c.mu.Unlock()
	src, ok := c.sources[sourceID]
	if !ok {
		src = &source{
			mist:  automation.NewAutoMist(sourceID, c.mistCfg),
			light: automation.NewLightCycle(sourceID, c.schedule, c.location),
		}
		c.sources[sourceID] = src
	}
	return src
}

func (c *Controller) knownSources(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	c.mu.Lock()
	for id := range c.sources {
		seen[id] = struct{}{}
	}
	c.mu.Unlock()
	list, err := c.profiles.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range list {
		seen[p.SourceID] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
