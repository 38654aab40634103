package application

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	ecosystem "terrarium-cloud/internal/ecosystem/domain"
	profiles "terrarium-cloud/internal/profiles/domain"
)

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Resolved is the outcome of resolving a source to its ecosystem profile.
// Profile is nil when the source has no stored profile.
type Resolved struct {
	Profile   *profiles.Profile
	Ecosystem ecosystem.Profile
	FellBack  bool
}

// Service manages per-source profiles and resolves them against the biome registry.
type Service struct {
	repo     profiles.Repository
	registry *ecosystem.Registry
	clock    Clock
	logger   *log.Logger
}

// Option configures the service.
type Option func(*Service)

// WithClock overrides the clock.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs a profile service.
func NewService(repo profiles.Repository, registry *ecosystem.Registry, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("profile service: nil repository")
	}
	s := &Service{repo: repo, registry: registry, clock: systemClock{}, logger: log.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Registry exposes the biome registry the service resolves against.
func (s *Service) Registry() *ecosystem.Registry {
	return s.registry
}

// Resolve loads the profile of sourceID and its ecosystem profile. Unknown
// sources and unknown biomes fall back to the default biome.
func (s *Service) Resolve(ctx context.Context, sourceID string) (Resolved, error) {
	p, err := s.repo.Get(ctx, sourceID)
	if err != nil && !errors.Is(err, profiles.ErrNotFound) {
		return Resolved{}, err
	}
	biome := ecosystem.DefaultBiome
	if p != nil {
		biome = p.Biome
	}
	eco, err := s.registry.GetProfile(biome)
	if err == nil {
		return Resolved{Profile: p, Ecosystem: eco, FellBack: p == nil}, nil
	}
	s.logger.Printf("profile resolve: unknown biome, falling back: source=%s biome=%s", sourceID, biome)
	eco, err = s.registry.GetProfile(ecosystem.DefaultBiome)
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{Profile: p, Ecosystem: eco, FellBack: true}, nil
}

// Get returns the stored profile of sourceID.
func (s *Service) Get(ctx context.Context, sourceID string) (*profiles.Profile, error) {
	return s.repo.Get(ctx, sourceID)
}

// List returns every stored profile.
func (s *Service) List(ctx context.Context) ([]profiles.Profile, error) {
	return s.repo.List(ctx)
}

// Save validates and stores a profile, keeping the original creation time.
func (s *Service) Save(ctx context.Context, p *profiles.Profile) error {
	if p == nil {
		return errors.New("profile service: nil profile")
	}
	p.SourceID = strings.TrimSpace(p.SourceID)
	if err := p.Validate(); err != nil {
		return err
	}
	now := s.clock.Now()
	existing, err := s.repo.Get(ctx, p.SourceID)
	switch {
	case err == nil:
		p.CreatedAt = existing.CreatedAt
	case errors.Is(err, profiles.ErrNotFound):
		p.CreatedAt = now
	default:
		return err
	}
	p.UpdatedAt = now
	return s.repo.Save(ctx, p)
}

// SwitchBiome changes the active biome of a source, creating the profile if needed.
func (s *Service) SwitchBiome(ctx context.Context, sourceID string, biome ecosystem.Biome) (*profiles.Profile, error) {
	return s.mutate(ctx, sourceID, func(p *profiles.Profile) {
		p.Biome = biome
	})
}

// UpdateAutomation replaces the automation settings of a source.
func (s *Service) UpdateAutomation(ctx context.Context, sourceID string, settings profiles.AutomationSettings) (*profiles.Profile, error) {
	return s.mutate(ctx, sourceID, func(p *profiles.Profile) {
		p.Automation = &settings
	})
}

// SetAutoMistEnabled toggles the mist flag, creating default settings when missing.
func (s *Service) SetAutoMistEnabled(ctx context.Context, sourceID string, enabled bool) (*profiles.Profile, error) {
	return s.mutate(ctx, sourceID, func(p *profiles.Profile) {
		settingsOf(p).AutoMistEnabled = enabled
	})
}

// SetLightCycleEnabled toggles the light flag, creating default settings when missing.
func (s *Service) SetLightCycleEnabled(ctx context.Context, sourceID string, enabled bool) (*profiles.Profile, error) {
	return s.mutate(ctx, sourceID, func(p *profiles.Profile) {
		settingsOf(p).LightCycleEnabled = enabled
	})
}

// SourceOwner returns the owner of sourceID. Sources without a profile have no owner.
func (s *Service) SourceOwner(ctx context.Context, sourceID string) (string, error) {
	p, err := s.repo.Get(ctx, sourceID)
	if errors.Is(err, profiles.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return p.OwnerID, nil
}

// Seed stores the given profiles unless a profile for the source already exists.
func (s *Service) Seed(ctx context.Context, seeds []profiles.Profile) error {
	for i := range seeds {
		seed := seeds[i]
		_, err := s.repo.Get(ctx, seed.SourceID)
		if err == nil {
			continue
		}
		if !errors.Is(err, profiles.ErrNotFound) {
			return err
		}
		if err := s.Save(ctx, &seed); err != nil {
			return err
		}
		s.logger.Printf("profile seed: source=%s biome=%s", seed.SourceID, seed.Biome)
	}
	return nil
}

func (s *Service) mutate(ctx context.Context, sourceID string, apply func(*profiles.Profile)) (*profiles.Profile, error) {
	p, err := s.repo.Get(ctx, sourceID)
	if errors.Is(err, profiles.ErrNotFound) {
		p = &profiles.Profile{SourceID: sourceID, Biome: ecosystem.DefaultBiome}
	} else if err != nil {
		return nil, err
	}
	apply(p)
	if err := s.Save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func settingsOf(p *profiles.Profile) *profiles.AutomationSettings {
	if p.Automation == nil {
		defaults := profiles.DefaultAutomationSettings()
		p.Automation = &defaults
	}
	return p.Automation
}
