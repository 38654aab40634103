package ecosystem

import (
	"fmt"
)

func ptr(v float64) *float64 { return &v }

// builtinProfiles is the shipped biome table. Adding a biome is a new row here.
var builtinProfiles = map[Biome]Profile{
	BiomeTropical: {
		Biome:       BiomeTropical,
		Name:        "Tropical Understory",
		Description: "Warm, humid rainforest floor with filtered light",
		Temperature: MetricRange{Min: 25, Max: 30, Optimal: 27.5, CriticalLow: 20, CriticalHigh: 35},
		Humidity:    MetricRange{Min: 70, Max: 90, Optimal: 80, CriticalLow: 50, CriticalHigh: 95},
		Moisture:    MetricRange{Min: 40, Max: 60, Optimal: 50, CriticalLow: 25, CriticalHigh: 70},
		Lux: LuxRange{
			UnderstoryMin: 1000, UnderstoryMax: 10000,
			CanopyMin: ptr(20000), CanopyMax: ptr(50000),
			Optimal: 5000, CriticalLow: 500, CriticalHigh: 60000,
		},
	},
	BiomeWoodland: {
		Biome:       BiomeWoodland,
		Name:        "Temperate Woodland",
		Description: "Mild, moist forest floor with shaded canopy light",
		Temperature: MetricRange{Min: 16, Max: 24, Optimal: 20, CriticalLow: 10, CriticalHigh: 28},
		Humidity:    MetricRange{Min: 60, Max: 85, Optimal: 72.5, CriticalLow: 45, CriticalHigh: 90},
		Moisture:    MetricRange{Min: 35, Max: 60, Optimal: 47.5, CriticalLow: 20, CriticalHigh: 70},
		Lux:         LuxRange{UnderstoryMin: 1000, UnderstoryMax: 5000, Optimal: 3000, CriticalLow: 500, CriticalHigh: 8000},
	},
	BiomeBog: {
		Biome:       BiomeBog,
		Name:        "Bog / Carnivorous",
		Description: "Very high humidity, permanently wet, bright light",
		Temperature: MetricRange{Min: 18, Max: 30, Optimal: 24, CriticalLow: 12, CriticalHigh: 35},
		Humidity:    MetricRange{Min: 70, Max: 95, Optimal: 82.5, CriticalLow: 60, CriticalHigh: 98},
		Moisture:    MetricRange{Min: 70, Max: 100, Optimal: 85, CriticalLow: 60, CriticalHigh: 100},
		Lux:         LuxRange{UnderstoryMin: 5000, UnderstoryMax: 15000, Optimal: 10000, CriticalLow: 3000, CriticalHigh: 20000},
	},
	BiomePaludarium: {
		Biome:       BiomePaludarium,
		Name:        "Paludarium",
		Description: "Semi-aquatic tropical environment with stable temps",
		Temperature: MetricRange{Min: 22, Max: 28, Optimal: 25, CriticalLow: 18, CriticalHigh: 32},
		Humidity:    MetricRange{Min: 70, Max: 95, Optimal: 82.5, CriticalLow: 60, CriticalHigh: 98},
		Moisture:    MetricRange{Min: 50, Max: 80, Optimal: 65, CriticalLow: 35, CriticalHigh: 90},
		Lux:         LuxRange{UnderstoryMin: 2000, UnderstoryMax: 10000, Optimal: 6000, CriticalLow: 1000, CriticalHigh: 15000},
	},
}

// Registry resolves biomes to immutable profiles. It is safe for concurrent use
// because it is never mutated after construction.
type Registry struct {
	profiles map[Biome]Profile
}

// NewRegistry builds a registry from the shipped table with optional
// per-biome replacements, validating every range up front.
func NewRegistry(overrides map[Biome]Profile) (*Registry, error) {
	profiles := make(map[Biome]Profile, len(builtinProfiles))
	for biome, profile := range builtinProfiles {
		profiles[biome] = profile
	}
	for biome, profile := range overrides {
		if !biome.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownBiome, biome)
		}
		profile.Biome = biome
		base := builtinProfiles[biome]
		if profile.Name == "" {
			profile.Name = base.Name
		}
		if profile.Description == "" {
			profile.Description = base.Description
		}
		profiles[biome] = profile
	}
	for _, biome := range biomeOrder {
		profile, ok := profiles[biome]
		if !ok {
			return nil, fmt.Errorf("ecosystem: missing profile for %s", biome)
		}
		if err := profile.Validate(); err != nil {
			return nil, err
		}
	}
	return &Registry{profiles: profiles}, nil
}

// GetProfile returns the profile of biome or ErrUnknownBiome.
func (r *Registry) GetProfile(biome Biome) (Profile, error) {
	if r == nil {
		return GetProfile(biome)
	}
	profile, ok := r.profiles[biome]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownBiome, biome)
	}
	return profile, nil
}

// Profiles returns all profiles in biome order.
func (r *Registry) Profiles() []Profile {
	out := make([]Profile, 0, len(biomeOrder))
	for _, biome := range biomeOrder {
		profile, err := r.GetProfile(biome)
		if err != nil {
			continue
		}
		out = append(out, profile)
	}
	return out
}

var defaultRegistry = mustRegistry()

func mustRegistry() *Registry {
	r, err := NewRegistry(nil)
	if err != nil {
		panic(err)
	}
	return r
}

// GetProfile resolves a biome against the shipped table.
func GetProfile(biome Biome) (Profile, error) {
	profile, ok := defaultRegistry.profiles[biome]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownBiome, biome)
	}
	return profile, nil
}
