package ecosystem

import (
	"errors"
	"fmt"
	"strings"

	telemetry "terrarium-cloud/internal/telemetry/domain"
)

var (
	ErrUnknownBiome = errors.New("ecosystem: unknown biome")
	ErrInvalidRange = errors.New("ecosystem: invalid range")
)

// Biome identifies one of the shipped environmental profiles.
type Biome string

const (
	BiomeTropical   Biome = "tropical"
	BiomeWoodland   Biome = "woodland"
	BiomeBog        Biome = "bog"
	BiomePaludarium Biome = "paludarium"
)

// DefaultBiome is used when a source references a biome the registry does not know.
const DefaultBiome = BiomeTropical

var biomeOrder = []Biome{BiomeTropical, BiomeWoodland, BiomeBog, BiomePaludarium}

// Biomes lists the fixed biome set.
func Biomes() []Biome {
	out := make([]Biome, len(biomeOrder))
	copy(out, biomeOrder)
	return out
}

// ParseBiome resolves a biome id.
func ParseBiome(value string) (Biome, error) {
	b := Biome(strings.ToLower(strings.TrimSpace(value)))
	if !b.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownBiome, value)
	}
	return b, nil
}

// Valid reports whether b is part of the fixed set.
func (b Biome) Valid() bool {
	for _, known := range biomeOrder {
		if b == known {
			return true
		}
	}
	return false
}

// MetricRange is the tiered band of acceptable values for one metric.
// Warning tiers are optional.
type MetricRange struct {
	Min          float64  `json:"min" yaml:"min"`
	Max          float64  `json:"max" yaml:"max"`
	Optimal      float64  `json:"optimal" yaml:"optimal"`
	CriticalLow  float64  `json:"critical_low" yaml:"critical_low"`
	CriticalHigh float64  `json:"critical_high" yaml:"critical_high"`
	WarningLow   *float64 `json:"warning_low,omitempty" yaml:"warning_low,omitempty"`
	WarningHigh  *float64 `json:"warning_high,omitempty" yaml:"warning_high,omitempty"`
}

// Validate enforces critical_low <= warning_low <= min <= optimal <= max <= warning_high <= critical_high.
func (r MetricRange) Validate() error {
	chain := []float64{r.CriticalLow}
	if r.WarningLow != nil {
		chain = append(chain, *r.WarningLow)
	}
	chain = append(chain, r.Min, r.Optimal, r.Max)
	if r.WarningHigh != nil {
		chain = append(chain, *r.WarningHigh)
	}
	chain = append(chain, r.CriticalHigh)
	for i := 1; i < len(chain); i++ {
		if chain[i] < chain[i-1] {
			return fmt.Errorf("%w: tiers out of order %v", ErrInvalidRange, chain)
		}
	}
	return nil
}

// LuxRange describes light levels. The canopy band is optional and sits
// above the understory band.
type LuxRange struct {
	UnderstoryMin float64  `json:"understory_min" yaml:"understory_min"`
	UnderstoryMax float64  `json:"understory_max" yaml:"understory_max"`
	CanopyMin     *float64 `json:"canopy_min,omitempty" yaml:"canopy_min,omitempty"`
	CanopyMax     *float64 `json:"canopy_max,omitempty" yaml:"canopy_max,omitempty"`
	Optimal       float64  `json:"optimal" yaml:"optimal"`
	CriticalLow   float64  `json:"critical_low" yaml:"critical_low"`
	CriticalHigh  float64  `json:"critical_high" yaml:"critical_high"`
}

// HasCanopy reports whether a canopy band is configured.
func (r LuxRange) HasCanopy() bool {
	return r.CanopyMin != nil && r.CanopyMax != nil
}

// UpperBound is the highest value that is not a fault.
func (r LuxRange) UpperBound() float64 {
	if r.HasCanopy() {
		return *r.CanopyMax
	}
	return r.UnderstoryMax
}

// Validate enforces the ordering of the lux tiers.
func (r LuxRange) Validate() error {
	if (r.CanopyMin == nil) != (r.CanopyMax == nil) {
		return fmt.Errorf("%w: canopy band needs both bounds", ErrInvalidRange)
	}
	chain := []float64{r.CriticalLow, r.UnderstoryMin, r.Optimal, r.UnderstoryMax}
	if r.HasCanopy() {
		chain = append(chain, *r.CanopyMin, *r.CanopyMax)
	}
	chain = append(chain, r.CriticalHigh)
	for i := 1; i < len(chain); i++ {
		if chain[i] < chain[i-1] {
			return fmt.Errorf("%w: lux tiers out of order %v", ErrInvalidRange, chain)
		}
	}
	return nil
}

// Profile bundles the ranges of one biome.
type Profile struct {
	Biome       Biome       `json:"biome" yaml:"-"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description" yaml:"description"`
	Temperature MetricRange `json:"temperature" yaml:"temperature"`
	Humidity    MetricRange `json:"humidity" yaml:"humidity"`
	Moisture    MetricRange `json:"moisture" yaml:"moisture"`
	Lux         LuxRange    `json:"lux" yaml:"lux"`
}

// Range returns the scalar range for temperature, humidity or moisture.
func (p Profile) Range(m telemetry.Metric) (MetricRange, bool) {
	switch m {
	case telemetry.MetricTemperature:
		return p.Temperature, true
	case telemetry.MetricHumidity:
		return p.Humidity, true
	case telemetry.MetricMoisture:
		return p.Moisture, true
	default:
		return MetricRange{}, false
	}
}

// Validate checks every range of the profile.
func (p Profile) Validate() error {
	if !p.Biome.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownBiome, p.Biome)
	}
	for _, m := range []telemetry.Metric{telemetry.MetricTemperature, telemetry.MetricHumidity, telemetry.MetricMoisture} {
		r, _ := p.Range(m)
		if err := r.Validate(); err != nil {
			return fmt.Errorf("%s %s: %w", p.Biome, m, err)
		}
	}
	if err := p.Lux.Validate(); err != nil {
		return fmt.Errorf("%s lux: %w", p.Biome, err)
	}
	return nil
}
