package health

import (
	"fmt"
	"math"

	ecosystem "terrarium-cloud/internal/ecosystem/domain"
	telemetry "terrarium-cloud/internal/telemetry/domain"
)

// Severity tags a classification entry.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
)

// Rank orders severities. Info is advisory and ranks with success.
func (s Severity) Rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityDanger:
		return 2
	default:
		return 0
	}
}

// IsFault reports whether the severity is worth alerting on.
func (s Severity) IsFault() bool {
	return s == SeverityWarning || s == SeverityDanger
}

// Violation is one classification entry. Threshold is the bound that was
// crossed; DeltaFromThreshold is the distance past it.
type Violation struct {
	Metric             telemetry.Metric `json:"metric,omitempty"`
	Severity           Severity         `json:"severity"`
	Title              string           `json:"title"`
	Message            string           `json:"message"`
	Action             string           `json:"action"`
	Value              float64          `json:"value"`
	Threshold          float64          `json:"threshold"`
	DeltaFromThreshold float64          `json:"delta_from_threshold"`
	Penalty            int              `json:"penalty"`
}

// Assessment is the classifier result for one reading.
type Assessment struct {
	Violations  []Violation `json:"violations"`
	HealthScore int         `json:"health_score"`
}

// Headline returns the first danger entry, else the first warning.
func (a Assessment) Headline() (Violation, bool) {
	for _, v := range a.Violations {
		if v.Severity == SeverityDanger {
			return v, true
		}
	}
	for _, v := range a.Violations {
		if v.Severity == SeverityWarning {
			return v, true
		}
	}
	return Violation{}, false
}

// Faults keeps warning and danger entries in metric order.
func (a Assessment) Faults() []Violation {
	var out []Violation
	for _, v := range a.Violations {
		if v.Severity.IsFault() {
			out = append(out, v)
		}
	}
	return out
}

const maxScore = 100

// Classify evaluates each metric of reading against profile independently and
// merges the results into a deduction ledger.
func Classify(reading telemetry.Reading, profile ecosystem.Profile) Assessment {
	var violations []Violation
	score := maxScore
	for _, m := range telemetry.Metrics() {
		value, _ := reading.Value(m)
		v, ok := ClassifyMetric(m, value, profile)
		if !ok {
			continue
		}
		violations = append(violations, v)
		score -= v.Penalty
	}
	if len(violations) == 0 {
		violations = append(violations, Violation{
			Severity: SeveritySuccess,
			Title:    "Perfect Conditions",
			Message:  fmt.Sprintf("All readings are within the %s range", profile.Name),
			Action:   "No action needed",
		})
	}
	if score < 0 {
		score = 0
	}
	return Assessment{Violations: violations, HealthScore: score}
}

// ClassifyMetric returns the most severe tier value falls into, if any.
func ClassifyMetric(m telemetry.Metric, value float64, profile ecosystem.Profile) (Violation, bool) {
	if m == telemetry.MetricLux {
		return classifyLux(value, profile.Lux)
	}
	r, ok := profile.Range(m)
	if !ok {
		return Violation{}, false
	}
	policy, ok := scalarPolicies[m]
	if !ok {
		return Violation{}, false
	}
	return classifyScalar(m, value, r, policy)
}

type tier struct {
	severity Severity
	penalty  int
	title    string
	action   string
}

type scalarPolicy struct {
	criticalLow  tier
	low          tier
	criticalHigh tier
	high         tier
}

var scalarPolicies = map[telemetry.Metric]scalarPolicy{
	telemetry.MetricTemperature: {
		criticalLow:  tier{SeverityDanger, 30, "Temperature CRITICALLY LOW", "Add a heat source or move the enclosure somewhere warmer now"},
		low:          tier{SeverityWarning, 15, "Temperature Low", "Raise the ambient temperature gradually"},
		criticalHigh: tier{SeverityDanger, 30, "Temperature CRITICALLY HIGH", "Ventilate and move the enclosure out of direct heat immediately"},
		high:         tier{SeverityWarning, 15, "Temperature High", "Improve airflow or lower the room temperature"},
	},
	telemetry.MetricHumidity: {
		criticalLow:  tier{SeverityDanger, 40, "Humidity DANGEROUSLY LOW", "Mist heavily and close ventilation"},
		low:          tier{SeverityDanger, 30, "Humidity CRITICALLY LOW", "Mist the enclosure and reduce ventilation"},
		criticalHigh: tier{SeverityDanger, 25, "Humidity CRITICALLY HIGH", "Open ventilation to prevent mold"},
		high:         tier{SeverityWarning, 10, "Humidity High", "Increase ventilation slightly"},
	},
	telemetry.MetricMoisture: {
		criticalLow:  tier{SeverityDanger, 35, "Substrate CRITICALLY DRY", "Water the substrate immediately"},
		low:          tier{SeverityWarning, 15, "Substrate Dry", "Water lightly or run the mister"},
		criticalHigh: tier{SeverityDanger, 30, "Substrate WATERLOGGED", "Improve drainage and stop watering"},
		high:         tier{SeverityWarning, 15, "Substrate Wet", "Let the substrate dry out before watering again"},
	},
}

// Warning tiers only bound the configured ranges. Anything below min or above
// max that is not critical stays at the metric's warning tier.
func classifyScalar(m telemetry.Metric, value float64, r ecosystem.MetricRange, p scalarPolicy) (Violation, bool) {
	switch {
	case value < r.CriticalLow:
		return build(m, value, r.CriticalLow, p.criticalLow, "below the critical minimum"), true
	case value < r.Min:
		return build(m, value, r.Min, p.low, "below the minimum"), true
	case value > r.CriticalHigh:
		return build(m, value, r.CriticalHigh, p.criticalHigh, "above the critical maximum"), true
	case value > r.Max:
		return build(m, value, r.Max, p.high, "above the maximum"), true
	}
	return Violation{}, false
}

var (
	luxCriticalLow  = tier{SeverityDanger, 30, "Light CRITICALLY LOW", "Turn on the grow light"}
	luxLow          = tier{SeverityWarning, 15, "Light Low", "Increase brightness or lengthen the day cycle"}
	luxCriticalHigh = tier{SeverityDanger, 30, "Light CRITICALLY HIGH", "Dim the light or add shade immediately"}
	luxAboveCanopy  = tier{SeverityWarning, 15, "Light Above Canopy Level", "Reduce brightness"}
	luxMidBand      = tier{SeverityInfo, 0, "Mid-level Light", "No action needed"}
	luxHigh         = tier{SeverityWarning, 10, "Light High", "Reduce brightness or add shade"}
)

func classifyLux(value float64, r ecosystem.LuxRange) (Violation, bool) {
	m := telemetry.MetricLux
	switch {
	case value < r.CriticalLow:
		return build(m, value, r.CriticalLow, luxCriticalLow, "below the critical minimum"), true
	case value < r.UnderstoryMin:
		return build(m, value, r.UnderstoryMin, luxLow, "below the understory minimum"), true
	case value > r.CriticalHigh:
		return build(m, value, r.CriticalHigh, luxCriticalHigh, "above the critical maximum"), true
	}
	if r.HasCanopy() {
		switch {
		case value > *r.CanopyMax:
			return build(m, value, *r.CanopyMax, luxAboveCanopy, "above the canopy maximum"), true
		case value > r.UnderstoryMax && value < *r.CanopyMin:
			return build(m, value, r.UnderstoryMax, luxMidBand, "between understory and canopy levels"), true
		}
		return Violation{}, false
	}
	if value > r.UnderstoryMax {
		return build(m, value, r.UnderstoryMax, luxHigh, "above the understory maximum"), true
	}
	return Violation{}, false
}

func build(m telemetry.Metric, value, threshold float64, t tier, where string) Violation {
	msg := fmt.Sprintf("%s is %s%s, %s of %s%s", label(m), formatValue(value), m.Unit(), where, formatValue(threshold), m.Unit())
	if t.severity == SeverityDanger {
		msg = "CRITICAL: " + msg
	}
	return Violation{
		Metric:             m,
		Severity:           t.severity,
		Title:              t.title,
		Message:            msg,
		Action:             t.action,
		Value:              value,
		Threshold:          threshold,
		DeltaFromThreshold: math.Abs(value - threshold),
		Penalty:            t.penalty,
	}
}

func label(m telemetry.Metric) string {
	switch m {
	case telemetry.MetricTemperature:
		return "Temperature"
	case telemetry.MetricHumidity:
		return "Humidity"
	case telemetry.MetricMoisture:
		return "Moisture"
	case telemetry.MetricLux:
		return "Light"
	default:
		return string(m)
	}
}

func formatValue(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e9 {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.1f", v)
}
