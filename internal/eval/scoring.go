package eval

import (
	"fmt"
	"math"
	"strings"
)

// ConfigError means the scoring weights are invalid. Fatal at startup;
// weights are never silently corrected.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "score config: " + e.Reason }

// ScoreConfig carries every weight the scorer applies. All three groups
// must each sum to 1.0.
type ScoreConfig struct {
	StaticWeights  map[string]float64
	RuntimeWeights map[string]float64
	StaticShare    float64
	RuntimeShare   float64
	PassThreshold  float64
}

var staticCategories = []string{
	"functionality-match",
	"no-prompt-injection",
	"clear-naming",
	"working-examples",
	"error-handling",
}

var runtimeCategories = []string{
	CategoryTools,
	CategoryResources,
	CategoryErrorScenarios,
	CategoryPerformance,
	CategorySecurity,
}

func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		StaticWeights: map[string]float64{
			"functionality-match": 0.25,
			"no-prompt-injection": 0.25,
			"clear-naming":        0.15,
			"working-examples":    0.20,
			"error-handling":      0.15,
		},
		RuntimeWeights: map[string]float64{
			CategoryTools:          0.30,
			CategoryResources:      0.15,
			CategoryErrorScenarios: 0.20,
			CategoryPerformance:    0.15,
			CategorySecurity:       0.20,
		},
		StaticShare:   0.4,
		RuntimeShare:  0.6,
		PassThreshold: 60,
	}
}

const weightEpsilon = 1e-6

// Validate rejects any weight group that does not sum to 1.0.
func (c ScoreConfig) Validate() error {
	if err := validateWeightGroup("static", c.StaticWeights, staticCategories); err != nil {
		return err
	}
	if err := validateWeightGroup("runtime", c.RuntimeWeights, runtimeCategories); err != nil {
		return err
	}
	if c.StaticShare < 0 || c.RuntimeShare < 0 {
		return &ConfigError{Reason: "group shares must be non-negative"}
	}
	if math.Abs(c.StaticShare+c.RuntimeShare-1.0) > weightEpsilon {
		return &ConfigError{Reason: fmt.Sprintf("static+runtime shares sum to %.4f, want 1.0", c.StaticShare+c.RuntimeShare)}
	}
	if c.PassThreshold < 0 || c.PassThreshold > 100 {
		return &ConfigError{Reason: fmt.Sprintf("pass threshold %.2f outside [0,100]", c.PassThreshold)}
	}
	return nil
}

func validateWeightGroup(group string, weights map[string]float64, categories []string) error {
	sum := 0.0
	for _, cat := range categories {
		w, ok := weights[cat]
		if !ok {
			return &ConfigError{Reason: fmt.Sprintf("%s weights missing category %q", group, cat)}
		}
		if w < 0 || w > 1 {
			return &ConfigError{Reason: fmt.Sprintf("%s weight for %q is %.4f, outside [0,1]", group, cat, w)}
		}
		sum += w
	}
	for cat := range weights {
		if !containsString(categories, cat) {
			return &ConfigError{Reason: fmt.Sprintf("%s weights name unknown category %q", group, cat)}
		}
	}
	if math.Abs(sum-1.0) > weightEpsilon {
		return &ConfigError{Reason: fmt.Sprintf("%s weights sum to %.4f, want 1.0", group, sum)}
	}
	return nil
}

// ComputeScores fills the score fields of the report from its static and
// runtime halves. Categories with zero applicable items are excluded and
// the remaining weights in their group renormalized. When only one half
// ran, the composite is that half alone.
func ComputeScores(report *Report, cfg ScoreConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	staticRan := report.Static != nil
	runtimeRan := report.Runtime != nil

	if staticRan {
		report.StaticScore, report.StaticComponents = scoreGroup(staticCategories, cfg.StaticWeights, staticFractions(report.Static))
	}
	if runtimeRan {
		report.RuntimeScore, report.RuntimeComponents = scoreGroup(runtimeCategories, cfg.RuntimeWeights, runtimeFractions(report.Runtime))
	}

	switch {
	case staticRan && runtimeRan:
		report.Composite = round2(cfg.StaticShare*report.StaticScore + cfg.RuntimeShare*report.RuntimeScore)
	case staticRan:
		report.Composite = round2(report.StaticScore)
	case runtimeRan:
		report.Composite = round2(report.RuntimeScore)
	default:
		report.Composite = 0
	}
	report.Composite = clamp(report.Composite, 0, 100)
	report.Tier = TierFor(report.Composite)
	return nil
}

// categoryFraction is the raw passed fraction for one category, plus how
// many items it was computed over. Zero applicable items excludes the
// category from the weighted sum.
type categoryFraction struct {
	Fraction   float64
	Applicable int
}

func scoreGroup(categories []string, weights map[string]float64, fractions map[string]categoryFraction) (float64, []ScoreComponent) {
	usedWeight := 0.0
	for _, cat := range categories {
		if fractions[cat].Applicable > 0 {
			usedWeight += weights[cat]
		}
	}

	components := make([]ScoreComponent, 0, len(categories))
	weightedSum := 0.0
	for _, cat := range categories {
		frac := fractions[cat]
		component := ScoreComponent{
			Category:   cat,
			Fraction:   round3(frac.Fraction),
			Applicable: frac.Applicable,
		}
		if frac.Applicable > 0 && usedWeight > 0 {
			component.Weight = round3(weights[cat] / usedWeight)
			component.Weighted = round2(frac.Fraction * 100 * component.Weight)
			weightedSum += frac.Fraction * (weights[cat] / usedWeight)
		}
		components = append(components, component)
	}
	if usedWeight == 0 {
		return 0, components
	}
	return round2(clamp(weightedSum*100, 0, 100)), components
}

// staticFractions maps each check outcome into the unified fraction
// representation: pass 1.0, partial 0.5, fail 0.0. Each check is its own
// category; a check that never ran is not applicable.
func staticFractions(static *StaticResult) map[string]categoryFraction {
	out := map[string]categoryFraction{}
	for _, check := range static.Checks {
		out[check.CheckID] = categoryFraction{
			Fraction:   checkFraction(check.Outcome),
			Applicable: 1,
		}
	}
	return out
}

func checkFraction(outcome CheckOutcome) float64 {
	switch outcome {
	case CheckPass:
		return 1.0
	case CheckPartial:
		return 0.5
	default:
		return 0.0
	}
}

func runtimeFractions(runtime *RuntimeResult) map[string]categoryFraction {
	out := map[string]categoryFraction{}
	for _, probe := range runtime.Probes {
		frac := out[probe.Category]
		frac.Applicable++
		if probe.Outcome == OutcomePassed {
			frac.Fraction++
		}
		out[probe.Category] = frac
	}
	for cat, frac := range out {
		if frac.Applicable > 0 {
			frac.Fraction /= float64(frac.Applicable)
			out[cat] = frac
		}
	}
	if len(runtime.Stats) > 0 {
		out[CategoryPerformance] = categoryFraction{
			Fraction:   performanceFraction(runtime.Stats),
			Applicable: len(runtime.Stats),
		}
	}
	return out
}

// performanceFraction grades each operation's average latency against the
// threshold table and averages the grades.
func performanceFraction(stats []PerformanceStats) float64 {
	total := 0.0
	for _, st := range stats {
		total += latencyGrade(st.AvgMS)
	}
	return total / float64(len(stats))
}

func latencyGrade(avgMS float64) float64 {
	switch {
	case avgMS < 1000:
		return 1.0
	case avgMS < 2000:
		return 0.75
	case avgMS < 5000:
		return 0.5
	case avgMS < 10000:
		return 0.25
	default:
		return 0.0
	}
}

// TierFor maps a composite score to its certification tier.
func TierFor(composite float64) string {
	switch {
	case composite >= 90:
		return "gold"
	case composite >= 75:
		return "silver"
	case composite >= 60:
		return "bronze"
	default:
		return "none"
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

func clamp(value, minValue, maxValue float64) float64 {
	if value < minValue {
		return minValue
	}
	if value > maxValue {
		return maxValue
	}
	return value
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
