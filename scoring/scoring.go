// Package scoring turns a named metric and a magnitude into a score in
// [0, 100]. Scores are pure functions of their inputs.
package scoring

import (
	"math"
	"sort"
)

const (
	TransactionAnomaly   = "transaction_anomaly"
	PriceAdjustment      = "price_adjustment"
	SystemHealth         = "system_health"
	RouteQuality         = "route_quality"
	ResourceDistribution = "resource_distribution"
)

// EscalationThreshold is the default score above which a decision is
// escalated to conflict resolution.
const EscalationThreshold = 20.0

// Curve maps a non-negative magnitude to a raw score. It must be
// non-decreasing.
type Curve func(magnitude float64) float64

var curves = map[string]Curve{
	// magnitude: deviation from the customer's usual amount, in multiples
	TransactionAnomaly: saturating(3),
	// magnitude: absolute price change in percent
	PriceAdjustment: linear(2),
	// magnitude: degradation in percent (error rate, saturation)
	SystemHealth: linear(1),
	// magnitude: delay in minutes over the planned route
	RouteQuality: hyperbolic(30),
	// magnitude: imbalance ratio between locations, 0..1
	ResourceDistribution: linear(100),
}

var defaultCurve = hyperbolic(10)

// Calculate scores magnitude for metric. Unknown metrics use a generic
// curve. NaN and negative magnitudes score zero.
func Calculate(metric string, magnitude float64) float64 {
	if math.IsNaN(magnitude) || magnitude <= 0 {
		return 0
	}
	curve, ok := curves[metric]
	if !ok {
		curve = defaultCurve
	}
	return clamp(curve(magnitude))
}

// Metrics lists the metrics with a dedicated curve.
func Metrics() []string {
	out := make([]string, 0, len(curves))
	for name := range curves {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ShouldEscalate reports whether score exceeds the default threshold.
func ShouldEscalate(score float64) bool {
	return Exceeds(score, EscalationThreshold)
}

// Exceeds reports whether score is strictly above threshold.
func Exceeds(score, threshold float64) bool {
	return score > threshold
}

func linear(k float64) Curve {
	return func(m float64) float64 { return k * m }
}

// hyperbolic reaches 50 at half.
func hyperbolic(half float64) Curve {
	return func(m float64) float64 {
		if math.IsInf(m, 1) {
			return 100
		}
		return 100 * m / (m + half)
	}
}

// saturating reaches ~63 at scale.
func saturating(scale float64) Curve {
	return func(m float64) float64 { return 100 * (1 - math.Exp(-m/scale)) }
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
