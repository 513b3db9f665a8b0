package mapping

import (
	"fmt"
	"math"
)

// Curve shapes how a raw midi value maps into a parameter range.
// Exponential and Logarithmic are paired inverses (perceptual loudness
// style), SCurve eases in and out.
type Curve int

const (
	Linear Curve = iota
	Exponential
	Logarithmic
	SCurve
)

func (c Curve) String() string {
	switch c {
	case Linear:
		return "linear"
	case Exponential:
		return "exponential"
	case Logarithmic:
		return "logarithmic"
	case SCurve:
		return "s-curve"
	default:
		return fmt.Sprintf("unknown (%d)", int(c))
	}
}

// Apply maps raw in [0, rawMax] onto [min, max] through the curve.
// Raw 0 always lands on min and rawMax on max, whatever the shape.
func (c Curve) Apply(raw, rawMax int, min, max float64) float64 {
	if rawMax <= 0 {
		return min
	}
	if raw < 0 {
		raw = 0
	}
	if raw > rawMax {
		raw = rawMax
	}
	x := float64(raw) / float64(rawMax)

	switch c {
	case Exponential:
		x = x * x
	case Logarithmic:
		x = math.Sqrt(x)
	case SCurve:
		x = x * x * (3 - 2*x) // smoothstep
	}

	return min + (max-min)*x
}
