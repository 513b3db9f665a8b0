package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurveEndpoints(t *testing.T) {
	for _, curve := range []Curve{Linear, Exponential, Logarithmic, SCurve} {
		t.Run(curve.String(), func(t *testing.T) {
			assert.Equal(t, 0.0, curve.Apply(0, 127, 0, 1))
			assert.Equal(t, 1.0, curve.Apply(127, 127, 0, 1))

			assert.Equal(t, -1.0, curve.Apply(0, 127, -1, 1))
			assert.Equal(t, 1.0, curve.Apply(127, 127, -1, 1))
		})
	}
}

func TestLinearCurve(t *testing.T) {
	mid := Linear.Apply(64, 127, 0, 1)
	assert.Greater(t, mid, 0.0)
	assert.Less(t, mid, 1.0)
	assert.InDelta(t, 64.0/127.0, mid, 1e-9)

	assert.InDelta(t, 130.0, Linear.Apply(64, 127, 60, 200), 1.0)
}

func TestCurveShapes(t *testing.T) {
	linear := Linear.Apply(32, 127, 0, 1)

	// exponential stays below linear in the lower half, logarithmic above
	assert.Less(t, Exponential.Apply(32, 127, 0, 1), linear)
	assert.Greater(t, Logarithmic.Apply(32, 127, 0, 1), linear)

	// exponential and logarithmic are inverses of each other
	x := 0.3
	raw := int(x * 127)
	back := Logarithmic.Apply(int(Exponential.Apply(raw, 127, 0, 1)*127), 127, 0, 1)
	assert.InDelta(t, float64(raw)/127, back, 0.05)

	// smoothstep midpoint is exact
	assert.InDelta(t, 0.5, SCurve.Apply(50, 100, 0, 1), 1e-9)
}

func TestCurveClamping(t *testing.T) {
	assert.Equal(t, 0.0, Linear.Apply(-5, 127, 0, 1))
	assert.Equal(t, 1.0, Linear.Apply(500, 127, 0, 1))
	assert.Equal(t, 0.5, Linear.Apply(10, 0, 0.5, 1))
}

func TestPitchBendRange(t *testing.T) {
	assert.Equal(t, 0.0, Linear.Apply(0, 1<<14-1, 0, 1))
	assert.Equal(t, 1.0, Linear.Apply(1<<14-1, 1<<14-1, 0, 1))
	assert.InDelta(t, 0.5, Linear.Apply(8192, 1<<14-1, 0, 1), 0.001)
}
