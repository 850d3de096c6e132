package lio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransform_MatrixInverseRoundTrip(t *testing.T) {
	tr := Transform{X: 1.2, Y: -0.7, Z: 0.3, Roll: 0.1, Pitch: -0.2, Yaw: 2.5}
	m := tr.Matrix()
	id := m.Mul(m.Inverse())

	want := Identity4()
	for i := range id {
		assert.InDelta(t, want[i], id[i], 1e-12, "element %d of M·M⁻¹", i)
	}
}

func TestTransform_ZYXComposition(t *testing.T) {
	// Pure yaw rotates x̂ into ŷ.
	m := Transform{Yaw: math.Pi / 2}.Matrix()
	x, y, z := m.Apply(1, 0, 0)
	assert.InDelta(t, 0, x, 1e-12)
	assert.InDelta(t, 1, y, 1e-12)
	assert.InDelta(t, 0, z, 1e-12)

	// Pure pitch by +π/2 maps x̂ onto -ẑ.
	m = Transform{Pitch: math.Pi / 2}.Matrix()
	x, y, z = m.Apply(1, 0, 0)
	assert.InDelta(t, 0, x, 1e-12)
	assert.InDelta(t, 0, y, 1e-12)
	assert.InDelta(t, -1, z, 1e-12)

	// Pure roll leaves x̂ fixed.
	m = Transform{Roll: 1.1}.Matrix()
	x, y, z = m.Apply(1, 0, 0)
	assert.InDelta(t, 1, x, 1e-12)
	assert.InDelta(t, 0, y, 1e-12)
	assert.InDelta(t, 0, z, 1e-12)
}

func TestMatrix4_QuaternionRoundTrip(t *testing.T) {
	for _, tr := range []Transform{
		{Yaw: 0.3},
		{Roll: -1.2, Pitch: 0.4, Yaw: 2.9},
		{X: 5, Y: -2, Z: 1, Roll: 3.0, Pitch: -1.4, Yaw: -3.1},
		{},
	} {
		m := tr.Matrix()
		qx, qy, qz, qw := m.Quaternion()
		assert.InDelta(t, 1.0, qx*qx+qy*qy+qz*qz+qw*qw, 1e-9, "unit norm for %+v", tr)

		back := poseFromQuaternion(m[3], m[7], m[11], qx, qy, qz, qw)
		for i := range m {
			assert.InDelta(t, m[i], back[i], 1e-9, "element %d for %+v", i, tr)
		}
	}
}

func TestMatrix4_IsRigid(t *testing.T) {
	assert.True(t, Transform{X: 1, Roll: 0.5, Yaw: -0.3}.Matrix().IsRigid())

	scaled := Identity4()
	scaled[0] = 2 // scale breaks det ≈ 1
	assert.False(t, scaled.IsRigid())

	sheared := Identity4()
	sheared[12] = 0.1 // last row must stay [0 0 0 1]
	assert.False(t, sheared.IsRigid())
}

func TestTransform_IsZero(t *testing.T) {
	assert.True(t, Transform{}.IsZero())
	assert.False(t, Transform{Pitch: 1e-9}.IsZero())
}
