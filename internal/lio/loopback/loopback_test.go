package loopback

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailor-robotics/tailor/internal/lio"
)

// gridCloud samples a wall corner so ICP has structure on every axis.
func gridCloud() lio.PointCloud {
	var out lio.PointCloud
	for x := -3.0; x <= 3.0; x += 0.25 {
		for z := -1.0; z <= 1.0; z += 0.25 {
			out = append(out, lio.Point{X: x, Y: 4, Z: z})
			out = append(out, lio.Point{X: 4, Y: x, Z: z})
		}
	}
	for x := -3.0; x <= 3.0; x += 0.25 {
		for y := -3.0; y <= 3.0; y += 0.25 {
			out = append(out, lio.Point{X: x, Y: y, Z: -1.5})
		}
	}
	return out
}

func TestDetector_NoDetectionBeforeInitialLoad(t *testing.T) {
	d := New(Config{InitialLoad: 5, Reset: 1, MaxLoss: 0.5, SearchRadius: 10, MinGap: 1})
	cloud := gridCloud()
	for i := 0; i < 5; i++ {
		if got := d.Detect(cloud, lio.FeatureObjects{}, lio.Identity4()); got != 0 {
			t.Fatalf("detection fired during initial load at keyframe %d", i)
		}
	}
}

func TestDetector_RevisitCorrectsDrift(t *testing.T) {
	d := New(Config{InitialLoad: 0, Reset: 3, MaxLoss: 0.3, SearchRadius: 5, MinGap: 5})
	cloud := gridCloud()

	// Keyframe 0 at the true origin.
	require.Equal(t, 0, d.Detect(cloud, lio.FeatureObjects{}, lio.Identity4()))

	// Keyframes 1..4 far away: outside the search radius.
	for i := 1; i <= 4; i++ {
		pose := lio.Transform{X: 30 + float64(i)}.Matrix()
		require.Equal(t, 0, d.Detect(cloud, lio.FeatureObjects{}, pose))
	}

	// Keyframe 5 is physically back at the origin (identical sensor
	// cloud) but odometry has drifted 0.1 m, under half the grid
	// spacing, so every ICP pair finds its exact counterpart.
	drifted := lio.Transform{X: 0.1}.Matrix()
	first := d.Detect(cloud, lio.FeatureObjects{}, drifted)
	require.Equal(t, 1, first, "first corrected index")

	// The loop end must have been pulled back onto the revisited place.
	x, y, z := d.Tr(5).Translation()
	assert.InDelta(t, 0, x, 0.05)
	assert.InDelta(t, 0, y, 0.05)
	assert.InDelta(t, 0, z, 0.05)

	// BackTr(1) is the corrected current pose.
	assert.Equal(t, d.Tr(5), d.BackTr(1))

	// Keyframe 0 untouched.
	x0, _, _ := d.Tr(0).Translation()
	assert.Equal(t, 0.0, x0)

	edges := d.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, 5, edges[0].Source)
	assert.Equal(t, 0, edges[0].Target)
}

func TestDetector_CooldownAfterDetection(t *testing.T) {
	d := New(Config{InitialLoad: 0, Reset: 10, MaxLoss: 0.3, SearchRadius: 5, MinGap: 5})
	cloud := gridCloud()

	d.Detect(cloud, lio.FeatureObjects{}, lio.Identity4())
	for i := 1; i <= 4; i++ {
		d.Detect(cloud, lio.FeatureObjects{}, lio.Transform{X: 30 + float64(i)}.Matrix())
	}
	require.NotEqual(t, 0, d.Detect(cloud, lio.FeatureObjects{}, lio.Transform{X: 0.1}.Matrix()))

	// Immediately revisiting again must be suppressed by the cool-down.
	got := d.Detect(cloud, lio.FeatureObjects{}, lio.Transform{X: 0.1}.Matrix())
	assert.Equal(t, 0, got)
	assert.Len(t, d.Edges(), 1)
}

func TestKabsch_RecoversRigidMotion(t *testing.T) {
	want := lio.Transform{X: 0.3, Y: -0.2, Yaw: 0.1}.Matrix()

	var sx, sy, sz, dx, dy, dz []float64
	for _, p := range gridCloud() {
		qx, qy, qz := want.Apply(p.X, p.Y, p.Z)
		sx = append(sx, p.X)
		sy = append(sy, p.Y)
		sz = append(sz, p.Z)
		dx = append(dx, qx)
		dy = append(dy, qy)
		dz = append(dz, qz)
	}

	got, ok := kabsch(sx, sy, sz, dx, dy, dz)
	require.True(t, ok)
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-9, "element %d", i)
	}
	assert.True(t, got.IsRigid())
}

func TestAxisAngleRoundTrip(t *testing.T) {
	m := lio.Transform{Roll: 0.2, Pitch: -0.1, Yaw: 0.7}.Matrix()
	axis, angle := rotationAxisAngle(m)
	back := rigidFromAxisAngle(axis, angle, 0, 0, 0)
	for i := 0; i < 12; i++ {
		if i%4 == 3 {
			continue // translation column not reconstructed here
		}
		assert.InDelta(t, m[i], back[i], 1e-9, "element %d", i)
	}

	// Near-identity rotations degrade gracefully.
	_, angle = rotationAxisAngle(lio.Identity4())
	assert.InDelta(t, 0, angle, 1e-12)
	if math.IsNaN(angle) {
		t.Fatal("axis-angle of identity produced NaN")
	}
}
