// Package testutil provides shared fixtures for the pipeline tests: an
// analytic feature world whose line and plane clouds can be observed from
// any sensor pose, plus small assertion helpers.
package testutil

import (
	"testing"

	"github.com/tailor-robotics/tailor/internal/lio"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// WorldFeatures returns the analytic feature world used across the
// odometry tests: vertical pillar lines every 3 m along both sides of a
// corridor (they pin down motion along the corridor axis), plus floor and
// wall planes. All clouds are in the map frame.
func WorldFeatures() lio.FeatureFrame {
	var lines, planes, non lio.PointCloud

	for x := -12.0; x <= 12.0; x += 3.0 {
		for _, y := range []float64{-3.6, 3.6} {
			for z := -1.0; z <= 2.0; z += 0.1 {
				lines = append(lines, lio.Point{X: x, Y: y, Z: z})
			}
		}
	}

	// Floor.
	for x := -12.0; x <= 12.0; x += 0.5 {
		for y := -3.0; y <= 3.0; y += 0.5 {
			planes = append(planes, lio.Point{X: x, Y: y, Z: -1.5})
		}
	}
	// Side walls.
	for x := -12.0; x <= 12.0; x += 0.5 {
		for z := -1.0; z <= 2.0; z += 0.5 {
			planes = append(planes, lio.Point{X: x, Y: -4, Z: z})
			planes = append(planes, lio.Point{X: x, Y: 4, Z: z})
		}
	}

	// Non-features: patches on the pillar surfaces. Two offset columns per
	// pillar keep the local neighbourhoods planar rather than collinear.
	for x := -12.0; x <= 12.0; x += 3.0 {
		for _, y := range []float64{-3.55, 3.55} {
			for z := -1.0; z <= 2.0; z += 0.15 {
				non = append(non, lio.Point{X: x, Y: y, Z: z})
				non = append(non, lio.Point{X: x + 0.1, Y: y, Z: z})
			}
		}
	}

	return lio.FeatureFrame{
		Spin:  lio.FeatureObjects{Lines: lines, Planes: planes},
		Solid: lio.FeatureObjects{Planes: append(lio.PointCloud{}, planes...), Non: non},
	}
}

// FrameAt observes the analytic world from the given sensor pose: every
// sub-cloud is expressed in the sensor frame.
func FrameAt(pose lio.Matrix4) lio.FeatureFrame {
	world := WorldFeatures()
	inv := pose.Inverse()
	return lio.FeatureFrame{
		Spin: lio.FeatureObjects{
			Lines:  world.Spin.Lines.Transformed(inv),
			Planes: world.Spin.Planes.Transformed(inv),
		},
		Solid: lio.FeatureObjects{
			Planes: world.Solid.Planes.Transformed(inv),
			Non:    world.Solid.Non.Transformed(inv),
		},
	}
}

// SpinOnlyFrameAt is FrameAt restricted to the spinning sensor, for
// configurations with the solid branch disabled.
func SpinOnlyFrameAt(pose lio.Matrix4) lio.FeatureFrame {
	f := FrameAt(pose)
	return lio.FeatureFrame{Spin: f.Spin}
}
