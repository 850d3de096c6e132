package lio_test

import (
	"math"
	"testing"

	"github.com/tailor-robotics/tailor/internal/lio"
	"github.com/tailor-robotics/tailor/internal/testutil"
)

// fakeLoop is a scripted loop module: it fires once after a fixed number
// of keyframes and rewrites every pose from firstChanged on by a constant
// world-frame shift.
type fakeLoop struct {
	triggerAt    int
	firstChanged int
	shift        lio.Transform

	poses     []lio.Matrix4
	corrected []lio.Matrix4
	edges     []lio.LoopEdge
	fired     bool
}

func (f *fakeLoop) Detect(_ lio.PointCloud, _ lio.FeatureObjects, pose lio.Matrix4) int {
	f.poses = append(f.poses, pose)
	f.corrected = append(f.corrected, pose)
	if !f.fired && len(f.poses) == f.triggerAt {
		f.fired = true
		shift := f.shift.Matrix()
		for i := f.firstChanged; i < len(f.corrected); i++ {
			f.corrected[i] = shift.Mul(f.poses[i])
		}
		f.edges = append(f.edges, lio.LoopEdge{Source: len(f.poses) - 1, Target: 0})
		return f.firstChanged
	}
	return 0
}

func (f *fakeLoop) BackTr(backIndex int) lio.Matrix4 {
	return f.corrected[len(f.corrected)-backIndex]
}

func (f *fakeLoop) Tr(index int) lio.Matrix4 { return f.corrected[index] }

func (f *fakeLoop) Edges() []lio.LoopEdge { return f.edges }

func positionOf(m lio.Matrix4) (float64, float64, float64) {
	return m.Translation()
}

func TestOdometryCore_KeyframeGate(t *testing.T) {
	core := lio.NewOdometryCore(lio.DefaultConfig(), nil)

	// Bootstrap keyframe.
	if _, ok := core.Mapping(testutil.FrameAt(lio.Identity4()), nil, 0); !ok {
		t.Fatal("bootstrap frame rejected")
	}
	if n := len(core.Trajectory()); n != 1 {
		t.Fatalf("trajectory after bootstrap = %d, want 1", n)
	}

	// Motion below every threshold: pose published, nothing promoted.
	m, ok := core.Mapping(testutil.FrameAt(lio.Transform{X: 0.4}.Matrix()), nil, 0.1)
	if !ok {
		t.Fatal("sub-threshold frame rejected")
	}
	if x, _, _ := positionOf(m); math.Abs(x-0.4) > 0.05 {
		t.Errorf("interpolated pose x = %f, want ≈0.4", x)
	}
	if n := len(core.Trajectory()); n != 1 {
		t.Errorf("sub-threshold frame grew trajectory to %d", n)
	}
	if core.LocalMaps().Size() != 1 {
		t.Errorf("sub-threshold frame grew local map to %d", core.LocalMaps().Size())
	}

	// One axis above threshold: promoted.
	if _, ok := core.Mapping(testutil.FrameAt(lio.Transform{X: 0.6}.Matrix()), nil, 0.2); !ok {
		t.Fatal("keyframe rejected")
	}
	if n := len(core.Trajectory()); n != 2 {
		t.Errorf("trajectory after promotion = %d, want 2", n)
	}
	if core.LocalMaps().Size() != 2 {
		t.Errorf("local map after promotion = %d, want 2", core.LocalMaps().Size())
	}
}

// A long static capture collapses to a single keyframe at the origin.
func TestOdometryCore_StaticScene(t *testing.T) {
	core := lio.NewOdometryCore(lio.DefaultConfig(), nil)
	frame := testutil.FrameAt(lio.Identity4())

	for i := 0; i < 50; i++ {
		if _, ok := core.Mapping(frame, nil, float64(i)*0.1); !ok {
			t.Fatalf("static frame %d rejected", i)
		}
	}

	traj := core.Trajectory()
	if len(traj) != 1 {
		t.Fatalf("static scene produced %d keyframes, want 1", len(traj))
	}
	x, y, z := positionOf(traj[0].Pose)
	if math.Abs(x) > 1e-6 || math.Abs(y) > 1e-6 || math.Abs(z) > 1e-6 {
		t.Errorf("origin keyframe at (%f, %f, %f)", x, y, z)
	}
	if len(core.LoopEdges()) != 0 {
		t.Errorf("static scene produced %d loop edges", len(core.LoopEdges()))
	}
}

// Constant forward motion: one keyframe per frame, bounded accumulated
// error at the far end.
func TestOdometryCore_StraightLine(t *testing.T) {
	core := lio.NewOdometryCore(lio.DefaultConfig(), nil)

	const frames = 11 // origin plus 10 m of travel
	for i := 0; i < frames; i++ {
		pose := lio.Transform{X: float64(i)}.Matrix()
		if _, ok := core.Mapping(testutil.FrameAt(pose), nil, float64(i)*0.1); !ok {
			t.Fatalf("frame %d rejected", i)
		}
	}

	traj := core.Trajectory()
	if len(traj) != frames {
		t.Fatalf("got %d keyframes, want %d", len(traj), frames)
	}

	x, y, z := positionOf(traj[len(traj)-1].Pose)
	if math.Abs(x-10) > 0.05 {
		t.Errorf("final x = %f, want 10 ± 0.05", x)
	}
	if math.Abs(y) > 0.05 || math.Abs(z) > 0.05 {
		t.Errorf("final lateral drift (%f, %f) exceeds 5 cm", y, z)
	}
}

// A frame with too few line features is rejected; its neighbours keep
// the trajectory contiguous.
func TestOdometryCore_UnderFeaturedFrame(t *testing.T) {
	core := lio.NewOdometryCore(lio.DefaultConfig(), nil)

	if _, ok := core.Mapping(testutil.FrameAt(lio.Identity4()), nil, 0); !ok {
		t.Fatal("bootstrap frame rejected")
	}

	starved := lio.FeatureFrame{
		Spin: lio.FeatureObjects{
			Lines:  make(lio.PointCloud, 5),
			Planes: make(lio.PointCloud, 500),
		},
	}
	if _, err := core.Update(starved); err != lio.ErrSpinFeatures {
		t.Errorf("Update error = %v, want ErrSpinFeatures", err)
	}
	if _, ok := core.Mapping(starved, nil, 0.1); ok {
		t.Error("under-featured frame accepted by Mapping")
	}

	if _, ok := core.Mapping(testutil.FrameAt(lio.Transform{X: 0.6}.Matrix()), nil, 0.2); !ok {
		t.Fatal("good frame after rejection was dropped")
	}
	if n := len(core.Trajectory()); n != 2 {
		t.Errorf("trajectory = %d keyframes, want 2 (rejection must not break continuity)", n)
	}
}

// When the loop module reports a correction from keyframe k, the
// trajectory tail, the ring poses and the edge list are rewritten.
func TestOdometryCore_LoopClosureRewrite(t *testing.T) {
	loop := &fakeLoop{triggerAt: 20, firstChanged: 3, shift: lio.Transform{X: -0.5}}
	cfg := lio.DefaultConfig()
	core := lio.NewOdometryCore(cfg, loop)

	const frames = 20
	for i := 0; i < frames; i++ {
		pose := lio.Transform{X: 0.6 * float64(i)}.Matrix()
		if _, ok := core.Mapping(testutil.SpinOnlyFrameAt(pose), nil, float64(i)*0.1); !ok {
			t.Fatalf("frame %d rejected", i)
		}
	}

	traj := core.Trajectory()
	if len(traj) != frames {
		t.Fatalf("got %d keyframes, want %d", len(traj), frames)
	}

	// Poses before the first changed index are untouched, the tail is
	// shifted by the scripted correction.
	for j := 0; j < frames; j++ {
		x, _, _ := positionOf(traj[j].Pose)
		want := 0.6 * float64(j)
		if j >= loop.firstChanged {
			want -= 0.5
		}
		if math.Abs(x-want) > 0.05 {
			t.Errorf("trajectory[%d].x = %f, want %f", j, x, want)
		}
	}

	if len(core.LoopEdges()) < 1 {
		t.Error("no loop edges after correction")
	}
	if segs := core.LoopMarkerSegments(); len(segs) != 2*len(core.LoopEdges()) {
		t.Errorf("marker segments = %d, want %d", len(segs), 2*len(core.LoopEdges()))
	}

	// The ring's head pose must match the corrected current pose.
	if got, want := core.LocalMaps().Tr(), loop.BackTr(1); got != want {
		t.Errorf("ring head pose not rewritten: got %v want %v", got, want)
	}
}
