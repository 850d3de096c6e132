package monitor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tailor-robotics/tailor/internal/lio"
)

func TestPlotTrajectoryXY(t *testing.T) {
	traj := []lio.TrajectoryPose{
		{Time: 0, Pose: lio.Identity4()},
		{Time: 0.1, Pose: lio.Transform{X: 1}.Matrix()},
		{Time: 0.2, Pose: lio.Transform{X: 2, Y: 0.5}.Matrix()},
	}
	edges := []lio.LoopEdge{{Source: 2, Target: 0}}

	out := filepath.Join(t.TempDir(), "traj.png")
	if err := PlotTrajectoryXY(traj, edges, out); err != nil {
		t.Fatalf("PlotTrajectoryXY: %v", err)
	}

	info, err := os.Stat(out)
	if err != nil {
		t.Fatalf("plot not written: %v", err)
	}
	if info.Size() == 0 {
		t.Error("plot file is empty")
	}
}

func TestPlotTrajectoryXY_EmptyTrajectory(t *testing.T) {
	out := filepath.Join(t.TempDir(), "traj.png")
	if err := PlotTrajectoryXY(nil, nil, out); err == nil {
		t.Error("expected an error for an empty trajectory")
	}
}

func TestPlotTrajectoryXY_EdgeOutOfRangeIgnored(t *testing.T) {
	traj := []lio.TrajectoryPose{{Time: 0, Pose: lio.Identity4()}}
	edges := []lio.LoopEdge{{Source: 5, Target: 0}}

	out := filepath.Join(t.TempDir(), "traj.png")
	if err := PlotTrajectoryXY(traj, edges, out); err != nil {
		t.Fatalf("out-of-range edge should be skipped, got error: %v", err)
	}
}
