// Package monitor renders post-run diagnostics. The trajectory plotter
// draws the estimated XY path so a drift or a failed loop closure is
// visible at a glance without replaying the dataset.
package monitor

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/tailor-robotics/tailor/internal/lio"
)

// PlotTrajectoryXY renders the keyframe path projected onto the XY plane
// and writes it to outPath (format chosen by extension, e.g. .png).
func PlotTrajectoryXY(traj []lio.TrajectoryPose, edges []lio.LoopEdge, outPath string) error {
	if len(traj) == 0 {
		return fmt.Errorf("empty trajectory")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Trajectory (%d keyframes)", len(traj))
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"

	xys := make(plotter.XYs, len(traj))
	for i, kf := range traj {
		x, y, _ := kf.Pose.Translation()
		xys[i].X = x
		xys[i].Y = y
	}

	line, err := plotter.NewLine(xys)
	if err != nil {
		return fmt.Errorf("build path line: %w", err)
	}
	line.Color = color.RGBA{B: 200, A: 255}
	p.Add(line)

	// Loop edges as light chords between their endpoints.
	for _, e := range edges {
		if e.Source >= len(traj) || e.Target >= len(traj) {
			continue
		}
		sx, sy, _ := traj[e.Source].Pose.Translation()
		tx, ty, _ := traj[e.Target].Pose.Translation()
		chord, err := plotter.NewLine(plotter.XYs{{X: sx, Y: sy}, {X: tx, Y: ty}})
		if err != nil {
			return fmt.Errorf("build loop chord: %w", err)
		}
		chord.Color = color.RGBA{R: 220, G: 180, A: 255}
		p.Add(chord)
	}

	start, err := plotter.NewScatter(plotter.XYs{xys[0]})
	if err != nil {
		return fmt.Errorf("build start marker: %w", err)
	}
	start.GlyphStyle.Color = color.RGBA{G: 180, A: 255}
	start.GlyphStyle.Radius = vg.Points(4)
	p.Add(start)

	if err := p.Save(8*vg.Inch, 8*vg.Inch, outPath); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}
