// Command plot-trajectory renders a saved TUM trajectory file as an XY
// path plot.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/tailor-robotics/tailor/internal/lio"
	"github.com/tailor-robotics/tailor/internal/lio/monitor"
)

var (
	input  = flag.String("in", "", "TUM trajectory file to read")
	output = flag.String("out", "trajectory.png", "Output image path")
)

func main() {
	flag.Parse()
	if *input == "" {
		log.Fatal("missing -in trajectory file")
	}

	f, err := os.Open(*input)
	if err != nil {
		log.Fatalf("open %s: %v", *input, err)
	}
	defer f.Close()

	traj, err := lio.ReadTUM(f)
	if err != nil {
		log.Fatalf("parse %s: %v", *input, err)
	}

	if err := monitor.PlotTrajectoryXY(traj, nil, *output); err != nil {
		log.Fatalf("plot: %v", err)
	}
	log.Printf("wrote %s (%d keyframes)", *output, len(traj))
}
