// Command tailor runs the dual-LiDAR odometry and mapping pipeline
// against a synthesized replay scene. It wires the feature and mapping
// workers, an optional SQLite keyframe store and the built-in loop
// detector, then shuts everything down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tailor-robotics/tailor/internal/config"
	"github.com/tailor-robotics/tailor/internal/db"
	"github.com/tailor-robotics/tailor/internal/lio"
	"github.com/tailor-robotics/tailor/internal/lio/loopback"
	"github.com/tailor-robotics/tailor/internal/lio/monitor"
	"github.com/tailor-robotics/tailor/internal/lio/replay"
	storesqlite "github.com/tailor-robotics/tailor/internal/lio/storage/sqlite"
	"github.com/tailor-robotics/tailor/internal/version"
)

var (
	tuningPath = flag.String("tuning", "", "Path to the JSON tuning file (optional)")
	dbFile     = flag.String("db", "", "SQLite database for keyframe persistence (empty: disabled)")
	savePath   = flag.String("save", "", "Directory for the TUM trajectory dump (overrides tuning file)")
	plotPath   = flag.String("plot", "", "Write an XY trajectory plot to this file on exit")
	frames     = flag.Int("frames", 100, "Number of replay frames to synthesize")
	stepX      = flag.Float64("step-x", 0.6, "Forward motion per replay frame (metres)")
	logDiag    = flag.Bool("diag", false, "Enable diagnostic logging")
	logTrace   = flag.Bool("trace", false, "Enable per-frame trace logging")
)

func main() {
	flag.Parse()
	log.Printf("tailor %s (%s)", version.Version, version.GitSHA)

	writers := lio.LogWriters{Ops: os.Stderr}
	if *logDiag {
		writers.Diag = os.Stderr
	}
	if *logTrace {
		writers.Trace = os.Stderr
	}
	lio.SetLogWriters(writers)

	cfg := config.DefaultPipelineConfig()
	if *tuningPath != "" {
		tc, err := config.LoadTuningConfig(*tuningPath)
		if err != nil {
			log.Fatalf("load tuning: %v", err)
		}
		if err := tc.Apply(&cfg); err != nil {
			log.Fatalf("apply tuning: %v", err)
		}
	}
	if *savePath != "" {
		cfg.SavePath = *savePath
	}

	var keyframes lio.KeyframeSink
	if *dbFile != "" {
		conn, err := db.Open(*dbFile)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		defer conn.Close()
		if err := db.MigrateUp(conn); err != nil {
			log.Fatalf("migrate database: %v", err)
		}
		store, err := storesqlite.NewKeyframeStore(conn)
		if err != nil {
			log.Fatalf("create keyframe store: %v", err)
		}
		log.Printf("persisting keyframes to %s (run %s)", *dbFile, store.RunID())
		keyframes = store
	}

	var loop lio.LoopModule
	if cfg.Odometry.LoopEnable {
		loopCfg := loopback.DefaultConfig()
		loopCfg.InitialLoad = cfg.Odometry.LoopInitialLoad
		loopCfg.Reset = cfg.Odometry.LoopReset
		loopCfg.MaxLoss = cfg.Odometry.LoopMaxLoss
		loop = loopback.New(loopCfg)
	}

	mapping := lio.NewMappingStage(lio.MappingStageConfig{
		Odometry:  cfg.Odometry,
		Loop:      loop,
		Extrinsic: cfg.Extrinsic,
		SavePath:  cfg.SavePath,
		Keyframes: keyframes,
	})

	features, err := lio.NewFeatureStage(lio.FeatureStageConfig{
		UseSpin:   cfg.UseSpin,
		UseSolid:  cfg.UseSolid,
		Extrinsic: cfg.Extrinsic,
	})
	if err != nil {
		log.Fatalf("feature stage: %v", err)
	}

	// Consumers must be registered before the producer starts.
	features.Append(mapping.Enqueue)
	mapping.Start()
	features.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("synthesizing %d corridor frames (%.2f m/frame)", *frames, *stepX)
	scene := replay.Corridor()
	msgs := scene.Synthesize(replay.StraightPath(*frames, lio.Transform{X: *stepX}))

	var source replay.Source
	source.Append(features.Enqueue)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, msg := range msgs {
			select {
			case <-ctx.Done():
				return
			default:
			}
			source.Run([]lio.SyncedMessage{msg})
		}
	}()

	select {
	case <-ctx.Done():
		log.Printf("signal received, shutting down")
	case <-done:
	}

	features.Close()
	mapping.Close()

	log.Printf("processed %d frames, %d keyframes", mapping.FrameCount(), mapping.KeyframeCount())

	if *plotPath != "" {
		if err := monitor.PlotTrajectoryXY(mapping.Trajectory(), mapping.LoopEdges(), *plotPath); err != nil {
			log.Printf("plot trajectory: %v", err)
		} else {
			log.Printf("wrote trajectory plot to %s", *plotPath)
		}
	}
}
