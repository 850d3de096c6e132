package lio

import (
	"errors"
	"sync/atomic"
)

// Feature-stage acceptance thresholds. Frames under these are dropped
// before they reach the solver; a scanner that produces this little is
// occluded or staring at a featureless surface, and the degeneracy
// mitigation downstream should not be asked to mask a sensor dropout.
const (
	minSpinLineFeatures  = 20
	minSpinPlaneFeatures = 100
)

// FeatureHandler consumes one extracted feature frame together with the
// synced message it came from.
type FeatureHandler func(msg SyncedMessage, frame FeatureFrame)

// Extractor turns one raw sensor cloud into feature sub-clouds.
type Extractor func(cloud PointCloud) FeatureObjects

// FeatureStageConfig configures the feature extraction worker.
type FeatureStageConfig struct {
	UseSpin  bool
	UseSolid bool

	// Extrinsic maps the solid-state sensor frame into the spinning
	// sensor frame; its inverse is applied to every solid sub-cloud.
	Extrinsic Transform

	// SpinExtractor and SolidExtractor default to the built-in kernels.
	// Injection points for testing.
	SpinExtractor  Extractor
	SolidExtractor Extractor
}

// ErrNoSensorEnabled is returned when both sensor branches are disabled.
var ErrNoSensorEnabled = errors.New("use_spin and use_solid cannot both be false")

// FeatureStage owns the first pipeline worker: it drains synced messages
// from its queue, extracts per-sensor features, drops under-featured
// frames and fans the result out to the registered handlers.
type FeatureStage struct {
	cfg          FeatureStageConfig
	extrinsicInv Matrix4

	queue    *SyncedQueue[SyncedMessage]
	handlers []FeatureHandler

	stop    atomic.Bool
	done    chan struct{}
	started bool
}

// NewFeatureStage validates the configuration and prepares the stage.
// Call Append for every consumer, then Start.
func NewFeatureStage(cfg FeatureStageConfig) (*FeatureStage, error) {
	if !cfg.UseSpin && !cfg.UseSolid {
		return nil, ErrNoSensorEnabled
	}
	if cfg.SpinExtractor == nil {
		cfg.SpinExtractor = ExtractSpinFeatures
	}
	if cfg.SolidExtractor == nil {
		cfg.SolidExtractor = ExtractSolidFeatures
	}
	return &FeatureStage{
		cfg:          cfg,
		extrinsicInv: cfg.Extrinsic.Matrix().Inverse(),
		queue:        NewSyncedQueue[SyncedMessage](),
		done:         make(chan struct{}),
	}, nil
}

// Append registers a consumer for extracted frames. The registry is
// append-only and must be complete before Start.
func (fs *FeatureStage) Append(h FeatureHandler) {
	if fs.started {
		panic("lio: FeatureStage.Append after Start")
	}
	fs.handlers = append(fs.handlers, h)
}

// Enqueue hands one synced message to the stage. Safe from any goroutine.
func (fs *FeatureStage) Enqueue(msg SyncedMessage) {
	fs.queue.Push(msg)
}

// Start launches the worker goroutine.
func (fs *FeatureStage) Start() {
	fs.started = true
	go fs.run()
}

// Close stops the worker and waits for it to drain and exit.
func (fs *FeatureStage) Close() {
	fs.stop.Store(true)
	fs.queue.Notify()
	<-fs.done
}

func (fs *FeatureStage) run() {
	defer close(fs.done)
	opsf("feature stage started (spin=%v solid=%v)", fs.cfg.UseSpin, fs.cfg.UseSolid)

	for {
		batch := fs.queue.Acquire(func() bool { return fs.stop.Load() })
		if len(batch) == 0 {
			break
		}

		for _, msg := range batch {
			if fs.stop.Load() {
				break
			}
			frame, ok := fs.process(msg)
			if !ok {
				continue
			}
			for _, h := range fs.handlers {
				h(msg, frame)
			}
		}
	}

	opsf("feature stage stopped")
}

// process extracts both sensors' features for one message. Returns false
// when the frame is under-featured and must be dropped.
func (fs *FeatureStage) process(msg SyncedMessage) (FeatureFrame, bool) {
	var frame FeatureFrame

	if fs.cfg.UseSpin {
		frame.Spin = fs.cfg.SpinExtractor(msg.Spin)
		if len(frame.Spin.Lines) < minSpinLineFeatures || len(frame.Spin.Planes) < minSpinPlaneFeatures {
			diagf("spin features not enough (lines=%d planes=%d)", len(frame.Spin.Lines), len(frame.Spin.Planes))
			return FeatureFrame{}, false
		}
	}

	if fs.cfg.UseSolid {
		frame.Solid = fs.cfg.SolidExtractor(msg.Solid)
		if len(frame.Solid.Planes) == 0 || len(frame.Solid.Non) == 0 {
			diagf("solid features empty (planes=%d non=%d)", len(frame.Solid.Planes), len(frame.Solid.Non))
			return FeatureFrame{}, false
		}

		// Express the solid sub-clouds in the spinning sensor's frame so
		// the solver works in a single sensor frame.
		frame.Solid = frame.Solid.transformed(fs.extrinsicInv)
	}

	return frame, true
}
