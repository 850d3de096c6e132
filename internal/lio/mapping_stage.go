package lio

import (
	"sync/atomic"
)

// StampedFrame is the unit of work handed from the feature stage to the
// mapping stage: the original synced message plus its extracted features.
type StampedFrame struct {
	Msg   SyncedMessage
	Frame FeatureFrame
}

// KeyframeSink persists accepted keyframes and loop edges. It is an
// adapter, not a domain layer; implementations live outside this package
// (e.g. internal/lio/storage/sqlite).
type KeyframeSink interface {
	// PersistKeyframe writes one accepted keyframe pose.
	PersistKeyframe(seq int, time float64, pose Matrix4) error
	// RewritePose updates a previously written keyframe pose after a
	// loop-closure correction.
	RewritePose(seq int, pose Matrix4) error
	// PersistLoopEdge writes one accepted loop edge.
	PersistLoopEdge(edge LoopEdge) error
}

// MappingStageConfig configures the mapping worker and its egress.
type MappingStageConfig struct {
	Odometry Config

	// Loop is the loop-closure module; nil disables loop closure
	// regardless of Odometry.LoopEnable.
	Loop LoopModule

	// Extrinsic maps the solid sensor frame into the spin sensor frame.
	// Used to place the raw solid cloud in the map frame on publish.
	Extrinsic Transform

	// SavePath, when non-empty, is the directory that receives the TUM
	// trajectory dump on shutdown.
	SavePath string

	// Optional egress.
	Poses     PoseSink
	Clouds    CloudSink
	Paths     PathSink
	Markers   MarkerSink
	Keyframes KeyframeSink
}

// MappingStage owns the second pipeline worker: sliding-window odometry,
// keyframe bookkeeping, loop closure and all egress fan-out. The
// trajectory, edge list and local map are exclusively owned by the worker
// goroutine; external consumers only ever see value-copied snapshots.
type MappingStage struct {
	cfg   MappingStageConfig
	queue *SyncedQueue[StampedFrame]
	odom  *OdometryCore

	extrinsicInv Matrix4

	stop atomic.Bool
	done chan struct{}

	frames    atomic.Int64
	keyframes atomic.Int64
}

// NewMappingStage prepares the mapping worker. Call Start to launch it;
// register the stage's Enqueue with the feature stage before starting the
// producer.
func NewMappingStage(cfg MappingStageConfig) *MappingStage {
	if cfg.Odometry.DegeneracyThreshold < 5.0 {
		opsf("degeneracy threshold %.2f is very low; expect ridge activations in open scenes", cfg.Odometry.DegeneracyThreshold)
	}
	return &MappingStage{
		cfg:          cfg,
		queue:        NewSyncedQueue[StampedFrame](),
		odom:         NewOdometryCore(cfg.Odometry, cfg.Loop),
		extrinsicInv: cfg.Extrinsic.Matrix().Inverse(),
		done:         make(chan struct{}),
	}
}

// Enqueue hands one extracted frame to the mapping worker. Shaped as a
// FeatureHandler so it can be appended to the feature stage directly.
func (ms *MappingStage) Enqueue(msg SyncedMessage, frame FeatureFrame) {
	ms.queue.Push(StampedFrame{Msg: msg, Frame: frame})
}

// Start launches the worker goroutine.
func (ms *MappingStage) Start() {
	go ms.run()
}

// Close stops the worker, waits for the drain epilogue (trajectory dump)
// and returns.
func (ms *MappingStage) Close() {
	ms.stop.Store(true)
	ms.queue.Notify()
	<-ms.done
}

// FrameCount reports how many frames the worker has consumed.
func (ms *MappingStage) FrameCount() int64 { return ms.frames.Load() }

// KeyframeCount reports how many keyframes have been accepted.
func (ms *MappingStage) KeyframeCount() int64 { return ms.keyframes.Load() }

func (ms *MappingStage) run() {
	defer close(ms.done)
	opsf("mapping stage started (save path %q)", ms.cfg.SavePath)

	for {
		batch := ms.queue.Acquire(func() bool { return ms.stop.Load() })
		if len(batch) == 0 {
			break
		}

		for _, item := range batch {
			if ms.stop.Load() {
				break
			}
			ms.step(item)
		}
	}

	ms.saveTrajectory()
	opsf("mapping stage stopped after %d frames (%d keyframes)", ms.frames.Load(), ms.keyframes.Load())
}

// step runs one frame through odometry and fans the results out.
func (ms *MappingStage) step(item StampedFrame) {
	ms.frames.Add(1)

	edgesBefore := len(ms.odom.loopEdges)
	trajBefore := len(ms.odom.trajectory)

	pose, ok := ms.odom.Mapping(item.Frame, item.Msg.Spin, item.Msg.Time)
	if !ok {
		return
	}

	promoted := len(ms.odom.trajectory) > trajBefore
	if promoted {
		ms.keyframes.Add(1)
	}
	corrected := len(ms.odom.loopEdges) > edgesBefore

	ms.persist(promoted, corrected)
	ms.publish(item.Msg, pose, corrected)

	tracef("frame t=%.3f keyframe=%v pose=(%.3f %.3f %.3f)", item.Msg.Time, promoted, pose[3], pose[7], pose[11])
}

// persist mirrors the worker's trajectory state into the keyframe sink.
// After a loop correction every stored pose may have moved, so the whole
// trajectory is rewritten.
func (ms *MappingStage) persist(promoted, corrected bool) {
	sink := ms.cfg.Keyframes
	if isNilInterface(sink) {
		return
	}

	traj := ms.odom.trajectory
	if promoted && len(traj) > 0 {
		seq := len(traj) - 1
		kf := traj[seq]
		if err := sink.PersistKeyframe(seq, kf.Time, kf.Pose); err != nil {
			opsf("persist keyframe %d: %v", seq, err)
		}
	}

	if corrected {
		for seq, kf := range traj {
			if err := sink.RewritePose(seq, kf.Pose); err != nil {
				opsf("rewrite keyframe %d: %v", seq, err)
				break
			}
		}
		for _, e := range ms.odom.LoopEdges() {
			if err := sink.PersistLoopEdge(e); err != nil {
				opsf("persist loop edge %d->%d: %v", e.Source, e.Target, err)
			}
		}
	}
}

// publish sends value-copied snapshots to the configured sinks on the
// worker goroutine.
func (ms *MappingStage) publish(msg SyncedMessage, pose Matrix4, corrected bool) {
	if !isNilInterface(ms.cfg.Poses) {
		ms.cfg.Poses.PublishPose(msg.Time, pose)
	}

	if !isNilInterface(ms.cfg.Clouds) {
		solidPose := pose.Mul(ms.extrinsicInv)
		ms.cfg.Clouds.PublishClouds(msg.Time, msg.Spin.Transformed(pose), msg.Solid.Transformed(solidPose))
	}

	if !isNilInterface(ms.cfg.Paths) {
		ms.cfg.Paths.PublishPath(msg.Time, ms.odom.Trajectory())
	}

	if !isNilInterface(ms.cfg.Markers) {
		if segments := ms.odom.LoopMarkerSegments(); len(segments) > 0 || corrected {
			ms.cfg.Markers.PublishLoopMarkers(msg.Time, segments)
		}
	}
}

// saveTrajectory is the drain epilogue: dump the trajectory in TUM format
// when a save path is configured and there is anything to save.
func (ms *MappingStage) saveTrajectory() {
	if ms.cfg.SavePath == "" {
		return
	}
	traj := ms.odom.trajectory
	if len(traj) == 0 {
		opsf("no trace to save")
		return
	}
	path, err := SaveTrajectory(ms.cfg.SavePath, traj)
	if err != nil {
		opsf("save trajectory: %v", err)
		return
	}
	opsf("saved %d traces to %s", len(traj), path)
}

// Trajectory returns a value copy of the accepted keyframe poses. Only
// meaningful once the stage is closed or between frames; intended for
// tests and the shutdown path.
func (ms *MappingStage) Trajectory() []TrajectoryPose {
	return ms.odom.Trajectory()
}

// LoopEdges returns a value copy of the accepted loop edges. Same access
// caveats as Trajectory.
func (ms *MappingStage) LoopEdges() []LoopEdge {
	return ms.odom.LoopEdges()
}
