package lio

import "errors"

// Per-frame rejection reasons surfaced by OdometryCore.Update. These are
// recoverable: the mapping worker logs them and moves on.
var (
	ErrSpinFeatures  = errors.New("spin sensor not enough features")
	ErrSolidFeatures = errors.New("solid sensor not enough features")
)

// KeyframeThresholds are the per-axis motion magnitudes a frame must
// reach or exceed on at least one axis to be promoted to a keyframe.
type KeyframeThresholds struct {
	X, Y, Z          float64
	Roll, Pitch, Yaw float64
}

// Config collects the odometry-side tuning knobs.
type Config struct {
	DegeneracyThreshold float64
	Keyframe            KeyframeThresholds

	LoopEnable      bool
	LoopMaxLoss     float64
	LoopReset       int
	LoopInitialLoad int
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		DegeneracyThreshold: 10.0,
		Keyframe: KeyframeThresholds{
			X: 0.5, Y: 0.5, Z: 0.1,
			Roll: 0.02, Pitch: 0.02, Yaw: 0.02,
		},
		LoopEnable:      true,
		LoopMaxLoss:     0.05,
		LoopReset:       5,
		LoopInitialLoad: 100,
	}
}

// OdometryCore drives registration against the sliding-window local map,
// decides keyframe promotion and maintains the world trajectory. It is
// exclusively owned by the mapping worker.
type OdometryCore struct {
	localMaps        *LocalMap
	nextInitialGuess Transform
	config           Config

	trajectory []TrajectoryPose

	loop      LoopModule
	loopEdges []LoopEdge
}

// NewOdometryCore builds a core with the given tuning. loop may be nil
// when loop closure is disabled.
func NewOdometryCore(config Config, loop LoopModule) *OdometryCore {
	return &OdometryCore{
		localMaps: NewLocalMap(),
		config:    config,
		loop:      loop,
	}
}

// LocalMaps exposes the keyframe ring for inspection.
func (oc *OdometryCore) LocalMaps() *LocalMap { return oc.localMaps }

// Trajectory returns a value copy of the accepted keyframe poses.
func (oc *OdometryCore) Trajectory() []TrajectoryPose {
	out := make([]TrajectoryPose, len(oc.trajectory))
	copy(out, oc.trajectory)
	return out
}

// LoopEdges returns a value copy of the current loop-edge list.
func (oc *OdometryCore) LoopEdges() []LoopEdge {
	out := make([]LoopEdge, len(oc.loopEdges))
	copy(out, oc.loopEdges)
	return out
}

// Update registers the frame against the fused local map and returns the
// pose increment relative to the current head, not a world pose. The
// result is carried as the next frame's initial guess, which assumes
// roughly constant velocity at the frame rate.
func (oc *OdometryCore) Update(frame FeatureFrame) (Transform, error) {
	if !featureOK(frame.Spin) {
		return Transform{}, ErrSpinFeatures
	}
	if !featureOK(frame.Solid) {
		return Transform{}, ErrSolidFeatures
	}

	if oc.localMaps.Empty() {
		oc.localMaps.Push(frame, Identity4())
		return Transform{}, nil
	}

	local := oc.localMaps.GetLocalMap()
	tr := Register(frame, local, oc.config.DegeneracyThreshold, oc.nextInitialGuess)
	oc.nextInitialGuess = tr
	return tr, nil
}

// belowKeyframeThresholds reports whether every component of tr is under
// its per-axis promotion threshold.
func (oc *OdometryCore) belowKeyframeThresholds(tr Transform) bool {
	k := oc.config.Keyframe
	return abs(tr.X) < k.X && abs(tr.Y) < k.Y && abs(tr.Z) < k.Z &&
		abs(tr.Roll) < k.Roll && abs(tr.Pitch) < k.Pitch && abs(tr.Yaw) < k.Yaw
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Mapping runs one frame through the full odometry step: registration,
// keyframe gate, trajectory append and loop closure. spinCloud is the raw
// spinning-scanner capture handed to the loop detector. Returns the world
// pose of the frame and false when the frame was rejected.
func (oc *OdometryCore) Mapping(frame FeatureFrame, spinCloud PointCloud, time float64) (Matrix4, bool) {
	bootstrap := oc.localMaps.Empty()

	tr, err := oc.Update(frame)
	if err != nil {
		diagf("frame dropped: %v", err)
		return Matrix4{}, false
	}

	if bootstrap {
		// First keyframe anchors the world frame at the origin. The loop
		// module still records it so its indices stay aligned with the
		// trajectory.
		m := Identity4()
		oc.trajectory = append(oc.trajectory, TrajectoryPose{Time: time, Pose: m})
		if oc.config.LoopEnable && oc.loop != nil {
			m = oc.applyLoopClosure(spinCloud, frame.Spin, m)
		}
		return m, true
	}

	m := oc.localMaps.Tr().Mul(tr.Matrix())

	// Too little motion: publish the interpolated pose but keep the
	// keyframe ring and trajectory untouched.
	if oc.belowKeyframeThresholds(tr) {
		return m, true
	}

	oc.localMaps.Push(frame, m)
	oc.trajectory = append(oc.trajectory, TrajectoryPose{Time: time, Pose: m})

	if oc.config.LoopEnable && oc.loop != nil {
		m = oc.applyLoopClosure(spinCloud, frame.Spin, m)
	}
	return m, true
}
