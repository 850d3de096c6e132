package lio

// LoopEdge names a detected revisit between two keyframes, identified by
// their global trajectory indices. Surfaced for visualization.
type LoopEdge struct {
	Source int
	Target int
}

// LoopModule is the narrow contract of the loop-closure subsystem. The
// odometry core feeds it every accepted keyframe; when a revisit is
// confirmed the module globally relaxes the past trajectory and exposes
// the corrected poses through BackTr and Tr.
type LoopModule interface {
	// Detect registers a new keyframe (raw spin cloud, its spin features
	// and its world pose) and returns the index of the first trajectory
	// pose changed by a correction, or 0 when nothing changed.
	Detect(cloud PointCloud, features FeatureObjects, pose Matrix4) int

	// BackTr returns the corrected pose backIndex steps before the most
	// recent keyframe (backIndex 1 is the most recent).
	BackTr(backIndex int) Matrix4

	// Tr returns the corrected world pose at a global trajectory index.
	Tr(index int) Matrix4

	// Edges returns the accepted loop edges.
	Edges() []LoopEdge
}

// applyLoopClosure hands the new keyframe to the loop module and, when a
// correction comes back, rewrites the local-map ring poses, the affected
// tail of the trajectory and the edge list. Returns the corrected pose of
// the current keyframe (or the uncorrected pose when nothing changed).
func (oc *OdometryCore) applyLoopClosure(cloud PointCloud, spinFeatures FeatureObjects, pose Matrix4) Matrix4 {
	first := oc.loop.Detect(cloud, spinFeatures, pose)
	if first == 0 {
		return pose
	}

	opsf("loop closure: rewriting trajectory from keyframe %d (%d keyframes total)", first, len(oc.trajectory))

	// Ring slots hold only the last LocalMapSize keyframes; all of them
	// may have moved.
	for i := 1; i <= oc.localMaps.Size(); i++ {
		oc.localMaps.Set(i, oc.loop.BackTr(i))
	}

	for j := first; j < len(oc.trajectory); j++ {
		oc.trajectory[j].Pose = oc.loop.Tr(j)
	}

	oc.loopEdges = append(oc.loopEdges[:0], oc.loop.Edges()...)

	return oc.loop.BackTr(1)
}

// LoopMarkerSegments returns the loop edges as pairs of world positions
// (source then target per edge), ready for a line-list marker channel.
func (oc *OdometryCore) LoopMarkerSegments() [][3]float64 {
	if oc.loop == nil || len(oc.loopEdges) == 0 {
		return nil
	}
	segments := make([][3]float64, 0, 2*len(oc.loopEdges))
	for _, e := range oc.loopEdges {
		sx, sy, sz := oc.loop.Tr(e.Source).Translation()
		tx, ty, tz := oc.loop.Tr(e.Target).Translation()
		segments = append(segments, [3]float64{sx, sy, sz}, [3]float64{tx, ty, tz})
	}
	return segments
}
