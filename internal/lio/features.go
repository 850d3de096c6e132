package lio

// FeatureObjects holds the geometric feature sub-clouds extracted from one
// sensor's capture. Per-sensor conventions: the spinning scanner populates
// Lines and Planes; the solid-state scanner populates Planes and Non.
// A nil sub-cloud means the sensor does not produce that feature class.
type FeatureObjects struct {
	Lines  PointCloud
	Planes PointCloud
	Non    PointCloud
}

// featureOK applies the per-class minimum counts used by the odometry
// gate. Classes the sensor does not produce (nil) are not checked.
func featureOK(f FeatureObjects) bool {
	if f.Lines != nil && len(f.Lines) < 10 {
		return false
	}
	if f.Planes != nil && len(f.Planes) < 100 {
		return false
	}
	if f.Non != nil && len(f.Non) < 100 {
		return false
	}
	return true
}

// transformed moves every present sub-cloud by m.
func (f FeatureObjects) transformed(m Matrix4) FeatureObjects {
	return FeatureObjects{
		Lines:  f.Lines.Transformed(m),
		Planes: f.Planes.Transformed(m),
		Non:    f.Non.Transformed(m),
	}
}

// FeatureFrame pairs the feature objects of both sensors for one
// synchronized capture instant.
type FeatureFrame struct {
	Spin  FeatureObjects
	Solid FeatureObjects
}

// TrajectoryPose is one accepted keyframe pose in insertion order.
type TrajectoryPose struct {
	Time float64
	Pose Matrix4
}
