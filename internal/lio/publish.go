package lio

import "reflect"

// Egress sinks. All are optional; the mapping worker invokes them on its
// own goroutine with value-copied snapshots immediately after each
// accepted frame, so implementations may hand the data to any transport
// without further copying.

// PoseSink receives the map→spin-sensor rigid transform of each accepted
// frame.
type PoseSink interface {
	PublishPose(time float64, pose Matrix4)
}

// CloudSink receives the raw sensor clouds transformed into the map frame.
type CloudSink interface {
	PublishClouds(time float64, spin, solid PointCloud)
}

// PathSink receives the full trajectory snapshot after each accepted frame.
type PathSink interface {
	PublishPath(time float64, path []TrajectoryPose)
}

// MarkerSink receives loop-edge line segments (source, target pairs).
type MarkerSink interface {
	PublishLoopMarkers(time float64, segments [][3]float64)
}

// isNilInterface checks if an interface value is nil or contains a nil
// pointer. This handles the Go interface nil pitfall where i != nil but
// the underlying value is nil.
func isNilInterface(i interface{}) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}
