package lio

// Point is a single LiDAR return. Ring is the laser channel for spinning
// scanners (zero for the solid-state sensor); TimeOffset is seconds since
// the start of the capture.
type Point struct {
	X, Y, Z    float64
	Intensity  float32
	Ring       uint16
	TimeOffset float32
}

// PointCloud is an ordered sequence of points. A nil PointCloud means the
// producing sensor does not emit that sub-cloud at all, which is distinct
// from an empty (len 0) cloud meaning "produced nothing this frame".
type PointCloud []Point

// Transformed returns a copy of the cloud with every point moved by m.
// A nil cloud stays nil.
func (pc PointCloud) Transformed(m Matrix4) PointCloud {
	if pc == nil {
		return nil
	}
	out := make(PointCloud, len(pc))
	for i, p := range pc {
		x, y, z := m.Apply(p.X, p.Y, p.Z)
		q := p
		q.X, q.Y, q.Z = x, y, z
		out[i] = q
	}
	return out
}

// appendTransformed appends every point of src, moved by m, onto dst.
func appendTransformed(dst PointCloud, src PointCloud, m Matrix4) PointCloud {
	for _, p := range src {
		x, y, z := m.Apply(p.X, p.Y, p.Z)
		q := p
		q.X, q.Y, q.Z = x, y, z
		dst = append(dst, q)
	}
	return dst
}

// SyncedMessage is one time-aligned capture from the upstream sync layer.
// It passes through the pipeline unchanged so the mapping stage can publish
// the raw clouds in the map frame.
type SyncedMessage struct {
	Time  float64 // capture timestamp, seconds
	Spin  PointCloud
	Solid PointCloud
}
