package lio

import "math"

// Spin extraction tuning. Curvature is the squared norm of the local
// difference sum over curvatureHalfWindow neighbours each side, normalised
// by range, so thresholds are scale-free.
const (
	curvatureHalfWindow = 5
	edgeCurvature       = 0.1
	planarCurvature     = 0.05
	planarStride        = 4
	maxLinesPerRing     = 20
)

// ExtractSpinFeatures splits one spinning-scanner sweep into line features
// (high local curvature, e.g. poles and building edges) and plane features
// (smooth neighbourhoods). Points are grouped by ring and evaluated in
// scan order within each ring. The Non class is not produced by this
// sensor and stays nil.
func ExtractSpinFeatures(cloud PointCloud) FeatureObjects {
	out := FeatureObjects{
		Lines:  make(PointCloud, 0, 64),
		Planes: make(PointCloud, 0, 1024),
	}

	for _, ring := range splitRings(cloud) {
		extractRing(ring, &out)
	}
	return out
}

// splitRings groups the cloud by ring number, preserving scan order.
func splitRings(cloud PointCloud) []PointCloud {
	byRing := map[uint16]PointCloud{}
	var order []uint16
	for _, p := range cloud {
		if _, seen := byRing[p.Ring]; !seen {
			order = append(order, p.Ring)
		}
		byRing[p.Ring] = append(byRing[p.Ring], p)
	}
	rings := make([]PointCloud, 0, len(order))
	for _, r := range order {
		rings = append(rings, byRing[r])
	}
	return rings
}

func extractRing(ring PointCloud, out *FeatureObjects) {
	n := len(ring)
	if n < 2*curvatureHalfWindow+1 {
		return
	}

	curv := make([]float64, n)
	for i := curvatureHalfWindow; i < n-curvatureHalfWindow; i++ {
		curv[i] = curvatureAt(ring, i)
	}

	// Lines: local curvature maxima above the edge threshold, with a
	// suppression window so one physical edge yields one feature point.
	picked := make([]bool, n)
	lines := 0
	for lines < maxLinesPerRing {
		best, bestCurv := -1, edgeCurvature
		for i := curvatureHalfWindow; i < n-curvatureHalfWindow; i++ {
			if !picked[i] && curv[i] > bestCurv {
				best, bestCurv = i, curv[i]
			}
		}
		if best < 0 {
			break
		}
		out.Lines = append(out.Lines, ring[best])
		lines++
		for j := best - curvatureHalfWindow; j <= best+curvatureHalfWindow; j++ {
			if j >= 0 && j < n {
				picked[j] = true
			}
		}
	}

	// Planes: smooth points, strided to keep the cloud compact.
	kept := 0
	for i := curvatureHalfWindow; i < n-curvatureHalfWindow; i++ {
		if picked[i] || curv[i] >= planarCurvature {
			continue
		}
		if kept%planarStride == 0 {
			out.Planes = append(out.Planes, ring[i])
		}
		kept++
	}
}

// curvatureAt computes the range-normalised squared norm of the local
// difference sum around index i.
func curvatureAt(ring PointCloud, i int) float64 {
	p := ring[i]
	var dx, dy, dz float64
	for j := -curvatureHalfWindow; j <= curvatureHalfWindow; j++ {
		if j == 0 {
			continue
		}
		q := ring[i+j]
		dx += q.X - p.X
		dy += q.Y - p.Y
		dz += q.Z - p.Z
	}
	rangeSq := p.X*p.X + p.Y*p.Y + p.Z*p.Z
	if rangeSq < 1e-6 {
		return 0
	}
	return (dx*dx + dy*dy + dz*dz) / rangeSq
}

// rangeOf is the Euclidean distance of a point from the sensor origin.
func rangeOf(p Point) float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
}
