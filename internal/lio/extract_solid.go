package lio

import "math"

// Solid-state extraction tuning. The non-repetitive scan pattern has no
// rings, so smoothness is evaluated over a sliding window in emission
// order. A range discontinuity inside the window marks an object
// boundary; those returns carry structure the plane fit cannot use and
// land in the non-feature class.
const (
	solidHalfWindow     = 4
	solidPlanarityLimit = 0.02
	solidMinRange       = 0.5
	solidJumpDistance   = 0.5
)

// ExtractSolidFeatures splits one solid-state capture into plane features
// (smooth neighbourhoods in emission order) and unstructured non-features
// (rough neighbourhoods and range-discontinuity returns). The Lines class
// is not produced by this sensor and stays nil.
func ExtractSolidFeatures(cloud PointCloud) FeatureObjects {
	out := FeatureObjects{
		Planes: make(PointCloud, 0, 1024),
		Non:    make(PointCloud, 0, 1024),
	}

	n := len(cloud)
	if n < 2*solidHalfWindow+1 {
		return out
	}

	for i := solidHalfWindow; i < n-solidHalfWindow; i++ {
		p := cloud[i]
		if rangeOf(p) < solidMinRange {
			continue
		}

		var dx, dy, dz float64
		jump := false
		for j := -solidHalfWindow; j <= solidHalfWindow; j++ {
			if j == 0 {
				continue
			}
			q := cloud[i+j]
			dx += q.X - p.X
			dy += q.Y - p.Y
			dz += q.Z - p.Z
			if math.Abs(rangeOf(q)-rangeOf(p)) > solidJumpDistance {
				jump = true
			}
		}
		rangeSq := p.X*p.X + p.Y*p.Y + p.Z*p.Z
		smooth := (dx*dx + dy*dy + dz*dz) / rangeSq

		if !jump && smooth < solidPlanarityLimit {
			out.Planes = append(out.Planes, p)
		} else {
			out.Non = append(out.Non, p)
		}
	}
	return out
}
