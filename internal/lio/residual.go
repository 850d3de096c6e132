package lio

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Correspondence kernel tuning. Neighbour fits use fitNeighbors points; a
// candidate is discarded when its neighbourhood is too spread out or the
// resulting residual is implausibly large for a frame-to-map match.
const (
	fitNeighbors         = 5
	indexCellSize        = 1.0
	maxNeighborDistSq    = 4.0
	maxResidualMagnitude = 2.0
	eigenDominanceRatio  = 3.0
	nonFeatureWeight     = 0.5
)

// normalSystem accumulates the normal equations AᵀA·δ = Aᵀb of the
// linearized registration problem without materializing A.
type normalSystem struct {
	ata   [36]float64
	atb   [6]float64
	count int
}

func (s *normalSystem) add(row [6]float64, b float64) {
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			s.ata[i*6+j] += row[i] * row[j]
		}
		s.atb[i] += row[i] * b
	}
	s.count++
}

// rotationJacobian holds ∂R/∂roll, ∂R/∂pitch, ∂R/∂yaw as 3x3 row-major
// blocks for R = Rz(yaw)·Ry(pitch)·Rx(roll).
type rotationJacobian struct {
	dRoll, dPitch, dYaw [9]float64
}

func eulerJacobian(t Transform) rotationJacobian {
	sr, cr := math.Sincos(t.Roll)
	sp, cp := math.Sincos(t.Pitch)
	sy, cy := math.Sincos(t.Yaw)

	return rotationJacobian{
		dRoll: [9]float64{
			0, cy*sp*cr + sy*sr, -cy*sp*sr + sy*cr,
			0, sy*sp*cr - cy*sr, -sy*sp*sr - cy*cr,
			0, cp * cr, -cp * sr,
		},
		dPitch: [9]float64{
			-cy * sp, cy * cp * sr, cy * cp * cr,
			-sy * sp, sy * cp * sr, sy * cp * cr,
			-cp, -sp * sr, -sp * cr,
		},
		dYaw: [9]float64{
			-sy * cp, -sy*sp*sr - cy*cr, -sy*sp*cr + cy*sr,
			cy * cp, cy*sp*sr - sy*cr, cy*sp*cr + sy*sr,
			0, 0, 0,
		},
	}
}

func mul3(m [9]float64, x, y, z float64) (float64, float64, float64) {
	return m[0]*x + m[1]*y + m[2]*z,
		m[3]*x + m[4]*y + m[5]*z,
		m[6]*x + m[7]*y + m[8]*z
}

// addResidual appends one linearized correspondence. n is the unit
// gradient of the residual with respect to the transformed point, p the
// original sensor-frame point, r the signed residual value.
func addResidual(sys *normalSystem, jac rotationJacobian, n [3]float64, p Point, r, weight float64) {
	rx, ry, rz := mul3(jac.dRoll, p.X, p.Y, p.Z)
	px, py, pz := mul3(jac.dPitch, p.X, p.Y, p.Z)
	yx, yy, yz := mul3(jac.dYaw, p.X, p.Y, p.Z)

	row := [6]float64{
		n[0], n[1], n[2],
		n[0]*rx + n[1]*ry + n[2]*rz,
		n[0]*px + n[1]*py + n[2]*pz,
		n[0]*yx + n[1]*yy + n[2]*yz,
	}
	for i := range row {
		row[i] *= weight
	}
	sys.add(row, -r*weight)
}

// fitStats is the centroid and covariance eigen-decomposition of a
// neighbourhood, ordered ascending by eigenvalue.
type fitStats struct {
	cx, cy, cz float64
	values     [3]float64
	vectors    [3][3]float64 // vectors[k] is the eigenvector of values[k]
}

func fitNeighborhood(points PointCloud, nbs []neighbor) (fitStats, bool) {
	var st fitStats
	if len(nbs) < 3 {
		return st, false
	}
	inv := 1.0 / float64(len(nbs))
	for _, nb := range nbs {
		p := points[nb.idx]
		st.cx += p.X * inv
		st.cy += p.Y * inv
		st.cz += p.Z * inv
	}

	var cov [6]float64 // xx, xy, xz, yy, yz, zz
	for _, nb := range nbs {
		p := points[nb.idx]
		dx, dy, dz := p.X-st.cx, p.Y-st.cy, p.Z-st.cz
		cov[0] += dx * dx
		cov[1] += dx * dy
		cov[2] += dx * dz
		cov[3] += dy * dy
		cov[4] += dy * dz
		cov[5] += dz * dz
	}

	sym := mat.NewSymDense(3, []float64{
		cov[0], cov[1], cov[2],
		cov[1], cov[3], cov[4],
		cov[2], cov[4], cov[5],
	})

	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return st, false
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	vals := eig.Values(nil)

	// EigenSym returns ascending eigenvalues already.
	for k := 0; k < 3; k++ {
		st.values[k] = vals[k]
		for r := 0; r < 3; r++ {
			st.vectors[k][r] = vecs.At(r, k)
		}
	}
	return st, true
}

// accumLineResiduals matches each observed line point, moved by the
// current pose estimate, against a line fitted to its nearest local-map
// line points (point-to-line residual).
func accumLineResiduals(sys *normalSystem, observed PointCloud, local *voxelIndex, pose Matrix4, jac rotationJacobian, weight float64) {
	if local == nil {
		return
	}
	for _, p := range observed {
		qx, qy, qz := pose.Apply(p.X, p.Y, p.Z)
		nbs := local.nearest(qx, qy, qz, fitNeighbors)
		if len(nbs) < fitNeighbors || nbs[len(nbs)-1].distSq > maxNeighborDistSq {
			continue
		}
		st, ok := fitNeighborhood(local.points, nbs)
		if !ok || st.values[2] < eigenDominanceRatio*st.values[1] {
			continue
		}

		// Perpendicular offset from the fitted line.
		u := st.vectors[2]
		vx, vy, vz := qx-st.cx, qy-st.cy, qz-st.cz
		along := vx*u[0] + vy*u[1] + vz*u[2]
		ex, ey, ez := vx-along*u[0], vy-along*u[1], vz-along*u[2]
		r := math.Sqrt(ex*ex + ey*ey + ez*ez)
		if r < 1e-9 || r > maxResidualMagnitude {
			continue
		}
		n := [3]float64{ex / r, ey / r, ez / r}
		addResidual(sys, jac, n, p, r, weight)
	}
}

// accumPlaneResiduals matches each observed point against a plane fitted
// to its nearest local-map points (point-to-plane residual).
func accumPlaneResiduals(sys *normalSystem, observed PointCloud, local *voxelIndex, pose Matrix4, jac rotationJacobian, weight float64) {
	if local == nil {
		return
	}
	for _, p := range observed {
		qx, qy, qz := pose.Apply(p.X, p.Y, p.Z)
		nbs := local.nearest(qx, qy, qz, fitNeighbors)
		if len(nbs) < fitNeighbors || nbs[len(nbs)-1].distSq > maxNeighborDistSq {
			continue
		}
		st, ok := fitNeighborhood(local.points, nbs)
		if !ok || st.values[1] < eigenDominanceRatio*st.values[0] {
			continue
		}

		n := st.vectors[0] // plane normal: eigenvector of the smallest eigenvalue
		r := (qx-st.cx)*n[0] + (qy-st.cy)*n[1] + (qz-st.cz)*n[2]
		if math.Abs(r) > maxResidualMagnitude {
			continue
		}
		addResidual(sys, jac, n, p, r, weight)
	}
}

// featureAdapter indexes the sub-clouds of one sensor's local-map features
// once so every solver iteration reuses the same neighbour structures.
type featureAdapter struct {
	lines  *voxelIndex
	planes *voxelIndex
	non    *voxelIndex
}

func newFeatureAdapter(f FeatureObjects) featureAdapter {
	var a featureAdapter
	if f.Lines != nil {
		a.lines = newVoxelIndex(f.Lines, indexCellSize)
	}
	if f.Planes != nil {
		a.planes = newVoxelIndex(f.Planes, indexCellSize)
	}
	if f.Non != nil {
		a.non = newVoxelIndex(f.Non, indexCellSize)
	}
	return a
}
