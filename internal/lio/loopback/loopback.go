// Package loopback is the built-in loop-closure module. It detects
// revisits by proximity search over past keyframe positions, confirms a
// candidate with a short point-to-point ICP alignment of the raw spin
// clouds, and relaxes the trajectory by distributing the closing
// correction over the poses between the two ends of the loop.
package loopback

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/tailor-robotics/tailor/internal/lio"
)

// Config tunes the detector. MaxLoss, Reset and InitialLoad are forwarded
// verbatim from the pipeline configuration.
type Config struct {
	// InitialLoad is the number of keyframes consumed before the first
	// detection attempt.
	InitialLoad int
	// Reset is the cool-down (in keyframes) between accepted detections.
	Reset int
	// MaxLoss is the mean alignment residual (metres) above which a
	// candidate match is rejected.
	MaxLoss float64

	// SearchRadius bounds the candidate search around the current
	// position (metres).
	SearchRadius float64
	// MinGap is the minimum keyframe index separation between the two
	// ends of a loop.
	MinGap int
}

// DefaultConfig returns the stock detector tuning.
func DefaultConfig() Config {
	return Config{
		InitialLoad:  100,
		Reset:        5,
		MaxLoss:      0.05,
		SearchRadius: 3.0,
		MinGap:       30,
	}
}

const (
	icpIterations   = 5
	icpGateSq       = 1.0
	icpMinMatchFrac = 0.5
	storedCloudCap  = 2000
	indexCellSize   = 1.0
)

type keyframe struct {
	cloud lio.PointCloud // downsampled raw spin cloud, sensor frame
	index *lio.CloudIndex
}

// Detector implements lio.LoopModule.
type Detector struct {
	cfg Config

	keyframes []keyframe
	original  []lio.Matrix4
	corrected []lio.Matrix4
	edges     []lio.LoopEdge

	countdown int
}

// New returns a detector with the given tuning.
func New(cfg Config) *Detector {
	if cfg.SearchRadius <= 0 {
		cfg.SearchRadius = 3.0
	}
	if cfg.MinGap <= 0 {
		cfg.MinGap = 30
	}
	return &Detector{cfg: cfg, countdown: cfg.InitialLoad}
}

// Detect registers the keyframe and attempts a loop detection. Returns
// the index of the first corrected trajectory pose, or 0 when nothing
// changed.
func (d *Detector) Detect(cloud lio.PointCloud, _ lio.FeatureObjects, pose lio.Matrix4) int {
	stored := downsample(cloud, storedCloudCap)
	d.keyframes = append(d.keyframes, keyframe{
		cloud: stored,
		index: lio.NewCloudIndex(stored, indexCellSize),
	})
	d.original = append(d.original, pose)
	d.corrected = append(d.corrected, pose)

	if d.countdown > 0 {
		d.countdown--
		return 0
	}

	cur := len(d.corrected) - 1
	cand := d.findCandidate(cur)
	if cand < 0 {
		return 0
	}

	alignment, loss, ok := d.align(cur, cand)
	if !ok || loss > d.cfg.MaxLoss {
		return 0
	}

	d.relax(cand, cur, alignment)
	d.edges = append(d.edges, lio.LoopEdge{Source: cur, Target: cand})
	d.countdown = d.cfg.Reset
	return cand + 1
}

// BackTr returns the corrected pose backIndex steps before the most
// recent keyframe.
func (d *Detector) BackTr(backIndex int) lio.Matrix4 {
	return d.corrected[len(d.corrected)-backIndex]
}

// Tr returns the corrected pose at a global trajectory index.
func (d *Detector) Tr(index int) lio.Matrix4 {
	return d.corrected[index]
}

// Edges returns the accepted loop edges.
func (d *Detector) Edges() []lio.LoopEdge {
	out := make([]lio.LoopEdge, len(d.edges))
	copy(out, d.edges)
	return out
}

// findCandidate picks the closest sufficiently old keyframe within the
// search radius, or -1.
func (d *Detector) findCandidate(cur int) int {
	cx, cy, cz := d.corrected[cur].Translation()
	best, bestDistSq := -1, d.cfg.SearchRadius*d.cfg.SearchRadius
	for i := 0; i <= cur-d.cfg.MinGap; i++ {
		x, y, z := d.corrected[i].Translation()
		dx, dy, dz := x-cx, y-cy, z-cz
		distSq := dx*dx + dy*dy + dz*dz
		if distSq < bestDistSq {
			best, bestDistSq = i, distSq
		}
	}
	return best
}

// align runs a short point-to-point ICP mapping the current keyframe's
// sensor frame onto the candidate's. Returns the refined transform and
// the mean residual distance of the final match set.
func (d *Detector) align(cur, cand int) (lio.Matrix4, float64, bool) {
	curKF, candKF := d.keyframes[cur], d.keyframes[cand]
	if len(curKF.cloud) == 0 || len(candKF.cloud) == 0 {
		return lio.Identity4(), 0, false
	}

	// Drift-polluted initial guess from the current pose estimates.
	t := d.corrected[cand].Inverse().Mul(d.corrected[cur])

	var meanResidual float64
	for iter := 0; iter < icpIterations; iter++ {
		var srcX, srcY, srcZ, dstX, dstY, dstZ []float64
		var residualSum float64
		for _, p := range curKF.cloud {
			ax, ay, az := t.Apply(p.X, p.Y, p.Z)
			q, distSq, ok := candKF.index.Nearest(ax, ay, az)
			if !ok || distSq > icpGateSq {
				continue
			}
			srcX = append(srcX, ax)
			srcY = append(srcY, ay)
			srcZ = append(srcZ, az)
			dstX = append(dstX, q.X)
			dstY = append(dstY, q.Y)
			dstZ = append(dstZ, q.Z)
			residualSum += math.Sqrt(distSq)
		}
		if len(srcX) < int(icpMinMatchFrac*float64(len(curKF.cloud))) {
			return lio.Identity4(), 0, false
		}
		meanResidual = residualSum / float64(len(srcX))

		inc, ok := kabsch(srcX, srcY, srcZ, dstX, dstY, dstZ)
		if !ok {
			return lio.Identity4(), 0, false
		}
		t = inc.Mul(t)
	}
	return t, meanResidual, true
}

// relax rewrites poses cand+1..cur by distributing the world-frame
// closing correction linearly along the loop.
func (d *Detector) relax(cand, cur int, alignment lio.Matrix4) {
	correctedCur := d.corrected[cand].Mul(alignment)
	correction := correctedCur.Mul(d.corrected[cur].Inverse())

	axis, angle := rotationAxisAngle(correction)
	tx, ty, tz := correction.Translation()

	span := cur - cand
	for i := cand + 1; i <= cur; i++ {
		s := float64(i-cand) / float64(span)
		partial := rigidFromAxisAngle(axis, angle*s, tx*s, ty*s, tz*s)
		d.corrected[i] = partial.Mul(d.corrected[i])
	}
}

// downsample keeps at most limit points by striding.
func downsample(cloud lio.PointCloud, limit int) lio.PointCloud {
	if len(cloud) <= limit {
		out := make(lio.PointCloud, len(cloud))
		copy(out, cloud)
		return out
	}
	stride := (len(cloud) + limit - 1) / limit
	out := make(lio.PointCloud, 0, limit)
	for i := 0; i < len(cloud); i += stride {
		out = append(out, cloud[i])
	}
	return out
}

// kabsch computes the least-squares rigid transform mapping the src point
// set onto dst.
func kabsch(srcX, srcY, srcZ, dstX, dstY, dstZ []float64) (lio.Matrix4, bool) {
	n := float64(len(srcX))
	var scx, scy, scz, dcx, dcy, dcz float64
	for i := range srcX {
		scx += srcX[i]
		scy += srcY[i]
		scz += srcZ[i]
		dcx += dstX[i]
		dcy += dstY[i]
		dcz += dstZ[i]
	}
	scx, scy, scz = scx/n, scy/n, scz/n
	dcx, dcy, dcz = dcx/n, dcy/n, dcz/n

	var h [9]float64
	for i := range srcX {
		sx, sy, sz := srcX[i]-scx, srcY[i]-scy, srcZ[i]-scz
		dx, dy, dz := dstX[i]-dcx, dstY[i]-dcy, dstZ[i]-dcz
		h[0] += sx * dx
		h[1] += sx * dy
		h[2] += sx * dz
		h[3] += sy * dx
		h[4] += sy * dy
		h[5] += sy * dz
		h[6] += sz * dx
		h[7] += sz * dy
		h[8] += sz * dz
	}

	var svd mat.SVD
	if !svd.Factorize(mat.NewDense(3, 3, h[:]), mat.SVDFull) {
		return lio.Identity4(), false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R = V diag(1, 1, det(VUᵀ)) Uᵀ keeps the result a proper rotation.
	var vut mat.Dense
	vut.Mul(&v, u.T())
	sign := 1.0
	if mat.Det(&vut) < 0 {
		sign = -1.0
	}
	d := mat.NewDiagDense(3, []float64{1, 1, sign})
	var r mat.Dense
	r.Mul(&v, d)
	r.Mul(&r, u.T())

	var out lio.Matrix4
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			out[row*4+col] = r.At(row, col)
		}
	}
	out[3] = dcx - (out[0]*scx + out[1]*scy + out[2]*scz)
	out[7] = dcy - (out[4]*scx + out[5]*scy + out[6]*scz)
	out[11] = dcz - (out[8]*scx + out[9]*scy + out[10]*scz)
	out[15] = 1
	return out, true
}

// rotationAxisAngle extracts the rotation axis and angle of a rigid
// transform's rotation block.
func rotationAxisAngle(m lio.Matrix4) ([3]float64, float64) {
	trace := m[0] + m[5] + m[10]
	c := (trace - 1) / 2
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	angle := math.Acos(c)
	if angle < 1e-9 {
		return [3]float64{1, 0, 0}, 0
	}

	s := 2 * math.Sin(angle)
	axis := [3]float64{
		(m[9] - m[6]) / s,
		(m[2] - m[8]) / s,
		(m[4] - m[1]) / s,
	}
	return axis, angle
}

// rigidFromAxisAngle builds a rigid transform from a Rodrigues rotation
// plus translation.
func rigidFromAxisAngle(axis [3]float64, angle, tx, ty, tz float64) lio.Matrix4 {
	sa, ca := math.Sincos(angle)
	c1 := 1 - ca
	x, y, z := axis[0], axis[1], axis[2]

	return lio.Matrix4{
		ca + x*x*c1, x*y*c1 - z*sa, x*z*c1 + y*sa, tx,
		y*x*c1 + z*sa, ca + y*y*c1, y*z*c1 - x*sa, ty,
		z*x*c1 - y*sa, z*y*c1 + x*sa, ca + z*z*c1, tz,
		0, 0, 0, 1,
	}
}
