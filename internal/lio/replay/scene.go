// Package replay synthesizes time-synchronized sensor captures from an
// analytic scene. It stands in for the out-of-scope driver and
// time-synchronization layer so the pipeline can be exercised end to end
// without hardware, both from the command line and from tests.
package replay

import (
	"math"
)

// Wall is a rectangular planar patch given by a point, an outward normal
// and two in-plane half-extents.
type Wall struct {
	PX, PY, PZ float64 // a point on the plane
	NX, NY, NZ float64 // unit normal
	UX, UY, UZ float64 // first in-plane axis, unit
	HalfU      float64 // extent along U
	HalfV      float64 // extent along V = N × U
}

// Pillar is a vertical cylinder segment.
type Pillar struct {
	CX, CY     float64
	Radius     float64
	ZMin, ZMax float64
}

// Scene is a set of analytic surfaces to raycast against.
type Scene struct {
	Walls   []Wall
	Pillars []Pillar
}

// Corridor builds the stock test scene: floor and ceiling, two side
// walls, an end wall and a row of pillars along each side. The pillar
// spacing breaks the translational symmetry along the corridor axis so
// forward motion stays observable.
func Corridor() *Scene {
	s := &Scene{}

	flat := func(px, py, pz, nx, ny, nz, ux, uy, uz, hu, hv float64) {
		s.Walls = append(s.Walls, Wall{
			PX: px, PY: py, PZ: pz,
			NX: nx, NY: ny, NZ: nz,
			UX: ux, UY: uy, UZ: uz,
			HalfU: hu, HalfV: hv,
		})
	}

	flat(10, 0, -1.5, 0, 0, 1, 1, 0, 0, 60, 5)  // floor
	flat(10, 0, 2.5, 0, 0, -1, 1, 0, 0, 60, 5)  // ceiling
	flat(10, -4, 0, 0, 1, 0, 1, 0, 0, 60, 3)    // right wall
	flat(10, 4, 0, 0, -1, 0, 1, 0, 0, 60, 3)    // left wall
	flat(50, 0, 0, -1, 0, 0, 0, 1, 0, 5, 3)     // end wall
	flat(-30, 0, 0, 1, 0, 0, 0, 1, 0, 5, 3)     // back wall

	for x := -27.0; x <= 47.0; x += 3.0 {
		s.Pillars = append(s.Pillars,
			Pillar{CX: x, CY: -3.6, Radius: 0.15, ZMin: -1.5, ZMax: 2.5},
			Pillar{CX: x, CY: 3.6, Radius: 0.15, ZMin: -1.5, ZMax: 2.5},
		)
	}
	return s
}

// raycast returns the nearest hit distance along the unit ray from
// (ox,oy,oz), or ok=false when nothing is hit within maxRange.
func (s *Scene) raycast(ox, oy, oz, dx, dy, dz, maxRange float64) (float64, bool) {
	const minRange = 0.3
	best := maxRange
	hit := false

	for _, w := range s.Walls {
		denom := dx*w.NX + dy*w.NY + dz*w.NZ
		if denom > -1e-9 {
			continue // parallel or hitting the back face
		}
		t := ((w.PX-ox)*w.NX + (w.PY-oy)*w.NY + (w.PZ-oz)*w.NZ) / denom
		if t < minRange || t >= best {
			continue
		}
		hx, hy, hz := ox+t*dx-w.PX, oy+t*dy-w.PY, oz+t*dz-w.PZ
		u := hx*w.UX + hy*w.UY + hz*w.UZ
		vx, vy, vz := w.NY*w.UZ-w.NZ*w.UY, w.NZ*w.UX-w.NX*w.UZ, w.NX*w.UY-w.NY*w.UX
		v := hx*vx + hy*vy + hz*vz
		if math.Abs(u) > w.HalfU || math.Abs(v) > w.HalfV {
			continue
		}
		best, hit = t, true
	}

	for _, p := range s.Pillars {
		// Intersect in the XY plane.
		fx, fy := ox-p.CX, oy-p.CY
		a := dx*dx + dy*dy
		if a < 1e-12 {
			continue
		}
		b := 2 * (fx*dx + fy*dy)
		c := fx*fx + fy*fy - p.Radius*p.Radius
		disc := b*b - 4*a*c
		if disc < 0 {
			continue
		}
		t := (-b - math.Sqrt(disc)) / (2 * a)
		if t < minRange || t >= best {
			continue
		}
		z := oz + t*dz
		if z < p.ZMin || z > p.ZMax {
			continue
		}
		best, hit = t, true
	}

	return best, hit
}
