package replay

import (
	"math"

	"github.com/tailor-robotics/tailor/internal/lio"
)

// Scan parameters for the synthetic sensors.
const (
	spinRings     = 16
	spinPerRing   = 900
	spinMaxRange  = 80.0
	spinElevMin   = -15.0 * math.Pi / 180
	spinElevMax   = 15.0 * math.Pi / 180
	framePeriod   = 0.1
	solidSamples  = 8000
	solidMaxRange = 60.0
	solidFOV      = 35.0 * math.Pi / 180
)

// SpinScan raycasts one full rotation of the spinning scanner from the
// given world pose. Points are returned in the sensor frame, ordered by
// ring then azimuth, with per-point time offsets across the sweep.
func (s *Scene) SpinScan(pose lio.Matrix4) lio.PointCloud {
	inv := pose.Inverse()
	ox, oy, oz := pose.Translation()

	cloud := make(lio.PointCloud, 0, spinRings*spinPerRing)
	for ring := 0; ring < spinRings; ring++ {
		elev := spinElevMin + (spinElevMax-spinElevMin)*float64(ring)/float64(spinRings-1)
		se, ce := math.Sincos(elev)
		for i := 0; i < spinPerRing; i++ {
			az := 2 * math.Pi * float64(i) / float64(spinPerRing)
			sa, ca := math.Sincos(az)

			// Direction in the sensor frame, rotated to world.
			lx, ly, lz := ca*ce, sa*ce, se
			dx := pose[0]*lx + pose[1]*ly + pose[2]*lz
			dy := pose[4]*lx + pose[5]*ly + pose[6]*lz
			dz := pose[8]*lx + pose[9]*ly + pose[10]*lz

			t, ok := s.raycast(ox, oy, oz, dx, dy, dz, spinMaxRange)
			if !ok {
				continue
			}
			px, py, pz := inv.Apply(ox+t*dx, oy+t*dy, oz+t*dz)
			cloud = append(cloud, lio.Point{
				X: px, Y: py, Z: pz,
				Intensity:  100,
				Ring:       uint16(ring),
				TimeOffset: float32(framePeriod * float64(i) / float64(spinPerRing)),
			})
		}
	}
	return cloud
}

// SolidScan raycasts one capture of the solid-state scanner: a rosette
// pattern inside a forward cone, in emission order. Consecutive samples
// stay angularly close, which is what the smoothness-based extractor
// relies on.
func (s *Scene) SolidScan(pose lio.Matrix4) lio.PointCloud {
	inv := pose.Inverse()
	ox, oy, oz := pose.Translation()

	cloud := make(lio.PointCloud, 0, solidSamples)
	for i := 0; i < solidSamples; i++ {
		phase := float64(i) / float64(solidSamples)
		az := solidFOV * math.Sin(2*math.Pi*31*phase)
		elev := solidFOV * 0.6 * math.Sin(2*math.Pi*37*phase)

		se, ce := math.Sincos(elev)
		sa, ca := math.Sincos(az)
		lx, ly, lz := ca*ce, sa*ce, se
		dx := pose[0]*lx + pose[1]*ly + pose[2]*lz
		dy := pose[4]*lx + pose[5]*ly + pose[6]*lz
		dz := pose[8]*lx + pose[9]*ly + pose[10]*lz

		t, ok := s.raycast(ox, oy, oz, dx, dy, dz, solidMaxRange)
		if !ok {
			continue
		}
		px, py, pz := inv.Apply(ox+t*dx, oy+t*dy, oz+t*dz)
		cloud = append(cloud, lio.Point{
			X: px, Y: py, Z: pz,
			Intensity:  80,
			TimeOffset: float32(framePeriod * phase),
		})
	}
	return cloud
}

// Synthesize raycasts one synced message per pose, stamping frames at the
// sensor frame period.
func (s *Scene) Synthesize(poses []lio.Matrix4) []lio.SyncedMessage {
	out := make([]lio.SyncedMessage, 0, len(poses))
	for i, pose := range poses {
		out = append(out, lio.SyncedMessage{
			Time:  framePeriod * float64(i),
			Spin:  s.SpinScan(pose),
			Solid: s.SolidScan(pose),
		})
	}
	return out
}

// StraightPath returns n poses advancing by step per frame from the
// origin.
func StraightPath(n int, step lio.Transform) []lio.Matrix4 {
	poses := make([]lio.Matrix4, n)
	cur := lio.Identity4()
	inc := step.Matrix()
	for i := 0; i < n; i++ {
		poses[i] = cur
		cur = cur.Mul(inc)
	}
	return poses
}

// Source fans synthesized messages out to consumers registered before
// Run, mirroring the delegate registry of the live sync layer.
type Source struct {
	handlers []func(lio.SyncedMessage)
}

// Append registers one consumer. Must complete before Run.
func (s *Source) Append(h func(lio.SyncedMessage)) {
	s.handlers = append(s.handlers, h)
}

// Run delivers every message in order on the calling goroutine.
func (s *Source) Run(msgs []lio.SyncedMessage) {
	for _, msg := range msgs {
		for _, h := range s.handlers {
			h(msg)
		}
	}
}
