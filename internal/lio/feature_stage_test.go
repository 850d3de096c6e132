package lio_test

import (
	"sync"
	"testing"
	"time"

	"github.com/tailor-robotics/tailor/internal/lio"
)

// splitByRing is an injected extractor that treats the raw cloud as
// pre-classified: ring 0 points become lines, the rest planes.
func splitByRing(cloud lio.PointCloud) lio.FeatureObjects {
	f := lio.FeatureObjects{Lines: lio.PointCloud{}, Planes: lio.PointCloud{}}
	for _, p := range cloud {
		if p.Ring == 0 {
			f.Lines = append(f.Lines, p)
		} else {
			f.Planes = append(f.Planes, p)
		}
	}
	return f
}

// splitSolid maps ring 0 points to planes and the rest to non-features.
func splitSolid(cloud lio.PointCloud) lio.FeatureObjects {
	f := lio.FeatureObjects{Planes: lio.PointCloud{}, Non: lio.PointCloud{}}
	for _, p := range cloud {
		if p.Ring == 0 {
			f.Planes = append(f.Planes, p)
		} else {
			f.Non = append(f.Non, p)
		}
	}
	return f
}

// richSpinCloud satisfies the spin acceptance thresholds under splitByRing.
func richSpinCloud() lio.PointCloud {
	cloud := make(lio.PointCloud, 0, 150)
	for i := 0; i < 25; i++ {
		cloud = append(cloud, lio.Point{X: float64(i), Ring: 0})
	}
	for i := 0; i < 120; i++ {
		cloud = append(cloud, lio.Point{Y: float64(i), Ring: 1})
	}
	return cloud
}

type collected struct {
	mu     sync.Mutex
	frames []lio.FeatureFrame
	msgs   []lio.SyncedMessage
}

func (c *collected) handler(msg lio.SyncedMessage, frame lio.FeatureFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	c.frames = append(c.frames, frame)
}

func (c *collected) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestFeatureStage_BothSensorsDisabled(t *testing.T) {
	_, err := lio.NewFeatureStage(lio.FeatureStageConfig{UseSpin: false, UseSolid: false})
	if err == nil {
		t.Fatal("expected configuration error with both sensors disabled")
	}
}

func TestFeatureStage_RejectsUnderFeaturedSpin(t *testing.T) {
	fs, err := lio.NewFeatureStage(lio.FeatureStageConfig{
		UseSpin:       true,
		SpinExtractor: splitByRing,
	})
	if err != nil {
		t.Fatal(err)
	}

	var c collected
	fs.Append(c.handler)
	fs.Start()
	defer fs.Close()

	// Only 5 line points: under the 20-line acceptance threshold.
	starved := make(lio.PointCloud, 0, 125)
	for i := 0; i < 5; i++ {
		starved = append(starved, lio.Point{X: float64(i), Ring: 0})
	}
	for i := 0; i < 120; i++ {
		starved = append(starved, lio.Point{Y: float64(i), Ring: 1})
	}
	fs.Enqueue(lio.SyncedMessage{Time: 0, Spin: starved})
	fs.Enqueue(lio.SyncedMessage{Time: 1, Spin: richSpinCloud()})

	waitFor(t, func() bool { return c.count() == 1 })
	if c.msgs[0].Time != 1 {
		t.Errorf("published message time = %f, want the good frame (1)", c.msgs[0].Time)
	}
}

func TestFeatureStage_RejectsEmptySolid(t *testing.T) {
	fs, err := lio.NewFeatureStage(lio.FeatureStageConfig{
		UseSolid:       true,
		SolidExtractor: splitSolid,
	})
	if err != nil {
		t.Fatal(err)
	}

	var c collected
	fs.Append(c.handler)
	fs.Start()
	defer fs.Close()

	// All points land in planes; non stays empty so the frame drops.
	onlyPlanes := lio.PointCloud{{X: 1, Ring: 0}, {X: 2, Ring: 0}}
	fs.Enqueue(lio.SyncedMessage{Time: 0, Solid: onlyPlanes})

	good := lio.PointCloud{{X: 1, Ring: 0}, {X: 2, Ring: 1}}
	fs.Enqueue(lio.SyncedMessage{Time: 1, Solid: good})

	waitFor(t, func() bool { return c.count() == 1 })
	if c.msgs[0].Time != 1 {
		t.Errorf("published message time = %f, want 1", c.msgs[0].Time)
	}
}

func TestFeatureStage_AppliesExtrinsicInverse(t *testing.T) {
	fs, err := lio.NewFeatureStage(lio.FeatureStageConfig{
		UseSolid:       true,
		Extrinsic:      lio.Transform{X: 1, Y: 2, Z: 3},
		SolidExtractor: splitSolid,
	})
	if err != nil {
		t.Fatal(err)
	}

	var c collected
	fs.Append(c.handler)
	fs.Start()
	defer fs.Close()

	cloud := lio.PointCloud{{X: 1, Y: 2, Z: 3, Ring: 0}, {X: 1, Y: 2, Z: 3, Ring: 1}}
	fs.Enqueue(lio.SyncedMessage{Solid: cloud})

	waitFor(t, func() bool { return c.count() == 1 })
	p := c.frames[0].Solid.Planes[0]
	if p.X != 0 || p.Y != 0 || p.Z != 0 {
		t.Errorf("extrinsic inverse not applied: got (%f, %f, %f), want origin", p.X, p.Y, p.Z)
	}
}

func TestFeatureStage_OrderedDelivery(t *testing.T) {
	fs, err := lio.NewFeatureStage(lio.FeatureStageConfig{
		UseSpin:       true,
		SpinExtractor: splitByRing,
	})
	if err != nil {
		t.Fatal(err)
	}

	var c collected
	fs.Append(c.handler)
	fs.Start()
	defer fs.Close()

	const n = 50
	for i := 0; i < n; i++ {
		fs.Enqueue(lio.SyncedMessage{Time: float64(i), Spin: richSpinCloud()})
	}

	waitFor(t, func() bool { return c.count() == n })
	for i, msg := range c.msgs {
		if msg.Time != float64(i) {
			t.Fatalf("message %d has time %f: capture order not preserved", i, msg.Time)
		}
	}
}
