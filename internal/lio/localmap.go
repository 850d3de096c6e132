package lio

import "fmt"

// LocalMapSize is the number of recent keyframes retained as the local map.
const LocalMapSize = 20

// LocalMap keeps a fixed-capacity ring of the most recent keyframes with
// their world poses, plus a lazily built fusion of all entries expressed in
// the coordinate frame of the current head. The ring is exclusively owned
// by the mapping worker; no internal locking.
type LocalMap struct {
	frames [LocalMapSize]FeatureFrame
	poses  [LocalMapSize]Matrix4

	head  int
	count int

	fused      FeatureFrame
	fusedDirty bool
}

// NewLocalMap returns an empty ring. The head starts on the last slot so
// the first Push lands on slot 0.
func NewLocalMap() *LocalMap {
	return &LocalMap{head: LocalMapSize - 1, fusedDirty: true}
}

// Empty reports whether the ring holds no keyframes.
func (lm *LocalMap) Empty() bool { return lm.count == 0 }

// Size returns the number of valid entries, at most LocalMapSize.
func (lm *LocalMap) Size() int { return lm.count }

// Push advances the head, writes the slot and invalidates the fused cache.
// Once the ring is full the oldest entry is overwritten.
func (lm *LocalMap) Push(frame FeatureFrame, pose Matrix4) {
	lm.head = (lm.head + 1) % LocalMapSize
	if lm.count < LocalMapSize {
		lm.count++
	}
	lm.frames[lm.head] = frame
	lm.poses[lm.head] = pose
	lm.fusedDirty = true
}

// Tr returns the world pose of the head entry. The ring must be non-empty.
func (lm *LocalMap) Tr() Matrix4 {
	if lm.count == 0 {
		panic("lio: Tr on empty local map")
	}
	return lm.poses[lm.head]
}

// Set overwrites the pose at backIndex steps before the head: backIndex 1
// is the head itself, 2 the entry before it, and so on. Feature payloads
// are untouched. Used exclusively by loop closure to rewrite keyframe
// poses; always invalidates the fused cache.
func (lm *LocalMap) Set(backIndex int, pose Matrix4) {
	if backIndex < 1 || backIndex > lm.count {
		panic(fmt.Sprintf("lio: Set back index %d out of range (count %d)", backIndex, lm.count))
	}
	if backIndex <= lm.head+1 {
		lm.poses[lm.head+1-backIndex] = pose
	} else {
		lm.poses[lm.count+lm.head+1-backIndex] = pose
	}
	lm.fusedDirty = true
}

// GetLocalMap returns the fusion of every entry expressed in the frame of
// the current head, rebuilding it only when a Push or Set occurred since
// the last read.
func (lm *LocalMap) GetLocalMap() FeatureFrame {
	if lm.fusedDirty {
		lm.fused = lm.buildFused()
		lm.fusedDirty = false
	}
	return lm.fused
}

// buildFused transforms each entry i by headPose⁻¹·pose(i) and
// concatenates the sub-clouds. The head's own points pass through the
// identity product; this is the algebraic property, not a special case.
func (lm *LocalMap) buildFused() FeatureFrame {
	if lm.count == 0 {
		panic("lio: fused local map of empty ring")
	}

	headInv := lm.poses[lm.head].Inverse()
	var out FeatureFrame

	// Mirror the head's nil-structure so absent feature classes stay absent.
	h := lm.frames[lm.head]
	if h.Spin.Lines != nil {
		out.Spin.Lines = make(PointCloud, 0, lm.count*len(h.Spin.Lines))
	}
	if h.Spin.Planes != nil {
		out.Spin.Planes = make(PointCloud, 0, lm.count*len(h.Spin.Planes))
	}
	if h.Solid.Planes != nil {
		out.Solid.Planes = make(PointCloud, 0, lm.count*len(h.Solid.Planes))
	}
	if h.Solid.Non != nil {
		out.Solid.Non = make(PointCloud, 0, lm.count*len(h.Solid.Non))
	}

	for i := 0; i < lm.count; i++ {
		rel := headInv.Mul(lm.poses[i])
		f := lm.frames[i]
		if f.Spin.Lines != nil && out.Spin.Lines != nil {
			out.Spin.Lines = appendTransformed(out.Spin.Lines, f.Spin.Lines, rel)
		}
		if f.Spin.Planes != nil && out.Spin.Planes != nil {
			out.Spin.Planes = appendTransformed(out.Spin.Planes, f.Spin.Planes, rel)
		}
		if f.Solid.Planes != nil && out.Solid.Planes != nil {
			out.Solid.Planes = appendTransformed(out.Solid.Planes, f.Solid.Planes, rel)
		}
		if f.Solid.Non != nil && out.Solid.Non != nil {
			out.Solid.Non = appendTransformed(out.Solid.Non, f.Solid.Non, rel)
		}
	}
	return out
}
