package lio

import (
	"math"
	"sort"
)

// voxelIndex provides nearest-neighbour queries over a point cloud using a
// regular 3D grid. Cell size should approximately match the expected
// correspondence distance so a one-cell shell covers most queries.
type voxelIndex struct {
	cellSize float64
	points   PointCloud
	grid     map[int64][]int
}

// newVoxelIndex builds an index over the given cloud. The cloud is
// referenced, not copied; it must not be mutated while the index is alive.
func newVoxelIndex(points PointCloud, cellSize float64) *voxelIndex {
	vi := &voxelIndex{
		cellSize: cellSize,
		points:   points,
		grid:     make(map[int64][]int, len(points)/4+1),
	}
	for i, p := range points {
		key := vi.cellKey(cell(p.X, cellSize), cell(p.Y, cellSize), cell(p.Z, cellSize))
		vi.grid[key] = append(vi.grid[key], i)
	}
	return vi
}

func cell(v, size float64) int64 {
	return int64(math.Floor(v / size))
}

// cellKey packs three cell coordinates into one int64 key. Each axis is
// zigzag-encoded into 21 bits, which covers ±1e6 cells per axis.
func (vi *voxelIndex) cellKey(cx, cy, cz int64) int64 {
	zig := func(v int64) int64 {
		if v >= 0 {
			return 2 * v
		}
		return -2*v - 1
	}
	return zig(cx)<<42 | zig(cy)<<21 | zig(cz)
}

// CloudIndex is the exported face of the voxel grid for collaborators
// outside the solver (the loop-closure module aligns candidate keyframe
// clouds with it).
type CloudIndex struct {
	vi *voxelIndex
}

// NewCloudIndex builds an index over the cloud with the given cell size.
func NewCloudIndex(cloud PointCloud, cellSize float64) *CloudIndex {
	return &CloudIndex{vi: newVoxelIndex(cloud, cellSize)}
}

// Nearest returns the closest indexed point to (x, y, z) and its squared
// distance. ok is false when the index is empty or nothing lies within
// the search shells.
func (ci *CloudIndex) Nearest(x, y, z float64) (p Point, distSq float64, ok bool) {
	nbs := ci.vi.nearest(x, y, z, 1)
	if len(nbs) == 0 {
		return Point{}, 0, false
	}
	return ci.vi.points[nbs[0].idx], nbs[0].distSq, true
}

// neighbor is one candidate correspondence returned by nearest.
type neighbor struct {
	idx    int
	distSq float64
}

// nearest returns up to k nearest points to (x, y, z), closest first,
// searching a one-cell shell and widening once if that comes up short.
func (vi *voxelIndex) nearest(x, y, z float64, k int) []neighbor {
	if len(vi.points) == 0 || k <= 0 {
		return nil
	}

	cx := cell(x, vi.cellSize)
	cy := cell(y, vi.cellSize)
	cz := cell(z, vi.cellSize)

	var found []neighbor
	for radius := int64(1); radius <= 2; radius++ {
		found = found[:0]
		for dx := -radius; dx <= radius; dx++ {
			for dy := -radius; dy <= radius; dy++ {
				for dz := -radius; dz <= radius; dz++ {
					for _, i := range vi.grid[vi.cellKey(cx+dx, cy+dy, cz+dz)] {
						p := vi.points[i]
						ddx, ddy, ddz := p.X-x, p.Y-y, p.Z-z
						found = append(found, neighbor{i, ddx*ddx + ddy*ddy + ddz*ddz})
					}
				}
			}
		}
		if len(found) >= k {
			break
		}
	}

	sort.Slice(found, func(a, b int) bool { return found[a].distSq < found[b].distSq })
	if len(found) > k {
		found = found[:k]
	}
	return found
}
