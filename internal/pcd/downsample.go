package pcd

import (
	"errors"
	"math"
	"math/rand"
)

const DefaultMaxPoints = 1_000_000

type Strategy int

const (
	None Strategy = iota
	RandomSample
	VoxelGrid
)

func (s Strategy) String() string {
	switch s {
	case None:
		return "none"
	case RandomSample:
		return "random"
	case VoxelGrid:
		return "voxel"
	}
	return "unknown"
}

// DownSample selects how clouds larger than a point limit are reduced.
// VoxelSize is only read by VoxelGrid.
type DownSample struct {
	Strategy  Strategy
	VoxelSize float32
}

var ErrVoxelSize = errors.New("voxel size must be a positive finite number")

func (d DownSample) Validate() error {
	if d.Strategy == VoxelGrid && (d.VoxelSize <= 0 || math.IsInf(float64(d.VoxelSize), 0) || math.IsNaN(float64(d.VoxelSize))) {
		return ErrVoxelSize
	}
	return nil
}

// Reduce returns c unchanged when it has at most maxPoints points or the
// strategy is None. Otherwise it returns a new cloud of at most maxPoints
// points. rng may be nil.
func (d DownSample) Reduce(c *Cloud, maxPoints int, rng *rand.Rand) (*Cloud, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}
	if c.Len() <= maxPoints || d.Strategy == None {
		return c, nil
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	switch d.Strategy {
	case VoxelGrid:
		out := voxelize(c, d.VoxelSize)
		if out.Len() > maxPoints {
			return randomSample(out, maxPoints, rng), nil
		}
		return out, nil
	default:
		return randomSample(c, maxPoints, rng), nil
	}
}

// randomSample picks n distinct points.
func randomSample(c *Cloud, n int, rng *rand.Rand) *Cloud {
	idx := make([]int, c.Len())
	for i := range idx {
		idx[i] = i
	}
	for i := 0; i < n; i++ {
		j := i + rng.Intn(len(idx)-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	out := &Cloud{Points: make([][4]float32, n), HasRGB: c.HasRGB}
	for i := 0; i < n; i++ {
		out.Points[i] = c.Points[idx[i]]
	}
	return out
}

type voxel struct {
	sum   [3]float64
	color float32
	n     int
}

// voxelize replaces the points of each cell with their centroid. The cell
// keeps the color of the first point that fell into it.
func voxelize(c *Cloud, size float32) *Cloud {
	scale := 1 / float64(size)
	cells := make(map[[3]int32]*voxel)
	var order [][3]int32
	for _, p := range c.Points {
		key := [3]int32{
			int32(math.RoundToEven(float64(p[0]) * scale)),
			int32(math.RoundToEven(float64(p[1]) * scale)),
			int32(math.RoundToEven(float64(p[2]) * scale)),
		}
		v, ok := cells[key]
		if !ok {
			v = &voxel{color: p[3]}
			cells[key] = v
			order = append(order, key)
		}
		v.sum[0] += float64(p[0])
		v.sum[1] += float64(p[1])
		v.sum[2] += float64(p[2])
		v.n++
	}

	out := &Cloud{Points: make([][4]float32, 0, len(order)), HasRGB: c.HasRGB}
	for _, key := range order {
		v := cells[key]
		n := float64(v.n)
		out.Points = append(out.Points, [4]float32{
			float32(v.sum[0] / n),
			float32(v.sum[1] / n),
			float32(v.sum[2] / n),
			v.color,
		})
	}
	return out
}
