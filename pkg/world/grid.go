// Package world holds the mutable world model a pipeline run operates on:
// per-cell grid buffers, published artifacts and effect markers, plus the
// Adapter interface to the host engine that owns the authoritative world.
package world

import "fmt"

// Dimensions is the grid size in cells.
type Dimensions struct {
	Width  int `json:"width" yaml:"width" validate:"gt=0"`
	Height int `json:"height" yaml:"height" validate:"gt=0"`
}

// LatitudeBounds gives the latitude of the top and bottom grid edges in degrees.
type LatitudeBounds struct {
	Top    float64 `json:"top" yaml:"top" validate:"gte=-90,lte=90,gtefield=Bottom"`
	Bottom float64 `json:"bottom" yaml:"bottom" validate:"gte=-90,lte=90"`
}

// Wrap reports whether the grid wraps around on each axis.
type Wrap struct {
	X bool `json:"x" yaml:"x"`
	Y bool `json:"y" yaml:"y"`
}

// Grid describes the geometry shared by every buffer of a run.
type Grid struct {
	Dimensions
	Latitude LatitudeBounds
	Wrap     Wrap
}

// Cells returns the number of cells.
func (g Grid) Cells() int {
	return g.Width * g.Height
}

// Index returns the buffer index of (x, y).
func (g Grid) Index(x, y int) int {
	return y*g.Width + x
}

// Coords returns the coordinates of a buffer index.
func (g Grid) Coords(i int) (x, y int) {
	return i % g.Width, i / g.Width
}

// Normalize maps (x, y) onto the grid, applying wrap. ok is false when the
// point falls off a non-wrapping edge.
func (g Grid) Normalize(x, y int) (nx, ny int, ok bool) {
	if x < 0 || x >= g.Width {
		if !g.Wrap.X {
			return 0, 0, false
		}
		x = ((x % g.Width) + g.Width) % g.Width
	}
	if y < 0 || y >= g.Height {
		if !g.Wrap.Y {
			return 0, 0, false
		}
		y = ((y % g.Height) + g.Height) % g.Height
	}
	return x, y, true
}

// LatitudeAt returns the latitude at the centre of row y.
func (g Grid) LatitudeAt(y int) float64 {
	if g.Height == 0 {
		return 0
	}
	t := (float64(y) + 0.5) / float64(g.Height)
	return g.Latitude.Top + (g.Latitude.Bottom-g.Latitude.Top)*t
}

var neighborOffsets = [8][2]int{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// Neighbors appends the indices of the up to eight cells around (x, y) to dst.
func (g Grid) Neighbors(dst []int, x, y int) []int {
	for _, off := range neighborOffsets {
		nx, ny, ok := g.Normalize(x+off[0], y+off[1])
		if !ok || (nx == x && ny == y) {
			continue
		}
		dst = append(dst, g.Index(nx, ny))
	}
	return dst
}

func (g Grid) validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("invalid grid dimensions %dx%d", g.Width, g.Height)
	}
	return nil
}
