package world

import (
	"fmt"
	"sync"
)

// Adapter is the capability set a host engine exposes to steps. Reads query
// the host's world at a cell; commits push a computed field back into it.
type Adapter interface {
	Dimensions() Dimensions
	ReadElevation(x, y int) float64
	ReadTerrain(x, y int) int
	ReadLatitude(x, y int) float64
	CommitFloat32(name string, values []float32) error
	CommitInt32(name string, values []int32) error
}

// MemoryAdapter is a headless host. It serves reads from its own buffers and
// keeps a copy of every commit.
type MemoryAdapter struct {
	grid Grid

	mu        sync.Mutex
	elevation []float64
	terrain   []int
	floats    map[string][]float32
	ints      map[string][]int32
	commits   []string
}

// NewMemoryAdapter creates a flat, all-zero host world for grid.
func NewMemoryAdapter(grid Grid) *MemoryAdapter {
	return &MemoryAdapter{
		grid:      grid,
		elevation: make([]float64, grid.Cells()),
		terrain:   make([]int, grid.Cells()),
		floats:    make(map[string][]float32),
		ints:      make(map[string][]int32),
	}
}

// Dimensions implements Adapter.
func (m *MemoryAdapter) Dimensions() Dimensions {
	return m.grid.Dimensions
}

// ReadElevation implements Adapter.
func (m *MemoryAdapter) ReadElevation(x, y int) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elevation[m.grid.Index(x, y)]
}

// ReadTerrain implements Adapter.
func (m *MemoryAdapter) ReadTerrain(x, y int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terrain[m.grid.Index(x, y)]
}

// ReadLatitude implements Adapter.
func (m *MemoryAdapter) ReadLatitude(_, y int) float64 {
	return m.grid.LatitudeAt(y)
}

// SetTerrain sets the host terrain type of a cell.
func (m *MemoryAdapter) SetTerrain(x, y, terrain int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terrain[m.grid.Index(x, y)] = terrain
}

// CommitFloat32 implements Adapter. A commit named "elevation" also updates
// the values served by ReadElevation.
func (m *MemoryAdapter) CommitFloat32(name string, values []float32) error {
	if len(values) != m.grid.Cells() {
		return fmt.Errorf("commit %s: got %d values for %d cells", name, len(values), m.grid.Cells())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.floats[name] = append([]float32(nil), values...)
	if name == "elevation" {
		for i, v := range values {
			m.elevation[i] = float64(v)
		}
	}
	m.commits = append(m.commits, name)
	return nil
}

// CommitInt32 implements Adapter. A commit named "terrain" also updates the
// values served by ReadTerrain.
func (m *MemoryAdapter) CommitInt32(name string, values []int32) error {
	if len(values) != m.grid.Cells() {
		return fmt.Errorf("commit %s: got %d values for %d cells", name, len(values), m.grid.Cells())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ints[name] = append([]int32(nil), values...)
	if name == "terrain" {
		for i, v := range values {
			m.terrain[i] = int(v)
		}
	}
	m.commits = append(m.commits, name)
	return nil
}

// Commits returns the names of all commits in order.
func (m *MemoryAdapter) Commits() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commits...)
}

// CommittedFloat32 returns the last committed float field of that name.
func (m *MemoryAdapter) CommittedFloat32(name string) ([]float32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.floats[name]
	return v, ok
}

// CommittedInt32 returns the last committed int field of that name.
func (m *MemoryAdapter) CommittedInt32(name string) ([]int32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.ints[name]
	return v, ok
}
