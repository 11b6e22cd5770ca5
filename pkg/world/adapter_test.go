package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAdapter_Commits(t *testing.T) {
	g := testGrid()
	host := NewMemoryAdapter(g)

	elev := make([]float32, g.Cells())
	elev[g.Index(2, 1)] = 0.75
	require.NoError(t, host.CommitFloat32("elevation", elev))
	assert.InDelta(t, 0.75, host.ReadElevation(2, 1), 1e-6)

	terrain := make([]int32, g.Cells())
	terrain[0] = 3
	require.NoError(t, host.CommitInt32("terrain", terrain))
	assert.Equal(t, 3, host.ReadTerrain(0, 0))

	assert.Equal(t, []string{"elevation", "terrain"}, host.Commits())

	// commits are copies
	elev[0] = 9
	stored, ok := host.CommittedFloat32("elevation")
	require.True(t, ok)
	assert.Equal(t, float32(0), stored[0])
}

func TestMemoryAdapter_RejectsWrongLength(t *testing.T) {
	host := NewMemoryAdapter(testGrid())
	assert.Error(t, host.CommitFloat32("elevation", make([]float32, 3)))
	assert.Error(t, host.CommitInt32("terrain", nil))
}

func TestMemoryAdapter_Latitude(t *testing.T) {
	g := testGrid()
	host := NewMemoryAdapter(g)
	assert.Equal(t, g.LatitudeAt(2), host.ReadLatitude(0, 2))
	assert.Equal(t, g.Dimensions, host.Dimensions())
}
