package hic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMakeGrid_CoversTargetExtent(t *testing.T) {
	for _, w := range []float64{0.3, 0.5, 0.7, 0.9, 1.2} {
		g := MakeGrid(w, 0)
		assert.Equal(t, 0.15*w, g.Step, "width %g", w)
		assert.GreaterOrEqual(t, g.PhysicalMax, TargetHalfExtent, "width %g", w)
		assert.Equal(t, 0, g.CellCount%2, "width %g: cell count must be even", w)
	}
}

func TestMakeGrid_CellCountIsMinimal(t *testing.T) {
	for _, step := range []float64{0.075, 0.1, 0.15, 0.2, 0.33} {
		g := MakeGrid(0, step)
		assert.Equal(t, step, g.Step)
		// The chosen count covers the target...
		assert.GreaterOrEqual(t, step*float64(g.CellCount), 2*TargetHalfExtent, "step %g", step)
		// ...and no smaller even count does.
		assert.Less(t, step*float64(g.CellCount-2), 2*TargetHalfExtent, "step %g", step)
	}
}

func TestMakeGrid_OverrideWinsOverWidth(t *testing.T) {
	g := MakeGrid(0.5, 0.2)
	assert.Equal(t, 0.2, g.Step)
}
