package hic

import "math"

// TargetHalfExtent is the transverse half-extent every event grid must cover,
// in fm. The refined hydro pass shrinks below it per event; the canonical grid
// never does.
const TargetHalfExtent = 15.0

// GridSpec describes the canonical transverse discretization shared by all
// events in a run. Computed once per process and treated as read-only.
type GridSpec struct {
	Step        float64 // cell size in fm
	CellCount   int     // cells per side (always even)
	PhysicalMax float64 // half-extent actually covered, >= TargetHalfExtent
}

// MakeGrid derives the canonical grid from the generator's nucleon width.
// The step is 0.15*w unless stepOverride is positive, in which case the
// override wins. CellCount is the smallest even count whose extent covers
// 2*TargetHalfExtent, so PhysicalMax >= TargetHalfExtent always holds.
func MakeGrid(nucleonWidth, stepOverride float64) GridSpec {
	step := 0.15 * nucleonWidth
	if stepOverride > 0 {
		step = stepOverride
	}
	n := cellsFor(TargetHalfExtent, step)
	return GridSpec{
		Step:        step,
		CellCount:   n,
		PhysicalMax: 0.5 * float64(n) * step,
	}
}

// cellsFor returns the smallest even cell count whose extent covers
// 2*halfExtent at the given step.
func cellsFor(halfExtent, step float64) int {
	return 2 * int(math.Ceil(halfExtent/step))
}
