package hic

import (
	"fmt"
	"math"
)

// surfaceCols is the row width of the hydro engine's binary surface output:
// position (tau, x, y), hypersurface normal (3), transverse flow (2), shear
// tensor components (7), bulk pressure (1).
const surfaceCols = 16

// SurfaceCell is one freeze-out cell. Shear and Bulk are carried through for
// the sampler's viscous corrections and may be ignored when those are
// disabled.
type SurfaceCell struct {
	Tau, X, Y float64
	Sigma     [3]float64 // hypersurface normal
	Vx, Vy    float64    // transverse flow velocity
	Shear     [7]float64
	Bulk      float64
}

// Surface is the freeze-out hypersurface built from the refined hydro pass.
// Immutable once built; consumed by the sample accumulation loop.
type Surface struct {
	Cells []SurfaceCell
	Shear bool // shear corrections enabled for sampling
	Bulk  bool // bulk corrections enabled for sampling
}

// parseSurface reshapes the engine's flat buffer into cells. A buffer whose
// length is not a multiple of the row width is malformed.
func parseSurface(buf []float64) (*Surface, error) {
	if len(buf)%surfaceCols != 0 {
		return nil, fmt.Errorf("surface buffer length %d is not a multiple of %d", len(buf), surfaceCols)
	}
	cells := make([]SurfaceCell, len(buf)/surfaceCols)
	for i := range cells {
		row := buf[i*surfaceCols : (i+1)*surfaceCols]
		c := &cells[i]
		c.Tau, c.X, c.Y = row[0], row[1], row[2]
		copy(c.Sigma[:], row[3:6])
		c.Vx, c.Vy = row[6], row[7]
		copy(c.Shear[:], row[8:15])
		c.Bulk = row[15]
	}
	return &Surface{Cells: cells}, nil
}

// Rmax returns the largest transverse radius over all cells. It is the
// physical event size the refined hydro pass must cover.
func (s *Surface) Rmax() float64 {
	max := 0.0
	for i := range s.Cells {
		r2 := s.Cells[i].X*s.Cells[i].X + s.Cells[i].Y*s.Cells[i].Y
		if r2 > max {
			max = r2
		}
	}
	return math.Sqrt(max)
}
