package hic

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Field is a square 2D scalar field (entropy or energy density, flow
// components, ...) on a uniform transverse grid. The backing matrix is
// row-major; Step is the cell size in fm.
type Field struct {
	Step float64
	m    *mat.Dense
}

// NewField allocates a zero-filled n-by-n field.
func NewField(n int, step float64) *Field {
	return &Field{Step: step, m: mat.NewDense(n, n, nil)}
}

// FieldFromData wraps a row-major buffer of length n*n. The buffer is
// retained, not copied.
func FieldFromData(n int, step float64, data []float64) (*Field, error) {
	if len(data) != n*n {
		return nil, fmt.Errorf("field data length %d does not match %dx%d grid", len(data), n, n)
	}
	return &Field{Step: step, m: mat.NewDense(n, n, data)}, nil
}

// N returns the cells per side.
func (f *Field) N() int {
	r, _ := f.m.Dims()
	return r
}

// At returns the value at row i, column j.
func (f *Field) At(i, j int) float64 { return f.m.At(i, j) }

// Set assigns the value at row i, column j.
func (f *Field) Set(i, j int, v float64) { f.m.Set(i, j, v) }

// Sum returns the sum over all cells.
func (f *Field) Sum() float64 { return mat.Sum(f.m) }

// Raw exposes the row-major backing buffer. Callers must not resize it.
func (f *Field) Raw() []float64 { return f.m.RawMatrix().Data }

// Integral returns the field integrated over the transverse plane,
// sum * step^2. For an entropy density IC this is the initial entropy.
func (f *Field) Integral() float64 {
	return f.Sum() * f.Step * f.Step
}

// Equal reports exact element-wise equality of two fields.
func (f *Field) Equal(g *Field) bool {
	return f.Step == g.Step && mat.Equal(f.m, g.m)
}

// Stride subsamples every k-th cell in both directions, producing a coarser
// field with step multiplied by k. k must be positive; k=1 returns f.
func (f *Field) Stride(k int) *Field {
	if k <= 1 {
		return f
	}
	n := f.N()
	cn := (n + k - 1) / k
	out := NewField(cn, f.Step*float64(k))
	for i := 0; i < cn; i++ {
		for j := 0; j < cn; j++ {
			out.m.Set(i, j, f.m.At(i*k, j*k))
		}
	}
	return out
}

// Resize reconciles f with a target cell count n. A larger source is cropped
// to a centered n-by-n square; a smaller source is pasted centered into a
// zero-filled n-by-n field. Same size returns f unchanged. The centering
// offset is floor(|diff|/2) in both cases; an off-by-one here corrupts every
// downstream observable.
func (f *Field) Resize(n int) *Field {
	src := f.N()
	switch {
	case src == n:
		return f
	case src > n:
		start := (src - n) / 2
		out := NewField(n, f.Step)
		out.m.Copy(f.m.Slice(start, start+n, start, start+n))
		return out
	default:
		start := (n - src) / 2
		out := NewField(n, f.Step)
		out.m.Slice(start, start+src, start, start+src).(*mat.Dense).Copy(f.m)
		return out
	}
}
