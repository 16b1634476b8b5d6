package hic

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloatFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "field.dat")
	vals := []float64{0, 1.5, -2.25, 1e30, -0.0}
	require.NoError(t, writeFloats(path, vals))

	got, err := readFloats(path)
	require.NoError(t, err)
	assert.Equal(t, vals, got)
}

func TestReadFloats_RejectsOddSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.dat")
	require.NoError(t, os.WriteFile(path, make([]byte, 12), 0o644))

	_, err := readFloats(path)
	assert.Error(t, err)
}

func TestParseSurface_RowLayout(t *testing.T) {
	row := make([]float64, surfaceCols)
	for i := range row {
		row[i] = float64(i)
	}
	s, err := parseSurface(row)
	require.NoError(t, err)
	require.Len(t, s.Cells, 1)

	c := s.Cells[0]
	assert.Equal(t, [3]float64{3, 4, 5}, c.Sigma)
	assert.Equal(t, 0.0, c.Tau)
	assert.Equal(t, 1.0, c.X)
	assert.Equal(t, 2.0, c.Y)
	assert.Equal(t, 6.0, c.Vx)
	assert.Equal(t, 7.0, c.Vy)
	assert.Equal(t, 15.0, c.Bulk)
}

func TestParseSurface_RejectsRaggedBuffer(t *testing.T) {
	_, err := parseSurface(make([]float64, surfaceCols+1))
	assert.Error(t, err)
}

func TestSurfaceRmax(t *testing.T) {
	s := &Surface{Cells: []SurfaceCell{
		{X: 3, Y: 4},
		{X: -1, Y: 0.5},
		{X: 0, Y: -2},
	}}
	assert.InDelta(t, 5.0, s.Rmax(), 1e-12)
}

func TestSurfaceRmax_EmptySurface(t *testing.T) {
	assert.Zero(t, (&Surface{}).Rmax())
}

func testStageInput(n int) StageInput {
	return StageInput{{Name: "ed", Field: ramp(n, 0.1)}}
}

func TestHydroRunner_NonzeroExitIsFailure(t *testing.T) {
	h := &HydroRunner{Binary: "false", WorkDir: t.TempDir()}
	res := h.Run(context.Background(), testStageInput(4), HydroParams{T0: 1, DT: 0.025, Step: 0.1, HalfCells: 2})

	require.Equal(t, StageFailed, res.Kind)
	assert.Error(t, res.Err)
}

// writeScript drops an executable shell script acting as a stand-in engine.
func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "engine.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestHydroRunner_EmptySurfaceIsEarlyStop(t *testing.T) {
	// GIVEN an engine that exits cleanly but emits an empty surface
	dir := t.TempDir()
	h := &HydroRunner{Binary: writeScript(t, dir, ": > surface.dat"), WorkDir: dir}

	// WHEN running the stage
	res := h.Run(context.Background(), testStageInput(4), HydroParams{T0: 1, DT: 0.025, Step: 0.1, HalfCells: 2})

	// THEN the outcome is the distinguished early-stop signal, not an error
	require.Equal(t, StageEarlyStop, res.Kind)
	assert.Equal(t, "empty surface", res.Reason)
	assert.NoError(t, res.Err)
}

func TestHydroRunner_ParsesSurfaceAndWritesInputs(t *testing.T) {
	// The stand-in engine checks its input field arrived, then emits one
	// 16-column row of zero bytes.
	dir := t.TempDir()
	h := &HydroRunner{Binary: writeScript(t, dir, "test -f ed.dat || exit 3\ndd if=/dev/zero of=surface.dat bs=128 count=1 2>/dev/null"), WorkDir: dir}

	res := h.Run(context.Background(), testStageInput(4), HydroParams{T0: 1, DT: 0.025, Step: 0.1, HalfCells: 2})

	require.Equal(t, StageSuccess, res.Kind)
	require.Len(t, res.Surface.Cells, 1)
	assert.Zero(t, res.Surface.Cells[0].X)
}

func TestHydroRunner_MissingSurfaceIsFailure(t *testing.T) {
	dir := t.TempDir()
	h := &HydroRunner{Binary: writeScript(t, dir, "exit 0"), WorkDir: dir}

	res := h.Run(context.Background(), testStageInput(4), HydroParams{T0: 1, DT: 0.025, Step: 0.1, HalfCells: 2})
	require.Equal(t, StageFailed, res.Kind)
}

func TestHydroRunner_ClearsStaleSurface(t *testing.T) {
	// A surface left over from the coarse pass must not leak into a pass
	// whose engine produces nothing.
	dir := t.TempDir()
	require.NoError(t, writeFloats(filepath.Join(dir, "surface.dat"), make([]float64, surfaceCols)))
	h := &HydroRunner{Binary: writeScript(t, dir, ": > surface.dat"), WorkDir: dir}

	res := h.Run(context.Background(), testStageInput(4), HydroParams{T0: 1, DT: 0.025, Step: 0.1, HalfCells: 2})
	assert.Equal(t, StageEarlyStop, res.Kind)
}
