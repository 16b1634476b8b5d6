package hic

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// StageKind tags the three outcomes of an external stage invocation.
type StageKind int

const (
	// StageSuccess carries a parsed surface.
	StageSuccess StageKind = iota
	// StageEarlyStop is an expected, non-fatal termination: the engine ran
	// fine but produced nothing (e.g. a peripheral event never reaching the
	// transition temperature).
	StageEarlyStop
	// StageFailed is a hard error for the event: nonzero exit status or
	// malformed output.
	StageFailed
)

// StageResult is the tagged outcome of a stage invocation. Exactly one of
// Surface, Reason, Err is meaningful, per Kind.
type StageResult struct {
	Kind    StageKind
	Surface *Surface
	Reason  string
	Err     error
}

func stageSuccess(s *Surface) StageResult { return StageResult{Kind: StageSuccess, Surface: s} }
func stageEarlyStop(reason string) StageResult {
	return StageResult{Kind: StageEarlyStop, Reason: reason}
}
func stageFailure(err error) StageResult { return StageResult{Kind: StageFailed, Err: err} }

// NamedField pairs an input field with the file name the engine expects.
type NamedField struct {
	Name  string
	Field *Field
}

// StageInput is the ordered bundle of named 2D fields handed to an engine.
type StageInput []NamedField

// HydroParams are the per-pass engine arguments. Extra carries pass-specific
// physics args (viscosities, freeze-out energy density, ...).
type HydroParams struct {
	T0        float64 // start time, fm/c
	DT        float64 // timestep; the caller keeps DT/Step below 0.5
	Step      float64 // cell size, fm
	HalfCells int     // half cell count per side
	Extra     []string
}

// HydroEngine runs one hydrodynamic evolution to freeze-out.
type HydroEngine interface {
	Run(ctx context.Context, in StageInput, p HydroParams) StageResult
}

// HydroRunner invokes an external hydro binary. Input fields are written as
// flat little-endian float64 files in the work dir; the engine writes back
// surface.dat with 16 float64 columns per freeze-out cell. Invocations are
// synchronous and have no timeout: a hung engine hangs the process.
type HydroRunner struct {
	Binary  string
	WorkDir string
}

// SurfacePath returns where the engine leaves its surface output.
func (h *HydroRunner) SurfacePath() string {
	return filepath.Join(h.WorkDir, "surface.dat")
}

func (h *HydroRunner) Run(ctx context.Context, in StageInput, p HydroParams) StageResult {
	for _, nf := range in {
		path := filepath.Join(h.WorkDir, nf.Name+".dat")
		if err := writeFloats(path, nf.Field.Raw()); err != nil {
			return stageFailure(fmt.Errorf("writing %s input: %w", nf.Name, err))
		}
	}
	// Stale surface output from a previous pass must not be mistaken for
	// this pass's result.
	if err := os.Remove(h.SurfacePath()); err != nil && !os.IsNotExist(err) {
		return stageFailure(fmt.Errorf("clearing stale surface: %w", err))
	}

	args := []string{
		fmt.Sprintf("t0=%g", p.T0),
		fmt.Sprintf("dt=%g", p.DT),
		fmt.Sprintf("dxy=%g", p.Step),
		fmt.Sprintf("ls=%d", p.HalfCells),
	}
	args = append(args, p.Extra...)

	cmd := exec.CommandContext(ctx, h.Binary, args...)
	cmd.Dir = h.WorkDir
	logrus.Debugf("hydro: %s %s", h.Binary, strings.Join(args, " "))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return stageFailure(fmt.Errorf("hydro engine %s: %w\n%s", h.Binary, err, out))
	}

	buf, err := readFloats(h.SurfacePath())
	if err != nil {
		return stageFailure(fmt.Errorf("reading surface: %w", err))
	}
	if len(buf) == 0 {
		return stageEarlyStop("empty surface")
	}
	surf, err := parseSurface(buf)
	if err != nil {
		return stageFailure(err)
	}
	return stageSuccess(surf)
}

// writeFloats writes a flat little-endian float64 file, the encoding every
// external engine in the chain reads and writes.
func writeFloats(path string, vals []float64) error {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return os.WriteFile(path, buf, 0o644)
}

// readFloats reads a flat little-endian float64 file. A missing file is
// indistinguishable from broken engine output and surfaces as an error;
// an empty file decodes to an empty slice.
func readFloats(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("%s: size %d is not a multiple of 8", path, len(data))
	}
	vals := make([]float64, len(data)/8)
	for i := range vals {
		vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:]))
	}
	return vals, nil
}
