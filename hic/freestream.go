package hic

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Streamer exposes the free-streamed state of one event as on-demand 2D field
// queries. Indices are 1-based transverse components, matching the engine's
// file naming (u1, u2, pi11, ...).
type Streamer interface {
	EnergyDensity() (*Field, error)
	Flow(i int) (*Field, error)
	Shear(i, j int) (*Field, error)
}

// StreamerFactory builds a Streamer for one initial condition advanced to the
// given proper time.
type StreamerFactory func(ic *Field, t float64) (Streamer, error)

// ExecStreamer wraps an external free-streaming binary. The binary is run
// once, up front; it evaluates the streamed fields on the initial condition's
// grid and writes each as a flat float64 file (ed.dat, u1.dat, u2.dat,
// pi11.dat, ...). Queries read those files lazily and cache the result.
type ExecStreamer struct {
	workDir string
	n       int
	step    float64
	cache   map[string]*Field
}

// NewExecStreamerFactory returns a StreamerFactory backed by the given binary.
func NewExecStreamerFactory(ctx context.Context, binary, workDir string) StreamerFactory {
	return func(ic *Field, t float64) (Streamer, error) {
		icPath := filepath.Join(workDir, "ic.dat")
		if err := writeFloats(icPath, ic.Raw()); err != nil {
			return nil, fmt.Errorf("writing initial condition: %w", err)
		}
		args := []string{
			"ic.dat",
			fmt.Sprintf("time=%g", t),
			fmt.Sprintf("grid-max=%g", 0.5*float64(ic.N())*ic.Step),
		}
		cmd := exec.CommandContext(ctx, binary, args...)
		cmd.Dir = workDir
		logrus.Debugf("free streaming to t=%g fm/c", t)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return nil, fmt.Errorf("free-streaming transform %s: %w\n%s", binary, err, out)
		}
		return &ExecStreamer{
			workDir: workDir,
			n:       ic.N(),
			step:    ic.Step,
			cache:   make(map[string]*Field),
		}, nil
	}
}

func (s *ExecStreamer) EnergyDensity() (*Field, error) { return s.field("ed") }

func (s *ExecStreamer) Flow(i int) (*Field, error) {
	return s.field(fmt.Sprintf("u%d", i))
}

func (s *ExecStreamer) Shear(i, j int) (*Field, error) {
	return s.field(fmt.Sprintf("pi%d%d", i, j))
}

func (s *ExecStreamer) field(name string) (*Field, error) {
	if f, ok := s.cache[name]; ok {
		return f, nil
	}
	buf, err := readFloats(filepath.Join(s.workDir, name+".dat"))
	if err != nil {
		return nil, fmt.Errorf("streamed field %s: %w", name, err)
	}
	f, err := FieldFromData(s.n, s.step, buf)
	if err != nil {
		return nil, fmt.Errorf("streamed field %s: %w", name, err)
	}
	s.cache[name] = f
	return f, nil
}
