package hic

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// ICStream yields one initial condition per produced event. Next returns
// io.EOF when the generator is exhausted. Each returned field is owned
// exclusively by the event that consumes it.
type ICStream interface {
	Next() (*Field, error)
}

// ExecGenerator drives an external initial-condition generator. The binary is
// invoked once, on the first Next call, with the requested event count and
// grid geometry; it leaves one flat float64 field file per event in the work
// dir (ic_0.dat, ic_1.dat, ...).
type ExecGenerator struct {
	Binary  string
	WorkDir string
	NEvents int
	Grid    GridSpec
	Args    []string

	ctx     context.Context
	started bool
	next    int
}

func NewExecGenerator(ctx context.Context, binary, workDir string, nevents int, grid GridSpec, args []string) *ExecGenerator {
	return &ExecGenerator{
		Binary:  binary,
		WorkDir: workDir,
		NEvents: nevents,
		Grid:    grid,
		Args:    args,
		ctx:     ctx,
	}
}

func (g *ExecGenerator) Next() (*Field, error) {
	if !g.started {
		if err := g.generate(); err != nil {
			return nil, err
		}
		g.started = true
	}
	if g.next >= g.NEvents {
		return nil, io.EOF
	}
	path := filepath.Join(g.WorkDir, fmt.Sprintf("ic_%d.dat", g.next))
	buf, err := readFloats(path)
	if err != nil {
		return nil, fmt.Errorf("reading initial condition %d: %w", g.next, err)
	}
	f, err := FieldFromData(g.Grid.CellCount, g.Grid.Step, buf)
	if err != nil {
		return nil, fmt.Errorf("initial condition %d: %w", g.next, err)
	}
	g.next++
	return f, nil
}

func (g *ExecGenerator) generate() error {
	args := []string{
		fmt.Sprintf("--number-events=%d", g.NEvents),
		fmt.Sprintf("--grid-step=%g", g.Grid.Step),
		fmt.Sprintf("--grid-max=%g", g.Grid.PhysicalMax),
	}
	args = append(args, g.Args...)
	cmd := exec.CommandContext(g.ctx, g.Binary, args...)
	cmd.Dir = g.WorkDir
	logrus.Infof("generating %d initial conditions via %s", g.NEvents, g.Binary)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("initial-condition generator %s: %w\n%s", g.Binary, err, out)
	}
	return nil
}

// sliceStream serves pre-built fields, used by tests and as the tail of a
// resumed stream.
type sliceStream struct {
	fields []*Field
}

func (s *sliceStream) Next() (*Field, error) {
	if len(s.fields) == 0 {
		return nil, io.EOF
	}
	f := s.fields[0]
	s.fields = s.fields[1:]
	return f, nil
}

// PrependIC puts one field (typically a checkpointed initial condition) in
// front of an existing stream.
func PrependIC(ic *Field, rest ICStream) ICStream {
	return &resumeStream{first: ic, rest: rest}
}

type resumeStream struct {
	first *Field
	rest  ICStream
}

func (r *resumeStream) Next() (*Field, error) {
	if r.first != nil {
		f := r.first
		r.first = nil
		return f, nil
	}
	if r.rest == nil {
		return nil, io.EOF
	}
	return r.rest.Next()
}
