package hic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrRunFailed is returned by Session.Run when no event completed without
// failure; it maps to a nonzero process exit.
var ErrRunFailed = errors.New("run produced no successful event")

// Circuit-breaker thresholds: after a stage failure the run stops when more
// than breakerMinFailures events have failed and failures exceed half of all
// processed events. That pattern means a persistently broken external engine,
// not bad luck with individual events.
const breakerMinFailures = 3

// Interrupt converts asynchronous termination signals into a flag polled at
// defined suspension points (between events, between samples). The first
// signal requests orderly shutdown; further signals during the shutdown
// window are swallowed so cleanup can finish.
type Interrupt struct {
	fired atomic.Bool
	ch    chan os.Signal
	done  chan struct{}
}

// NewInterrupt starts listening for SIGINT and SIGTERM.
func NewInterrupt() *Interrupt {
	i := &Interrupt{
		ch:   make(chan os.Signal, 1),
		done: make(chan struct{}),
	}
	signal.Notify(i.ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for {
			select {
			case sig := <-i.ch:
				if i.fired.CompareAndSwap(false, true) {
					logrus.Warnf("received %s, finishing current work and shutting down", sig)
				}
			case <-i.done:
				return
			}
		}
	}()
	return i
}

// Fired reports whether a termination signal has been received.
func (i *Interrupt) Fired() bool { return i.fired.Load() }

// Stop detaches from the signals.
func (i *Interrupt) Stop() {
	if i.ch != nil {
		signal.Stop(i.ch)
	}
	if i.done != nil {
		close(i.done)
	}
}

// eventRunner is what the session drives per event; EventMachine is the
// production implementation.
type eventRunner interface {
	RunEvent(ctx context.Context, event int64, ic *Field) Outcome
}

// RunSummary is the session's final tally.
type RunSummary struct {
	Events     int // events reaching a terminal state (includes early stops and failures)
	Failures   int
	EarlyStops int
	Elapsed    time.Duration
}

// Successful applies the run-success predicate: at least one event completed
// without failure. Early-stopped events count as completed here even though
// they write no record; a physically empty event is not a failure.
func (s RunSummary) Successful() bool {
	return s.Events > s.Failures
}

// Session is the top-level loop over events: it advances the
// initial-condition stream, checkpoints, runs the event machine, applies the
// failure circuit breaker and appends completed records to the results
// stream.
type Session struct {
	cfg     Config
	stream  ICStream
	runner  eventRunner
	results *ResultWriter
	detail  *DetailWriter
	ckpt    *CheckpointManager // nil = checkpointing disabled
	intr    *Interrupt

	workDir    string
	ownWorkDir bool // remove workDir at teardown

	event      int64
	summary    RunSummary
	lastFailed bool // the most recent checkpointed event failed
}

// NewSession wires the production pipeline: scratch dir, output streams,
// exec-backed generator, streamer, hydro engine and sampler.
func NewSession(ctx context.Context, cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	grid := MakeGrid(cfg.NucleonWidth, cfg.GridStep)
	logrus.Infof("grid: step %.4f fm, %d cells, half-extent %.2f fm", grid.Step, grid.CellCount, grid.PhysicalMax)

	workDir, err := os.MkdirTemp(cfg.WorkDir, "run-")
	if err != nil {
		if err2 := os.MkdirAll(cfg.WorkDir, 0o755); err2 != nil {
			return nil, fmt.Errorf("creating work dir: %w", err2)
		}
		if workDir, err = os.MkdirTemp(cfg.WorkDir, "run-"); err != nil {
			return nil, fmt.Errorf("creating work dir: %w", err)
		}
	}

	results, err := OpenResults(cfg.Results)
	if err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}
	var detail *DetailWriter
	if cfg.ParticleDetail != "" {
		if detail, err = OpenDetail(cfg.ParticleDetail); err != nil {
			results.Close()
			os.RemoveAll(workDir)
			return nil, err
		}
	}

	hydro := &HydroRunner{Binary: cfg.HydroBin, WorkDir: workDir}
	machine := &EventMachine{
		Grid:        grid,
		StreamTime:  cfg.StreamTime,
		HydroArgs:   cfg.HydroArgs,
		Shear:       cfg.ShearCorrM,
		Bulk:        cfg.BulkCorrM,
		Hydro:       hydro,
		SurfacePath: hydro.SurfacePath(),
		NewStreamer: NewExecStreamerFactory(ctx, cfg.StreamBin, workDir),
		NewSampler:  NewExecSamplerFactory(&cfg, workDir),
		Detail:      detail,
	}

	s := &Session{
		cfg:        cfg,
		stream:     NewExecGenerator(ctx, cfg.GeneratorBin, workDir, cfg.NEvents, grid, cfg.GeneratorArgs),
		runner:     machine,
		results:    results,
		detail:     detail,
		workDir:    workDir,
		ownWorkDir: true,
	}
	if cfg.Checkpoint != "" {
		s.ckpt = &CheckpointManager{Path: cfg.Checkpoint}
	}
	s.intr = NewInterrupt()
	machine.Interrupted = s.intr.Fired
	return s, nil
}

// Resume prepends a checkpointed initial condition so it is the first event
// processed.
func (s *Session) Resume(ic *Field) {
	s.stream = PrependIC(ic, s.stream)
}

// Run processes events until the stream ends, the breaker trips or an
// interruption is observed. It returns ErrRunFailed when no event completed
// without failure; an interruption after at least one completed event is
// success-so-far, not an error.
func (s *Session) Run(ctx context.Context) error {
	start := time.Now()
	defer s.teardown()

	for {
		if s.intr != nil && s.intr.Fired() {
			logrus.Info("interruption observed at event boundary, stopping")
			break
		}
		ic, err := s.stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("advancing initial-condition stream: %w", err)
		}
		if err := s.runOne(ctx, ic); err != nil {
			return err
		}
		if s.breakerTripped() {
			logrus.Errorf("failure breaker tripped: %d of %d events failed, stopping run", s.summary.Failures, s.summary.Events)
			break
		}
	}

	s.summary.Elapsed = time.Since(start)
	logrus.Infof("run complete: %d events (%d early-stopped, %d failed) in %s",
		s.summary.Events, s.summary.EarlyStops, s.summary.Failures, s.summary.Elapsed.Round(time.Second))
	if !s.summary.Successful() {
		return fmt.Errorf("%w: %d events, %d failures", ErrRunFailed, s.summary.Events, s.summary.Failures)
	}
	return nil
}

// Summary returns the tally so far.
func (s *Session) Summary() RunSummary { return s.summary }

func (s *Session) runOne(ctx context.Context, ic *Field) error {
	event := s.event
	s.event++

	if s.ckpt != nil {
		if err := s.ckpt.Save(s.cfg, ic); err != nil {
			return fmt.Errorf("checkpointing event %d: %w", event, err)
		}
	}

	logrus.Infof("[event %d] starting", event)
	out := s.runner.RunEvent(ctx, event, ic)

	switch out.State {
	case StateAggregated:
		if err := s.results.Append(out.Record); err != nil {
			return err
		}
		s.summary.Events++
		s.lastFailed = false
		s.finishCheckpoint()

	case StateEarlyStopped:
		logrus.Infof("[event %d] early stop: %s", event, out.Reason)
		if s.detail != nil {
			if err := s.detail.AppendPlaceholder(event); err != nil {
				return err
			}
		}
		s.summary.Events++
		s.summary.EarlyStops++
		s.lastFailed = false
		s.finishCheckpoint()

	case StateFailed:
		logrus.Errorf("[event %d] failed: %v", event, out.Err)
		s.summary.Events++
		s.summary.Failures++
		// Keep the checkpoint: the failure stays diagnosable and the event
		// retryable.
		s.lastFailed = true

	case StateInterrupted:
		// Abandoned mid-event; it does not count toward the tally. The live
		// checkpoint now holds this event, not any earlier failure, so an
		// orderly shutdown removes it at teardown.
		logrus.Warnf("[event %d] abandoned after interruption", event)
		s.lastFailed = false

	default:
		return fmt.Errorf("event %d ended in non-terminal state %s", event, out.State)
	}
	return nil
}

// finishCheckpoint deletes the live checkpoint after its event completed
// without failure.
func (s *Session) finishCheckpoint() {
	if s.ckpt == nil {
		return
	}
	if err := s.ckpt.Remove(); err != nil {
		logrus.Warnf("removing checkpoint: %v", err)
	}
}

func (s *Session) breakerTripped() bool {
	return s.summary.Failures > breakerMinFailures && 2*s.summary.Failures > s.summary.Events
}

func (s *Session) teardown() {
	if s.results != nil {
		if err := s.results.Close(); err != nil {
			logrus.Warnf("closing results stream: %v", err)
		}
	}
	if s.detail != nil {
		if err := s.detail.Close(); err != nil {
			logrus.Warnf("closing particle-detail stream: %v", err)
		}
	}
	// Clean shutdown removes the live checkpoint unless its event failed.
	if s.ckpt != nil && !s.lastFailed {
		s.finishCheckpoint()
	}
	if s.ownWorkDir {
		if err := os.RemoveAll(s.workDir); err != nil {
			logrus.Warnf("removing work dir: %v", err)
		}
	}
	if s.intr != nil {
		s.intr.Stop()
	}
}
