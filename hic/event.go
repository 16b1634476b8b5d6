package hic

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// EventState is the state of one event inside the machine. Transitions are
// strictly forward; EARLY_STOPPED and FAILED are reachable from any stage.
type EventState int

const (
	StateInit EventState = iota
	StateStream
	StateCoarseHydro
	StateRmaxDetermined
	StateRefinedHydro
	StateSurfaceBuilt
	StateSampling
	StateAggregated
	StateEarlyStopped
	StateFailed
	StateInterrupted
)

var eventStateNames = map[EventState]string{
	StateInit:           "INIT",
	StateStream:         "STREAM",
	StateCoarseHydro:    "COARSE_HYDRO",
	StateRmaxDetermined: "RMAX_DETERMINED",
	StateRefinedHydro:   "REFINED_HYDRO",
	StateSurfaceBuilt:   "SURFACE_BUILT",
	StateSampling:       "SAMPLING",
	StateAggregated:     "AGGREGATED",
	StateEarlyStopped:   "EARLY_STOPPED",
	StateFailed:         "FAILED",
	StateInterrupted:    "INTERRUPTED",
}

func (s EventState) String() string { return eventStateNames[s] }

// Outcome is the terminal result of running one event. Record is non-nil only
// for AGGREGATED; Reason only for EARLY_STOPPED; Err only for FAILED.
type Outcome struct {
	State  EventState
	Record *ResultRecord
	Reason string
	Err    error
}

func failedOutcome(err error) Outcome { return Outcome{State: StateFailed, Err: err} }

func earlyStopOutcome(reason string) Outcome {
	return Outcome{State: StateEarlyStopped, Reason: reason}
}

// Coarse-pass constants. The coarse hydro pass exists only to size the
// refined one: a fixed generous half-extent enclosing the canonical grid, a
// 3x coarser grid, inviscid physics and a low freeze-out cutoff so the whole
// surface is captured. The 0.25 timestep ratio keeps the engine's
// finite-difference scheme inside its stability bound of 0.5; it is a hard
// constraint, not a tunable.
const (
	coarseHalfExtent = 27.0
	coarseStride     = 3
	dtStepRatio      = 0.25
)

var coarseHydroArgs = []string{"etas=0", "zetas=0", "edec=0.05"}

// streamedFieldNames are the free-streamed fields every hydro pass consumes,
// in engine input order.
var streamedFieldNames = []string{"ed", "u1", "u2", "pi11", "pi12", "pi22"}

// EventMachine sequences one event through its stages: free streaming, the
// coarse sizing pass, the refined hydro pass, surface building and sample
// accumulation. The machine itself holds no per-event state; everything
// event-scoped lives in RunEvent's frame.
type EventMachine struct {
	Grid        GridSpec
	StreamTime  float64
	HydroArgs   []string // refined-pass physics args
	Shear, Bulk bool

	Hydro       HydroEngine
	SurfacePath string // where Hydro leaves its surface, handed to the sampler
	NewStreamer StreamerFactory
	NewSampler  SamplerFactory

	Detail *DetailWriter // optional per-sample particle stream

	// Interrupted is polled between completed samples; sampling is the only
	// stage long enough to warrant an interior suspension point.
	Interrupted func() bool
}

// RunEvent drives one initial condition to a terminal state.
func (m *EventMachine) RunEvent(ctx context.Context, event int64, ic *Field) Outcome {
	log := logrus.WithField("event", event)
	log.Debugf("state %s", StateInit)

	// INIT -> STREAM
	if ic.N() != m.Grid.CellCount {
		return failedOutcome(fmt.Errorf("initial condition grid %d does not match run grid %d", ic.N(), m.Grid.CellCount))
	}
	initialEntropy := ic.Integral()
	log.Infof("initial entropy %.1f", initialEntropy)

	log.Debugf("state %s", StateStream)
	streamer, err := m.NewStreamer(ic, m.StreamTime)
	if err != nil {
		return failedOutcome(fmt.Errorf("free streaming: %w", err))
	}
	full, err := gatherStageInput(streamer)
	if err != nil {
		return failedOutcome(fmt.Errorf("free streaming: %w", err))
	}

	// STREAM -> COARSE_HYDRO
	log.Debugf("state %s", StateCoarseHydro)
	coarseStep := m.Grid.Step * coarseStride
	coarseCells := cellsFor(coarseHalfExtent, coarseStep)
	coarse := make(StageInput, len(full))
	for i, nf := range full {
		coarse[i] = NamedField{nf.Name, nf.Field.Stride(coarseStride).Resize(coarseCells)}
	}
	res := m.Hydro.Run(ctx, coarse, HydroParams{
		T0:        m.StreamTime,
		DT:        dtStepRatio * coarseStep,
		Step:      coarseStep,
		HalfCells: coarseCells / 2,
		Extra:     coarseHydroArgs,
	})
	switch res.Kind {
	case StageFailed:
		return failedOutcome(fmt.Errorf("coarse hydro: %w", res.Err))
	case StageEarlyStop:
		log.Infof("early stop in coarse pass: %s", res.Reason)
		return earlyStopOutcome(res.Reason)
	}

	// COARSE_HYDRO -> RMAX_DETERMINED -> REFINED_HYDRO
	rmax := res.Surface.Rmax()
	log.Infof("coarse pass: %d cells, rmax %.2f fm", len(res.Surface.Cells), rmax)
	log.Debugf("state %s", StateRmaxDetermined)
	refCells := cellsFor(rmax, m.Grid.Step)
	refined := make(StageInput, len(full))
	for i, nf := range full {
		refined[i] = NamedField{nf.Name, nf.Field.Resize(refCells)}
	}
	log.Debugf("state %s", StateRefinedHydro)
	res = m.Hydro.Run(ctx, refined, HydroParams{
		T0:        m.StreamTime,
		DT:        dtStepRatio * m.Grid.Step,
		Step:      m.Grid.Step,
		HalfCells: refCells / 2,
		Extra:     m.HydroArgs,
	})
	switch res.Kind {
	case StageFailed:
		return failedOutcome(fmt.Errorf("refined hydro: %w", res.Err))
	case StageEarlyStop:
		log.Infof("early stop in refined pass: %s", res.Reason)
		return earlyStopOutcome(res.Reason)
	}

	// REFINED_HYDRO -> SURFACE_BUILT -> SAMPLING
	surface := res.Surface
	surface.Shear, surface.Bulk = m.Shear, m.Bulk
	log.Debugf("state %s", StateSurfaceBuilt)
	log.Infof("surface built: %d cells", len(surface.Cells))
	sampler := m.NewSampler(m.SurfacePath)

	log.Debugf("state %s", StateSampling)
	acc := NewAccumulator(initialEntropy)
	for acc.NeedMore() {
		if m.Interrupted != nil && m.Interrupted() {
			log.Warn("interrupted during sampling, abandoning event")
			return Outcome{State: StateInterrupted}
		}
		batch, err := sampler.Sample(ctx)
		if err != nil {
			return failedOutcome(fmt.Errorf("sampling: %w", err))
		}
		if len(batch) == 0 {
			// Legitimate, but not a sample.
			continue
		}
		acc.Fold(batch)
		if m.Detail != nil {
			if err := m.Detail.AppendSample(event, acc.NSamples(), batch); err != nil {
				return failedOutcome(err)
			}
		}
	}

	// SAMPLING -> AGGREGATED
	if acc.TotalParticles() == 0 {
		return earlyStopOutcome("zero particles sampled")
	}
	rec := acc.Finalize()
	log.Infof("aggregated %d particles over %d samples, dNch/deta %.1f", acc.TotalParticles(), rec.NSamples, rec.DNchDeta)
	return Outcome{State: StateAggregated, Record: rec}
}

// gatherStageInput evaluates every streamed field the hydro engine needs.
func gatherStageInput(s Streamer) (StageInput, error) {
	ed, err := s.EnergyDensity()
	if err != nil {
		return nil, err
	}
	u1, err := s.Flow(1)
	if err != nil {
		return nil, err
	}
	u2, err := s.Flow(2)
	if err != nil {
		return nil, err
	}
	pi11, err := s.Shear(1, 1)
	if err != nil {
		return nil, err
	}
	pi12, err := s.Shear(1, 2)
	if err != nil {
		return nil, err
	}
	pi22, err := s.Shear(2, 2)
	if err != nil {
		return nil, err
	}
	fields := []*Field{ed, u1, u2, pi11, pi12, pi22}
	in := make(StageInput, len(fields))
	for i, f := range fields {
		in[i] = NamedField{streamedFieldNames[i], f}
	}
	return in, nil
}
