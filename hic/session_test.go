package hic

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptRunner replays scripted outcomes, one per event.
type scriptRunner struct {
	outcomes []Outcome
	events   int
}

func (r *scriptRunner) RunEvent(context.Context, int64, *Field) Outcome {
	out := r.outcomes[r.events]
	r.events++
	return out
}

func aggregated(entropy float64) Outcome {
	rec := &ResultRecord{InitialEntropy: entropy, NSamples: 10}
	return Outcome{State: StateAggregated, Record: rec}
}

func testSession(t *testing.T, runner eventRunner, nics int) (*Session, string) {
	t.Helper()
	dir := t.TempDir()
	resultsPath := filepath.Join(dir, "results.dat")
	w, err := OpenResults(resultsPath)
	require.NoError(t, err)

	ics := make([]*Field, nics)
	for i := range ics {
		ics[i] = NewField(4, 0.1)
	}
	cfg := DefaultConfig()
	cfg.Results = resultsPath
	return &Session{
		cfg:     cfg,
		stream:  &sliceStream{fields: ics},
		runner:  runner,
		results: w,
	}, resultsPath
}

func TestSessionRun_AppendsOneRecordPerAggregatedEvent(t *testing.T) {
	r := &scriptRunner{outcomes: []Outcome{aggregated(10), aggregated(20), aggregated(30)}}
	s, resultsPath := testSession(t, r, 3)

	require.NoError(t, s.Run(context.Background()))

	recs, err := ReadResults(resultsPath)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, 20.0, recs[1].InitialEntropy)
	assert.Equal(t, RunSummary{Events: 3, Failures: 0, EarlyStops: 0, Elapsed: s.summary.Elapsed}, s.Summary())
}

func TestSessionRun_CircuitBreakerTrips(t *testing.T) {
	// GIVEN four consecutive failures in a stream of many events
	fail := Outcome{State: StateFailed, Err: errors.New("engine broken")}
	r := &scriptRunner{outcomes: []Outcome{fail, fail, fail, fail, aggregated(1), aggregated(2)}}
	s, _ := testSession(t, r, 6)

	// WHEN running
	err := s.Run(context.Background())

	// THEN the breaker stops the run after the fourth failure (nfail > 3 and
	// nfail/n > 0.5) and the remaining events are never processed
	require.ErrorIs(t, err, ErrRunFailed)
	assert.Equal(t, 4, r.events)
	assert.Equal(t, 4, s.Summary().Failures)
	assert.Equal(t, 4, s.Summary().Events)
}

func TestSessionRun_BreakerNeedsBothConditions(t *testing.T) {
	// Three failures never exceed the absolute floor; seven mostly-successful
	// events keep the ratio below one half. Both sequences run to completion.
	fail := Outcome{State: StateFailed, Err: errors.New("boom")}
	cases := [][]Outcome{
		{fail, fail, fail, aggregated(1), aggregated(2), aggregated(3), aggregated(4)},
		{fail, aggregated(1), fail, aggregated(2), fail, aggregated(3), fail, aggregated(4), aggregated(5)},
	}
	for i, outcomes := range cases {
		r := &scriptRunner{outcomes: outcomes}
		s, _ := testSession(t, r, len(outcomes))
		err := s.Run(context.Background())
		require.NoError(t, err, "case %d", i)
		assert.Equal(t, len(outcomes), r.events, "case %d", i)
	}
}

func TestSessionRun_EarlyStopIsNotAFailure(t *testing.T) {
	// GIVEN a run whose only event early-stops (e.g. an all-zero initial
	// condition never reaching the transition temperature)
	r := &scriptRunner{outcomes: []Outcome{{State: StateEarlyStopped, Reason: "empty surface"}}}
	s, resultsPath := testSession(t, r, 1)

	// WHEN running
	err := s.Run(context.Background())

	// THEN the run is successful (the event counts in n, not nfail) and the
	// results stream stays empty
	require.NoError(t, err)
	recs, readErr := ReadResults(resultsPath)
	require.NoError(t, readErr)
	assert.Empty(t, recs)
	assert.Equal(t, 1, s.Summary().EarlyStops)
	assert.True(t, s.Summary().Successful())
}

func TestSessionRun_AllFailedIsRunFailure(t *testing.T) {
	fail := Outcome{State: StateFailed, Err: errors.New("boom")}
	r := &scriptRunner{outcomes: []Outcome{fail, fail}}
	s, _ := testSession(t, r, 2)

	err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrRunFailed)
}

func TestSessionRun_EmptyStreamIsRunFailure(t *testing.T) {
	s, _ := testSession(t, &scriptRunner{}, 0)
	err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrRunFailed, "no event produced a result")
}

func TestSessionRun_CheckpointDeletedOnSuccess(t *testing.T) {
	r := &scriptRunner{outcomes: []Outcome{aggregated(1)}}
	s, _ := testSession(t, r, 1)
	ckptPath := filepath.Join(t.TempDir(), "checkpoint.dat")
	s.cfg.Checkpoint = ckptPath
	s.ckpt = &CheckpointManager{Path: ckptPath}

	require.NoError(t, s.Run(context.Background()))

	_, err := os.Stat(ckptPath)
	assert.True(t, os.IsNotExist(err), "checkpoint must be deleted after the event succeeds")
}

func TestSessionRun_CheckpointKeptOnFailure(t *testing.T) {
	fail := Outcome{State: StateFailed, Err: errors.New("boom")}
	r := &scriptRunner{outcomes: []Outcome{fail}}
	s, _ := testSession(t, r, 1)
	ckptPath := filepath.Join(t.TempDir(), "checkpoint.dat")
	s.cfg.Checkpoint = ckptPath
	s.ckpt = &CheckpointManager{Path: ckptPath}

	err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrRunFailed)

	// The failed event's checkpoint survives for diagnosis and retry, and it
	// resolves through the integrity check at its recorded path.
	_, cfgErr := os.Stat(ckptPath)
	require.NoError(t, cfgErr, "checkpoint must be kept after a failure")
	_, ic, loadErr := LoadCheckpoint(ckptPath)
	require.NoError(t, loadErr)
	assert.Equal(t, 4, ic.N())
}

func TestSessionRun_InterruptionAfterFailureDropsCheckpoint(t *testing.T) {
	// GIVEN a failed event followed by an interrupted one
	fail := Outcome{State: StateFailed, Err: errors.New("boom")}
	r := &scriptRunner{outcomes: []Outcome{fail, {State: StateInterrupted}}}
	s, _ := testSession(t, r, 2)
	ckptPath := filepath.Join(t.TempDir(), "checkpoint.dat")
	s.cfg.Checkpoint = ckptPath
	s.ckpt = &CheckpointManager{Path: ckptPath}

	// WHEN running
	err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrRunFailed)
	require.Equal(t, 2, r.events)

	// THEN the live checkpoint, overwritten to hold the interrupted second
	// event, is removed at shutdown; the earlier failure must not pin it
	_, statErr := os.Stat(ckptPath)
	assert.True(t, os.IsNotExist(statErr), "checkpoint of an interrupted event must not survive on the strength of a previous event's failure")
}

func TestSessionRun_EarlyStopWritesDetailPlaceholder(t *testing.T) {
	r := &scriptRunner{outcomes: []Outcome{{State: StateEarlyStopped, Reason: "empty surface"}}}
	s, _ := testSession(t, r, 1)
	detailPath := filepath.Join(t.TempDir(), "particles.dat")
	d, err := OpenDetail(detailPath)
	require.NoError(t, err)
	s.detail = d

	require.NoError(t, s.Run(context.Background()))

	entries, err := ReadDetail(detailPath)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].Particles)
}

func TestSessionRun_InterruptedEventDoesNotCount(t *testing.T) {
	r := &scriptRunner{outcomes: []Outcome{aggregated(1), {State: StateInterrupted}}}
	s, resultsPath := testSession(t, r, 2)
	intr := &Interrupt{}
	s.intr = intr
	// runOne's Interrupted outcome is followed by the boundary check; arm the
	// flag so the loop stops instead of consuming further events.
	intr.fired.Store(true)

	// The boundary check fires before the first event, so nothing runs.
	require.ErrorIs(t, s.Run(context.Background()), ErrRunFailed)
	assert.Zero(t, r.events)

	recs, err := ReadResults(resultsPath)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRunSummary_SuccessPredicate(t *testing.T) {
	assert.True(t, RunSummary{Events: 5, Failures: 2}.Successful())
	assert.False(t, RunSummary{Events: 2, Failures: 2}.Successful())
	assert.False(t, RunSummary{}.Successful(), "a run with no events has no successful event")
}
