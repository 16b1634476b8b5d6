// Package hic drives the event-by-event heavy-ion simulation pipeline.
//
// # Reading Guide
//
// Start with these three files to understand the engine:
//   - event.go: the per-event state machine (free streaming, the two-pass
//     hydro sizing, sampling) and its terminal outcomes
//   - accumulator.go: the online fold of particle batches into one
//     fixed-schema ResultRecord
//   - session.go: the run loop, checkpoint lifecycle, failure circuit
//     breaker and interruption handling
//
// # Architecture
//
// Every physics stage is an external binary with a file-based contract:
// the initial-condition generator (generator.go), the free-streaming
// transform (freestream.go), the hydrodynamic engine (stage.go) and the
// particle sampler (sampler.go). The engine only sequences them, reconciles
// their grids (field.go, grid.go) and folds their output into observables.
//
// The extension points are small interfaces with exec-backed production
// implementations: ICStream, Streamer, HydroEngine, Sampler. Tests swap in
// synthetic implementations.
package hic
