package hic

import (
	"math"
	"math/cmplx"
)

// Observable acceptance windows and sampling thresholds. The stopping rule is
// threshold-based only: there is no upper cap on batches, so a surface with a
// pathologically low yield samples for a long time rather than being cut off.
const (
	minSampledParticles = 100_000
	minSamples          = 10

	etaMaxNch   = 0.5 // |eta| window for dNch/deta
	etaMaxET    = 0.6 // |eta| window for dET/deta
	rapMaxIdent = 0.5 // |y| window for identified dN/dy, mean pT

	etaMaxFluct = 0.8
	ptMinFluct  = 0.15
	ptMaxFluct  = 2.0

	etaMaxFlow = 0.8
	ptMinFlow  = 0.2
	ptMaxFlow  = 5.0
)

// NumHarmonics is the highest flow harmonic accumulated.
const NumHarmonics = 8

// identifiedSpecies are the species with per-species dN/dy and mean pT slots,
// in record order. Counts include antiparticles (matched by |id|).
var identifiedSpecies = [...]int32{211, 321, 2212} // pion, kaon, proton

// NumSpecies is the length of the per-species arrays in ResultRecord.
const NumSpecies = len(identifiedSpecies)

// ResultRecord is the fixed-schema per-event result. All fields are filled by
// the accumulation loop and divided exactly once by Finalize, except the
// pT-fluctuation and flow blocks, which stay raw sums plus counts so
// cumulants can be combined correctly across events.
type ResultRecord struct {
	InitialEntropy float64
	NSamples       int64

	DNchDeta float64
	DETDeta  float64

	DNdy   [NumSpecies]float64
	MeanPT [NumSpecies]float64

	PTFluctN     int64
	PTFluctSumPT float64
	PTFluctSumSq float64

	FlowN int64
	Qn    [NumHarmonics]complex128
}

// kinematics are the per-particle derived quantities the folds consume.
type kinematics struct {
	charge int
	pT     float64
	eT     float64
	mT     float64
	phi    float64
	y      float64
	eta    float64
}

func kinematicsOf(p *Particle) kinematics {
	e, px, py, pz := p.P[0], p.P[1], p.P[2], p.P[3]
	pT := math.Hypot(px, py)
	pTot := math.Sqrt(px*px + py*py + pz*pz)
	k := kinematics{
		charge: chargeOf(p.ID),
		pT:     pT,
		mT:     math.Sqrt(math.Max(e*e-pz*pz, 0)),
		phi:    math.Atan2(py, px),
		y:      0.5 * math.Log((e+pz)/(e-pz)),
		eta:    0.5 * math.Log((pTot+pz)/(pTot-pz)),
	}
	if pTot > 0 {
		k.eT = e * pT / pTot
	}
	return k
}

// Accumulator folds an unbounded stream of particle batches into one
// ResultRecord. Fold is commutative over batches; Finalize must be called
// exactly once, after the stopping rule is satisfied.
type Accumulator struct {
	rec       ResultRecord
	total     int
	ptSums    [NumSpecies]float64 // pre-division sum of pT per species
	finalized bool
}

// NewAccumulator starts a fresh record for one event.
func NewAccumulator(initialEntropy float64) *Accumulator {
	a := &Accumulator{}
	a.rec.InitialEntropy = initialEntropy
	return a
}

// NeedMore reports whether the stopping rule is still unsatisfied: both the
// particle total and the sample count must reach their thresholds.
func (a *Accumulator) NeedMore() bool {
	return a.total < minSampledParticles || a.rec.NSamples < minSamples
}

// TotalParticles returns the particle count folded so far.
func (a *Accumulator) TotalParticles() int { return a.total }

// NSamples returns the non-empty batches folded so far.
func (a *Accumulator) NSamples() int64 { return a.rec.NSamples }

// Fold accumulates one non-empty batch. Empty batches must be skipped by the
// caller; they do not count as samples.
func (a *Accumulator) Fold(batch []Particle) {
	if len(batch) == 0 {
		return
	}
	a.rec.NSamples++
	a.total += len(batch)

	for i := range batch {
		k := kinematicsOf(&batch[i])
		absEta := math.Abs(k.eta)
		charged := k.charge != 0

		if charged && absEta < etaMaxNch {
			a.rec.DNchDeta++
		}
		if absEta < etaMaxET {
			a.rec.DETDeta += k.eT / (2 * etaMaxET)
		}
		if math.Abs(k.y) < rapMaxIdent {
			abs := batch[i].ID
			if abs < 0 {
				abs = -abs
			}
			for s, id := range identifiedSpecies {
				if abs == id {
					a.rec.DNdy[s]++
					a.ptSums[s] += k.pT
				}
			}
		}
		if charged && absEta < etaMaxFluct && k.pT > ptMinFluct && k.pT < ptMaxFluct {
			a.rec.PTFluctN++
			a.rec.PTFluctSumPT += k.pT
			a.rec.PTFluctSumSq += k.pT * k.pT
		}
		if charged && absEta < etaMaxFlow && k.pT > ptMinFlow && k.pT < ptMaxFlow {
			a.rec.FlowN++
			for n := 1; n <= NumHarmonics; n++ {
				a.rec.Qn[n-1] += cmplx.Exp(complex(0, float64(n)*k.phi))
			}
		}
	}
}

// Finalize divides the averaged observables by the sample count and returns
// the record. Per-species mean pT divides by that species' own finalized
// dN/dy; a species that never appeared keeps mean pT = 0 rather than NaN.
// The pT-fluctuation and flow blocks are left as raw sums.
func (a *Accumulator) Finalize() *ResultRecord {
	if a.finalized {
		return &a.rec
	}
	a.finalized = true
	if n := float64(a.rec.NSamples); n > 0 {
		a.rec.DNchDeta /= n
		a.rec.DETDeta /= n
		for s := range a.rec.DNdy {
			a.rec.DNdy[s] /= n
			if a.rec.DNdy[s] > 0 {
				a.rec.MeanPT[s] = a.ptSums[s] / (n * a.rec.DNdy[s])
			}
		}
	}
	return &a.rec
}
