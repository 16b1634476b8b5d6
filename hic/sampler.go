package hic

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
)

// Particle is one sampled particle: PDG species id, spacetime position
// (tau, x, y) and four-momentum (E, px, py, pz).
type Particle struct {
	ID  int32
	Pos [3]float64
	P   [4]float64
}

// particleBytes is the packed on-disk size of one particle record:
// int32 id + 7 float64s.
const particleBytes = 4 + 7*8

// Sampler draws one particle batch per call from a fixed freeze-out surface
// and a thermal reference. Empty batches are legitimate.
type Sampler interface {
	Sample(ctx context.Context) ([]Particle, error)
}

// SamplerFactory binds a Sampler to one event's surface file.
type SamplerFactory func(surfacePath string) Sampler

// ExecSampler invokes an external sampler binary once per batch. Each call
// writes parts_<k>.dat next to the surface; the file is decoded and removed
// before returning.
type ExecSampler struct {
	Binary      string
	WorkDir     string
	SurfacePath string
	TSwitch     float64
	Species     string
	Shear       bool
	Bulk        bool

	seq int
}

// NewExecSamplerFactory builds ExecSamplers from the run configuration.
func NewExecSamplerFactory(cfg *Config, workDir string) SamplerFactory {
	return func(surfacePath string) Sampler {
		return &ExecSampler{
			Binary:      cfg.SamplerBin,
			WorkDir:     workDir,
			SurfacePath: surfacePath,
			TSwitch:     cfg.TSwitch,
			Species:     cfg.SpeciesConfig,
			Shear:       cfg.ShearCorrM,
			Bulk:        cfg.BulkCorrM,
		}
	}
}

func (s *ExecSampler) Sample(ctx context.Context) ([]Particle, error) {
	out := filepath.Join(s.WorkDir, fmt.Sprintf("parts_%d.dat", s.seq))
	s.seq++
	args := []string{
		s.SurfacePath,
		fmt.Sprintf("tswitch=%g", s.TSwitch),
		fmt.Sprintf("species=%s", s.Species),
		fmt.Sprintf("shear=%t", s.Shear),
		fmt.Sprintf("bulk=%t", s.Bulk),
		fmt.Sprintf("out=%s", out),
	}
	cmd := exec.CommandContext(ctx, s.Binary, args...)
	cmd.Dir = s.WorkDir
	diag, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("sampler %s: %w\n%s", s.Binary, err, diag)
	}
	parts, err := readParticles(out)
	if err != nil {
		return nil, err
	}
	// Batch files are ephemeral; only accumulated sums survive.
	_ = os.Remove(out)
	return parts, nil
}

// readParticles decodes a packed batch file. An absent or empty file is an
// empty batch.
func readParticles(path string) ([]Particle, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading particle batch: %w", err)
	}
	if len(data)%particleBytes != 0 {
		return nil, fmt.Errorf("particle batch %s: size %d is not a multiple of %d", path, len(data), particleBytes)
	}
	parts := make([]Particle, len(data)/particleBytes)
	for i := range parts {
		parts[i] = decodeParticle(data[i*particleBytes:])
	}
	return parts, nil
}

func decodeParticle(b []byte) Particle {
	var p Particle
	p.ID = int32(binary.LittleEndian.Uint32(b))
	off := 4
	for i := 0; i < 3; i++ {
		p.Pos[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))
		off += 8
	}
	for i := 0; i < 4; i++ {
		p.P[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))
		off += 8
	}
	return p
}

func encodeParticle(b []byte, p Particle) {
	binary.LittleEndian.PutUint32(b, uint32(p.ID))
	off := 4
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint64(b[off:], math.Float64bits(p.Pos[i]))
		off += 8
	}
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint64(b[off:], math.Float64bits(p.P[i]))
		off += 8
	}
}

// pdgCharge maps |PDG id| to electric charge for the hadrons the sampler
// emits. Antiparticles carry the opposite charge; ids not listed are neutral.
var pdgCharge = map[int32]int{
	211:  +1, // pi+
	213:  +1, // rho+
	321:  +1, // K+
	323:  +1, // K*+
	411:  +1, // D+
	1114: -1, // Delta-
	2212: +1, // p
	2214: +1, // Delta+
	2224: +2, // Delta++
	3112: -1, // Sigma-
	3222: +1, // Sigma+
	3312: -1, // Xi-
	3334: -1, // Omega-
}

// chargeOf derives electric charge from the species id and its sign.
func chargeOf(id int32) int {
	abs := id
	if abs < 0 {
		abs = -abs
	}
	c := pdgCharge[abs]
	if id < 0 {
		return -c
	}
	return c
}
