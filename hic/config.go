package hic

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// rankEnvVars are consulted in order when a path template contains {rank}.
var rankEnvVars = []string{"HIC_RANK", "SLURM_PROCID", "OMPI_COMM_WORLD_RANK"}

// Config is the full run configuration. It is assembled once (flags + optional
// yaml file + rank rewriting) and never mutated afterwards; every component
// receives it by value or as a read-only pointer.
type Config struct {
	NEvents int `yaml:"nevents"` // events to generate and process, must be positive

	// Initial-condition generator
	GeneratorBin  string   `yaml:"generator_bin"`
	GeneratorArgs []string `yaml:"generator_args"`
	NucleonWidth  float64  `yaml:"nucleon_width"` // generator nucleon width w, sets step = 0.15*w
	GridStep      float64  `yaml:"grid_step"`     // explicit step override (0 = derive from width)

	// Free streaming
	StreamBin  string  `yaml:"stream_bin"`
	StreamTime float64 `yaml:"stream_time"` // proper time at which hydro takes over, fm/c

	// Hydrodynamic engine
	HydroBin  string   `yaml:"hydro_bin"`
	HydroArgs []string `yaml:"hydro_args"` // physics args for the refined pass (viscosities, edec, ...)

	// Particle sampler
	SamplerBin     string  `yaml:"sampler_bin"`
	TSwitch        float64 `yaml:"tswitch"` // switching temperature in GeV
	ShearCorrM     bool    `yaml:"shear_corrections"`
	BulkCorrM      bool    `yaml:"bulk_corrections"`
	SpeciesConfig  string  `yaml:"species_config"`  // sampler species-list selector
	ParticleDetail string  `yaml:"particle_detail"` // optional per-sample particle stream ("" = disabled)

	// Run bookkeeping
	Results    string `yaml:"results"`    // append-only binary results stream
	Checkpoint string `yaml:"checkpoint"` // checkpoint blob path ("" = checkpointing disabled)
	WorkDir    string `yaml:"workdir"`    // scratch dir for stage files, removed at session end
	LogLevel   string `yaml:"log"`
}

// DefaultConfig returns the baseline configuration; flags and yaml files
// override individual fields.
func DefaultConfig() Config {
	return Config{
		NEvents:       10,
		GeneratorBin:  "trento",
		NucleonWidth:  0.5,
		StreamBin:     "freestream",
		StreamTime:    1.16,
		HydroBin:      "vishnew",
		SamplerBin:    "frzout-sample",
		TSwitch:       0.151,
		ShearCorrM:    true,
		BulkCorrM:     true,
		SpeciesConfig: "urqmd",
		Results:       "results.dat",
		WorkDir:       ".hic-work",
		LogLevel:      "info",
	}
}

// LoadConfig reads a yaml config file over the defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Marshal serializes the configuration to yaml, the encoding embedded in
// checkpoint blobs.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// ApplyRank substitutes {rank} in all path fields. It must be called exactly
// once, during configuration assembly; a {rank} template with no rank variable
// set in the environment is a startup error.
func (c *Config) ApplyRank() error {
	paths := []*string{&c.Results, &c.ParticleDetail, &c.Checkpoint, &c.WorkDir}
	templated := false
	for _, p := range paths {
		if strings.Contains(*p, "{rank}") {
			templated = true
		}
	}
	if !templated {
		return nil
	}
	rank, ok := rankFromEnv()
	if !ok {
		return fmt.Errorf("path template uses {rank} but none of %v is set", rankEnvVars)
	}
	for _, p := range paths {
		*p = strings.ReplaceAll(*p, "{rank}", rank)
	}
	return nil
}

func rankFromEnv() (string, bool) {
	for _, v := range rankEnvVars {
		if r, ok := os.LookupEnv(v); ok && r != "" {
			return r, true
		}
	}
	return "", false
}

// Validate rejects configurations that cannot start a run.
func (c Config) Validate() error {
	if c.NEvents <= 0 {
		return fmt.Errorf("nevents must be positive, got %d", c.NEvents)
	}
	if c.NucleonWidth <= 0 && c.GridStep <= 0 {
		return fmt.Errorf("either nucleon_width or grid_step must be positive")
	}
	if c.StreamTime <= 0 {
		return fmt.Errorf("stream_time must be positive, got %g", c.StreamTime)
	}
	if c.TSwitch <= 0 {
		return fmt.Errorf("tswitch must be positive, got %g", c.TSwitch)
	}
	if c.Results == "" {
		return fmt.Errorf("results path must not be empty")
	}
	return nil
}
