package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hic-eventgen/hic-eventgen/hic"
)

var (
	configPath string // optional yaml config file; flags override its fields

	// Run shape
	nevents  int    // events to generate and process
	logLevel string // log verbosity level

	// Initial-condition generator
	generatorBin  string   // external generator binary
	generatorArgs []string // generator-specific arguments
	nucleonWidth  float64  // nucleon width w; grid step is 0.15*w
	gridStep      float64  // explicit grid step override

	// Free streaming and hydro
	streamBin  string   // free-streaming transform binary
	streamTime float64  // proper time handed to hydro, fm/c
	hydroBin   string   // hydrodynamic engine binary
	hydroArgs  []string // refined-pass physics arguments

	// Sampler
	samplerBin     string  // particle sampler binary
	tswitch        float64 // switching temperature, GeV
	shearCorr      bool    // sampler shear corrections
	bulkCorr       bool    // sampler bulk corrections
	speciesConfig  string  // sampler species-list selector
	particleDetail string  // optional per-sample particle stream path

	// Bookkeeping
	resultsPath    string // results stream path
	checkpointPath string // checkpoint blob path ("" disables checkpointing)
	workDir        string // scratch directory
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "hic-eventgen",
	Short: "Event-by-event heavy-ion collision simulation pipeline",
}

// runCmd executes a run using parameters from CLI flags and the optional
// config file.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate and process events",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := assembleConfig(cmd)
		setupLogging(cfg.LogLevel)

		ctx := context.Background()
		session, err := hic.NewSession(ctx, cfg)
		if err != nil {
			logrus.Fatalf("starting session: %v", err)
		}
		if err := session.Run(ctx); err != nil {
			if errors.Is(err, hic.ErrRunFailed) {
				logrus.Errorf("%v", err)
				os.Exit(1)
			}
			logrus.Fatalf("run aborted: %v", err)
		}
	},
}

// assembleConfig builds the immutable run configuration: defaults, then the
// config file, then explicitly set flags, then rank path rewriting. Nothing
// mutates it afterwards.
func assembleConfig(cmd *cobra.Command) hic.Config {
	cfg := hic.DefaultConfig()
	if configPath != "" {
		loaded, err := hic.LoadConfig(configPath)
		if err != nil {
			logrus.Fatalf("loading config %s: %v", configPath, err)
		}
		cfg = loaded
	}

	set := func(name string, apply func()) {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
	set("nevents", func() { cfg.NEvents = nevents })
	set("log", func() { cfg.LogLevel = logLevel })
	set("generator-bin", func() { cfg.GeneratorBin = generatorBin })
	set("generator-arg", func() { cfg.GeneratorArgs = generatorArgs })
	set("nucleon-width", func() { cfg.NucleonWidth = nucleonWidth })
	set("grid-step", func() { cfg.GridStep = gridStep })
	set("stream-bin", func() { cfg.StreamBin = streamBin })
	set("stream-time", func() { cfg.StreamTime = streamTime })
	set("hydro-bin", func() { cfg.HydroBin = hydroBin })
	set("hydro-arg", func() { cfg.HydroArgs = hydroArgs })
	set("sampler-bin", func() { cfg.SamplerBin = samplerBin })
	set("tswitch", func() { cfg.TSwitch = tswitch })
	set("shear", func() { cfg.ShearCorrM = shearCorr })
	set("bulk", func() { cfg.BulkCorrM = bulkCorr })
	set("species", func() { cfg.SpeciesConfig = speciesConfig })
	set("particle-detail", func() { cfg.ParticleDetail = particleDetail })
	set("results", func() { cfg.Results = resultsPath })
	set("checkpoint", func() { cfg.Checkpoint = checkpointPath })
	set("workdir", func() { cfg.WorkDir = workDir })

	if err := cfg.ApplyRank(); err != nil {
		logrus.Fatalf("%v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("invalid configuration: %v", err)
	}
	return cfg
}

func setupLogging(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", level)
	}
	logrus.SetLevel(parsed)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	d := hic.DefaultConfig()

	runCmd.Flags().StringVar(&configPath, "config", "", "Optional yaml config file; flags override its fields")
	runCmd.Flags().IntVar(&nevents, "nevents", d.NEvents, "Number of events to generate and process")
	runCmd.Flags().StringVar(&logLevel, "log", d.LogLevel, "Log level (trace, debug, info, warn, error, fatal, panic)")

	// Initial-condition generator
	runCmd.Flags().StringVar(&generatorBin, "generator-bin", d.GeneratorBin, "Initial-condition generator binary")
	runCmd.Flags().StringArrayVar(&generatorArgs, "generator-arg", nil, "Extra generator argument (can be repeated)")
	runCmd.Flags().Float64Var(&nucleonWidth, "nucleon-width", d.NucleonWidth, "Generator nucleon width w in fm (grid step = 0.15*w)")
	runCmd.Flags().Float64Var(&gridStep, "grid-step", 0, "Explicit grid step in fm, overrides the width-derived step")

	// Free streaming and hydro
	runCmd.Flags().StringVar(&streamBin, "stream-bin", d.StreamBin, "Free-streaming transform binary")
	runCmd.Flags().Float64Var(&streamTime, "stream-time", d.StreamTime, "Free-streaming time in fm/c")
	runCmd.Flags().StringVar(&hydroBin, "hydro-bin", d.HydroBin, "Hydrodynamic engine binary")
	runCmd.Flags().StringArrayVar(&hydroArgs, "hydro-arg", nil, "Refined-pass physics argument, e.g. etas=0.16 (can be repeated)")

	// Sampler
	runCmd.Flags().StringVar(&samplerBin, "sampler-bin", d.SamplerBin, "Particle sampler binary")
	runCmd.Flags().Float64Var(&tswitch, "tswitch", d.TSwitch, "Switching temperature in GeV")
	runCmd.Flags().BoolVar(&shearCorr, "shear", d.ShearCorrM, "Enable shear viscous corrections in sampling")
	runCmd.Flags().BoolVar(&bulkCorr, "bulk", d.BulkCorrM, "Enable bulk viscous corrections in sampling")
	runCmd.Flags().StringVar(&speciesConfig, "species", d.SpeciesConfig, "Sampler species-list selector")
	runCmd.Flags().StringVar(&particleDetail, "particle-detail", "", "Optional per-sample particle stream path")

	// Bookkeeping
	runCmd.Flags().StringVar(&resultsPath, "results", d.Results, "Results stream path ({rank} is substituted)")
	runCmd.Flags().StringVar(&checkpointPath, "checkpoint", "", "Checkpoint path ({rank} is substituted; empty disables checkpointing)")
	runCmd.Flags().StringVar(&workDir, "workdir", d.WorkDir, "Scratch directory for stage files")

	// Attach `run` as a subcommand to `root`
	rootCmd.AddCommand(runCmd)
}
