package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/nbody-sim/barnes-hut/internal/body"
	"github.com/nbody-sim/barnes-hut/internal/collective"
	"github.com/nbody-sim/barnes-hut/internal/engine"
	"github.com/nbody-sim/barnes-hut/internal/force"
	"github.com/nbody-sim/barnes-hut/internal/prng"
	"github.com/nbody-sim/barnes-hut/internal/storage"
	"github.com/nbody-sim/barnes-hut/pkg/config"
	apperrors "github.com/nbody-sim/barnes-hut/pkg/errors"
	"github.com/nbody-sim/barnes-hut/pkg/parallel"
	"github.com/nbody-sim/barnes-hut/pkg/telemetry"
	"github.com/nbody-sim/barnes-hut/pkg/utils"
)

var (
	runConfigPath  string
	runNumber      int
	runSteps       int
	runSampleEvery int
	runDt          float64
	runG           float64
	runTheta       float64
	runSoftening   float64
	runOutput      string
	runInput       string
	runMinLogLevel string
	runRanks       int
	runDim         int
	runPreset      string
	runCompress    bool
)

// runCmd implements spec §6's CLI surface table: exactly one of "number"
// or "input" must be given; both given, or neither given, is a
// CONFIG_INVALID error.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a distributed Barnes-Hut N-body simulation",
	RunE:  runSimulation,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runConfigPath, "config", "", "path to a YAML configuration file")
	runCmd.Flags().IntVarP(&runNumber, "number", "n", 0, "body count (mutually exclusive with --input)")
	runCmd.Flags().IntVarP(&runSteps, "steps", "s", 0, "simulation steps")
	runCmd.Flags().IntVar(&runSampleEvery, "sample-interval", 0, "emit a sample every Kth step")
	runCmd.Flags().Float64Var(&runDt, "time", 0, "step duration (Δt)")
	runCmd.Flags().Float64Var(&runG, "gravitational-constant", 0, "gravitational constant G")
	runCmd.Flags().Float64Var(&runTheta, "theta", 0, "Barnes-Hut opening-angle parameter")
	runCmd.Flags().Float64Var(&runSoftening, "soften-length", 0, "force-softening length")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "output directory path")
	runCmd.Flags().StringVarP(&runInput, "input", "i", "", "body input file (mutually exclusive with --number)")
	runCmd.Flags().StringVar(&runMinLogLevel, "min-log-level", "", "trace|debug|info|warn|error")
	runCmd.Flags().IntVarP(&runRanks, "ranks", "p", 0, "size of the simulated process group")
	runCmd.Flags().IntVar(&runDim, "dim", 0, "number of spatial dimensions")
	runCmd.Flags().StringVar(&runPreset, "preset", "", "random body preset: cube|three-body (ignored with --input)")
	runCmd.Flags().BoolVar(&runCompress, "compress", false, "zstd-compress numbered sample files")
}

func runSimulation(cmd *cobra.Command, args []string) error {
	numberGiven := cmd.Flags().Changed("number")
	inputGiven := cmd.Flags().Changed("input")
	if numberGiven && inputGiven {
		return apperrors.New(apperrors.CodeConfigInvalid, "--number and --input are mutually exclusive")
	}
	if !numberGiven && !inputGiven {
		return apperrors.New(apperrors.CodeConfigInvalid, "one of --number or --input is required")
	}

	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(cfg, cmd)

	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.Ranks <= 0 {
		cfg.Ranks = 1
	}
	if !cfg.DivisibleBy(cfg.Ranks) {
		return apperrors.New(apperrors.CodeDivisibility, fmt.Sprintf("bodies (%d) not divisible by ranks (%d)", cfg.Bodies, cfg.Ranks))
	}

	logLevel := utils.ParseLogLevel(cfg.MinLogLevel)
	baseLogger := utils.NewDefaultLogger(logLevel, os.Stdout)

	comms := collective.NewLocalGroup(cfg.Ranks)

	var wg sync.WaitGroup
	errs := make([]error, cfg.Ranks)
	for r := 0; r < cfg.Ranks; r++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			errs[rank] = runRank(cmd.Context(), rank, comms[rank], cfg, baseLogger)
		}(r)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			os.Exit(apperrors.ExitCode(err))
		}
	}
	return nil
}

func runRank(ctx context.Context, rank int, comm collective.Communicator, cfg *config.SimulationConfig, baseLogger utils.Logger) error {
	shutdown, err := telemetry.InitForRank(ctx, rank)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeGenericFailure, "failed to initialise telemetry", err)
	}
	defer shutdown(ctx)

	logger := baseLogger.WithField("rank", rank)

	initial, err := loadOrGenerateBodies(ctx, comm, cfg)
	if err != nil {
		return err
	}

	var sampler *engine.FileSampler[float64]
	if rank == 0 {
		meta := engine.RunMetadata{
			Bodies:         cfg.Bodies,
			Steps:          cfg.Steps,
			SampleInterval: cfg.SampleInterval,
			Dt:             cfg.Dt,
			G:              cfg.G,
			Theta:          cfg.Theta,
			Softening:      cfg.Softening,
			Dim:            cfg.Dim,
			Seed:           cfg.Seed,
		}
		sampler, err = engine.NewFileSampler[float64](cfg.OutputDir, meta, cfg.Dt, runCompress)
		if err != nil {
			return err
		}
	}

	eng := engine.New[float64](comm, logger, engine.Config[float64]{
		Steps:          cfg.Steps,
		SampleInterval: cfg.SampleInterval,
		SampleInitial:  true,
		Dt:             cfg.Dt,
		Force: force.Config[float64]{
			G:         cfg.G,
			Theta:     cfg.Theta,
			Softening: cfg.Softening,
		},
		Pool: parallel.DefaultPoolConfig(),
	}, samplerOrNil(rank, sampler))

	if _, _, err := eng.Run(ctx, initial); err != nil {
		return err
	}

	if rank == 0 {
		if err := archiveOutput(ctx, cfg); err != nil {
			logger.Warn("output archival failed: %v", err)
		}
	}

	return nil
}

// samplerOrNil avoids passing a (*engine.FileSampler[float64])(nil) typed
// nil through the engine.Sampler[float64] interface, which would compare
// non-nil via Run's `e.sampler != nil` guard.
func samplerOrNil(rank int, sampler *engine.FileSampler[float64]) engine.Sampler[float64] {
	if rank != 0 || sampler == nil {
		return nil
	}
	return sampler
}

func loadOrGenerateBodies(ctx context.Context, comm collective.Communicator, cfg *config.SimulationConfig) (body.Bodies[float64], error) {
	if cfg.InputPath != "" {
		return loadBodiesFromFile(comm, cfg.InputPath)
	}

	stream := prng.NewStream(cfg.Seed, comm.Rank(), comm.Size())
	var gen body.Generator[float64]
	switch cfg.Preset {
	case "three-body":
		gen = body.ThreeBodyPreset[float64]()
	default:
		gen = body.CubeGenerator[float64](stream, cfg.Dim, 1.0, 0.5, 2.0)
	}
	return body.GenerateDistributed(ctx, comm, cfg.Bodies, gen)
}

func loadBodiesFromFile(comm collective.Communicator, path string) (body.Bodies[float64], error) {
	var data []byte
	if comm.Rank() == 0 {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeIOFailure, "failed to read body input file", err)
		}
		data = raw
	}

	broadcast, err := comm.Broadcast(context.Background(), 0, data)
	if err != nil {
		return nil, err
	}

	bodies, err := body.DecodeBodies[float64](bytes.NewReader(broadcast))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeIOFailure, "failed to decode body input file", err)
	}
	return bodies, nil
}

func archiveOutput(ctx context.Context, cfg *config.SimulationConfig) error {
	store, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		return err
	}
	return uploadDir(ctx, store, cfg.OutputDir)
}

// uploadDir walks dir and hands every regular file to store, keyed by its
// path relative to dir. Split out of archiveOutput so the upload logic can
// be exercised against a mock storage.Storage in tests without standing up
// a real backend.
func uploadDir(ctx context.Context, store storage.Storage, dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		return store.UploadFile(ctx, rel, path)
	})
}

func applyFlagOverrides(cfg *config.SimulationConfig, cmd *cobra.Command) {
	if cmd.Flags().Changed("number") {
		cfg.Bodies = runNumber
	}
	if cmd.Flags().Changed("steps") {
		cfg.Steps = runSteps
	}
	if cmd.Flags().Changed("sample-interval") {
		cfg.SampleInterval = runSampleEvery
	}
	if cmd.Flags().Changed("time") {
		cfg.Dt = runDt
	}
	if cmd.Flags().Changed("gravitational-constant") {
		cfg.G = runG
	}
	if cmd.Flags().Changed("theta") {
		cfg.Theta = runTheta
	}
	if cmd.Flags().Changed("soften-length") {
		cfg.Softening = runSoftening
	}
	if cmd.Flags().Changed("output") {
		cfg.OutputDir = runOutput
	}
	if cmd.Flags().Changed("input") {
		cfg.InputPath = runInput
	}
	if cmd.Flags().Changed("min-log-level") {
		cfg.MinLogLevel = runMinLogLevel
	}
	if cmd.Flags().Changed("ranks") {
		cfg.Ranks = runRanks
	}
	if cmd.Flags().Changed("dim") {
		cfg.Dim = runDim
	}
	if cmd.Flags().Changed("preset") {
		cfg.Preset = runPreset
	}
}
