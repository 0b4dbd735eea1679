// gasignal CLI
// Optimises per-market position signals with a genetic search, either once
// over a price file or database, or as an HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/gasignal/internal/api"
	"github.com/ajitpratap0/gasignal/internal/config"
	"github.com/ajitpratap0/gasignal/internal/metrics"
	"github.com/ajitpratap0/gasignal/internal/runner"
)

// ============================================================================
// CLI FLAGS
// ============================================================================

var (
	configPath = flag.String("config", "", "Path to config file (default: ./configs/config.yaml or ./config.yaml)")

	// Data
	dataPath = flag.String("data", "", "CSV or JSON candle file (overrides data.path and selects the file source)")
	markets  = flag.String("markets", "", "Comma-separated markets (overrides optimizer.markets)")
	batch    = flag.String("batch", "", "Independent jobs as name=M1,M2;name2=M3,M4")

	// Run
	seed        = flag.Int64("seed", 0, "Random seed (default: optimizer.seed)")
	iterations  = flag.Int("n-iter", 0, "Generations to run (default: optimizer.n_iter)")
	verifyConns = flag.Bool("verify", false, "Check backend connectivity before starting")

	// Modes
	serve       = flag.Bool("serve", false, "Start the HTTP API instead of a one-shot run")
	metricsAddr = flag.String("metrics-addr", "", "Serve /metrics on this address during one-shot runs")

	// Output
	outputFile = flag.String("output", "", "Write results to a .json or .yaml file")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
)

// ============================================================================
// MAIN
// ============================================================================

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	level := cfg.App.LogLevel
	if *verbose {
		level = zerolog.LevelDebugValue
	}
	config.InitLogger(level, cfg.App.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *verifyConns {
		validator := config.NewValidator(cfg, config.DefaultValidatorOptions())
		if err := validator.ValidateStartup(ctx); err != nil {
			log.Fatal().Err(err).Msg("Startup validation failed")
		}
	}

	deps, err := connect(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise backends")
	}
	defer deps.Close()

	if *serve {
		if err := runServer(ctx, cfg, deps); err != nil {
			log.Fatal().Err(err).Msg("Server error")
		}
		return
	}

	if err := runOnce(ctx, cfg, deps); err != nil {
		log.Fatal().Err(err).Msg("Optimization failed")
	}
}

// applyFlags overlays command line overrides on the loaded configuration.
// Only flags given on the command line override.
func applyFlags(cfg *config.Config) {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if *dataPath != "" {
		cfg.Data.Source = "file"
		cfg.Data.Path = *dataPath
	}
	if *markets != "" {
		cfg.Optimizer.Markets = splitList(*markets, ",")
	}
	if set["seed"] {
		cfg.Optimizer.Seed = *seed
	}
	if set["n-iter"] {
		cfg.Optimizer.Iterations = *iterations
	}
}

// ============================================================================
// ONE-SHOT RUN
// ============================================================================

func runOnce(ctx context.Context, cfg *config.Config, deps *dependencies) error {
	if *metricsAddr != "" && cfg.Monitoring.EnableMetrics {
		srv := metrics.NewServer(*metricsAddr, log.Logger)
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	specs, err := parseBatch(*batch)
	if err != nil {
		return err
	}

	jobs, err := loadJobs(ctx, cfg, deps, specs)
	if err != nil {
		return err
	}

	log.Info().
		Int("jobs", len(jobs)).
		Int64("seed", cfg.Optimizer.Seed).
		Int("population", cfg.Optimizer.PopulationSize).
		Int("generations", cfg.Optimizer.Iterations).
		Msg("Starting optimization")

	r := runner.New(cfg.Optimizer.GeneticConfig(), deps.runnerOptions()...)
	outputs, err := r.RunBatch(ctx, jobs, cfg.Optimizer.Seed, cfg.Optimizer.Parallelism)
	if err != nil {
		return err
	}

	fmt.Print(formatReport(outputs))

	if *outputFile != "" {
		if err := writeOutput(*outputFile, outputs); err != nil {
			return err
		}
		log.Info().Str("file", *outputFile).Msg("Results written to file")
	}

	return nil
}

// ============================================================================
// SERVER
// ============================================================================

func runServer(ctx context.Context, cfg *config.Config, deps *dependencies) error {
	if cfg.App.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	serverCfg := api.Config{
		Host:        cfg.API.Host,
		Port:        cfg.API.Port,
		Defaults:    cfg.Optimizer.GeneticConfig(),
		Seed:        cfg.Optimizer.Seed,
		Parallelism: cfg.Optimizer.Parallelism,
		RateLimit:   cfg.API.RateLimit,
		Burst:       cfg.API.Burst,
		NoMetrics:   !cfg.Monitoring.EnableMetrics,
		Cache:       deps.cache,
		DB:          deps.historyDB(),
	}
	if deps.publisher != nil {
		serverCfg.Publisher = deps.publisher
	}
	server := api.NewServer(serverCfg)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		log.Info().Msg("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		return err
	}

	log.Info().Msg("Server stopped successfully")
	return nil
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
