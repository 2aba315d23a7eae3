package commands

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/TimurManjosov/goflagship-rules/internal/cache"
	"github.com/TimurManjosov/goflagship-rules/internal/cli"
	"github.com/TimurManjosov/goflagship-rules/internal/compiler"
	"github.com/TimurManjosov/goflagship-rules/internal/config"
	"github.com/TimurManjosov/goflagship-rules/internal/engine"
	"github.com/TimurManjosov/goflagship-rules/internal/evaluation"
	"github.com/TimurManjosov/goflagship-rules/internal/logger"
	"github.com/TimurManjosov/goflagship-rules/internal/snapshot"
	"github.com/TimurManjosov/goflagship-rules/internal/telemetry"
)

// Version is stamped at build time with -ldflags "-X .../commands.Version=...".
var Version = "dev"

var (
	// Global flags
	format     string
	configFile string
	quiet      bool
	verbose    bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "flagship",
	Short: "CLI tool for evaluating targeting rules",
	Long: `Flagship is a command-line tool for checking and evaluating targeting rule sets.

It validates and compiles rule files (JSON or YAML), evaluates them against
user contexts, and can watch a rule file for changes.

Examples:
  flagship validate rules.yaml
  flagship compile rules.json --format json
  flagship evaluate rules.yaml --context '{"user_id":"u1","country":"US"}'
  flagship batch rules.yaml contexts.json
  flagship watch rules.yaml`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", ".env", "Configuration file (dotenv or YAML)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress output")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose output")
}

// app is what every command needs: the output format, a logger, a metrics
// registry and a service wired from configuration.
type app struct {
	format  cli.OutputFormat
	log     zerolog.Logger
	cfg     *config.Config
	svc     *evaluation.Service
	metrics *prometheus.Registry
}

// newApp loads configuration, applies overrides from command flags and wires
// the evaluation service.
func newApp(cmd *cobra.Command, overrides ...func(*config.Config)) (*app, error) {
	f, err := cli.ParseFormat(format)
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	for _, o := range overrides {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	log := logger.NewWithWriter(cfg, Version, cmd.ErrOrStderr())

	comp := compiler.New(
		compiler.WithLogger(log),
		compiler.WithCacheSize(cfg.CompilerCacheSize),
		compiler.WithMaxDepth(cfg.CompilerMaxDepth),
	)
	ec := cache.New(
		cache.WithLogger(log),
		cache.WithMaxSize(cfg.CacheMaxSize),
		cache.WithTTL(cfg.CacheTTL),
	)

	reg := prometheus.NewRegistry()
	tm := telemetry.NewMetrics(reg)
	telemetry.RegisterCacheCollectors(reg, ec, comp)
	snapshot.Instrument(tm)

	svc := evaluation.NewService(
		evaluation.WithLogger(log),
		evaluation.WithEngine(engine.New(engine.WithLogger(log))),
		evaluation.WithCompiler(comp),
		evaluation.WithCache(ec),
		evaluation.WithTelemetry(tm),
		evaluation.WithParallelism(cfg.BatchParallelism),
		evaluation.WithMetricsWindow(cfg.MetricsWindow),
	)

	return &app{format: f, log: log, cfg: cfg, svc: svc, metrics: reg}, nil
}

// dumpMetrics writes the registry to stderr when --verbose is set.
func (a *app) dumpMetrics(cmd *cobra.Command) {
	if !verbose {
		return
	}
	if err := cli.PrintMetrics(cmd.ErrOrStderr(), a.metrics, a.format); err != nil {
		a.log.Warn().Err(err).Msg("failed to print metrics")
	}
}
