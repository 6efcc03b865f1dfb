// Package cli implements the command-line interface for primegen.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/eunmann/primegen/pkg/config"
	"github.com/eunmann/primegen/pkg/engine"
	"github.com/eunmann/primegen/pkg/generate"
	"github.com/eunmann/primegen/pkg/humanfmt"
	"github.com/eunmann/primegen/pkg/logging"
	"github.com/eunmann/primegen/pkg/metrics"
	"github.com/eunmann/primegen/pkg/verify"
)

// rootFlags are the persistent flags shared by every command.
type rootFlags struct {
	debug       bool
	human       bool
	configPath  string
	metricsAddr string
}

// Run executes the CLI with the given arguments.
func Run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCommand()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	var rf rootFlags

	root := &cobra.Command{
		Use:           "primegen",
		Short:         "Generate and verify primes over arbitrary ranges",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			logging.Init(rf.debug, rf.human)
		},
	}
	root.PersistentFlags().BoolVar(&rf.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&rf.human, "human", false, "human-readable console logs")
	root.PersistentFlags().StringVar(&rf.configPath, "config", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&rf.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	root.AddCommand(newGenerateCommand(&rf), newVerifyCommand(&rf))
	return root
}

func newGenerateCommand(rf *rootFlags) *cobra.Command {
	cfg := config.Default()
	var noManifest bool

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write every prime in [min, max] to the output files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			merged, err := loadConfig(rf.configPath, cmd.Flags(), cfg)
			if err != nil {
				return err
			}
			if noManifest {
				merged.WriteManifest = false
			}
			return runGenerate(cmd.Context(), rf, merged)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&cfg.PrimeMin, "min", "", "lower bound (decimal, inclusive)")
	fs.StringVar(&cfg.PrimeMax, "max", "", "upper bound (decimal, inclusive)")
	fs.StringVar(&cfg.Method, "method", cfg.Method, "auto, sieve or miller-rabin")
	fs.Uint64Var(&cfg.SegmentSize, "segment-size", cfg.SegmentSize, "integers per sieve segment")
	fs.Uint64Var(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "integers per chunk")
	fs.IntVar(&cfg.PrimeCacheSize, "prime-cache-size", cfg.PrimeCacheSize, "initial capacity of the small-prime base")
	fs.StringVar(&cfg.WriterBufferSize, "buffer-size", cfg.WriterBufferSize, "output buffer size (e.g. 8MiB)")
	fs.IntVar(&cfg.MillerRabinRounds, "rounds", cfg.MillerRabinRounds, "Miller-Rabin witness rounds")
	fs.StringVar(&cfg.WitnessPolicy, "witness-policy", cfg.WitnessPolicy, "random or deterministic")
	fs.Int64Var(&cfg.WitnessSeed, "seed", cfg.WitnessSeed, "witness seed (0 = from clock)")
	fs.StringVar(&cfg.OutputFormat, "format", cfg.OutputFormat, "text, csv, json or parquet")
	fs.StringVar(&cfg.OutputDir, "out", cfg.OutputDir, "output directory")
	fs.StringVar(&cfg.OutputName, "name", cfg.OutputName, "output base name")
	fs.Uint64Var(&cfg.SplitCount, "split", cfg.SplitCount, "primes per file (0 = single file)")
	fs.StringVar(&cfg.Compression, "compression", cfg.Compression, "none or zstd")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "worker goroutines (0 = GOMAXPROCS)")
	fs.StringVar(&cfg.MemoryBudget, "memory-budget", cfg.MemoryBudget, "bound on buffered results (e.g. 4GiB, default 50% of RAM)")
	fs.StringVar(&cfg.PublishURI, "publish", cfg.PublishURI, "upload finished files to s3://bucket/prefix")
	fs.StringVar(&cfg.PublishStorageClass, "storage-class", cfg.PublishStorageClass, "S3 storage class for uploads (e.g. STANDARD_IA)")
	fs.BoolVar(&noManifest, "no-manifest", false, "skip the run manifest")
	return cmd
}

// loadConfig applies the config file, if any, then every flag the user set.
func loadConfig(path string, fs *pflag.FlagSet, flags config.Config) (config.Config, error) {
	if path == "" {
		return flags, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	set := map[string]func(){
		"min":              func() { cfg.PrimeMin = flags.PrimeMin },
		"max":              func() { cfg.PrimeMax = flags.PrimeMax },
		"method":           func() { cfg.Method = flags.Method },
		"segment-size":     func() { cfg.SegmentSize = flags.SegmentSize },
		"chunk-size":       func() { cfg.ChunkSize = flags.ChunkSize },
		"prime-cache-size": func() { cfg.PrimeCacheSize = flags.PrimeCacheSize },
		"buffer-size":      func() { cfg.WriterBufferSize = flags.WriterBufferSize },
		"rounds":           func() { cfg.MillerRabinRounds = flags.MillerRabinRounds },
		"witness-policy":   func() { cfg.WitnessPolicy = flags.WitnessPolicy },
		"seed":             func() { cfg.WitnessSeed = flags.WitnessSeed },
		"format":           func() { cfg.OutputFormat = flags.OutputFormat },
		"out":              func() { cfg.OutputDir = flags.OutputDir },
		"name":             func() { cfg.OutputName = flags.OutputName },
		"split":            func() { cfg.SplitCount = flags.SplitCount },
		"compression":      func() { cfg.Compression = flags.Compression },
		"workers":          func() { cfg.Workers = flags.Workers },
		"memory-budget":    func() { cfg.MemoryBudget = flags.MemoryBudget },
		"publish":          func() { cfg.PublishURI = flags.PublishURI },
		"storage-class":    func() { cfg.PublishStorageClass = flags.PublishStorageClass },
	}
	fs.Visit(func(f *pflag.Flag) {
		if apply, ok := set[f.Name]; ok {
			apply()
		}
	})
	return cfg, nil
}

func runGenerate(ctx context.Context, rf *rootFlags, cfg config.Config) error {
	var m *metrics.Metrics
	if rf.metricsAddr != "" {
		m = metrics.New()
		go func() {
			log := logging.WithPhase("metrics")
			if err := m.Serve(ctx, rf.metricsAddr); err != nil {
				log.Error().Err(err).Msg("metrics server")
			}
		}()
	}

	p, err := generate.New(cfg, generate.Options{Metrics: m})
	if err != nil {
		return err
	}

	res, err := p.Run(ctx)
	if err != nil {
		return err
	}

	switch res.Status {
	case engine.StatusFailed:
		return fmt.Errorf("run failed: %w", res.Err)
	case engine.StatusCancelled:
		logging.L().Warn().
			Str("covered_to", res.CoveredTo).
			Str("primes", humanfmt.CountUint64(res.PrimesFound)).
			Msg("run cancelled, output covers a prefix of the range")
	}
	return nil
}

func newVerifyCommand(_ *rootFlags) *cobra.Command {
	var rounds int

	cmd := &cobra.Command{
		Use:   "verify <file|manifest>...",
		Short: "Check output files for composites and ordering",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := verify.New(verify.Options{Rounds: rounds})
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var report *verify.Report
			if len(args) == 1 && strings.HasSuffix(args[0], ".manifest.json") {
				report, err = v.Manifest(ctx, args[0])
			} else {
				report, err = v.Files(ctx, args)
			}
			if err != nil {
				return err
			}

			for _, p := range report.Problems {
				fmt.Fprintln(cmd.ErrOrStderr(), p)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s values, %d composites, %d out of order, last %s\n",
				humanfmt.CountUint64(report.Values), report.Composites, report.OutOfOrder, report.Last)
			if !report.OK() {
				return errors.New("verification failed")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&rounds, "rounds", 32, "witness rounds for values above 2^64")
	return cmd
}
