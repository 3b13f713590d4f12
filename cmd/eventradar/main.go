package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nvandessel/eventradar/internal/config"
	"github.com/nvandessel/eventradar/internal/encoder"
	"github.com/nvandessel/eventradar/internal/logging"
	"github.com/nvandessel/eventradar/internal/metrics"
	"github.com/nvandessel/eventradar/internal/projection"
	"github.com/nvandessel/eventradar/internal/ranking"
	"github.com/nvandessel/eventradar/internal/store"
)

var version = "0.1.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "eventradar",
		Short: "Event recommendations from embedding search",
		Long: `eventradar embeds campus events into a persistent vector index and
recommends them to users by comparing projected embeddings of user interests
and event metadata.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Config file (default: $EVENTRADAR_CONFIG or ./eventradar.yaml)")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("log-level", "", "Log level override (trace, debug, info, warn, error, disabled)")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory override")
	rootCmd.PersistentFlags().String("metrics-file", "", "Write Prometheus metrics to this file on exit")
	rootCmd.PersistentFlags().Bool("allow-empty-on-load-error", false, "Start with an empty index if the stored one cannot be loaded")

	rootCmd.AddCommand(
		newVersionCmd(),
		newEmbedCmd(),
		newRecommendCmd(),
		newRemoveCmd(),
		newGetCmd(),
		newHealthCmd(),
		newImportCmd(),
		newReindexCmd(),
		newSeedCmd(),
		newInitWeightsCmd(),
		newConfigCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), map[string]string{"version": version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "eventradar version %s\n", version)
			return nil
		},
	}
}

// loadConfig loads the configuration, applies global flag overrides and
// initializes logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if v, _ := flags.GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if v, _ := flags.GetString("data-dir"); v != "" {
		cfg.Data.Dir = v
	}
	if v, _ := flags.GetString("metrics-file"); v != "" {
		cfg.Metrics.File = v
	}
	if flags.Changed("allow-empty-on-load-error") {
		cfg.Index.AllowEmptyOnLoadError, _ = flags.GetBool("allow-empty-on-load-error")
	}

	logging.Init(cfg.Logging.Logging())
	return cfg, nil
}

// app is an opened engine plus the resources it was built from.
type app struct {
	cfg       *config.Config
	engine    *ranking.Engine
	persister store.Persister
	log       zerolog.Logger
}

// openApp loads the configuration and opens the engine over the configured
// encoder, projection weights and persistence backend.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log := logging.Logger()

	enc, err := encoder.New(cfg.Encoder, log)
	if err != nil {
		return nil, err
	}
	eventCkpt, userCkpt := cfg.CheckpointPaths()
	stage := projection.NewStage(projection.Options{
		Shape:           cfg.Projection.Shape,
		EventCheckpoint: eventCkpt,
		UserCheckpoint:  userCkpt,
		Logger:          &log,
	})

	p, err := store.Open(cfg.Index.Backend, store.Options{
		Dir:    cfg.StorePath(),
		Retain: cfg.Index.Retain,
		Logger: &log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	engine, err := ranking.Open(cmd.Context(), ranking.Options{
		Encoder:               enc,
		Stage:                 stage,
		Persister:             p,
		DefaultTopK:           cfg.Ranking.DefaultTopK,
		MaxTopK:               cfg.Ranking.MaxTopK,
		SearchTimeout:         cfg.Ranking.SearchTimeout,
		SaveTimeout:           cfg.Ranking.SaveTimeout,
		LoadTimeout:           cfg.Ranking.LoadTimeout,
		AllowEmptyOnLoadError: cfg.Index.AllowEmptyOnLoadError,
		Logger:                &log,
	})
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	return &app{cfg: cfg, engine: engine, persister: p, log: log}, nil
}

// close shuts the engine down, releases the store and writes metrics.
func (a *app) close(ctx context.Context) error {
	err := a.engine.Close(ctx)
	if cerr := a.persister.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if a.cfg.Metrics.File != "" {
		if merr := metrics.WriteTextfile(a.cfg.Metrics.File); merr != nil {
			a.log.Warn().Err(merr).Str("path", a.cfg.Metrics.File).Msg("could not write metrics file")
		}
	}
	return err
}

// withApp opens the engine, runs fn and closes the engine, reporting the
// first error.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	runErr := fn(ctx, a)
	if err := a.close(context.WithoutCancel(ctx)); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
