package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/ptsync/internal/config"
	"github.com/roach88/ptsync/internal/stream"
	"github.com/roach88/ptsync/internal/updates"
)

const metricsShutdownTimeout = 5 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	engineFlags

	// EngineOpts are appended to the engine options (for testing).
	EngineOpts []updates.Opt
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Follow the update stream",
		Long: `Start the update engine and follow the push stream.

Cursors are loaded from the database, or fetched from the server on first
run. Every dispatched update is written to stdout as one JSON line. When no
envelope arrives for updates.idle_timeout the engine catches up on its own,
and a dropped stream connection is followed by a catch-up once it is back.

Example:
  ptsync run --config ./ptsync.yaml
  ptsync run --config ./ptsync.yaml --db /tmp/ptsync.db --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}
	opts.register(cmd)

	return cmd
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := opts.load()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger, err := newLogger(cmd, opts.RootOptions, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create logger", err)
	}
	defer func() { _ = logger.Sync() }()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatcher := newJSONLDispatcher(cmd.OutOrStdout(), logger)
	rt, err := openRuntime(cfg, logger, dispatcher, opts.EngineOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			logger.Error("error closing database", zap.Error(closeErr))
		}
	}()

	if err := rt.manager.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return WrapExitError(ExitFailure, "failed to start update engine", err)
	}
	logger.Info("update engine started",
		zap.String("db", cfg.Database),
		zap.String("stream", cfg.Stream.URL),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.manager.Run(gctx)
	})
	if cfg.Stream.URL != "" {
		reader := stream.New(cfg.Stream.URL, rt.manager,
			stream.WithToken(cfg.RPC.Token),
			stream.WithLogger(logger),
		)
		g.Go(func() error {
			return reader.Run(gctx)
		})
	}
	if cfg.Metrics.Listen != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Metrics, logger)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return WrapExitError(ExitFailure, "update engine error", err)
	}

	logger.Info("update engine stopped", zap.Int("dispatched", dispatcher.Count()))
	return nil
}

// serveMetrics exposes the Prometheus registry until ctx ends.
func serveMetrics(ctx context.Context, cfg config.MetricsConfig, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", zap.String("listen", cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}
