package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/ptsync/internal/config"
	"github.com/roach88/ptsync/internal/logging"
	"github.com/roach88/ptsync/internal/peers"
	"github.com/roach88/ptsync/internal/rpc"
	"github.com/roach88/ptsync/internal/store"
	"github.com/roach88/ptsync/internal/tl"
	"github.com/roach88/ptsync/internal/updates"
)

// engineFlags are shared by the commands that run the update engine.
type engineFlags struct {
	configPath string
	dbPath     string
}

func (f *engineFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "path to config file (defaults apply when empty)")
	cmd.Flags().StringVar(&f.dbPath, "db", "", "database path (overrides the config file)")
}

// load reads the config file and applies flag overrides.
func (f *engineFlags) load() (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if f.dbPath != "" {
		cfg.Database = f.dbPath
	}
	return cfg, nil
}

// newLogger builds the engine logger on the command's stderr. --verbose
// forces debug level.
func newLogger(cmd *cobra.Command, opts *RootOptions, cfg config.Config) (*zap.Logger, error) {
	level := cfg.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	return logging.New(cmd.ErrOrStderr(), level, cfg.Log.Format)
}

// runtime is a wired engine with the resources it owns.
type runtime struct {
	store   *store.Store
	manager *updates.Manager
}

func (r *runtime) Close() error {
	return r.store.Close()
}

// openRuntime opens the database and wires the engine to the RPC client
// and peer cache described by cfg.
func openRuntime(cfg config.Config, logger *zap.Logger, dispatcher updates.Dispatcher, opts ...updates.Opt) (*runtime, error) {
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	cache, err := peers.New(st, cfg.Updates.PeerCacheSize, peers.WithLogger(logger))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("peer cache: %w", err)
	}

	client := rpc.New(cfg.RPC.Endpoint, cfg.RPC.Token,
		rpc.WithHTTPClient(&http.Client{Timeout: cfg.RPC.Timeout}),
		rpc.WithRetries(cfg.RPC.MaxRetries, rpc.DefaultBaseDelay, rpc.DefaultMaxDelay),
		rpc.WithLogger(logger),
	)

	engineOpts := append([]updates.Opt{
		updates.WithLogger(logger),
		updates.WithConfig(updates.Config{
			CatchUp:           cfg.Updates.CatchUp,
			DisableNoDispatch: cfg.Updates.DisableNoDispatch,
			IdleTimeout:       cfg.Updates.IdleTimeout,
		}),
	}, opts...)

	return &runtime{
		store:   st,
		manager: updates.New(st, client, cache, dispatcher, engineOpts...),
	}, nil
}

// jsonlDispatcher writes each dispatched update as one JSON line.
type jsonlDispatcher struct {
	mu     sync.Mutex
	w      io.Writer
	logger *zap.Logger
	count  int
}

func newJSONLDispatcher(w io.Writer, logger *zap.Logger) *jsonlDispatcher {
	return &jsonlDispatcher{w: w, logger: logger}
}

func (d *jsonlDispatcher) Dispatch(_ context.Context, u tl.Update, _ *tl.PeerIndex) {
	data, err := tl.Marshal(u)
	if err != nil {
		d.logger.Error("failed to encode update", zap.String("type", u.TypeName()), zap.Error(err))
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.count++
	if _, err := d.w.Write(append(data, '\n')); err != nil {
		d.logger.Error("failed to write update", zap.Error(err))
	}
}

func (d *jsonlDispatcher) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// collectErrors appends every engine error to dst and logs it. Errors are
// reported from inside passes, which never overlap.
func collectErrors(dst *[]error, logger *zap.Logger) updates.Opt {
	return updates.WithErrorHandler(func(err error) {
		logger.Error("update engine error", zap.Error(err))
		*dst = append(*dst, err)
	})
}
