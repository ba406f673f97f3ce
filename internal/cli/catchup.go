package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/ptsync/internal/state"
	"github.com/roach88/ptsync/internal/tl"
)

// StateView is the printed form of the update state.
type StateView struct {
	Known      bool            `json:"known"`
	Cursors    state.Cursors   `json:"cursors"`
	Channels   []ChannelCursor `json:"channels"`
	Self       *tl.Self        `json:"self,omitempty"`
	Dispatched int             `json:"dispatched,omitempty"`
}

// ChannelCursor is the pts of one channel.
type ChannelCursor struct {
	ChannelID int64 `json:"channel_id"`
	Pts       int64 `json:"pts"`
}

func channelCursors(m map[int64]int64) []ChannelCursor {
	out := make([]ChannelCursor, 0, len(m))
	for id, pts := range m {
		out = append(out, ChannelCursor{ChannelID: id, Pts: pts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

func (v StateView) String() string {
	var b strings.Builder
	if !v.Known {
		b.WriteString("no update state stored")
		return b.String()
	}
	fmt.Fprintf(&b, "pts=%d qts=%d date=%d seq=%d",
		v.Cursors.Pts, v.Cursors.Qts, v.Cursors.Date, v.Cursors.Seq)
	if v.Self != nil {
		fmt.Fprintf(&b, "\nself: %d", v.Self.UserID)
		if v.Self.Username != "" {
			fmt.Fprintf(&b, " (@%s)", v.Self.Username)
		}
		if v.Self.Bot {
			b.WriteString(" bot")
		}
	}
	for _, c := range v.Channels {
		fmt.Fprintf(&b, "\nchannel %d: pts=%d", c.ChannelID, c.Pts)
	}
	if v.Dispatched > 0 {
		fmt.Fprintf(&b, "\ndispatched: %d", v.Dispatched)
	}
	return b.String()
}

// CatchUpOptions holds flags for the catchup command.
type CatchUpOptions struct {
	*RootOptions
	engineFlags
}

// NewCatchUpCommand creates the catchup command.
func NewCatchUpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CatchUpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "catchup",
		Short: "Fetch everything missed and exit",
		Long: `Fetch the common difference since the stored cursors, then print the
resulting state. Missed updates are written to stderr as JSON lines when
--verbose is set and discarded otherwise.

Example:
  ptsync catchup --config ./ptsync.yaml
  ptsync catchup --db ./ptsync.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatchUp(opts, cmd)
		},
	}
	opts.register(cmd)

	return cmd
}

func runCatchUp(opts *CatchUpOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := opts.load()
	if err != nil {
		formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger, err := newLogger(cmd, opts.RootOptions, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create logger", err)
	}
	defer func() { _ = logger.Sync() }()

	sink := io.Discard
	if opts.Verbose {
		sink = cmd.ErrOrStderr()
	}
	dispatcher := newJSONLDispatcher(sink, logger)

	var failures []error
	rt, err := openRuntime(cfg, logger, dispatcher, collectErrors(&failures, logger))
	if err != nil {
		formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer rt.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter.VerboseLog("catching up from %s", cfg.RPC.Endpoint)

	if err := rt.manager.Start(ctx); err != nil {
		formatter.Error(ErrCodeRecovery, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to start update engine", err)
	}
	if err := rt.manager.CatchUp(ctx); err != nil {
		formatter.Error(ErrCodeRecovery, err.Error(), nil)
		return WrapExitError(ExitFailure, "catch-up failed", err)
	}
	if len(failures) > 0 {
		formatter.Error(ErrCodeRecovery, failures[0].Error(), len(failures))
		return WrapExitError(ExitFailure, "catch-up failed", failures[0])
	}

	snap, err := rt.manager.Snapshot(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read state", err)
	}
	logger.Debug("catch-up complete", zap.Int("dispatched", dispatcher.Count()))

	view := StateView{
		Known:      snap.Known,
		Cursors:    snap.Cursors,
		Channels:   channelCursors(snap.Channels),
		Dispatched: dispatcher.Count(),
	}
	if snap.Self.UserID != 0 {
		self := snap.Self
		view.Self = &self
	}
	return formatter.Success(view)
}
