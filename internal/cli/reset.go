package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/ptsync/internal/store"
)

// ResetOptions holds flags for the reset command.
type ResetOptions struct {
	*RootOptions
	Database string
}

// ResetResult reports what reset removed.
type ResetResult struct {
	HadState bool `json:"had_state"`
	Channels int  `json:"channels"`
}

func (r ResetResult) String() string {
	if !r.HadState && r.Channels == 0 {
		return "nothing to reset"
	}
	return "update state cleared"
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget the stored update state",
		Long: `Delete the stored cursors and channel pts, as on logout. The next run
fetches a fresh state from the server. The stored account identity is
removed too; cached peers are kept.

Example:
  ptsync reset --db ./ptsync.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runReset(opts *ResetOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	view, err := loadStateView(ctx, st)
	if err != nil {
		formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to read state", err)
	}
	if err := st.ResetCursors(ctx); err != nil {
		formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to reset state", err)
	}
	formatter.VerboseLog("removed cursors and %d channel entries", len(view.Channels))

	return formatter.Success(ResetResult{HadState: view.Known, Channels: len(view.Channels)})
}
