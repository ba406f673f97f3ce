package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/ptsync/internal/store"
)

// StateOptions holds flags for the state command.
type StateOptions struct {
	*RootOptions
	Database string
}

// NewStateCommand creates the state command.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Print the stored update state",
		Long: `Print the cursors, channel pts and account identity stored in the
database. Nothing is fetched from the server.

Examples:
  ptsync state --db ./ptsync.db
  ptsync state --db ./ptsync.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runState(opts *StateOptions, cmd *cobra.Command) error {
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
	return formatter.Success(view)
}

func loadStateView(ctx context.Context, st *store.Store) (StateView, error) {
	var view StateView

	cursors, known, err := st.LoadCursors(ctx)
	if err != nil {
		return view, err
	}
	view.Known = known
	view.Cursors = cursors

	channels := make(map[int64]int64)
	err = st.ForEachChannel(ctx, func(channelID, pts int64) error {
		channels[channelID] = pts
		return nil
	})
	if err != nil {
		return view, err
	}
	view.Channels = channelCursors(channels)

	self, found, err := st.LoadSelf(ctx)
	if err != nil {
		return view, err
	}
	if found {
		view.Self = &self
	}
	return view, nil
}
