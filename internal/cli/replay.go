package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/ptsync/internal/tl"
)

// maxEnvelopeLine bounds one line of a replay file.
const maxEnvelopeLine = 8 << 20

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	engineFlags
	NoDispatch bool
}

// ReplayResult reports a replayed envelope file.
type ReplayResult struct {
	Envelopes int               `json:"envelopes"`
	Updates   []json.RawMessage `json:"updates"`
	Errors    []string          `json:"errors,omitempty"`
	State     StateView         `json:"state"`
}

func (r ReplayResult) String() string {
	var b strings.Builder
	for _, u := range r.Updates {
		b.Write(u)
		b.WriteByte('\n')
	}
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "error: %s\n", e)
	}
	fmt.Fprintf(&b, "replayed %d envelopes, dispatched %d updates\n", r.Envelopes, len(r.Updates))
	b.WriteString(r.State.String())
	return b.String()
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <envelopes.jsonl>",
		Short: "Feed recorded envelopes through the engine",
		Long: `Read push envelopes from a file, one JSON object per line, and hand each
to the update engine as if it had arrived on the stream. Gaps are recovered
from the configured server as usual.

Exit codes:
  0 - All envelopes were processed without engine errors
  1 - An envelope could not be decoded or the engine reported an error
  2 - Command error (bad config, database not found, etc.)

Examples:
  ptsync replay --db ./ptsync.db ./envelopes.jsonl
  ptsync replay --config ./ptsync.yaml --no-dispatch ./sent.jsonl --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}
	opts.register(cmd)
	cmd.Flags().BoolVar(&opts.NoDispatch, "no-dispatch", false, "advance cursors without dispatching the envelopes' own updates")

	return cmd
}

func runReplay(opts *ReplayOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	envelopes, err := readEnvelopes(path)
	if err != nil {
		formatter.Error(ErrCodeInput, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to read envelopes", err)
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

	var out bytes.Buffer
	dispatcher := newJSONLDispatcher(&out, logger)
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
	if err := rt.manager.Start(ctx); err != nil {
		formatter.Error(ErrCodeRecovery, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to start update engine", err)
	}

	for i, env := range envelopes {
		formatter.VerboseLog("envelope %d: %s", i+1, env.TypeName())
		if err := rt.manager.HandleEnvelope(ctx, env, opts.NoDispatch); err != nil {
			return WrapExitError(ExitFailure, "replay interrupted", err)
		}
	}

	snap, err := rt.manager.Snapshot(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read state", err)
	}
	logger.Debug("replay complete",
		zap.Int("envelopes", len(envelopes)),
		zap.Int("dispatched", dispatcher.Count()),
	)

	result := ReplayResult{
		Envelopes: len(envelopes),
		Updates:   splitLines(out.Bytes()),
		State: StateView{
			Known:    snap.Known,
			Cursors:  snap.Cursors,
			Channels: channelCursors(snap.Channels),
		},
	}
	for _, f := range failures {
		result.Errors = append(result.Errors, f.Error())
	}
	if err := formatter.Success(result); err != nil {
		return err
	}
	if len(failures) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d engine errors during replay", len(failures)))
	}
	return nil
}

// readEnvelopes decodes a JSON lines file. Blank lines are skipped.
func readEnvelopes(path string) ([]tl.Envelope, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var envelopes []tl.Envelope
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEnvelopeLine)
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		env, err := tl.DecodeEnvelope(data)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		envelopes = append(envelopes, env)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return envelopes, nil
}

func splitLines(data []byte) []json.RawMessage {
	out := []json.RawMessage{}
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		out = append(out, json.RawMessage(line))
	}
	return out
}
