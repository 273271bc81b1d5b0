package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/txq/internal/ir"
	"github.com/roach88/txq/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	StateURI string // optional - one state URI only
	Genesis  bool
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	States           []store.ReplayResult `json:"states"`
	TotalStates      int                  `json:"total_states"`
	AllDeterministic bool                 `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the applied log and verify determinism",
		Long: `Re-apply every stored transaction through a fresh resolver and state
document, and check that each recomputed state hash, the applied order and
the final state all match what was recorded.

Exit codes:
  0 - Every state URI replayed identically
  1 - Determinism verification failed (differences detected)
  2 - Command error (database not found, etc.)

Examples:
  txq replay --db ./txq.db
  txq replay --db ./txq.db --uri chat.local/room --genesis
  txq replay --db ./txq.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.Database, err = opts.database(cmd); err != nil {
				return err
			}
			opts.StateURI = opts.setting(cmd, "uri")
			opts.Genesis = opts.boolSetting(cmd, "genesis")
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().String("db", "", "path to SQLite database (required)")
	cmd.Flags().String("uri", "", "replay one state URI only")
	cmd.Flags().Bool("genesis", false, "treat the genesis transaction as applied")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	var seeds []string
	if opts.Genesis {
		seeds = append(seeds, ir.GenesisTxID)
	}

	states, err := replayStates(ctx, st, opts.StateURI, seeds)
	if err != nil {
		return err
	}

	result := ReplayResult{
		States:           states,
		TotalStates:      len(states),
		AllDeterministic: true,
	}
	for _, r := range states {
		if !r.Deterministic {
			result.AllDeterministic = false
		}
	}

	out := newFormatter(cmd, opts.RootOptions, false)
	if out.JSON() {
		var failure *CLIError
		if !result.AllDeterministic {
			failure = &CLIError{Code: CodeDeterminism, Message: "determinism verification failed"}
		}
		if err := out.Result(result, failure); err != nil {
			return err
		}
	} else {
		writeReplayText(out.Writer, result, opts.Verbose)
	}

	if !result.AllDeterministic {
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return nil
}

// replayStates replays uri alone, or every state URI in the store.
func replayStates(ctx context.Context, st *store.Store, uri string, seeds []string) ([]store.ReplayResult, error) {
	if uri == "" {
		states, err := st.ReplayAll(ctx, seeds...)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to replay", err)
		}
		return states, nil
	}
	r, err := st.Replay(ctx, uri, seeds...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay %s", uri), err)
	}
	return []store.ReplayResult{r}, nil
}

func writeReplayText(w io.Writer, result ReplayResult, verbose bool) {
	if result.TotalStates == 0 {
		fmt.Fprintln(w, "No state URIs found in database.")
		return
	}

	fmt.Fprintf(w, "Replay Summary: %d state URI(s)\n\n", result.TotalStates)
	for _, r := range result.States {
		status := "✓"
		if !r.Deterministic {
			status = "✗"
		}
		fmt.Fprintf(w, "%s %s\n", status, r.StateURI)
		fmt.Fprintf(w, "  Applied: %d, state %s\n", r.Applied, shortHash(r.StateHash))
		for _, m := range r.Mismatches {
			fmt.Fprintf(w, "  Mismatch at seq %d (%s): %s\n", m.Seq, m.TxID, m.Reason)
			if verbose && (m.Want != "" || m.Got != "") {
				fmt.Fprintf(w, "    want %s\n    got  %s\n", m.Want, m.Got)
			}
		}
	}
	fmt.Fprintln(w)

	if result.AllDeterministic {
		fmt.Fprintln(w, "✓ All state URIs verified deterministic")
		return
	}
	fmt.Fprintln(w, "✗ Determinism verification failed")
}
