package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/txq/internal/store"
)

// StateOptions holds flags for the state command.
type StateOptions struct {
	*RootOptions
	Database string
	StateURI string // optional - one state URI only
}

// StateView is the latest stored state of one state URI.
type StateView struct {
	StateURI  string         `json:"state_uri"`
	Seq       int64          `json:"seq"`
	StateHash string         `json:"state_hash"`
	Document  map[string]any `json:"document"`
}

// NewStateCommand creates the state command.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the current state documents",
		Long: `Show the latest state document of each state URI, as of its last
applied transaction.

Examples:
  txq state --db ./txq.db
  txq state --db ./txq.db --uri chat.local/room --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.Database, err = opts.database(cmd); err != nil {
				return err
			}
			opts.StateURI = opts.setting(cmd, "uri")
			return runState(opts, cmd)
		},
	}

	cmd.Flags().String("db", "", "path to SQLite database (required)")
	cmd.Flags().String("uri", "", "show one state URI only")

	return cmd
}

func runState(opts *StateOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	uris, err := stateURIs(ctx, st, opts.StateURI)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list state URIs", err)
	}

	out := newFormatter(cmd, opts.RootOptions, false)
	views := make([]StateView, 0, len(uris))
	for _, uri := range uris {
		out.VerboseLog("reading state %s", uri)
		rec, err := st.ReadState(ctx, uri)
		if errors.Is(err, store.ErrNotFound) {
			msg := fmt.Sprintf("no state for %s", uri)
			if out.JSON() {
				if err := out.Error(CodeNotFound, msg, map[string]string{"state_uri": uri}); err != nil {
					return err
				}
			}
			return NewExitError(ExitCommandError, msg)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read state", err)
		}
		views = append(views, StateView{
			StateURI:  rec.StateURI,
			Seq:       rec.Seq,
			StateHash: rec.StateHash,
			Document:  rec.Document,
		})
	}

	if out.JSON() {
		return out.Success(views)
	}

	w := out.Writer
	if len(views) == 0 {
		fmt.Fprintln(w, "No state recorded.")
		return nil
	}
	for _, v := range views {
		doc, err := json.MarshalIndent(v.Document, "  ", "  ")
		if err != nil {
			return fmt.Errorf("render state %s: %w", v.StateURI, err)
		}
		fmt.Fprintf(w, "%s (seq %d, %s)\n  %s\n", v.StateURI, v.Seq, shortHash(v.StateHash), doc)
	}
	return nil
}
