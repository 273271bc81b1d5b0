package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/txq/internal/ir"
	"github.com/roach88/txq/internal/store"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Database string
	Query    store.LogQuery
}

// LogEntry is one applied record plus the digest a signer signs for its tx.
type LogEntry struct {
	ir.Applied
	Digest string `json:"digest"`
}

// LogResult holds the applied log output.
type LogResult struct {
	Entries []LogEntry `json:"entries"`
	Total   int        `json:"total"`
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the applied transaction log",
		Long: `Show applied transactions in the order they were applied (by seq).

Examples:
  txq log --db ./txq.db
  txq log --db ./txq.db --uri chat.local/room
  txq log --db ./txq.db --from alice --after 120 --limit 20
  txq log --db ./txq.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.Database, err = opts.database(cmd); err != nil {
				return err
			}
			opts.Query = store.LogQuery{
				StateURI: opts.setting(cmd, "uri"),
				From:     opts.setting(cmd, "from"),
				Session:  opts.setting(cmd, "session"),
			}
			if opts.Query.AfterSeq, err = cmd.Flags().GetInt64("after"); err != nil {
				return WrapExitError(ExitCommandError, "invalid --after", err)
			}
			if opts.Query.Limit, err = cmd.Flags().GetInt("limit"); err != nil {
				return WrapExitError(ExitCommandError, "invalid --limit", err)
			}
			if opts.Query.AfterSeq < 0 || opts.Query.Limit < 0 {
				return NewExitError(ExitCommandError, "--after and --limit must be non-negative")
			}
			return runLog(opts, cmd)
		},
	}

	cmd.Flags().String("db", "", "path to SQLite database (required)")
	cmd.Flags().String("uri", "", "show one state URI only")
	cmd.Flags().String("from", "", "show transactions from one sender only")
	cmd.Flags().String("session", "", "show transactions applied in one ingest session only")
	cmd.Flags().Int64("after", 0, "show entries with seq greater than this")
	cmd.Flags().Int("limit", 0, "maximum number of entries (0 for all)")

	return cmd
}

func runLog(opts *LogOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := readLog(ctx, st, opts.Query)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read applied log", err)
	}
	entries := make([]LogEntry, 0, len(records))
	for _, rec := range records {
		digest, err := ir.TxHash(rec.Tx)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to hash tx %s", rec.Tx.ID), err)
		}
		entries = append(entries, LogEntry{Applied: rec, Digest: digest})
	}

	out := newFormatter(cmd, opts.RootOptions, false)
	if out.JSON() {
		return out.Success(LogResult{Entries: entries, Total: len(entries)})
	}
	writeLogText(out.Writer, entries, opts.Verbose)
	return nil
}

// readLog reads the whole log, or only the entries matching q.
func readLog(ctx context.Context, st *store.Store, q store.LogQuery) ([]ir.Applied, error) {
	if q == (store.LogQuery{}) {
		return st.ReadAllApplied(ctx)
	}
	return st.QueryApplied(ctx, q)
}

func writeLogText(w io.Writer, entries []LogEntry, verbose bool) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No applied transactions.")
		return
	}
	for _, a := range entries {
		fmt.Fprintf(w, "[%d] %s %s\n", a.Seq, a.Tx.StateURI, a.Tx.ID)
		if len(a.Tx.Parents) > 0 {
			fmt.Fprintf(w, "    parents: %s\n", strings.Join(a.Tx.Parents, ", "))
		}
		if a.Tx.From != "" {
			fmt.Fprintf(w, "    from:    %s\n", a.Tx.From)
		}
		fmt.Fprintf(w, "    state:   %s\n", shortHash(a.StateHash))
		if verbose {
			fmt.Fprintf(w, "    digest:  %s\n", a.Digest)
			for _, p := range a.Tx.Patches {
				fmt.Fprintf(w, "    patch:   %s\n", p)
			}
			if len(a.Leaves) > 0 {
				fmt.Fprintf(w, "    leaves:  %s\n", strings.Join(a.Leaves, ", "))
			}
			fmt.Fprintf(w, "    session: %s\n", a.Session)
		}
	}
	fmt.Fprintf(w, "\n%d transaction(s)\n", len(entries))
}

// openExistingStore opens the database at path, refusing to create one.
func openExistingStore(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", path))
		}
		return nil, WrapExitError(ExitCommandError, "failed to access database", err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// stateURIs returns uri alone, or every state URI in the store.
func stateURIs(ctx context.Context, st *store.Store, uri string) ([]string, error) {
	if uri != "" {
		return []string{uri}, nil
	}
	return st.ListStateURIs(ctx)
}
