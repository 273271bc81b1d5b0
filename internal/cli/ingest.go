package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	slogcontext "github.com/veqryn/slog-context"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/txq/internal/engine"
	"github.com/roach88/txq/internal/fixture"
	"github.com/roach88/txq/internal/ir"
	"github.com/roach88/txq/internal/metrics"
	"github.com/roach88/txq/internal/store"
	"github.com/roach88/txq/internal/wire"
)

// streamPeer names the sender of transactions read from a wire stream.
const streamPeer = "stream"

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Database    string
	Stream      bool
	StateURI    string // default for streamed txs that name none
	Genesis     bool
	MetricsAddr string
	MaxFrame    uint64 // largest accepted stream frame in bytes

	// SessionGenerator allows overriding the session id generator (for
	// testing). If nil, defaults to UUIDv7Generator.
	SessionGenerator engine.SessionGenerator
}

// IngestSummary is the result of one ingest run.
type IngestSummary struct {
	Session string              `json:"session"`
	URIs    []engine.URIStatus  `json:"uris"`
	Acks    map[string][]string `json:"acks,omitempty"`
	Fault   string              `json:"fault,omitempty"`
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest [fixture]",
		Short: "Apply transactions from a fixture or a framed stream",
		Long: `Apply transactions to their state URIs in causal order and record them
in a SQLite database (created if it doesn't exist).

Without --stream, the argument is a fixture file (.yaml, .yml, .json or
.cue) listing deliveries in arrival order. With --stream, length-prefixed
wire messages are read from the file, or from stdin when no file is given,
and an ack frame is written to stdout for every applied transaction.

Restarting on the same database resumes each state URI where it stopped:
already applied transactions are dropped as duplicates.

Exit codes:
  0 - All deliveries processed
  1 - A delivery carried an upstream fault
  2 - Command error (bad fixture, database not found, etc.)

Examples:
  txq ingest --db ./txq.db ./fixtures/chat.yaml
  txq ingest --db ./txq.db --stream --uri chat.local/room < frames.bin
  txq ingest --db ./txq.db --stream --max-frame 64KiB frames.bin
  TXQ_DB=./txq.db txq ingest --metrics-addr :9090 ./fixtures/chat.cue`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.Database, err = opts.database(cmd); err != nil {
				return err
			}
			opts.Stream = opts.boolSetting(cmd, "stream")
			opts.Genesis = opts.boolSetting(cmd, "genesis")
			opts.StateURI = opts.setting(cmd, "uri")
			opts.MetricsAddr = opts.setting(cmd, "metrics-addr")
			maxFrame := opts.setting(cmd, "max-frame")
			if opts.MaxFrame, err = humanize.ParseBytes(maxFrame); err != nil || opts.MaxFrame == 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid --max-frame %q", maxFrame))
			}
			return runIngest(opts, args, cmd)
		},
	}

	cmd.Flags().String("db", "", "path to SQLite database (required)")
	cmd.Flags().Bool("stream", false, "read length-prefixed wire messages instead of a fixture")
	cmd.Flags().String("uri", "", "state URI for streamed transactions that name none")
	cmd.Flags().Bool("genesis", false, "treat the genesis transaction as applied")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address while ingesting")
	cmd.Flags().String("max-frame", humanize.IBytes(wire.MaxFrameSize), "largest accepted stream frame (e.g. 64KiB, 16MiB)")

	return cmd
}

func runIngest(opts *IngestOptions, args []string, cmd *cobra.Command) error {
	var (
		fx  *fixture.File
		in  io.Reader
		err error
	)
	if opts.Stream {
		in = cmd.InOrStdin()
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open stream file", err)
			}
			defer f.Close()
			in = f
		}
	} else {
		if len(args) == 0 {
			return NewExitError(ExitCommandError, "a fixture file is required without --stream")
		}
		fx, err = fixture.Load(args[0])
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load fixture", err)
		}
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	reg := prometheus.NewRegistry()
	collectors := metrics.New(reg)
	if opts.MetricsAddr != "" {
		srv, err := startMetricsServer(opts.MetricsAddr, reg)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to start metrics server", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	engineOpts := []engine.Option{engine.WithMetrics(collectors)}
	if opts.SessionGenerator != nil {
		engineOpts = append(engineOpts, engine.WithSessionGenerator(opts.SessionGenerator))
	}
	if seeds := ingestSeeds(opts.Genesis, fx); len(seeds) > 0 {
		engineOpts = append(engineOpts, engine.WithSeeds(seeds...))
	}
	if opts.Stream {
		out := cmd.OutOrStdout()
		engineOpts = append(engineOpts, engine.WithOnApplied(func(rec ir.Applied, _ map[string]any) {
			if err := wire.WriteMsg(out, wire.NewAck(rec.Tx.StateURI, rec.Tx.ID, rec.Seq)); err != nil {
				slog.Error("failed to write ack", "tx", rec.Tx.ID, "error", err)
			}
		}))
	}
	eng := engine.New(st, engineOpts...)

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = slogcontext.NewCtx(ctx, slog.Default().With("session", eng.Session()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		defer eng.Stop()
		if opts.Stream {
			return produceStream(gctx, eng, in, opts.StateURI, opts.MaxFrame)
		}
		produceFixture(gctx, eng, fx)
		return nil
	})
	runErr := g.Wait()

	summary := IngestSummary{
		Session: eng.Session(),
		URIs:    eng.Status(),
		Acks:    eng.Acks(),
	}
	if engine.IsIngestFault(runErr) {
		summary.Fault = runErr.Error()
	}

	out := newFormatter(cmd, opts.RootOptions, opts.Stream)
	if out.JSON() {
		var failure *CLIError
		if summary.Fault != "" {
			failure = &CLIError{Code: CodeIngestFault, Message: summary.Fault}
		}
		if err := out.Result(summary, failure); err != nil {
			return err
		}
	} else {
		writeIngestText(out.Writer, summary)
	}

	switch {
	case runErr == nil, errors.Is(runErr, context.Canceled):
		return nil
	case engine.IsIngestFault(runErr):
		return WrapExitError(ExitFailure, "ingest stopped", runErr)
	default:
		return WrapExitError(ExitCommandError, "ingest failed", runErr)
	}
}

// produceFixture enqueues every fixture delivery in file order.
func produceFixture(ctx context.Context, eng *engine.Engine, fx *fixture.File) {
	for _, d := range fx.Deliveries {
		if ctx.Err() != nil {
			return
		}
		if !eng.Enqueue(engine.Delivery{Tx: d.Tx, Leaves: d.Leaves, Err: d.Err(), Peer: d.Peer}) {
			return
		}
	}
}

// produceStream reads wire messages until EOF. A read error or an error
// message from upstream becomes a faulty delivery, which stops the engine.
// Transactions the engine already holds are skipped before enqueueing.
func produceStream(ctx context.Context, eng *engine.Engine, in io.Reader, defaultURI string, maxFrame uint64) error {
	logger := slogcontext.FromCtx(ctx)
	if c, ok := in.(io.Closer); ok {
		// Unblock a pending read once the engine has stopped.
		stopClose := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stopClose()
	}

	for {
		msg, err := wire.ReadMsgLimit(in, maxFrame)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			eng.Enqueue(engine.Delivery{Err: fmt.Errorf("read stream: %w", err), Peer: streamPeer})
			return nil
		}

		switch p := msg.Payload.(type) {
		case wire.Put:
			tx := p.Tx
			if tx.StateURI == "" {
				tx.StateURI = defaultURI
			}
			have, err := eng.HaveTx(ctx, tx.StateURI, tx.ID)
			if err != nil {
				return err
			}
			if have {
				logger.Debug("skipping tx already applied", "tx", tx.ID, "state_uri", tx.StateURI)
				continue
			}
			if !eng.Enqueue(engine.Delivery{Tx: tx, Leaves: p.Leaves, Peer: streamPeer}) {
				return nil
			}
		case string:
			if msg.Type == wire.TypeError {
				eng.Enqueue(engine.Delivery{Err: fmt.Errorf("upstream: %s", p), Peer: streamPeer})
				return nil
			}
			logger.Debug("ignoring stream message", "type", msg.Type, "payload", p)
		default:
			logger.Debug("ignoring stream message", "type", msg.Type)
		}
	}
}

func startMetricsServer(addr string, reg *prometheus.Registry) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("metrics server stopped", "error", err)
		}
	}()
	slog.Info("serving metrics", "addr", ln.Addr().String())
	return srv, nil
}

func writeIngestText(w io.Writer, s IngestSummary) {
	fmt.Fprintf(w, "Session: %s\n", s.Session)
	if len(s.URIs) == 0 {
		fmt.Fprintln(w, "No transactions ingested.")
	}
	for _, u := range s.URIs {
		fmt.Fprintf(w, "%s\n", u.StateURI)
		fmt.Fprintf(w, "  applied: %d (resumed %d, duplicates %d, passes %d)\n",
			u.Applied, u.Resumed, u.Duplicates, u.Passes)
		if u.Seq > 0 {
			fmt.Fprintf(w, "  state:   %s (seq %d)\n", shortHash(u.StateHash), u.Seq)
		}
		if len(u.Pending) > 0 {
			fmt.Fprintf(w, "  pending: %v\n", u.Pending)
			fmt.Fprintf(w, "  missing: %v\n", u.Missing)
		}
		for _, c := range u.Cycles {
			fmt.Fprintf(w, "  cycle:   %s\n", c)
		}
		if u.PatchErrors > 0 {
			fmt.Fprintf(w, "  skipped patches: %d\n", u.PatchErrors)
		}
	}
	if s.Fault != "" {
		fmt.Fprintf(w, "Fault: %s\n", s.Fault)
	}
}

// commandContext returns cmd's context, or Background when it has none.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// shortHash abbreviates a hex hash for text output.
func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// ingestSeeds merges the fixture's seeds with the --genesis flag.
func ingestSeeds(genesis bool, fx *fixture.File) []string {
	var seeds []string
	if fx != nil {
		seeds = fx.Seeds()
	}
	if genesis && !slices.Contains(seeds, ir.GenesisTxID) {
		seeds = append(seeds, ir.GenesisTxID)
	}
	return seeds
}
