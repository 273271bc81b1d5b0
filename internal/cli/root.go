package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/txq/internal/ir"
)

// EnvPrefix prefixes the environment variables that mirror flags, e.g.
// TXQ_DB for --db.
const EnvPrefix = "TXQ"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string

	v *viper.Viper
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the txq CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "txq",
		Short: "txq - causal transaction ingestion",
		Long: `Apply transactions in causal order, whatever order they arrive in.

Every flag can also be set through the environment (TXQ_DB, TXQ_FORMAT, ...)
or a YAML file passed with --config. Flags win over the environment, which
wins over the config file.`,
		Version:       ir.EngineVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd.ErrOrStderr())
		},
	}

	cmd.SetVersionTemplate("txq {{.Version}} (record schema " + ir.SchemaVersion + ")\n")

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.Config, "config", "", "YAML config file")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")

	for _, name := range []string{"config", "verbose", "format"} {
		if err := opts.v.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
	opts.v.SetEnvPrefix(EnvPrefix)
	opts.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	opts.v.AutomaticEnv()

	cmd.AddCommand(NewIngestCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewStateCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// load reads the config file, resolves the global settings and installs
// the default logger.
func (o *RootOptions) load(logOut io.Writer) error {
	if o.v == nil {
		o.v = viper.New()
	}
	if path := strings.TrimSpace(o.v.GetString("config")); path != "" {
		o.v.SetConfigFile(path)
		if err := o.v.ReadInConfig(); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("read config file %q", path), err)
		}
	}

	o.Format = o.v.GetString("format")
	o.Verbose = o.v.GetBool("verbose")
	if !isValidFormat(o.Format) {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("invalid format %q: must be one of %v", o.Format, ValidFormats))
	}

	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level})))
	return nil
}

// setting resolves a command-local flag: an explicit flag first, then the
// environment or config file, then the flag default.
func (o *RootOptions) setting(cmd *cobra.Command, name string) string {
	f := cmd.Flags().Lookup(name)
	if f != nil && f.Changed {
		return f.Value.String()
	}
	if o.v != nil && o.v.IsSet(name) {
		return o.v.GetString(name)
	}
	if f != nil {
		return f.Value.String()
	}
	return ""
}

// boolSetting is setting for boolean flags.
func (o *RootOptions) boolSetting(cmd *cobra.Command, name string) bool {
	f := cmd.Flags().Lookup(name)
	if f != nil && f.Changed {
		return f.Value.String() == "true"
	}
	if o.v != nil && o.v.IsSet(name) {
		return o.v.GetBool(name)
	}
	return f != nil && f.DefValue == "true"
}

// database resolves --db, which every store-backed command requires.
func (o *RootOptions) database(cmd *cobra.Command) (string, error) {
	db := o.setting(cmd, "db")
	if db == "" {
		return "", NewExitError(ExitCommandError,
			fmt.Sprintf("--db is required (or set %s_DB)", EnvPrefix))
	}
	return db, nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
