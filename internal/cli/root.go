package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/gwimport/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Connection flags. Set flags override GWIMPORT_* variables.
	PlatformURL string
	SourceURL   string
	Token       string
	Tenant      string
	DBPath      string
	Timeout     time.Duration
	RateLimit   float64
	RateBurst   int

	// MetricsFile receives the commit counters in Prometheus text format.
	MetricsFile string

	// Config is resolved before any subcommand runs.
	Config config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the gwimport CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gwimport",
		Short: "gwimport - import gateway services and API keys into the platform",
		Long: `Import gateway configuration into the management platform.

Services become published APIs owned by platform teams, and API keys become
subscriptions to existing API plans. Decisions are staged and checkpointed
per tenant, then created in one batch.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return WrapExitError(ExitCommandError, "invalid flags",
					fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			opts.Logger = newLogger(cmd.ErrOrStderr(), opts.Verbose)
			slog.SetDefault(opts.Logger)
			return opts.resolveConfig(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.PlatformURL, "platform-url", "", "platform base URL (GWIMPORT_PLATFORM_URL)")
	flags.StringVar(&opts.SourceURL, "source-url", "", "gateway catalog base URL, defaults to the platform URL (GWIMPORT_SOURCE_URL)")
	flags.StringVar(&opts.Token, "token", "", "bearer token (GWIMPORT_TOKEN)")
	flags.StringVar(&opts.Tenant, "tenant", "", "platform tenant (GWIMPORT_TENANT)")
	flags.StringVar(&opts.DBPath, "db", "", "checkpoint database path (GWIMPORT_DB_PATH)")
	flags.DurationVar(&opts.Timeout, "timeout", 0, "per-request timeout (GWIMPORT_TIMEOUT)")
	flags.Float64Var(&opts.RateLimit, "rate-limit", 0, "platform writes per second, 0 for no limit (GWIMPORT_RATE_LIMIT)")
	flags.IntVar(&opts.RateBurst, "rate-burst", 0, "platform write burst (GWIMPORT_RATE_BURST)")
	flags.StringVar(&opts.MetricsFile, "metrics-file", "", "write commit metrics to this file in Prometheus text format")

	cmd.AddCommand(NewInstancesCommand(opts))
	cmd.AddCommand(NewCatalogCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewResumeCommand(opts))
	cmd.AddCommand(NewCheckpointCommand(opts))

	return cmd
}

// Execute runs the command tree with args and returns the process exit
// code. Errors are reported once, in the selected format, on stdout.
func Execute(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}

	format := "text"
	if f := cmd.PersistentFlags().Lookup("format"); f != nil && isValidFormat(f.Value.String()) {
		format = f.Value.String()
	}
	verbose := false
	if f := cmd.PersistentFlags().Lookup("verbose"); f != nil {
		verbose = f.Value.String() == "true"
	}
	formatter := &OutputFormatter{Format: format, Writer: stdout, ErrWriter: stderr, Verbose: verbose}
	_ = formatter.Fail(err)

	code := GetExitCode(err)
	if code == ExitFailure && !isExitError(err) {
		// Cobra flag and argument errors.
		code = ExitCommandError
	}
	return code
}

// resolveConfig loads the environment and applies the flags that were set.
func (o *RootOptions) resolveConfig(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid environment", err)
	}

	flags := cmd.Flags()
	if flags.Changed("platform-url") {
		cfg.PlatformURL = o.PlatformURL
	}
	if flags.Changed("source-url") {
		cfg.SourceURL = o.SourceURL
	}
	if flags.Changed("token") {
		cfg.Token = o.Token
	}
	if flags.Changed("tenant") {
		cfg.Tenant = o.Tenant
	}
	if flags.Changed("db") {
		cfg.DBPath = o.DBPath
	}
	if flags.Changed("timeout") {
		cfg.Timeout = o.Timeout
	}
	if flags.Changed("rate-limit") {
		cfg.RateLimit = o.RateLimit
	}
	if flags.Changed("rate-burst") {
		cfg.RateBurst = o.RateBurst
	}
	o.Config = cfg
	return nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// newLogger configures logging the same way for every command: text on
// stderr, debug when verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	return slog.New(handler)
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

func isExitError(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr)
}
