package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/star/gaiaviz/internal/config"
	"github.com/star/gaiaviz/skypatch"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

var rootCmd = newRootCmd()

// globalFlags are the persistent flags shared by every command. They
// override the matching GAIAVIZ_* variables when set.
type globalFlags struct {
	verbose      bool
	tapURL       string
	tapTimeout   time.Duration
	cacheBackend string
	cacheDir     string
	redisAddr    string
	workers      int
	model        string
}

// app carries the resolved configuration to the commands.
type app struct {
	flags  globalFlags
	cfg    config.Config
	logger *slog.Logger
	out    io.Writer
}

func (a *app) stdout() io.Writer {
	if a.out == nil {
		return os.Stdout
	}
	return a.out
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "gaiaviz",
		Short: "Query Gaia DR3 for a patch of sky and plot or animate its stars",
		Long: `gaiaviz runs a cone search against the Gaia DR3 archive and draws the stars
it finds, either where they are now or moving over the next million years.

Examples:
	# List the bright stars of the Pleiades
	gaiaviz query --ra 56.75 --dec 24.12 --radius 2

	# Plot them
	gaiaviz plot --ra 56.75 --dec 24.12 --radius 2 --out pleiades.png

	# Animate them under a Galactic potential
	gaiaviz animate --ra 56.75 --dec 24.12 --radius 2 --model halo --out pleiades.html

	# Serve the HTTP API and viewer
	gaiaviz serve

Configuration:
	Defaults are overridden by GAIAVIZ_* environment variables, which are
	overridden by flags. See "gaiaviz serve --help" for the server variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageErr(err)
	})

	pf := cmd.PersistentFlags()
	pf.BoolVar(&a.flags.verbose, "verbose", false, "Enable debug logging (every catalog request and cache lookup)")
	pf.StringVar(&a.flags.tapURL, "tap-url", "", "Gaia TAP sync endpoint (env GAIAVIZ_TAP_URL)")
	pf.DurationVar(&a.flags.tapTimeout, "tap-timeout", 0, "Timeout for one catalog request (env GAIAVIZ_TAP_TIMEOUT)")
	pf.StringVar(&a.flags.cacheBackend, "cache", "", "Result cache: none, disk or redis (env GAIAVIZ_CACHE_BACKEND)")
	pf.StringVar(&a.flags.cacheDir, "cache-dir", "", "Disk cache directory (env GAIAVIZ_CACHE_DIR)")
	pf.StringVar(&a.flags.redisAddr, "redis-addr", "", "Redis host:port for the redis cache (env GAIAVIZ_REDIS_ADDR)")
	pf.IntVar(&a.flags.workers, "workers", 0, "Propagation and rendering goroutines (env GAIAVIZ_PROP_WORKERS)")
	pf.StringVar(&a.flags.model, "model", "", "Motion model: linear or halo (env GAIAVIZ_MOTION_MODEL)")

	cmd.AddCommand(
		newQueryCmd(a),
		newPlotCmd(a),
		newAnimateCmd(a),
		newCrossingsCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return cmd
}

// setup resolves defaults, environment and flags into a validated config.
func (a *app) setup(cmd *cobra.Command) error {
	level := slog.LevelWarn
	if a.flags.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	a.out = cmd.OutOrStdout()

	cfg := config.LoadEnv(a.logger)
	cfg.Verbose = a.flags.verbose

	f := cmd.Flags()
	if f.Changed("tap-url") {
		cfg.TAPURL = a.flags.tapURL
	}
	if f.Changed("tap-timeout") {
		cfg.TAPTimeout = a.flags.tapTimeout
	}
	if f.Changed("cache") {
		cfg.CacheBackend = a.flags.cacheBackend
	}
	if f.Changed("cache-dir") {
		cfg.CacheDir = a.flags.cacheDir
	}
	if f.Changed("redis-addr") {
		cfg.RedisAddr = a.flags.redisAddr
	}
	if f.Changed("workers") {
		cfg.PropWorkers = a.flags.workers
	}
	if f.Changed("model") {
		cfg.MotionModel = a.flags.model
	}

	if err := cfg.Validate(); err != nil {
		return usageErr(err)
	}
	a.cfg = cfg
	return nil
}

// SetBuildInfo records the values injected at link time.
func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

// BuildInfo returns the version, commit and build date set by SetBuildInfo.
func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

// usageError marks a bad invocation: exit code 2.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usageErr(err error) error {
	if err == nil {
		return nil
	}
	return &usageError{err: err}
}

// ExitCode maps a command error to the process exit code: 0 on success,
// 2 for invalid arguments and 1 for everything else.
func ExitCode(err error) int {
	var ue *usageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &ue),
		strings.HasPrefix(err.Error(), "unknown command"),
		errors.Is(err, skypatch.ErrInvalidRadius),
		errors.Is(err, skypatch.ErrInvalidRA),
		errors.Is(err, skypatch.ErrInvalidDec):
		return 2
	default:
		return 1
	}
}

// run executes cmd with args and reports the exit code.
func run(ctx context.Context, cmd *cobra.Command, args []string, stderr io.Writer) int {
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		color.New(color.FgRed).Fprintln(stderr, "error:", err)
	}
	return ExitCode(err)
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context, which stops queries, renders and the server.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, rootCmd, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}
