package main

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

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cochaviz/rootstrap/arch"
	"github.com/cochaviz/rootstrap/config"
	"github.com/cochaviz/rootstrap/internal/logging"
	"github.com/cochaviz/rootstrap/internal/provision"
)

const defaultLogLevel = "info"

type provisionFunc func(ctx context.Context, opts provision.Options, logger *slog.Logger) error

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, config.Provision)
	stop()
	os.Exit(code)
}

// usageError marks failures caused by the command line itself.
type usageError struct {
	err error
}

func (e *usageError) Error() string {
	return e.err.Error()
}

func (e *usageError) Unwrap() error {
	return e.err
}

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

type cli struct {
	stdout    io.Writer
	stderr    io.Writer
	levelVar  slog.LevelVar
	logger    *slog.Logger
	provision provisionFunc
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, fn provisionFunc) int {
	c := &cli{stdout: stdout, stderr: stderr, provision: fn}
	c.levelVar.Set(slog.LevelInfo)
	c.logger = logging.New(logging.ModeCLI, stderr, &c.levelVar)

	root := c.rootCommand()
	// cobra falls back to os.Args for nil
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var usageErr *usageError
	switch {
	case errors.As(err, &usageErr):
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fmt.Fprint(stderr, root.UsageString())
		return 1
	case errors.Is(err, context.Canceled):
		c.logger.Warn("provisioning interrupted", "error", err)
		return 130
	default:
		c.logger.Error("provisioning failed", "error", err)
		return 1
	}
}

func (c *cli) rootCommand() *cobra.Command {
	var (
		archiveMode bool
		include     string
		mirror      string
		profilePath string
		noShell     bool
		logLevel    string
		logFormat   string
	)

	cmd := &cobra.Command{
		Use:   "rootstrap [options] <arch> <dist> <target>",
		Short: "Build a foreign-architecture Debian root filesystem with debootstrap and qemu-user-static",
		Long: "Build a Debian root filesystem for another CPU architecture.\n\n" +
			"<arch>   target architecture (" + strings.Join(supportedNames(), ", ") + ")\n" +
			"<dist>   Debian release or suite, e.g. bookworm or sid\n" +
			"<target> directory to populate, or the archive file name with --tar",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 3 {
				return usagef("expected 3 arguments <arch> <dist> <target>, got %d", len(args))
			}
			return nil
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(c.stdout)
	cmd.SetErr(c.stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return &usageError{err: err}
		}
		mode, err := logging.ParseMode(logFormat)
		if err != nil {
			return &usageError{err: err}
		}
		c.levelVar.Set(level)
		c.logger = logging.New(mode, c.stderr, &c.levelVar)
		return nil
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		a, err := arch.Parse(args[0])
		if err != nil {
			return &usageError{err: err}
		}

		var extra []string
		if cmd.Flags().Changed("include") {
			if strings.TrimSpace(include) == "" {
				return usagef("--include requires a comma-separated package list")
			}
			for _, pkg := range strings.Split(include, ",") {
				extra = append(extra, strings.TrimSpace(pkg))
			}
		}

		profile, err := config.LoadProfile(profilePath)
		if err != nil {
			return &usageError{err: err}
		}

		opts := config.Options(profile, config.Request{
			Architecture:  a,
			Distribution:  strings.TrimSpace(args[1]),
			Target:        args[2],
			Archive:       archiveMode,
			ExtraPackages: extra,
			Mirror:        mirror,
			NoShell:       noShell,
		})
		opts.RunID = uuid.NewString()
		if err := opts.Validate(); err != nil {
			return &usageError{err: err}
		}

		return c.provision(cmd.Context(), opts, c.logger)
	}

	flags := cmd.Flags()
	flags.BoolVar(&archiveMode, "tar", false, "Build in a temporary directory and pack the result into <target> (.tar, .tar.gz, .tar.bz2, .tar.xz, .tar.zst)")
	flags.StringVar(&include, "include", "", "Comma-separated packages to install in addition to the defaults")
	flags.StringVar(&mirror, "mirror", "", fmt.Sprintf("Debian mirror URL (default %s)", config.DefaultMirror))
	flags.StringVar(&profilePath, "config", "", "YAML profile overriding the built-in defaults")
	flags.BoolVar(&noShell, "no-shell", false, "Do not open a shell in the target before finalizing")
	flags.StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	flags.StringVar(&logFormat, "log-format", "text", "Log output format (text, json)")

	return cmd
}

func supportedNames() []string {
	names := make([]string, 0, len(arch.Supported()))
	for _, a := range arch.Supported() {
		names = append(names, a.Debian())
	}
	return names
}
