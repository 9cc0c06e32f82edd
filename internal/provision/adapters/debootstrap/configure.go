package debootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cochaviz/rootstrap/internal/chroot"
	"github.com/cochaviz/rootstrap/internal/command"
	"github.com/cochaviz/rootstrap/internal/logging"
	"github.com/cochaviz/rootstrap/internal/provision"
	"github.com/cochaviz/rootstrap/internal/targetconf"
)

var (
	_ provision.Configurator = (*Configurator)(nil)
	_ provision.Shell        = (*Shell)(nil)
)

// Configurator asks the operator for the root password, locale and timezone,
// then writes the console, hostname, network and APT configuration.
type Configurator struct {
	Runner command.Runner
	// NewWriter defaults to targetconf.New.
	NewWriter func(root string) *targetconf.Writer
	Logger    *slog.Logger
}

func (c *Configurator) Configure(ctx context.Context, opts provision.Options, env provision.Environment) error {
	root := env.Root()
	logger := logging.Ensure(c.Logger).With("component", "configure", "root", root)

	interactive := []struct {
		what string
		cmd  command.Command
	}{
		{"set root password", chroot.Interactive(root, Passwd)},
		{"configure locales", chroot.Interactive(root, DpkgReconfigure, "locales")},
		{"configure timezone", chroot.Interactive(root, DpkgReconfigure, "tzdata")},
	}
	for _, step := range interactive {
		logger.Info(step.what)
		if err := c.Runner.Run(ctx, step.cmd); err != nil {
			return fmt.Errorf("%s: %w", step.what, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	w := c.writer(root)
	if err := w.AppendSerialConsole(opts.Console, opts.Baud); err != nil {
		return fmt.Errorf("serial console: %w", err)
	}
	if err := w.WriteHostname(opts.Hostname); err != nil {
		return fmt.Errorf("hostname: %w", err)
	}
	if err := w.AppendDHCPInterface(opts.Interface); err != nil {
		return fmt.Errorf("network: %w", err)
	}
	sources := targetconf.Sources{
		Mirror:         opts.Mirror,
		SecurityMirror: opts.SecurityMirror,
		Distribution:   opts.Distribution,
		Components:     opts.Components,
	}
	if err := w.WriteSources(sources); err != nil {
		return fmt.Errorf("apt sources: %w", err)
	}
	logger.Info("target configured", "hostname", opts.Hostname, "console", opts.Console, "interface", opts.Interface)
	return nil
}

func (c *Configurator) writer(root string) *targetconf.Writer {
	if c.NewWriter != nil {
		return c.NewWriter(root)
	}
	return targetconf.New(root)
}

// Shell attaches the operator to a shell inside the target.
type Shell struct {
	Runner command.Runner
	Logger *slog.Logger
}

func (s *Shell) Open(ctx context.Context, env provision.Environment) error {
	root := env.Root()
	shell := chroot.Shell(root)
	logging.Ensure(s.Logger).Info("opening shell in target; exit to finish", "shell", shell, "root", root)
	return s.Runner.Run(ctx, chroot.Interactive(root, shell))
}
