// Package debootstrap builds and configures a foreign-architecture Debian tree
// with debootstrap, a static user-mode emulator and chroot.
package debootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cochaviz/rootstrap/arch"
	"github.com/cochaviz/rootstrap/internal/chroot"
	"github.com/cochaviz/rootstrap/internal/command"
	"github.com/cochaviz/rootstrap/internal/logging"
	"github.com/cochaviz/rootstrap/internal/mount"
	"github.com/cochaviz/rootstrap/internal/preflight"
	"github.com/cochaviz/rootstrap/internal/provision"
)

// Paths of the programs run inside the target.
const (
	SecondStage      = "/debootstrap/debootstrap"
	Dpkg             = "/usr/bin/dpkg"
	DpkgReconfigure  = "/usr/sbin/dpkg-reconfigure"
	AptGet           = "/usr/bin/apt-get"
	Passwd           = "/usr/bin/passwd"
	defaultComponent = "main"
)

var _ provision.BootstrapDriver = (*Driver)(nil)

// Driver runs both debootstrap stages and undoes the host-side changes afterwards.
type Driver struct {
	Runner  command.Runner
	Mounter mount.Mounter
	Logger  *slog.Logger
}

// Bootstrap runs the foreign first stage on the host, installs the emulator into
// the target, mounts proc and sys, and completes the second stage inside the chroot.
func (d *Driver) Bootstrap(ctx context.Context, opts provision.Options, env provision.Environment, tools preflight.Toolchain) error {
	root := env.Root()
	logger := d.logger().With("root", root)

	logger.Info("running debootstrap first stage", "mirror", opts.Mirror, "packages", len(opts.AllPackages()))
	first := command.Command{Path: tools.Bootstrap, Args: FirstStageArgs(opts, root)}
	if err := d.Runner.Run(ctx, first); err != nil {
		return fmt.Errorf("first stage: %w", err)
	}

	emulator, err := InstallEmulator(tools.Emulator, root, opts.Architecture)
	if err != nil {
		return err
	}
	logger.Debug("installed emulator", "path", emulator)

	if err := mount.MountVirtual(d.mounter(), root); err != nil {
		return err
	}

	logger.Info("running debootstrap second stage")
	if err := d.Runner.Run(ctx, chroot.Command(root, SecondStage, "--second-stage")); err != nil {
		return fmt.Errorf("second stage: %w", err)
	}
	if err := d.Runner.Run(ctx, chroot.Command(root, Dpkg, "--configure", "-a")); err != nil {
		return fmt.Errorf("configure packages: %w", err)
	}
	return nil
}

// Finalize cleans the package cache, removes the emulator and detaches the
// virtual filesystems so the tree can be used or archived on its own.
func (d *Driver) Finalize(ctx context.Context, opts provision.Options, env provision.Environment) error {
	root := env.Root()
	logger := d.logger().With("root", root)

	if err := d.Runner.Run(ctx, chroot.Command(root, AptGet, "clean")); err != nil {
		return fmt.Errorf("clean package cache: %w", err)
	}

	emulator := EmulatorPath(root, opts.Architecture)
	if err := os.Remove(emulator); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove emulator: %w", err)
	}
	logger.Debug("removed emulator", "path", emulator)

	m := d.mounter()
	if err := mount.UnmountVirtual(m, root); err != nil {
		logger.Debug("unmount virtual filesystems", "error", err)
	}
	for _, p := range mount.Virtual {
		dir := filepath.Join(root, p.Dir)
		mounted, err := m.IsMounted(dir)
		if err != nil {
			return err
		}
		if mounted {
			return fmt.Errorf("%s is still mounted", dir)
		}
	}
	return nil
}

// FirstStageArgs builds the debootstrap arguments for the foreign first stage.
func FirstStageArgs(opts provision.Options, root string) []string {
	args := []string{
		"--foreign",
		"--arch=" + opts.Architecture.Debian(),
		"--include=" + strings.Join(opts.AllPackages(), ","),
	}
	if len(opts.Components) > 0 && !slices.Equal(opts.Components, []string{defaultComponent}) {
		args = append(args, "--components="+strings.Join(opts.Components, ","))
	}
	return append(args, opts.Distribution, root, opts.Mirror)
}

// EmulatorPath is where the emulator lives inside the target.
func EmulatorPath(root string, a arch.Architecture) string {
	return filepath.Join(root, preflight.EmulatorDir, a.EmulatorName())
}

// InstallEmulator copies the host emulator to the path the binfmt registration
// points at inside the target and returns that path.
func InstallEmulator(src, root string, a arch.Architecture) (string, error) {
	dst := EmulatorPath(root, a)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}
	if err := copyFile(src, dst, 0o755); err != nil {
		return "", fmt.Errorf("install emulator: %w", err)
	}
	// OpenFile honours the umask
	if err := os.Chmod(dst, 0o755); err != nil {
		return "", fmt.Errorf("install emulator: %w", err)
	}
	return dst, nil
}

func (d *Driver) mounter() mount.Mounter {
	if d.Mounter != nil {
		return d.Mounter
	}
	return mount.System{}
}

func (d *Driver) logger() *slog.Logger {
	return logging.Ensure(d.Logger).With("component", "debootstrap")
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
