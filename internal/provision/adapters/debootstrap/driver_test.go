package debootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/cochaviz/rootstrap/arch"
	"github.com/cochaviz/rootstrap/internal/command"
	"github.com/cochaviz/rootstrap/internal/logging"
	"github.com/cochaviz/rootstrap/internal/preflight"
	"github.com/cochaviz/rootstrap/internal/provision"
)

type recordingRunner struct {
	commands []command.Command
	failOn   string
	err      error
}

func (r *recordingRunner) Run(ctx context.Context, cmd command.Command) error {
	r.commands = append(r.commands, cmd)
	if r.failOn != "" && strings.Contains(cmd.String(), r.failOn) {
		return r.err
	}
	return nil
}

func (r *recordingRunner) lines() []string {
	out := make([]string, len(r.commands))
	for i, cmd := range r.commands {
		out[i] = cmd.String()
	}
	return out
}

type stubMounter struct {
	mounted map[string]bool
	mounts  []string
}

func newStubMounter() *stubMounter {
	return &stubMounter{mounted: map[string]bool{}}
}

func (s *stubMounter) Mount(source, target, fstype string, flags uintptr) error {
	s.mounts = append(s.mounts, target)
	s.mounted[target] = true
	return nil
}

func (s *stubMounter) Unmount(target string) error {
	if !s.mounted[target] {
		return errors.New("not mounted")
	}
	delete(s.mounted, target)
	return nil
}

func (s *stubMounter) IsMounted(target string) (bool, error) {
	return s.mounted[target], nil
}

type dirEnv struct {
	root string
}

func (e dirEnv) Root() string {
	return e.root
}

func (e dirEnv) ArchivePath() string {
	return ""
}

func (e dirEnv) Cleanup() error {
	return nil
}

func fakeEmulator(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "qemu-mips-static")
	if err := os.WriteFile(path, []byte("\x7fELF fake"), 0o700); err != nil {
		t.Fatalf("write emulator: %v", err)
	}
	return path
}

func mipsOptions() provision.Options {
	return provision.Options{
		Architecture:   arch.MIPS,
		Distribution:   "wheezy",
		Packages:       []string{"locales", "tzdata"},
		ExtraPackages:  []string{"vim"},
		Mirror:         "http://deb.debian.org/debian",
		SecurityMirror: "http://security.debian.org/debian-security",
		Components:     []string{"main"},
		Hostname:       "debian",
		Interface:      "eth0",
		Console:        "ttyS0",
		Baud:           115200,
	}
}

func TestFirstStageArgs(t *testing.T) {
	t.Parallel()

	opts := mipsOptions()
	got := FirstStageArgs(opts, "/srv/rootfs")
	want := []string{
		"--foreign",
		"--arch=mips",
		"--include=locales,tzdata,vim",
		"wheezy",
		"/srv/rootfs",
		"http://deb.debian.org/debian",
	}
	if !slices.Equal(got, want) {
		t.Fatalf("FirstStageArgs() = %q, want %q", got, want)
	}

	opts.Components = []string{"main", "contrib", "non-free"}
	got = FirstStageArgs(opts, "/srv/rootfs")
	if !slices.Contains(got, "--components=main,contrib,non-free") {
		t.Fatalf("FirstStageArgs() = %q, want components flag", got)
	}
}

func TestBootstrapRunsStagesInOrder(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	runner := &recordingRunner{}
	mounter := newStubMounter()
	driver := &Driver{Runner: runner, Mounter: mounter, Logger: logging.Discard()}
	tools := preflight.Toolchain{Bootstrap: "/usr/sbin/debootstrap", Emulator: fakeEmulator(t)}

	if err := driver.Bootstrap(context.Background(), mipsOptions(), dirEnv{root}, tools); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	want := []string{
		"/usr/sbin/debootstrap --foreign '--arch=mips' '--include=locales,tzdata,vim' wheezy " + root + " http://deb.debian.org/debian",
		"chroot " + root + " /debootstrap/debootstrap --second-stage",
		"chroot " + root + " /usr/bin/dpkg --configure -a",
	}
	if got := runner.lines(); !slices.Equal(got, want) {
		t.Fatalf("commands = %q, want %q", got, want)
	}

	first := runner.commands[0]
	if first.Root != "" {
		t.Fatalf("first stage runs inside %q, want host", first.Root)
	}
	for _, cmd := range runner.commands[1:] {
		if cmd.Interactive {
			t.Fatalf("%s is interactive", cmd)
		}
		if !slices.Contains(cmd.Env, "DEBIAN_FRONTEND=noninteractive") {
			t.Fatalf("%s env = %q, want noninteractive frontend", cmd, cmd.Env)
		}
	}

	info, err := os.Stat(filepath.Join(root, "usr", "bin", "qemu-mips-static"))
	if err != nil {
		t.Fatalf("emulator not installed: %v", err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Fatalf("emulator mode = %v, want 0755", info.Mode().Perm())
	}

	wantMounts := []string{filepath.Join(root, "proc"), filepath.Join(root, "sys")}
	if !slices.Equal(mounter.mounts, wantMounts) {
		t.Fatalf("mounts = %q, want %q", mounter.mounts, wantMounts)
	}
}

func TestBootstrapStopsOnFirstStageFailure(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	runner := &recordingRunner{failOn: "--foreign", err: &command.ExitError{Command: "debootstrap", ExitCode: 1}}
	driver := &Driver{Runner: runner, Mounter: newStubMounter(), Logger: logging.Discard()}
	tools := preflight.Toolchain{Bootstrap: "/usr/sbin/debootstrap", Emulator: fakeEmulator(t)}

	err := driver.Bootstrap(context.Background(), mipsOptions(), dirEnv{root}, tools)

	var exitErr *command.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Bootstrap() error = %v, want *command.ExitError", err)
	}
	if len(runner.commands) != 1 {
		t.Fatalf("commands after failure = %q", runner.lines())
	}
	if _, err := os.Stat(filepath.Join(root, "usr", "bin", "qemu-mips-static")); !os.IsNotExist(err) {
		t.Fatalf("emulator installed after failed first stage: %v", err)
	}
}

func TestFinalizeRemovesEmulatorAndUnmounts(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	runner := &recordingRunner{}
	mounter := newStubMounter()
	mounter.mounted[filepath.Join(root, "proc")] = true
	driver := &Driver{Runner: runner, Mounter: mounter, Logger: logging.Discard()}

	if _, err := InstallEmulator(fakeEmulator(t), root, arch.MIPS); err != nil {
		t.Fatalf("InstallEmulator() error = %v", err)
	}

	if err := driver.Finalize(context.Background(), mipsOptions(), dirEnv{root}); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	if got := runner.lines(); len(got) != 1 || got[0] != "chroot "+root+" /usr/bin/apt-get clean" {
		t.Fatalf("commands = %q", got)
	}
	if _, err := os.Stat(EmulatorPath(root, arch.MIPS)); !os.IsNotExist(err) {
		t.Fatalf("emulator still present: %v", err)
	}
	if len(mounter.mounted) != 0 {
		t.Fatalf("still mounted: %v", mounter.mounted)
	}
}

type stuckMounter struct {
	*stubMounter
}

func (s stuckMounter) Unmount(target string) error {
	return errors.New("device or resource busy")
}

func TestFinalizeFailsWhileMounted(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mounter := stuckMounter{newStubMounter()}
	mounter.mounted[filepath.Join(root, "sys")] = true
	driver := &Driver{Runner: &recordingRunner{}, Mounter: mounter, Logger: logging.Discard()}

	err := driver.Finalize(context.Background(), mipsOptions(), dirEnv{root})
	if err == nil || !strings.Contains(err.Error(), "still mounted") {
		t.Fatalf("Finalize() error = %v, want still mounted", err)
	}
}
