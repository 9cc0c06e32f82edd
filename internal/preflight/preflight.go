package preflight

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/cochaviz/rootstrap/arch"
	"github.com/cochaviz/rootstrap/internal/logging"
)

const (
	// BootstrapTool is the program that builds the first stage of the target.
	BootstrapTool = "debootstrap"
	// BinfmtDir is where binfmt_misc exposes its registrations.
	BinfmtDir = "/proc/sys/fs/binfmt_misc"
	// EmulatorDir is the fixed install location the binfmt registration must point into.
	EmulatorDir = "/usr/bin"
	// binfmtHelperDir hosts the wrappers registered by qemu-user-static >= 7 on Debian.
	binfmtHelperDir = "/usr/libexec/qemu-binfmt"
)

// Host exposes the parts of the operating system the checks depend on.
type Host interface {
	Geteuid() int
	LookPath(file string) (string, error)
	ReadFile(path string) ([]byte, error)
}

// OSHost is the Host of the running process.
type OSHost struct{}

func (OSHost) Geteuid() int {
	return unix.Geteuid()
}

func (OSHost) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (OSHost) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Toolchain holds the resolved host paths of the external programs.
type Toolchain struct {
	Bootstrap string
	Emulator  string
}

// CheckError names the precondition that failed.
type CheckError struct {
	Check string
	Err   error
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("precondition %q failed: %v", e.Check, e.Err)
}

func (e *CheckError) Unwrap() error {
	return e.Err
}

// Checker runs the host checks in a fixed order and stops at the first failure.
type Checker struct {
	Host      Host
	BinfmtDir string
	Logger    *slog.Logger
}

// Check verifies root privileges, the bootstrap tool, the emulator for a and its
// binfmt_misc registration, in that order.
func (c *Checker) Check(a arch.Architecture) (Toolchain, error) {
	if !a.IsValid() {
		return Toolchain{}, &CheckError{Check: "architecture", Err: fmt.Errorf("unsupported architecture %q", a)}
	}
	host := c.host()
	logger := logging.Ensure(c.Logger).With("arch", a.String())

	if err := requireRoot(host); err != nil {
		return Toolchain{}, &CheckError{Check: "root", Err: err}
	}

	bootstrap, err := ensureCommand(host, BootstrapTool)
	if err != nil {
		return Toolchain{}, &CheckError{Check: "bootstrap tool", Err: err}
	}
	logger.Debug("found bootstrap tool", "path", bootstrap)

	emulator, err := ensureCommand(host, a.EmulatorName())
	if err != nil {
		return Toolchain{}, &CheckError{Check: "emulator", Err: err}
	}
	logger.Debug("found emulator", "path", emulator)

	if err := c.verifyBinfmt(host, a); err != nil {
		return Toolchain{}, &CheckError{Check: "binfmt registration", Err: err}
	}
	logger.Info("host preconditions satisfied", "bootstrap", bootstrap, "emulator", emulator)

	return Toolchain{Bootstrap: bootstrap, Emulator: emulator}, nil
}

func (c *Checker) host() Host {
	if c.Host != nil {
		return c.Host
	}
	return OSHost{}
}

func requireRoot(host Host) error {
	if host.Geteuid() != 0 {
		return errors.New("run me as root")
	}
	return nil
}

func ensureCommand(host Host, name string) (string, error) {
	path, err := host.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH: %w", name, err)
	}
	return path, nil
}

func (c *Checker) verifyBinfmt(host Host, a arch.Architecture) error {
	dir := c.BinfmtDir
	if dir == "" {
		dir = BinfmtDir
	}
	entry := filepath.Join(dir, "qemu-"+a.QEMU())

	data, err := host.ReadFile(entry)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s is not registered; install qemu-user-static and enable binfmt_misc", entry)
		}
		return fmt.Errorf("read %s: %w", entry, err)
	}

	enabled, interpreter, flags := parseBinfmtEntry(data)
	if !enabled {
		return fmt.Errorf("%s is disabled", entry)
	}
	switch interpreter {
	case filepath.Join(EmulatorDir, a.EmulatorName()):
		return nil
	case helperInterpreter(a):
		// the helper lives outside the chroot, so the kernel must open it at registration time
		if !strings.Contains(flags, "F") {
			return fmt.Errorf("%s routes to %q without the F (fix-binary) flag; it cannot be reached from inside the chroot", entry, interpreter)
		}
		return nil
	}
	return fmt.Errorf("%s routes to %q, want %s", entry, interpreter, filepath.Join(EmulatorDir, a.EmulatorName()))
}

// helperInterpreter is the wrapper registered by newer qemu-user-static packages.
func helperInterpreter(a arch.Architecture) string {
	return filepath.Join(binfmtHelperDir, a.QEMU()+"-binfmt-P")
}

func parseBinfmtEntry(data []byte) (enabled bool, interpreter, flags string) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "enabled":
			enabled = true
		case strings.HasPrefix(line, "interpreter "):
			interpreter = strings.TrimSpace(strings.TrimPrefix(line, "interpreter "))
		case strings.HasPrefix(line, "flags:"):
			flags = strings.TrimSpace(strings.TrimPrefix(line, "flags:"))
		}
	}
	return enabled, interpreter, flags
}
