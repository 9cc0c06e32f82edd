// Package targetconf writes the boot, network and APT configuration of a
// freshly bootstrapped Debian tree. Paths are absolute within the target.
package targetconf

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

const (
	HostnamePath   = "/etc/hostname"
	InterfacesPath = "/etc/network/interfaces"
	InittabPath    = "/etc/inittab"
	SourcesPath    = "/etc/apt/sources.list"
)

// Writer edits files inside a target tree.
type Writer struct {
	Fs afero.Fs
}

// New returns a Writer rooted at the target directory on the host filesystem.
func New(root string) *Writer {
	return &Writer{Fs: afero.NewBasePathFs(afero.NewOsFs(), root)}
}

// WriteHostname replaces /etc/hostname.
func (w *Writer) WriteHostname(hostname string) error {
	hostname = strings.TrimSpace(hostname)
	if hostname == "" {
		return errors.New("hostname is required")
	}
	return w.write(HostnamePath, hostname+"\n")
}

// AppendDHCPInterface configures iface for DHCP in /etc/network/interfaces.
func (w *Writer) AppendDHCPInterface(iface string) error {
	iface = strings.TrimSpace(iface)
	if iface == "" {
		return errors.New("interface name is required")
	}
	return w.append(InterfacesPath, fmt.Sprintf("\nauto %s\niface %s inet dhcp\n", iface, iface))
}

// AppendSerialConsole adds a getty respawn entry for the serial console to /etc/inittab.
func (w *Writer) AppendSerialConsole(console string, baud int) error {
	console = strings.TrimSpace(console)
	if console == "" {
		return errors.New("console device is required")
	}
	if baud <= 0 {
		return fmt.Errorf("invalid baud rate %d", baud)
	}
	return w.append(InittabPath, InittabEntry(console, baud)+"\n")
}

// WriteSources replaces /etc/apt/sources.list.
func (w *Writer) WriteSources(sources Sources) error {
	lines, err := sources.Lines()
	if err != nil {
		return err
	}
	return w.write(SourcesPath, strings.Join(lines, "\n")+"\n")
}

// InittabEntry renders the respawn line for a serial getty.
func InittabEntry(console string, baud int) string {
	return fmt.Sprintf("T0:23:respawn:/sbin/getty -L %s %d vt100", console, baud)
}

func (w *Writer) write(name, content string) error {
	if err := w.Fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", path.Dir(name), err)
	}
	if err := afero.WriteFile(w.Fs, name, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (w *Writer) append(name, content string) error {
	if err := w.Fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", path.Dir(name), err)
	}
	f, err := w.Fs.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", name, err)
	}
	return f.Close()
}
