// Package mount manages the virtual filesystems mounted inside a target tree.
package mount

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Point is a virtual filesystem mounted under the target tree while commands run inside it.
type Point struct {
	Source string
	Dir    string
	FSType string
	Flags  uintptr
}

// Virtual lists the filesystems provided to chrooted commands, in mount order.
var Virtual = []Point{
	{Source: "proc", Dir: "proc", FSType: "proc", Flags: unix.MS_NOSUID | unix.MS_NODEV | unix.MS_NOEXEC},
	{Source: "sysfs", Dir: "sys", FSType: "sysfs", Flags: unix.MS_NOSUID | unix.MS_NODEV | unix.MS_NOEXEC},
}

// Mounter mounts and unmounts filesystems.
type Mounter interface {
	Mount(source, target, fstype string, flags uintptr) error
	Unmount(target string) error
	IsMounted(target string) (bool, error)
}

// System is the Mounter backed by mount(2) and umount2(2).
type System struct {
	// MountInfo defaults to /proc/self/mountinfo.
	MountInfo string
}

var _ Mounter = System{}

func (s System) Mount(source, target, fstype string, flags uintptr) error {
	if err := unix.Mount(source, target, fstype, flags, ""); err != nil {
		return fmt.Errorf("mount %s on %s: %w", fstype, target, err)
	}
	return nil
}

// Unmount lazily detaches target so busy filesystems do not block cleanup.
func (s System) Unmount(target string) error {
	if err := unix.Unmount(target, unix.MNT_DETACH); err != nil {
		return fmt.Errorf("unmount %s: %w", target, err)
	}
	return nil
}

func (s System) IsMounted(target string) (bool, error) {
	path := s.MountInfo
	if path == "" {
		path = "/proc/self/mountinfo"
	}
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open mountinfo: %w", err)
	}
	defer f.Close()

	points, err := parseMountInfo(f)
	if err != nil {
		return false, err
	}
	// mountinfo lists resolved paths
	clean := filepath.Clean(target)
	if resolved, err := filepath.EvalSymlinks(clean); err == nil {
		clean = resolved
	}
	for _, p := range points {
		if p == clean {
			return true, nil
		}
	}
	return false, nil
}

// MountVirtual mounts every Virtual filesystem under root that is not already mounted.
func MountVirtual(m Mounter, root string) error {
	for _, p := range Virtual {
		dir := filepath.Join(root, p.Dir)
		mounted, err := m.IsMounted(dir)
		if err != nil {
			return err
		}
		if mounted {
			continue
		}
		if err := os.MkdirAll(dir, 0o555); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		if err := m.Mount(p.Source, dir, p.FSType, p.Flags); err != nil {
			return err
		}
	}
	return nil
}

// UnmountVirtual attempts to unmount every Virtual filesystem under root,
// whether or not it is mounted, and reports the errors without stopping.
func UnmountVirtual(m Mounter, root string) error {
	var errs error
	for i := len(Virtual) - 1; i >= 0; i-- {
		if err := m.Unmount(filepath.Join(root, Virtual[i].Dir)); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

// parseMountInfo returns the mount points listed in a mountinfo stream.
func parseMountInfo(r io.Reader) ([]string, error) {
	var points []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 {
			continue
		}
		points = append(points, unescapeOctal(fields[4]))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read mountinfo: %w", err)
	}
	return points, nil
}

// unescapeOctal decodes the \NNN escapes the kernel uses for spaces and tabs.
func unescapeOctal(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
