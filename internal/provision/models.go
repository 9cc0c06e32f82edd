package provision

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/cochaviz/rootstrap/arch"
	"github.com/cochaviz/rootstrap/internal/archive"
)

// Options are the parameters of a single provisioning run. They are built once
// by the CLI and never modified afterwards.
type Options struct {
	RunID        string
	Architecture arch.Architecture
	Distribution string
	// Target is the tree directory, or the archive file name when Archive is set.
	Target  string
	Archive bool

	Packages      []string
	ExtraPackages []string

	Mirror         string
	SecurityMirror string
	Components     []string

	Hostname  string
	Interface string
	Console   string
	Baud      int
	// Shell opens an interactive shell in the target before finalizing.
	Shell bool
}

// AllPackages returns the base packages followed by the extra ones, without duplicates.
func (o Options) AllPackages() []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(o.Packages)+len(o.ExtraPackages))
	for _, pkg := range append(append([]string{}, o.Packages...), o.ExtraPackages...) {
		pkg = strings.TrimSpace(pkg)
		if pkg == "" || seen[pkg] {
			continue
		}
		seen[pkg] = true
		out = append(out, pkg)
	}
	return out
}

// Validate reports every problem with the options at once.
func (o Options) Validate() error {
	var errs []error

	if !o.Architecture.IsValid() {
		errs = append(errs, fmt.Errorf("unsupported architecture %q", o.Architecture))
	}
	if o.Distribution == "" || strings.ContainsAny(o.Distribution, " /\t\n") {
		errs = append(errs, fmt.Errorf("invalid distribution %q", o.Distribution))
	}
	if err := validateTarget(o.Target, o.Archive); err != nil {
		errs = append(errs, err)
	}
	if err := validateMirror("mirror", o.Mirror); err != nil {
		errs = append(errs, err)
	}
	if o.SecurityMirror != "" {
		if err := validateMirror("security mirror", o.SecurityMirror); err != nil {
			errs = append(errs, err)
		}
	}
	for _, pkg := range o.ExtraPackages {
		if strings.TrimSpace(pkg) == "" || strings.ContainsAny(pkg, " ,\t\n") {
			errs = append(errs, fmt.Errorf("invalid package name %q", pkg))
		}
	}
	if len(o.AllPackages()) == 0 {
		errs = append(errs, errors.New("package set is empty"))
	}
	if o.Hostname == "" {
		errs = append(errs, errors.New("hostname is required"))
	}
	if o.Interface == "" {
		errs = append(errs, errors.New("network interface is required"))
	}
	if o.Console == "" {
		errs = append(errs, errors.New("serial console is required"))
	}
	if o.Baud <= 0 {
		errs = append(errs, fmt.Errorf("invalid baud rate %d", o.Baud))
	}

	return errors.Join(errs...)
}

func validateTarget(target string, isArchive bool) error {
	switch strings.TrimSpace(target) {
	case "":
		return errors.New("target is required")
	case ".", "/":
		return fmt.Errorf("refusing to use %q as target", target)
	}
	if isArchive {
		if _, err := archive.CompressionFor(target); err != nil {
			return err
		}
		if archive.BaseName(target) == "" {
			return fmt.Errorf("archive name %q has an empty base name", target)
		}
	}
	return nil
}

func validateMirror(name, value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if u.Scheme == "" || (u.Host == "" && u.Scheme != "file") {
		return fmt.Errorf("invalid %s %q: want an absolute URL", name, value)
	}
	return nil
}
