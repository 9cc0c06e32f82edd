package config

import (
	"context"
	"log/slog"

	"github.com/cochaviz/rootstrap/arch"
	"github.com/cochaviz/rootstrap/internal/archive"
	"github.com/cochaviz/rootstrap/internal/command"
	"github.com/cochaviz/rootstrap/internal/logging"
	"github.com/cochaviz/rootstrap/internal/mount"
	"github.com/cochaviz/rootstrap/internal/preflight"
	"github.com/cochaviz/rootstrap/internal/provision"
	"github.com/cochaviz/rootstrap/internal/provision/adapters/debootstrap"
	"github.com/cochaviz/rootstrap/internal/provision/adapters/target"
)

var DefaultMirror = "http://deb.debian.org/debian"
var DefaultSecurityMirror = "http://security.debian.org/debian-security"
var DefaultComponents = []string{"main"}
var DefaultPackages = []string{"locales", "tzdata", "ifupdown", "isc-dhcp-client", "netbase", "openssh-server"}
var DefaultHostname = "debian"
var DefaultInterface = "eth0"
var DefaultConsole = "ttyS0"
var DefaultBaud = 115200

// Request is what the command line contributes to a run.
type Request struct {
	Architecture  arch.Architecture
	Distribution  string
	Target        string
	Archive       bool
	ExtraPackages []string
	// Mirror overrides the profile mirror when set.
	Mirror string
	// NoShell skips the operator shell regardless of the profile.
	NoShell bool
}

// Options merges the profile and the request, the request taking precedence.
func Options(profile Profile, req Request) provision.Options {
	mirror := profile.Mirror
	if req.Mirror != "" {
		mirror = req.Mirror
	}
	return provision.Options{
		Architecture:   req.Architecture,
		Distribution:   req.Distribution,
		Target:         req.Target,
		Archive:        req.Archive,
		Packages:       append([]string(nil), profile.Packages...),
		ExtraPackages:  append([]string(nil), req.ExtraPackages...),
		Mirror:         mirror,
		SecurityMirror: profile.SecurityMirror,
		Components:     append([]string(nil), profile.Components...),
		Hostname:       profile.Hostname,
		Interface:      profile.Interface,
		Console:        profile.Console,
		Baud:           profile.Baud,
		Shell:          profile.Shell && !req.NoShell,
	}
}

// NewService wires the provisioning service with the host implementations.
func NewService(logger *slog.Logger) *provision.Service {
	logger = logging.Ensure(logger)
	runner := &command.ExecRunner{Logger: logger.With("component", "command")}
	mounter := mount.System{}

	return &provision.Service{
		Logger:  logger.With("service", "provision"),
		Checker: &preflight.Checker{Logger: logger.With("component", "preflight")},
		EnvironmentPreparer: &target.Preparer{
			Mounter: mounter,
			Logger:  logger,
		},
		Driver:       &debootstrap.Driver{Runner: runner, Mounter: mounter, Logger: logger},
		Configurator: &debootstrap.Configurator{Runner: runner, Logger: logger},
		Shell:        &debootstrap.Shell{Runner: runner, Logger: logger},
		Archiver:     &archive.Writer{Logger: logger.With("component", "archive")},
	}
}

// Provision runs a complete provisioning pass for opts on this host.
func Provision(ctx context.Context, opts provision.Options, logger *slog.Logger) error {
	return NewService(logger).Run(ctx, opts)
}
