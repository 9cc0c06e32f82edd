package provision

import (
	"context"

	"github.com/cochaviz/rootstrap/arch"
	"github.com/cochaviz/rootstrap/internal/preflight"
)

// Checker verifies the host before anything is touched.
type Checker interface {
	Check(a arch.Architecture) (preflight.Toolchain, error)
}

// EnvironmentPreparer creates the target tree for a run.
type EnvironmentPreparer interface {
	Prepare(opts Options) (Environment, error)
}

// Environment is a prepared target tree. Cleanup must be safe to call more than once.
type Environment interface {
	// Root is the absolute path of the target tree.
	Root() string
	// ArchivePath is the absolute archive destination, or "" in directory mode.
	ArchivePath() string
	Cleanup() error
}

// BootstrapDriver installs the base system into the target and tears down what
// it set up once the target is complete.
type BootstrapDriver interface {
	Bootstrap(ctx context.Context, opts Options, env Environment, tools preflight.Toolchain) error
	Finalize(ctx context.Context, opts Options, env Environment) error
}

// Configurator applies the boot, network and account configuration.
type Configurator interface {
	Configure(ctx context.Context, opts Options, env Environment) error
}

// Shell hands the target over to the operator.
type Shell interface {
	Open(ctx context.Context, env Environment) error
}

// Archiver packs the finished tree.
type Archiver interface {
	Create(ctx context.Context, root, dst string) error
}
