// Package target prepares the directory a root filesystem is built in.
package target

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/cochaviz/rootstrap/internal/archive"
	"github.com/cochaviz/rootstrap/internal/logging"
	"github.com/cochaviz/rootstrap/internal/mount"
	"github.com/cochaviz/rootstrap/internal/provision"
)

var _ provision.EnvironmentPreparer = (*Preparer)(nil)

// Preparer turns the run target into a root-owned tree. In archive mode the
// tree lives in a fresh temporary directory that is removed on cleanup.
type Preparer struct {
	// TempDir is where archive-mode work directories are created; os.TempDir() by default.
	TempDir string
	Mounter mount.Mounter
	// Chown defaults to os.Chown.
	Chown  func(path string, uid, gid int) error
	Logger *slog.Logger
}

// Prepare validates the target and returns its environment.
func (p *Preparer) Prepare(opts provision.Options) (provision.Environment, error) {
	if opts.Archive {
		return p.prepareArchive(opts)
	}
	return p.prepareDirectory(opts)
}

func (p *Preparer) prepareDirectory(opts provision.Options) (provision.Environment, error) {
	root, err := absTarget(opts.Target)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("target %q does not exist", root)
		}
		return nil, fmt.Errorf("stat target %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("target %q is not a directory", root)
	}
	// mount points are compared against mountinfo, which lists resolved paths
	if root, err = filepath.EvalSymlinks(root); err != nil {
		return nil, fmt.Errorf("resolve target: %w", err)
	}
	if err := p.chown(root); err != nil {
		return nil, err
	}

	p.logger().Debug("using target directory", "root", root)
	return p.environment(root, "", ""), nil
}

func (p *Preparer) prepareArchive(opts provision.Options) (provision.Environment, error) {
	dst, err := absTarget(opts.Target)
	if err != nil {
		return nil, err
	}
	if _, err := archive.CompressionFor(dst); err != nil {
		return nil, err
	}
	base := archive.BaseName(dst)
	if base == "" {
		return nil, fmt.Errorf("archive name %q has an empty base name", opts.Target)
	}
	parent := filepath.Dir(dst)
	if info, err := os.Stat(parent); err != nil {
		return nil, fmt.Errorf("archive directory %q: %w", parent, err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("archive directory %q is not a directory", parent)
	}

	workDir, err := os.MkdirTemp(p.TempDir, fmt.Sprintf("rootstrap-%s-*", opts.RunID))
	if err != nil {
		return nil, fmt.Errorf("create workdir: %w", err)
	}
	resolvedDir, err := filepath.EvalSymlinks(workDir)
	if err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("resolve workdir: %w", err)
	}
	workDir = resolvedDir
	root := filepath.Join(workDir, base)
	if err := os.Mkdir(root, 0o755); err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("create target: %w", err)
	}
	if err := p.chown(root); err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}

	p.logger().Debug("created archive work directory", "workdir", workDir, "root", root, "archive", dst)
	return p.environment(root, dst, workDir), nil
}

func (p *Preparer) environment(root, archivePath, workDir string) *Environment {
	mounter := p.Mounter
	if mounter == nil {
		mounter = mount.System{}
	}
	return &Environment{
		root:        root,
		archivePath: archivePath,
		workDir:     workDir,
		mounter:     mounter,
		logger:      p.logger(),
	}
}

func (p *Preparer) chown(root string) error {
	chown := p.Chown
	if chown == nil {
		chown = os.Chown
	}
	if err := chown(root, 0, 0); err != nil {
		return fmt.Errorf("chown target to root: %w", err)
	}
	return nil
}

func (p *Preparer) logger() *slog.Logger {
	return logging.Ensure(p.Logger).With("component", "target")
}

func absTarget(target string) (string, error) {
	switch target {
	case "", ".", "/":
		return "", fmt.Errorf("invalid target %q", target)
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve target %q: %w", target, err)
	}
	if abs == "/" {
		return "", fmt.Errorf("invalid target %q", target)
	}
	return abs, nil
}

var _ provision.Environment = (*Environment)(nil)

// Environment is a prepared target tree.
type Environment struct {
	root        string
	archivePath string
	workDir     string
	mounter     mount.Mounter
	logger      *slog.Logger

	once       sync.Once
	cleanupErr error
}

func (e *Environment) Root() string {
	return e.root
}

func (e *Environment) ArchivePath() string {
	return e.archivePath
}

// WorkDir is the temporary directory holding the tree in archive mode.
func (e *Environment) WorkDir() string {
	return e.workDir
}

// Cleanup detaches the virtual filesystems and, in archive mode, removes the
// work directory. Only the first call does any work.
func (e *Environment) Cleanup() error {
	e.once.Do(func() {
		e.cleanupErr = e.cleanup()
	})
	return e.cleanupErr
}

func (e *Environment) cleanup() error {
	if err := mount.UnmountVirtual(e.mounter, e.root); err != nil {
		e.logger.Debug("unmount during cleanup", "error", err)
	}
	if e.workDir == "" {
		return nil
	}

	for _, p := range mount.Virtual {
		dir := filepath.Join(e.root, p.Dir)
		mounted, err := e.mounter.IsMounted(dir)
		if err != nil {
			return fmt.Errorf("keeping workdir %q: %w", e.workDir, err)
		}
		if mounted {
			return fmt.Errorf("keeping workdir %q: %s is still mounted", e.workDir, dir)
		}
	}
	if err := os.RemoveAll(e.workDir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove workdir: %w", err)
	}
	e.logger.Debug("removed work directory", "workdir", e.workDir)
	return nil
}
