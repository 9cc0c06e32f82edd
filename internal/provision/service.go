package provision

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
)

// Service runs a provisioning pass: host checks, target preparation, bootstrap,
// configuration, the optional operator shell, finalization and packaging.
type Service struct {
	Logger              *slog.Logger
	Checker             Checker
	EnvironmentPreparer EnvironmentPreparer
	Driver              BootstrapDriver
	Configurator        Configurator
	Shell               Shell
	Archiver            Archiver
}

func (s *Service) Run(ctx context.Context, opts Options) error {
	if err := s.validate(); err != nil {
		return err
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	logger := s.logger().With(
		"run", opts.RunID,
		"arch", opts.Architecture.String(),
		"dist", opts.Distribution,
	)
	logger.Info("starting provisioning", "target", opts.Target, "archive", opts.Archive)

	tools, err := s.Checker.Check(opts.Architecture)
	if err != nil {
		return err
	}

	env, err := s.EnvironmentPreparer.Prepare(opts)
	if err != nil {
		return &StepError{Step: StepPrepare, Err: err}
	}
	defer func() {
		if cleanupErr := env.Cleanup(); cleanupErr != nil {
			logger.Warn("cleanup incomplete", "error", cleanupErr)
		}
	}()
	logger = logger.With("root", env.Root())
	logger.Info("target prepared")

	steps := []struct {
		name string
		skip bool
		run  func() error
	}{
		{StepBootstrap, false, func() error { return s.Driver.Bootstrap(ctx, opts, env, tools) }},
		{StepConfigure, false, func() error { return s.Configurator.Configure(ctx, opts, env) }},
		{StepShell, !opts.Shell || s.Shell == nil, func() error { return s.Shell.Open(ctx, env) }},
		{StepFinalize, false, func() error { return s.Driver.Finalize(ctx, opts, env) }},
		{StepArchive, env.ArchivePath() == "", func() error { return s.Archiver.Create(ctx, env.Root(), env.ArchivePath()) }},
	}

	for _, step := range steps {
		if step.skip {
			logger.Debug("skipping step", "step", step.name)
			continue
		}
		if err := ctx.Err(); err != nil {
			return &StepError{Step: step.name, Err: err}
		}
		logger.Info("running step", "step", step.name)
		if err := step.run(); err != nil {
			logger.Error("step failed", "step", step.name, "error", err)
			return &StepError{Step: step.name, Err: err}
		}
	}

	if path := env.ArchivePath(); path != "" {
		logger.Info("provisioning complete", "archive", path)
	} else {
		logger.Info("provisioning complete")
	}
	return nil
}

func (s *Service) validate() error {
	var errs []error
	if s.Checker == nil {
		errs = append(errs, errors.New("precondition checker is not configured"))
	}
	if s.EnvironmentPreparer == nil {
		errs = append(errs, errors.New("environment preparer is not configured"))
	}
	if s.Driver == nil {
		errs = append(errs, errors.New("bootstrap driver is not configured"))
	}
	if s.Configurator == nil {
		errs = append(errs, errors.New("configurator is not configured"))
	}
	if s.Archiver == nil {
		errs = append(errs, errors.New("archiver is not configured"))
	}
	return errors.Join(errs...)
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
