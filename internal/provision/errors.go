package provision

import "fmt"

// Step names reported by StepError and in logs.
const (
	StepPrepare   = "prepare target"
	StepBootstrap = "bootstrap"
	StepConfigure = "configure"
	StepShell     = "shell"
	StepFinalize  = "finalize"
	StepArchive   = "archive"
)

// StepError wraps the failure of a single provisioning step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
