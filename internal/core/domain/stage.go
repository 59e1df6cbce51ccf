package domain

import (
	"errors"
	"fmt"
)

// =============================================================================
// Pipeline Stages
// =============================================================================

// Stage identifies a step of the deployment pipeline.
type Stage string

const (
	StageResolvingTarget  Stage = "resolving_target"
	StageCreating         Stage = "creating"
	StageUpdating         Stage = "updating"
	StageBuilding         Stage = "building_image"
	StageConfiguringProxy Stage = "configuring_proxy"
	StageLaunching        Stage = "launching"
	StageRegistering      Stage = "registering"
	StageDone             Stage = "done"
)

// =============================================================================
// Deployment Errors
// =============================================================================

var (
	// ErrInvalidDomain is returned when the target domain fails the
	// hostname grammar check. This aborts the pipeline.
	ErrInvalidDomain = errors.New("invalid domain name")

	// ErrCloneFailed is returned when the repository cannot be cloned or
	// pulled. Usually a network, auth, or URL problem.
	ErrCloneFailed = errors.New("repository clone failed")

	// ErrBuildFailed is returned when the image build exits non-zero.
	// A broken image is never promoted past this stage.
	ErrBuildFailed = errors.New("image build failed")

	// ErrProxyWriteFailed is returned when the proxy vhost cannot be
	// written or the daemon cannot be reloaded.
	ErrProxyWriteFailed = errors.New("proxy configuration failed")

	// ErrLaunchFailed is returned when the container cannot be started.
	ErrLaunchFailed = errors.New("container launch failed")

	// ErrRegistrationFailed marks a remote-notify or local-persist
	// failure after launch. Downgraded to a warning by the orchestrator.
	ErrRegistrationFailed = errors.New("deployment registration failed")
)

// StageError wraps an error with the pipeline stage it occurred in.
type StageError struct {
	Stage   Stage
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError creates a StageError.
func NewStageError(stage Stage, message string, err error) *StageError {
	return &StageError{Stage: stage, Message: message, Err: err}
}

// FailedStage extracts the stage from an error chain, or "" if the
// error did not originate in a pipeline stage.
func FailedStage(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
