package launcher

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrArtifactNotFound is returned when the artifact path does not exist
	// or is not a regular file.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrSpawnFailed is returned when the OS refuses to start the process.
	ErrSpawnFailed = errors.New("process could not be started")

	// ErrLogSetup is returned when the stdout/stderr capture files cannot
	// be created in the instance working directory.
	ErrLogSetup = errors.New("log capture setup failed")
)

// LaunchError wraps launch failures with instance context. Launch failures
// surface synchronously from deploy; everything after a successful spawn is
// reported through status instead.
type LaunchError struct {
	DeploymentID string
	Index        int
	Err          error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s instance %d: %v", e.DeploymentID, e.Index, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// NewLaunchError creates a new LaunchError.
func NewLaunchError(deploymentID string, index int, err error) *LaunchError {
	return &LaunchError{
		DeploymentID: deploymentID,
		Index:        index,
		Err:          err,
	}
}
