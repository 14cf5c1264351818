// Package launcher spawns and supervises instance processes via os/exec.
// The functional core (internal/core/launch) plans the command line and
// environment; this package only executes the plan.
package launcher

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Log capture file names inside each instance working directory.
const (
	StdoutLogName = "stdout.log"
	StderrLogName = "stderr.log"
)

// =============================================================================
// Launcher
// =============================================================================

// Launcher starts instance processes with their stdio captured to files in
// the instance working directory, or inherited from the parent when
// requested.
type Launcher struct {
	logger *slog.Logger
}

// NewLauncher creates a Launcher.
func NewLauncher(logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		logger: logger.With("component", "launcher"),
	}
}

// LaunchSpec carries everything Launch needs for one instance.
type LaunchSpec struct {
	DeploymentID   string
	Index          int
	Command        []string
	Env            []string
	WorkDir        string
	InheritLogging bool
}

// Launch starts one instance process. The process runs with the working
// directory as its cwd and exactly the environment given in the spec. Any
// failure to start is a LaunchError; once Launch returns, all further
// lifecycle is observed through the returned Process.
func (l *Launcher) Launch(spec LaunchSpec) (*Process, error) {
	if len(spec.Command) == 0 {
		return nil, NewLaunchError(spec.DeploymentID, spec.Index, fmt.Errorf("%w: empty command", ErrSpawnFailed))
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.WorkDir
	cmd.Env = spec.Env

	var stdout, stderr *os.File
	if spec.InheritLogging {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		var err error
		stdout, err = os.Create(filepath.Join(spec.WorkDir, StdoutLogName))
		if err != nil {
			return nil, NewLaunchError(spec.DeploymentID, spec.Index, fmt.Errorf("%w: %v", ErrLogSetup, err))
		}
		stderr, err = os.Create(filepath.Join(spec.WorkDir, StderrLogName))
		if err != nil {
			stdout.Close()
			return nil, NewLaunchError(spec.DeploymentID, spec.Index, fmt.Errorf("%w: %v", ErrLogSetup, err))
		}
		cmd.Stdout = stdout
		cmd.Stderr = stderr
	}

	if err := cmd.Start(); err != nil {
		if stdout != nil {
			stdout.Close()
		}
		if stderr != nil {
			stderr.Close()
		}
		return nil, NewLaunchError(spec.DeploymentID, spec.Index, fmt.Errorf("%w: %v", ErrSpawnFailed, err))
	}

	l.logger.Info("instance process started",
		"deployment_id", spec.DeploymentID,
		"index", spec.Index,
		"pid", cmd.Process.Pid,
		"inherit_logging", spec.InheritLogging,
	)

	return newProcess(cmd, stdout, stderr), nil
}

// CheckArtifact verifies the artifact exists as a regular file. Run before
// planning any command so a bad path fails the whole deploy synchronously.
func CheckArtifact(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, ErrArtifactNotFound)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory: %w", path, ErrArtifactNotFound)
	}
	return nil
}

// CombinedLog reads the captured stdout then stderr for one instance
// working directory. Missing files read as empty: instances with inherited
// logging have nothing to contribute, and that is not an error.
func CombinedLog(workDir string) string {
	var b strings.Builder
	for _, name := range []string{StdoutLogName, StderrLogName} {
		data, err := os.ReadFile(filepath.Join(workDir, name))
		if err == nil {
			b.Write(data)
		}
	}
	return b.String()
}
