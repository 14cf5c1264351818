package deployer

import (
	"os"
	"path/filepath"
	"time"

	"github.com/artpar/slipway/internal/core/launch"
)

// Config configures the deployer.
type Config struct {
	// WorkDirsRoot is the base directory for instance working directories.
	// Deployment requests can override it per deployment.
	// Default: <temp dir>/slipway.
	WorkDirsRoot string

	// ProbeInterval is the time between probe attempts per instance.
	// Default: 500 milliseconds.
	ProbeInterval time.Duration

	// ProbeTimeout is the per-attempt probe timeout.
	// Default: 2 seconds.
	ProbeTimeout time.Duration

	// StopGrace is how long an instance gets to exit after SIGTERM before
	// it is killed.
	// Default: 30 seconds.
	StopGrace time.Duration

	// DeleteWorkDirs removes instance working directories once a deployment
	// is fully undeployed. Directories are kept by default so captured logs
	// survive for post-hoc inspection.
	DeleteWorkDirs bool

	// InheritPatterns lists the parent environment variables passed on to
	// child processes, as anchored regular expressions.
	// Default: launch.DefaultInheritPatterns.
	InheritPatterns []string

	// JavaCommand runs JAR artifacts.
	// Default: "java".
	JavaCommand string
}

// DefaultConfig returns the default deployer configuration.
func DefaultConfig() Config {
	return Config{
		WorkDirsRoot:    filepath.Join(os.TempDir(), "slipway"),
		ProbeInterval:   500 * time.Millisecond,
		ProbeTimeout:    2 * time.Second,
		StopGrace:       30 * time.Second,
		InheritPatterns: launch.DefaultInheritPatterns,
		JavaCommand:     launch.DefaultJavaCommand,
	}
}
