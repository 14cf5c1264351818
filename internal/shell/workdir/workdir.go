// Package workdir allocates per-instance working directories.
package workdir

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrAlreadyAllocated is returned when the directory for a
	// deployment+index pair already exists. Deployment ids are never reused,
	// so this indicates a collision rather than a retry.
	ErrAlreadyAllocated = errors.New("working directory already allocated")
)

// =============================================================================
// Manager
// =============================================================================

// Manager creates instance working directories under a configurable root.
// Allocation takes no shared locks: concurrent deploys of different
// deployment ids race only on os.Mkdir, which the OS arbitrates.
type Manager struct {
	defaultRoot string
}

// NewManager creates a Manager. An empty root selects the platform temp
// location.
func NewManager(defaultRoot string) *Manager {
	if defaultRoot == "" {
		defaultRoot = filepath.Join(os.TempDir(), "slipway")
	}
	return &Manager{defaultRoot: defaultRoot}
}

// Resolve returns the effective root for one deployment: the per-request
// override when set, otherwise the manager default.
func (m *Manager) Resolve(override string) string {
	if override != "" {
		return override
	}
	return m.defaultRoot
}

// Allocate creates exactly one new directory for an instance, named
// <root>/<deploymentID>-<index>, one level under the root. The directory
// must not pre-exist. It is never removed on undeploy; captured logs stay
// inspectable after teardown.
func (m *Manager) Allocate(rootOverride, deploymentID string, index int) (string, error) {
	root := m.Resolve(rootOverride)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create working directory root %s: %w", root, err)
	}

	dir := filepath.Join(root, fmt.Sprintf("%s-%d", deploymentID, index))
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%s: %w", dir, ErrAlreadyAllocated)
		}
		return "", fmt.Errorf("create working directory %s: %w", dir, err)
	}
	return dir, nil
}

// Remove deletes one instance working directory and everything in it. Only
// called when file cleanup is explicitly enabled.
func (m *Manager) Remove(dir string) error {
	return os.RemoveAll(dir)
}
