package workdir

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Allocation Tests
// =============================================================================

func TestAllocate_CreatesDirectory(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)

	dir, err := m.Allocate("", "ticker-abc12345", 0)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "ticker-abc12345-0"), dir)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestAllocate_DuplicateFails(t *testing.T) {
	m := NewManager(t.TempDir())

	_, err := m.Allocate("", "ticker-abc12345", 0)
	require.NoError(t, err)

	_, err = m.Allocate("", "ticker-abc12345", 0)
	assert.ErrorIs(t, err, ErrAlreadyAllocated)
}

func TestAllocate_OverrideRoot(t *testing.T) {
	defaultRoot := t.TempDir()
	override := t.TempDir()
	m := NewManager(defaultRoot)

	dir, err := m.Allocate(override, "ticker-abc12345", 1)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(override, "ticker-abc12345-1"), dir)
	entries, err := os.ReadDir(defaultRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAllocate_CreatesRootOnDemand(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "apps")
	m := NewManager(root)

	_, err := m.Allocate("", "ticker-abc12345", 0)
	require.NoError(t, err)

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

// Mirrors the workdir counting checks callers rely on: N allocations against
// a fixed root add exactly N subdirectories.
func TestAllocate_CountGrowsByExactlyN(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)

	before, err := os.ReadDir(root)
	require.NoError(t, err)

	const n = 5
	for i := 0; i < n; i++ {
		_, err := m.Allocate("", fmt.Sprintf("app-%08d", i), 0)
		require.NoError(t, err)
	}

	after, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, after, len(before)+n)
}

func TestAllocate_ConcurrentDeployments(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Allocate("", fmt.Sprintf("app-%08d", i), 0)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "allocation %d", i)
	}
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, n)
}

func TestRemove(t *testing.T) {
	m := NewManager(t.TempDir())

	dir, err := m.Allocate("", "ticker-abc12345", 0)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stdout.log"), []byte("banner"), 0o644))

	require.NoError(t, m.Remove(dir))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestResolve(t *testing.T) {
	m := NewManager("/var/lib/slipway/apps")

	assert.Equal(t, "/var/lib/slipway/apps", m.Resolve(""))
	assert.Equal(t, "/tmp/other", m.Resolve("/tmp/other"))
}

func TestNewManager_DefaultRoot(t *testing.T) {
	m := NewManager("")

	assert.Equal(t, filepath.Join(os.TempDir(), "slipway"), m.Resolve(""))
}
