package props

import (
	"testing"

	"github.com/artpar/slipway/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// NormalizeKey Tests
// =============================================================================

func TestNormalizeKey_TableDriven(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"already canonical", "debug-port", "debug-port"},
		{"camelCase", "debugPort", "debug-port"},
		{"camelCase suspend", "debugSuspend", "debug-suspend"},
		{"prefixed dashed", "deployer.local.debug-port", "debug-port"},
		{"prefixed camelCase", "deployer.local.debugSuspend", "debug-suspend"},
		{"dotted camelCase", "startupProbe.path", "startup-probe.path"},
		{"dotted canonical", "health-probe.path", "health-probe.path"},
		{"prefixed dotted", "deployer.local.startupProbe.path", "startup-probe.path"},
		{"long camelCase", "workingDirectoriesRoot", "working-directories-root"},
		{"plain word", "count", "count"},
		{"count alias", "instance-count", "count"},
		{"count alias camelCase", "instanceCount", "count"},
		{"count alias prefixed", "deployer.local.instance-count", "count"},
		{"unrecognized key passes through", "someOtherKey", "some-other-key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeKey(tt.input))
		})
	}
}

// =============================================================================
// Normalize Tests
// =============================================================================

func TestNormalize_CanonicalWinsOverAlias(t *testing.T) {
	raw := map[string]string{
		"debug-port": "7777",
		"debugPort":  "8888",
	}

	out := Normalize(raw)
	assert.Equal(t, "7777", out["debug-port"])
	assert.Len(t, out, 1)
}

func TestNormalize_AliasUsedWhenNoCanonical(t *testing.T) {
	raw := map[string]string{
		"deployer.local.debugPort": "8888",
	}

	out := Normalize(raw)
	assert.Equal(t, "8888", out["debug-port"])
}

func TestNormalize_Empty(t *testing.T) {
	out := Normalize(nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

// =============================================================================
// Parse Tests
// =============================================================================

func TestParse_Defaults(t *testing.T) {
	p, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, 1, p.Count)
	assert.Equal(t, 0, p.DebugPort)
	assert.False(t, p.DebugSuspend)
	assert.False(t, p.InheritLogging)
	assert.Empty(t, p.WorkDirsRoot)
	assert.Empty(t, p.StartupProbePath)
	assert.Empty(t, p.HealthProbePath)
	assert.False(t, p.DebugEnabled())
}

func TestParse_AllKeysDashed(t *testing.T) {
	p, err := Parse(map[string]string{
		"count":                    "3",
		"debug-port":               "9999",
		"debug-suspend":            "y",
		"inherit-logging":          "true",
		"working-directories-root": "/var/run/apps",
		"startup-probe.path":       "/actuator/info",
		"health-probe.path":        "/actuator/health",
	})
	require.NoError(t, err)

	assert.Equal(t, 3, p.Count)
	assert.Equal(t, 9999, p.DebugPort)
	assert.True(t, p.DebugSuspend)
	assert.True(t, p.InheritLogging)
	assert.Equal(t, "/var/run/apps", p.WorkDirsRoot)
	assert.Equal(t, "/actuator/info", p.StartupProbePath)
	assert.Equal(t, "/actuator/health", p.HealthProbePath)
	assert.True(t, p.DebugEnabled())
}

func TestParse_AllKeysCamelCaseWithPrefix(t *testing.T) {
	p, err := Parse(map[string]string{
		"deployer.local.debugPort":              "8888",
		"deployer.local.debugSuspend":           "y",
		"deployer.local.inheritLogging":         "true",
		"deployer.local.workingDirectoriesRoot": "/tmp/apps",
		"deployer.local.startupProbe.path":      "/actuator/info",
		"deployer.local.healthProbe.path":       "/actuator/health",
	})
	require.NoError(t, err)

	assert.Equal(t, 8888, p.DebugPort)
	assert.True(t, p.DebugSuspend)
	assert.True(t, p.InheritLogging)
	assert.Equal(t, "/tmp/apps", p.WorkDirsRoot)
	assert.Equal(t, "/actuator/info", p.StartupProbePath)
	assert.Equal(t, "/actuator/health", p.HealthProbePath)
}

func TestParse_InstanceCountAlias(t *testing.T) {
	p, err := Parse(map[string]string{"instance-count": "4"})
	require.NoError(t, err)
	assert.Equal(t, 4, p.Count)

	// The recognized spelling wins when both appear.
	p, err = Parse(map[string]string{"count": "2", "instance-count": "5"})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Count)
}

func TestParse_DebugSuspendNo(t *testing.T) {
	p, err := Parse(map[string]string{"debug-suspend": "n"})
	require.NoError(t, err)
	assert.False(t, p.DebugSuspend)
}

func TestParse_InvalidCount(t *testing.T) {
	_, err := Parse(map[string]string{"count": "zero"})
	assert.Error(t, err)

	_, err = Parse(map[string]string{"count": "0"})
	assert.ErrorIs(t, err, domain.ErrInvalidCount)

	_, err = Parse(map[string]string{"count": "-2"})
	assert.ErrorIs(t, err, domain.ErrInvalidCount)
}

func TestParse_InvalidDebugPort(t *testing.T) {
	_, err := Parse(map[string]string{"debug-port": "not-a-port"})
	assert.Error(t, err)
}

func TestParse_InvalidInheritLogging(t *testing.T) {
	_, err := Parse(map[string]string{"inherit-logging": "maybe"})
	assert.Error(t, err)
}
