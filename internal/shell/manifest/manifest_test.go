package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/slipway/internal/core/props"
)

// =============================================================================
// Test Fixtures
// =============================================================================

const minimalManifest = `
apps:
  - name: ticker
    artifact: /opt/apps/ticker
`

const fullManifest = `
apps:
  - name: ticker
    artifact: /opt/apps/ticker.jar
    count: 2
    properties:
      feed.url: http://localhost:9000/feed
    deployment:
      health-probe.path: /actuator/health

  - name: billing
    artifact: /opt/apps/billing
    deployment:
      count: "3"
      debug-port: "9999"
`

// =============================================================================
// Input Validation Tests
// =============================================================================

func TestParse_EmptyInput(t *testing.T) {
	_, err := Parse(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyManifest)
}

func TestParse_WhitespaceOnly(t *testing.T) {
	_, err := Parse([]byte("   \n\t  "))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyManifest)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("apps: [unclosed"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestParse_NoApps(t *testing.T) {
	_, err := Parse([]byte("apps: []"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoApps)
}

func TestParse_NoAppsKey(t *testing.T) {
	_, err := Parse([]byte("something: else"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoApps)
}

// =============================================================================
// App Entry Validation Tests
// =============================================================================

func TestParse_MissingName(t *testing.T) {
	_, err := Parse([]byte("apps:\n  - artifact: /opt/apps/ticker\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingName)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "apps[0].name", parseErr.Field)
}

func TestParse_MissingArtifact(t *testing.T) {
	yaml := `
apps:
  - name: ticker
    artifact: /opt/apps/ticker
  - name: billing
`
	_, err := Parse([]byte(yaml))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingArtifact)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "apps[1].artifact", parseErr.Field)
}

func TestParse_NegativeCount(t *testing.T) {
	yaml := `
apps:
  - name: ticker
    artifact: /opt/apps/ticker
    count: -1
`
	_, err := Parse([]byte(yaml))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCount)
}

// =============================================================================
// Parsing Tests
// =============================================================================

func TestParse_MinimalApp(t *testing.T) {
	m, err := Parse([]byte(minimalManifest))
	require.NoError(t, err)
	require.Len(t, m.Apps, 1)

	app := m.Apps[0]
	assert.Equal(t, "ticker", app.Name)
	assert.Equal(t, "/opt/apps/ticker", app.Artifact)
	assert.Zero(t, app.Count)
	assert.Empty(t, app.Properties)
	assert.Empty(t, app.Deployment)
}

func TestParse_FullManifest(t *testing.T) {
	m, err := Parse([]byte(fullManifest))
	require.NoError(t, err)
	require.Len(t, m.Apps, 2)

	ticker := m.Apps[0]
	assert.Equal(t, "ticker", ticker.Name)
	assert.Equal(t, "/opt/apps/ticker.jar", ticker.Artifact)
	assert.Equal(t, 2, ticker.Count)
	assert.Equal(t, "http://localhost:9000/feed", ticker.Properties["feed.url"])
	assert.Equal(t, "/actuator/health", ticker.Deployment["health-probe.path"])

	billing := m.Apps[1]
	assert.Equal(t, "billing", billing.Name)
	assert.Equal(t, "3", billing.Deployment["count"])
	assert.Equal(t, "9999", billing.Deployment["debug-port"])
}

// =============================================================================
// Request Conversion Tests
// =============================================================================

func TestRequest_CountShorthand(t *testing.T) {
	m, err := Parse([]byte(fullManifest))
	require.NoError(t, err)

	req := m.Apps[0].Request()
	assert.Equal(t, "ticker", req.Definition.Name)
	assert.Equal(t, "/opt/apps/ticker.jar", req.Artifact)

	parsed, err := props.Parse(req.Properties)
	require.NoError(t, err)
	assert.Equal(t, 2, parsed.Count)
	assert.Equal(t, "/actuator/health", parsed.HealthProbePath)
}

func TestRequest_CountShorthandWinsOverProperty(t *testing.T) {
	app := App{
		Name:       "ticker",
		Artifact:   "/opt/apps/ticker",
		Count:      2,
		Deployment: map[string]string{"deployer.local.count": "5"},
	}

	parsed, err := props.Parse(app.Request().Properties)
	require.NoError(t, err)
	assert.Equal(t, 2, parsed.Count)
}

func TestRequest_CountPropertyWithoutShorthand(t *testing.T) {
	m, err := Parse([]byte(fullManifest))
	require.NoError(t, err)

	parsed, err := props.Parse(m.Apps[1].Request().Properties)
	require.NoError(t, err)
	assert.Equal(t, 3, parsed.Count)
	assert.Equal(t, 9999, parsed.DebugPort)
}

func TestRequests_PreservesFileOrder(t *testing.T) {
	m, err := Parse([]byte(fullManifest))
	require.NoError(t, err)

	requests := m.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, "ticker", requests[0].Definition.Name)
	assert.Equal(t, "billing", requests[1].Definition.Name)
}

// =============================================================================
// Load Tests
// =============================================================================

func TestLoad_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apps.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalManifest), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	require.Len(t, m.Apps, 1)
	assert.Equal(t, "ticker", m.Apps[0].Name)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_ParseErrorsMentionPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apps.yaml")
	require.NoError(t, os.WriteFile(path, []byte("apps: []"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoApps)
	assert.Contains(t, err.Error(), path)
}
