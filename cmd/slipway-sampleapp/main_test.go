package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/slipway/internal/core/launch"
)

// =============================================================================
// Port Resolution Tests
// =============================================================================

func TestResolvePort_FlagDefault(t *testing.T) {
	t.Setenv(launch.EnvServerPort, "")
	t.Setenv(launch.EnvDottedServerPort, "")

	assert.Equal(t, 8080, resolvePort(8080))
}

func TestResolvePort_ServerPortWins(t *testing.T) {
	t.Setenv(launch.EnvServerPort, "9191")
	t.Setenv(launch.EnvDottedServerPort, "9292")

	assert.Equal(t, 9191, resolvePort(8080))
}

func TestResolvePort_DottedSpellingFallback(t *testing.T) {
	t.Setenv(launch.EnvServerPort, "")
	t.Setenv(launch.EnvDottedServerPort, "9292")

	assert.Equal(t, 9292, resolvePort(8080))
}

func TestResolvePort_IgnoresGarbage(t *testing.T) {
	t.Setenv(launch.EnvServerPort, "eighty")
	t.Setenv(launch.EnvDottedServerPort, "")

	assert.Equal(t, 8080, resolvePort(8080))
}

func TestResolveFailAfter_FlagWins(t *testing.T) {
	t.Setenv("FAIL_HEALTH_AFTER", "5s")

	assert.Equal(t, time.Second, resolveFailAfter(time.Second))
}

func TestResolveFailAfter_EnvFallback(t *testing.T) {
	t.Setenv("FAIL_HEALTH_AFTER", "5s")

	assert.Equal(t, 5*time.Second, resolveFailAfter(0))
}

func TestResolveFailAfter_BadEnvIgnored(t *testing.T) {
	t.Setenv("FAIL_HEALTH_AFTER", "soon")

	assert.Equal(t, time.Duration(0), resolveFailAfter(0))
}

// =============================================================================
// Endpoint Tests
// =============================================================================

func getJSON(t *testing.T, handler http.Handler, path string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealth_Up(t *testing.T) {
	a := newApp(0)

	code, body := getJSON(t, a.routes(), "/actuator/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "UP", body["status"])
}

func TestHealth_DownAfterDeadline(t *testing.T) {
	a := newApp(time.Second)
	a.started = time.Now().Add(-time.Minute)

	code, body := getJSON(t, a.routes(), "/actuator/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "DOWN", body["status"])
}

func TestHealth_UpBeforeDeadline(t *testing.T) {
	a := newApp(time.Hour)

	code, body := getJSON(t, a.routes(), "/actuator/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "UP", body["status"])
}

func TestInfo_ReportsAppName(t *testing.T) {
	a := newApp(0)

	code, body := getJSON(t, a.routes(), "/actuator/info")
	assert.Equal(t, http.StatusOK, code)

	appInfo, ok := body["app"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "slipway-sampleapp", appInfo["name"])
}

func TestEnv_ExposesProcessEnvironment(t *testing.T) {
	t.Setenv(launch.EnvInstanceIndex, "7")

	a := newApp(0)
	code, body := getJSON(t, a.routes(), "/actuator/env")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "7", body[launch.EnvInstanceIndex])
}

func TestHome_ShowsInstanceIndex(t *testing.T) {
	t.Setenv(launch.EnvInstanceIndex, "3")

	a := newApp(0)
	code, body := getJSON(t, a.routes(), "/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "slipway-sampleapp", body["application"])
	assert.Equal(t, "3", body["instance_index"])
}
