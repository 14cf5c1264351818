package deployer

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/slipway/internal/core/domain"
)

// =============================================================================
// Readiness and Probe Behavior
// =============================================================================

func TestDeploy_ConvergesToDeployed(t *testing.T) {
	d := newTestDeployer(t, testConfig(t), nil)

	id, err := d.Deploy(serverRequest(t, "ticker", nil, nil))
	require.NoError(t, err)

	awaitState(t, d, id, domain.StateDeployed)

	status := d.Status(id)
	require.Len(t, status.Instances, 1)
	for _, inst := range status.Instances {
		assert.Equal(t, domain.InstanceRunning, inst.State)
		port := inst.Attributes[domain.AttrPort]
		require.NotEmpty(t, port)
		assert.Equal(t, "http://127.0.0.1:"+port, inst.Attributes[domain.AttrURL])
		assert.NotContains(t, inst.Attributes, "stdout")
		assert.NotContains(t, inst.Attributes, "stderr")
	}
}

func TestDeploy_ServerPortZeroStillDeploys(t *testing.T) {
	d := newTestDeployer(t, testConfig(t), nil)

	id, err := d.Deploy(serverRequest(t, "ticker",
		map[string]string{"server.port": "0"}, nil))
	require.NoError(t, err)

	awaitState(t, d, id, domain.StateDeployed)

	for _, inst := range d.Status(id).Instances {
		port, err := strconv.Atoi(inst.Attributes[domain.AttrPort])
		require.NoError(t, err)
		assert.Greater(t, port, 0, "a concrete port must be resolved for port 0 requests")
	}
}

func TestDeploy_FixedServerPort(t *testing.T) {
	d := newTestDeployer(t, testConfig(t), nil)

	port, err := reservePort()
	require.NoError(t, err)

	id, err := d.Deploy(serverRequest(t, "ticker",
		map[string]string{"server.port": strconv.Itoa(port)}, nil))
	require.NoError(t, err)

	awaitState(t, d, id, domain.StateDeployed)

	for _, inst := range d.Status(id).Instances {
		assert.Equal(t, strconv.Itoa(port), inst.Attributes[domain.AttrPort])
	}
}

func TestDeploy_InvalidStartupProbeHoldsDeploying(t *testing.T) {
	d := newTestDeployer(t, testConfig(t), nil)

	id, err := d.Deploy(serverRequest(t, "ticker", nil,
		map[string]string{"deployer.local.startup-probe.path": "/fake"}))
	require.NoError(t, err)

	// The server is up and reachable, but the startup path never answers,
	// so the deployment must neither become deployed nor failed.
	holdState(t, d, id, domain.StateDeploying, 1200*time.Millisecond)
}

func TestDeploy_ValidStartupProbe(t *testing.T) {
	d := newTestDeployer(t, testConfig(t), nil)

	id, err := d.Deploy(serverRequest(t, "ticker", nil,
		map[string]string{"deployer.local.startup-probe.path": "/actuator/health"}))
	require.NoError(t, err)

	awaitState(t, d, id, domain.StateDeployed)
}

func TestDeploy_InvalidHealthProbeConvergesToFailed(t *testing.T) {
	d := newTestDeployer(t, testConfig(t), nil)

	id, err := d.Deploy(serverRequest(t, "ticker", nil,
		map[string]string{"deployer.local.health-probe.path": "/fake"}))
	require.NoError(t, err)

	awaitState(t, d, id, domain.StateFailed)

	// The process itself is still alive. The probe verdict, not process
	// death, failed the deployment.
	for _, inst := range d.Status(id).Instances {
		assert.Equal(t, domain.InstanceFailed, inst.State)
		assert.NotEmpty(t, inst.Attributes[domain.AttrPID])
	}

	holdState(t, d, id, domain.StateFailed, 500*time.Millisecond)
}

func TestDeploy_ValidHealthProbeStaysDeployed(t *testing.T) {
	d := newTestDeployer(t, testConfig(t), nil)

	id, err := d.Deploy(serverRequest(t, "ticker", nil,
		map[string]string{"deployer.local.health-probe.path": "/actuator/health"}))
	require.NoError(t, err)

	awaitState(t, d, id, domain.StateDeployed)
	holdState(t, d, id, domain.StateDeployed, 1200*time.Millisecond)
}

// =============================================================================
// Debug Mode
// =============================================================================

func TestDeploy_DebugSuspendHoldsDeploying(t *testing.T) {
	d := newTestDeployer(t, testConfig(t), nil)

	// A suspended child never binds its port. The script mimics a JVM
	// waiting for a debugger by sleeping when suspension is requested.
	body := `[ "$DEBUG_SUSPEND" = "y" ] && exec sleep 30` + "\n" + `exit 1`
	id, err := d.Deploy(scriptRequest(t, "ticker", body, map[string]string{
		"deployer.local.debug-port":    "9999",
		"deployer.local.debug-suspend": "y",
	}))
	require.NoError(t, err)

	holdState(t, d, id, domain.StateDeploying, 1200*time.Millisecond)

	for _, inst := range d.Status(id).Instances {
		assert.Equal(t, "9999", inst.Attributes[domain.AttrDebugPort])
		assert.Equal(t, "y", inst.Attributes[domain.AttrDebugSuspend])
	}
}

func TestDeploy_CamelCasePropertySpelling(t *testing.T) {
	d := newTestDeployer(t, testConfig(t), nil)

	id, err := d.Deploy(scriptRequest(t, "ticker", `exec sleep 30`, map[string]string{
		"deployer.local.debugPort":    "8888",
		"deployer.local.debugSuspend": "y",
	}))
	require.NoError(t, err)

	holdState(t, d, id, domain.StateDeploying, 600*time.Millisecond)

	for _, inst := range d.Status(id).Instances {
		assert.Equal(t, "8888", inst.Attributes[domain.AttrDebugPort])
		assert.Equal(t, "y", inst.Attributes[domain.AttrDebugSuspend])
	}
}

func TestDeploy_DebugPortsOffsetPerInstance(t *testing.T) {
	d := newTestDeployer(t, testConfig(t), nil)

	id, err := d.Deploy(scriptRequest(t, "ticker", `exec sleep 30`, map[string]string{
		"deployer.local.count":      "2",
		"deployer.local.debug-port": "9999",
	}))
	require.NoError(t, err)

	ports := make(map[string]bool)
	for _, inst := range d.Status(id).Instances {
		ports[inst.Attributes[domain.AttrDebugPort]] = true
		assert.Equal(t, "n", inst.Attributes[domain.AttrDebugSuspend])
	}
	assert.Equal(t, map[string]bool{"9999": true, "10000": true}, ports)
}

// =============================================================================
// Child Environment
// =============================================================================

func TestDeploy_ChildEnvironmentMarkers(t *testing.T) {
	d := newTestDeployer(t, testConfig(t), nil)

	id, err := d.Deploy(scriptRequest(t, "ticker", `env`+"\n"+`exec sleep 30`, nil))
	require.NoError(t, err)

	var log string
	require.Eventually(t, func() bool {
		log, err = d.Log(id)
		return err == nil && strings.Contains(log, "instance.index=")
	}, 5*time.Second, 50*time.Millisecond)

	assert.Contains(t, log, "INSTANCE_INDEX=0")
	assert.Contains(t, log, "instance.index=0")
	assert.Contains(t, log, "spring.application.index=0")
	assert.Contains(t, log, "spring.cloud.stream.instanceIndex=0")
	assert.Contains(t, log, "spring.cloud.application.guid=")
	assert.Contains(t, log, "SERVER_PORT=")
	assert.Contains(t, log, "server.port=")
	assert.Contains(t, log, "PATH=")
}

func TestDeploy_GUIDMatchesAttribute(t *testing.T) {
	d := newTestDeployer(t, testConfig(t), nil)

	id, err := d.Deploy(scriptRequest(t, "ticker", `env`+"\n"+`exec sleep 30`, nil))
	require.NoError(t, err)

	var guid string
	for _, inst := range d.Status(id).Instances {
		guid = inst.Attributes[domain.AttrGUID]
	}
	require.NotEmpty(t, guid)

	require.Eventually(t, func() bool {
		log, err := d.Log(id)
		return err == nil && strings.Contains(log, "spring.cloud.application.guid="+guid)
	}, 5*time.Second, 50*time.Millisecond)
}
