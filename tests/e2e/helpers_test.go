package e2e

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

// =============================================================================
// State Polling
// =============================================================================

// Eventually retries a condition function until it returns true or timeout.
func Eventually(t *testing.T, timeout, interval time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(interval)
	}
	return false
}

// AwaitState polls a deployment until it reports the wanted state.
func AwaitState(t *testing.T, deploymentID, want string, timeout time.Duration) {
	t.Helper()

	last := ""
	ok := Eventually(t, timeout, 100*time.Millisecond, func() bool {
		status, d := getDeploymentQuiet(deploymentID)
		if status != http.StatusOK || d == nil {
			last = "status " + strconv.Itoa(status)
			return false
		}
		last = d.State
		return d.State == want
	})
	if !ok {
		t.Fatalf("deployment %s never reached state %q (last observed: %s)", deploymentID, want, last)
	}
	t.Logf("Deployment %s reached state %s", deploymentID, want)
}

// HoldsState asserts a deployment stays in one state for the whole hold
// window. This is the sustained counterpart of AwaitState: probes keep
// running during the hold and any transition is a failure.
func HoldsState(t *testing.T, deploymentID, want string, hold time.Duration) {
	t.Helper()

	deadline := time.Now().Add(hold)
	for time.Now().Before(deadline) {
		status, d := getDeploymentQuiet(deploymentID)
		if status != http.StatusOK || d == nil {
			t.Fatalf("deployment %s became unreadable during hold: status=%d", deploymentID, status)
		}
		if d.State != want {
			t.Fatalf("deployment %s left state %q during hold: now %q", deploymentID, want, d.State)
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Logf("Deployment %s held state %s for %v", deploymentID, want, hold)
}

// AwaitUndeployed polls until teardown has finished: the live registry has
// dropped the deployment and the history record carries an undeploy
// timestamp.
func AwaitUndeployed(t *testing.T, deploymentID string, timeout time.Duration) {
	t.Helper()

	ok := Eventually(t, timeout, 100*time.Millisecond, func() bool {
		status, d := getDeploymentQuiet(deploymentID)
		return status == http.StatusOK && d != nil && d.UndeployedAt != nil
	})
	if !ok {
		t.Fatalf("deployment %s never finished undeploying", deploymentID)
	}
	t.Logf("Deployment %s undeployed", deploymentID)
}

// AwaitInstanceCount polls until the deployment reports exactly n instances.
func AwaitInstanceCount(t *testing.T, deploymentID string, n int, timeout time.Duration) {
	t.Helper()

	last := -1
	ok := Eventually(t, timeout, 100*time.Millisecond, func() bool {
		status, d := getDeploymentQuiet(deploymentID)
		if status != http.StatusOK || d == nil {
			return false
		}
		last = len(d.Instances)
		return last == n
	})
	if !ok {
		t.Fatalf("deployment %s never reached %d instances (last observed: %d)", deploymentID, n, last)
	}
}

// =============================================================================
// Log Capture
// =============================================================================

// DumpLogOnFailure prints the captured deployment log when the test fails.
// Logs are our eyes into the child processes; without them a failed
// lifecycle is undebuggable.
func DumpLogOnFailure(t *testing.T, deploymentID string) {
	t.Cleanup(func() {
		if !t.Failed() {
			return
		}
		content := getDeploymentLogQuiet(deploymentID)
		if content == "" {
			t.Logf("=== NO LOG CAPTURED FOR DEPLOYMENT %s ===", deploymentID)
			return
		}
		t.Logf("=== LOG FOR DEPLOYMENT %s ===\n%s\n=== END LOG ===", deploymentID, content)
	})
}

// =============================================================================
// Artifacts
// =============================================================================

// WriteScriptArtifact writes an executable shell script and returns its
// path. The script directory is cleaned up with the test.
func WriteScriptArtifact(t *testing.T, script string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "app.sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("Failed to write script artifact: %v", err)
	}
	return path
}

// =============================================================================
// Instance Helpers
// =============================================================================

// instanceURL returns the url attribute of the instance with the given
// index.
func instanceURL(t *testing.T, d *DeploymentResponse, index int) string {
	t.Helper()

	for _, inst := range d.Instances {
		if inst.Index == index {
			if inst.Attributes["url"] == "" {
				t.Fatalf("instance %d of %s has no url attribute", index, d.ID)
			}
			return inst.Attributes["url"]
		}
	}
	t.Fatalf("deployment %s has no instance with index %d", d.ID, index)
	return ""
}

// fetchJSON GETs a URL and decodes the JSON object it returns.
func fetchJSON(t *testing.T, url string) map[string]any {
	t.Helper()

	resp := HTTPGet(t, url)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status=%d", url, resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("GET %s: decode failed: %v", url, err)
	}
	return body
}
