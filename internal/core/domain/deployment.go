package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Deployment Errors
// =============================================================================

var (
	ErrDeploymentNotFound = errors.New("deployment not found")
	ErrDeploymentExists   = errors.New("deployment already exists")
	ErrMissingAppName     = errors.New("app definition requires a name")
	ErrMissingArtifact    = errors.New("deployment request requires an artifact path")
	ErrInvalidCount       = errors.New("instance count must be at least one")
)

// =============================================================================
// Deployment State
// =============================================================================

// DeploymentState is the aggregate state of one deployment, derived from the
// process and probe status of all its instances.
type DeploymentState string

const (
	// StateUnknown means no instances are tracked: never deployed, or fully
	// reaped after undeploy. Status lookups for ids that never existed report
	// this state rather than an error.
	StateUnknown DeploymentState = "unknown"

	// StateDeploying means processes are launched but at least one instance
	// has not yet satisfied its startup condition, and none has failed.
	StateDeploying DeploymentState = "deploying"

	// StateDeployed means every instance is running and currently healthy.
	StateDeployed DeploymentState = "deployed"

	// StateFailed means at least one instance failed: its process exited
	// before becoming ready, it could not be launched, or its health probe
	// reported failure.
	StateFailed DeploymentState = "failed"

	// StatePartial means some instances are running and the rest have exited,
	// without any observed failure. Only reachable with more than one instance.
	StatePartial DeploymentState = "partial"
)

// InstanceState is the observed state of a single instance process.
type InstanceState string

const (
	// InstanceLaunching covers the window between process start and startup
	// probe success. A suspended debug target stays here indefinitely.
	InstanceLaunching InstanceState = "launching"

	// InstanceRunning means the startup condition passed and the health
	// condition holds.
	InstanceRunning InstanceState = "running"

	// InstanceFailed means the process exited before becoming ready, failed
	// to spawn, or its health probe reported failure. Sticky: a later
	// succeeding probe round does not clear it.
	InstanceFailed InstanceState = "failed"

	// InstanceExited means the process is gone after a requested stop or a
	// clean exit past readiness.
	InstanceExited InstanceState = "exited"
)

// =============================================================================
// Request Types
// =============================================================================

// AppDefinition names an application and carries its application-level
// properties. Treated as immutable after construction.
type AppDefinition struct {
	Name       string            `json:"name"`
	Properties map[string]string `json:"properties,omitempty"`
}

// NewAppDefinition builds an AppDefinition with its own copy of the
// property map, detached from the caller's.
func NewAppDefinition(name string, properties map[string]string) AppDefinition {
	return AppDefinition{
		Name:       name,
		Properties: copyProperties(properties),
	}
}

// DeploymentRequest is everything needed to deploy one application: the
// definition, the artifact to execute, and deployer-level properties such as
// instance count, probe paths, or debug settings. Treated as immutable.
type DeploymentRequest struct {
	Definition AppDefinition     `json:"definition"`
	Artifact   string            `json:"artifact"`
	Properties map[string]string `json:"properties,omitempty"`
}

// NewDeploymentRequest builds a DeploymentRequest with its own copy of the
// deployer property map, detached from the caller's.
func NewDeploymentRequest(definition AppDefinition, artifact string, properties map[string]string) DeploymentRequest {
	return DeploymentRequest{
		Definition: definition,
		Artifact:   artifact,
		Properties: copyProperties(properties),
	}
}

// Validate checks the request for the failures that must surface before any
// process is spawned.
func (r DeploymentRequest) Validate() error {
	if r.Definition.Name == "" {
		return ErrMissingAppName
	}
	if r.Artifact == "" {
		return ErrMissingArtifact
	}
	return nil
}

func copyProperties(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// =============================================================================
// Status Types
// =============================================================================

// Attribute keys exposed in InstanceStatus.Attributes. Log sinks are
// intentionally absent: stdout/stderr locations never appear in attributes.
const (
	AttrPID          = "pid"
	AttrPort         = "port"
	AttrURL          = "url"
	AttrWorkDir      = "working.dir"
	AttrGUID         = "guid"
	AttrDebugPort    = "debug.port"
	AttrDebugSuspend = "debug.suspend"
)

// InstanceStatus is the externally visible state of one instance. Attributes
// may be sparse while the instance is still coming up; absent keys mean "not
// yet available" and callers must not treat them as errors.
type InstanceStatus struct {
	ID         string            `json:"id"`
	Index      int               `json:"index"`
	State      InstanceState     `json:"state"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// AppStatus is the aggregate status of one deployment.
type AppStatus struct {
	DeploymentID string                    `json:"deployment_id"`
	State        DeploymentState           `json:"state"`
	Instances    map[string]InstanceStatus `json:"instances,omitempty"`
}

// UnknownStatus is the status reported for ids with no tracked instances.
func UnknownStatus(deploymentID string) AppStatus {
	return AppStatus{
		DeploymentID: deploymentID,
		State:        StateUnknown,
		Instances:    map[string]InstanceStatus{},
	}
}

// =============================================================================
// Identifiers
// =============================================================================

// NewDeploymentID creates a unique deployment id from the app name. Ids are
// never reused; the random suffix keeps repeated deploys of the same app
// distinct. The slugified name keeps the id safe for filesystem paths.
func NewDeploymentID(appName string) string {
	return fmt.Sprintf("%s-%s", Slugify(appName), uuid.New().String()[:8])
}

// NewInstanceGUID creates the globally unique id handed to each instance via
// its environment.
func NewInstanceGUID() string {
	return uuid.New().String()
}

// InstanceID names one instance within a deployment. Stable and collision
// free per deployment+index pair.
func InstanceID(deploymentID string, index int) string {
	return fmt.Sprintf("%s-%d", deploymentID, index)
}

// =============================================================================
// History Records
// =============================================================================

// DeploymentRecord is the persisted history row for one deployment. The live
// registry, not the record store, is the source of truth for current state;
// records exist for inspection after the fact.
type DeploymentRecord struct {
	ID           string          `json:"id"`
	AppName      string          `json:"app_name"`
	Artifact     string          `json:"artifact"`
	State        DeploymentState `json:"state"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	UndeployedAt *time.Time      `json:"undeployed_at,omitempty"`
}

// InstanceRecord is the persisted history row for one instance.
type InstanceRecord struct {
	DeploymentID string     `json:"deployment_id"`
	Index        int        `json:"index"`
	PID          int        `json:"pid"`
	Port         int        `json:"port"`
	GUID         string     `json:"guid"`
	WorkDir      string     `json:"work_dir"`
	StartedAt    time.Time  `json:"started_at"`
	ExitedAt     *time.Time `json:"exited_at,omitempty"`
	ExitCode     *int       `json:"exit_code,omitempty"`
}
