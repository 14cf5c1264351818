package deployer

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/artpar/slipway/internal/core/domain"
	"github.com/artpar/slipway/internal/core/launch"
	"github.com/artpar/slipway/internal/core/props"
	"github.com/artpar/slipway/internal/core/state"
	"github.com/artpar/slipway/internal/shell/launcher"
)

// =============================================================================
// Internal Registry Types
// =============================================================================

// deployment is one tracked deployment and its live instance set.
// The embedded mutex guards everything below it; the fields above are
// immutable after registration.
type deployment struct {
	id        string
	request   domain.DeploymentRequest
	props     props.Properties
	plan      launch.PortPlan
	createdAt time.Time

	mu          sync.Mutex
	instances   map[int]*instance
	nextIndex   int
	undeploying bool
	finalized   bool
	frozenState domain.DeploymentState
}

// instance is one tracked child process, or the record of a launch that
// never produced one (proc == nil). Mutable fields are guarded by the owning
// deployment's mutex.
type instance struct {
	index        int
	guid         string
	workDir      string
	port         int
	debugPort    int
	debugSuspend bool
	startedAt    time.Time

	proc          *launcher.Process
	state         domain.InstanceState
	bound         bool
	failure       string
	stopRequested bool
	cancelProbe   context.CancelFunc
}

// aggregateLocked derives the deployment state callers see. Once undeploy
// has been requested the pre-undeploy state is reported unchanged until
// every process has exited.
func (dep *deployment) aggregateLocked() domain.DeploymentState {
	if dep.undeploying {
		return dep.frozenState
	}
	states := make([]domain.InstanceState, 0, len(dep.instances))
	for _, inst := range dep.instances {
		states = append(states, inst.state)
	}
	return state.Aggregate(states)
}

// allStoppedLocked reports whether no tracked process is still running.
func (dep *deployment) allStoppedLocked() bool {
	for _, inst := range dep.instances {
		if inst.proc != nil && inst.proc.Alive() {
			return false
		}
	}
	return true
}

// activeLocked returns the instances still launching or running, ordered by
// index.
func (dep *deployment) activeLocked() []*instance {
	active := make([]*instance, 0, len(dep.instances))
	for _, inst := range dep.instances {
		if inst.state == domain.InstanceLaunching || inst.state == domain.InstanceRunning {
			active = append(active, inst)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].index < active[j].index })
	return active
}

// failureLocked returns the first recorded launch failure message, if any.
func (dep *deployment) failureLocked() string {
	indices := make([]int, 0, len(dep.instances))
	for index := range dep.instances {
		indices = append(indices, index)
	}
	sort.Ints(indices)
	for _, index := range indices {
		if msg := dep.instances[index].failure; msg != "" {
			return msg
		}
	}
	return ""
}

// snapshotLocked builds the externally visible status.
func (dep *deployment) snapshotLocked() domain.AppStatus {
	instances := make(map[string]domain.InstanceStatus, len(dep.instances))
	for _, inst := range dep.instances {
		id := domain.InstanceID(dep.id, inst.index)
		instances[id] = domain.InstanceStatus{
			ID:         id,
			Index:      inst.index,
			State:      inst.state,
			Attributes: inst.attributes(),
		}
	}
	return domain.AppStatus{
		DeploymentID: dep.id,
		State:        dep.aggregateLocked(),
		Instances:    instances,
	}
}

// attributes builds the per-instance attribute map. Keys appear as the
// underlying facts become known; callers treat missing keys as not yet
// available. Log streams never appear here, only on disk.
func (inst *instance) attributes() map[string]string {
	attrs := make(map[string]string)
	if inst.guid != "" {
		attrs[domain.AttrGUID] = inst.guid
	}
	if inst.workDir != "" {
		attrs[domain.AttrWorkDir] = inst.workDir
	}
	if inst.proc != nil {
		attrs[domain.AttrPID] = strconv.Itoa(inst.proc.PID())
		attrs[domain.AttrPort] = strconv.Itoa(inst.port)
	}
	if inst.bound {
		attrs[domain.AttrURL] = "http://127.0.0.1:" + strconv.Itoa(inst.port)
	}
	if inst.debugPort > 0 {
		attrs[domain.AttrDebugPort] = strconv.Itoa(inst.debugPort)
		suspend := "n"
		if inst.debugSuspend {
			suspend = "y"
		}
		attrs[domain.AttrDebugSuspend] = suspend
	}
	return attrs
}
