// Package state provides pure functions for deployment state aggregation.
// Following ADR-002: Values as Boundaries - this package contains NO I/O.
package state

import "github.com/artpar/slipway/internal/core/domain"

// =============================================================================
// State Aggregation (Pure Functions)
// =============================================================================

// Aggregate derives the single deployment state from per-instance states.
// This is a pure function - it takes instance state values and returns the
// aggregate.
//
// Precedence:
//   - no instances = unknown (never deployed, or fully reaped after undeploy)
//   - any failed = failed
//   - any launching = deploying
//   - all running = deployed
//   - mixed running/exited = partial
//   - all exited = unknown (processes gone, reaping in progress)
func Aggregate(instances []domain.InstanceState) domain.DeploymentState {
	if len(instances) == 0 {
		return domain.StateUnknown
	}

	launching := 0
	running := 0
	exited := 0

	for _, s := range instances {
		switch s {
		case domain.InstanceFailed:
			// A single failure decides the aggregate.
			return domain.StateFailed
		case domain.InstanceLaunching:
			launching++
		case domain.InstanceRunning:
			running++
		case domain.InstanceExited:
			exited++
		}
	}

	if launching > 0 {
		return domain.StateDeploying
	}
	if running == len(instances) {
		return domain.StateDeployed
	}
	if running > 0 {
		return domain.StatePartial
	}
	// Only exited instances remain.
	return domain.StateUnknown
}

// =============================================================================
// Instance Transitions (Pure Functions)
// =============================================================================

// NextOnProbe maps one probe round result onto an instance state. Startup
// success promotes launching to running; a health failure after that point
// demotes running to failed and is sticky - a later succeeding round never
// promotes failed back to running.
func NextOnProbe(current domain.InstanceState, healthy bool) domain.InstanceState {
	switch current {
	case domain.InstanceLaunching:
		if healthy {
			return domain.InstanceRunning
		}
		return domain.InstanceLaunching
	case domain.InstanceRunning:
		if healthy {
			return domain.InstanceRunning
		}
		return domain.InstanceFailed
	default:
		return current
	}
}

// NextOnExit maps a process exit onto an instance state. Exits requested by
// undeploy or scale-down are plain exits; any unrequested exit is a failure,
// whether the instance was still launching or already running - process
// liveness is the implicit health condition.
func NextOnExit(current domain.InstanceState, stopRequested bool) domain.InstanceState {
	if stopRequested {
		return domain.InstanceExited
	}
	switch current {
	case domain.InstanceLaunching, domain.InstanceRunning:
		return domain.InstanceFailed
	default:
		return current
	}
}
