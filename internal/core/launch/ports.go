package launch

import (
	"fmt"
	"strconv"
)

// =============================================================================
// Port Planning
// =============================================================================

// ServerPortKey is the application property consulted for port selection.
const ServerPortKey = "server.port"

// PortPlan describes how instances of a deployment obtain their HTTP port.
type PortPlan struct {
	// Fixed is used verbatim by every instance when greater than zero.
	// Multi-instance deployments with a fixed port will collide past the
	// first bind; that surfaces through the normal instance failure path.
	Fixed int

	// Ephemeral requests a fresh OS-assigned port per instance. The shell
	// reserves a concrete port and hands it to the child, so the bound port
	// is always known and probeable.
	Ephemeral bool
}

// PlanPort decides the port plan from application properties. An absent
// server.port or an explicit "0" selects ephemeral semantics; an explicit
// zero port request is valid and must not be treated as a failure.
//
// Example:
//
//	PlanPort(map[string]string{})                       // {Ephemeral: true}
//	PlanPort(map[string]string{"server.port": "0"})     // {Ephemeral: true}
//	PlanPort(map[string]string{"server.port": "8080"})  // {Fixed: 8080}
func PlanPort(appProps map[string]string) (PortPlan, error) {
	raw, ok := appProps[ServerPortKey]
	if !ok || raw == "" {
		return PortPlan{Ephemeral: true}, nil
	}

	port, err := strconv.Atoi(raw)
	if err != nil {
		return PortPlan{}, fmt.Errorf("parse %s %q: %w", ServerPortKey, raw, err)
	}
	if port < 0 || port > 65535 {
		return PortPlan{}, fmt.Errorf("%s %d out of range", ServerPortKey, port)
	}
	if port == 0 {
		return PortPlan{Ephemeral: true}, nil
	}
	return PortPlan{Fixed: port}, nil
}

// InstancePort resolves the port for one instance given the plan and the
// ephemeral port reserved by the shell. Reserved is ignored for fixed plans.
func (p PortPlan) InstancePort(reserved int) int {
	if p.Ephemeral {
		return reserved
	}
	return p.Fixed
}
