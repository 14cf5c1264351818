// Package launch provides pure functions for planning instance processes.
//
// This package contains the functional core logic for turning a deployment
// request plus an instance index into everything the shell needs to spawn
// the process: the command line, the child environment, and the port plan.
// All functions are pure (no I/O, no side effects) and comply with ADR-002
// "Values as Boundaries".
//
// # Functions
//
//   - Command: Build the argv for an instance (BuildCommand)
//   - Environment: Build the child environment with index markers (BuildEnvironment)
//   - Ports: Decide fixed vs ephemeral port allocation (PlanPort)
//
// # Usage
//
// The imperative shell (internal/shell/launcher) uses these pure functions
// to plan each instance, then executes the plans via os/exec.
//
//	plan, err := launch.PlanPort(def.Properties)
//	argv := launch.BuildCommand(cmdSpec)
//	env, err := launch.BuildEnvironment(envSpec, os.Environ(), patterns)
package launch
