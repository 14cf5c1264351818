package deployer

import (
	"context"
	"time"

	"github.com/artpar/slipway/internal/core/domain"
	"github.com/artpar/slipway/internal/core/state"
	"github.com/artpar/slipway/internal/shell/probe"
)

// =============================================================================
// Per-Instance Watchers
// =============================================================================

// watch starts the two concurrent units owned by a launched instance: an
// exit watcher that reaps the process, and a probe loop that drives the
// launching -> running -> failed transitions. The context cancels probing
// the moment undeploy or scale-down targets the instance, so no probe fires
// for a deployment being torn down.
func (d *Deployer) watch(ctx context.Context, dep *deployment, inst *instance) {
	d.wg.Add(2)
	go d.watchExit(dep, inst)
	go d.probeLoop(ctx, dep, inst)
}

// watchExit blocks until the process exits, then settles the instance state.
// A requested stop ends in exited; anything else is a failure, because a
// process that dies on its own has stopped serving no matter what its probes
// said last.
func (d *Deployer) watchExit(dep *deployment, inst *instance) {
	defer d.wg.Done()
	<-inst.proc.Done()

	dep.mu.Lock()
	requested := inst.stopRequested
	inst.state = state.NextOnExit(inst.state, requested)
	if inst.cancelProbe != nil {
		inst.cancelProbe()
	}
	if requested && !dep.undeploying {
		// Scale-down reap: the instance leaves the live set so the
		// remaining instances alone define the aggregate.
		delete(dep.instances, inst.index)
	}
	undeploying := dep.undeploying
	stopped := dep.allStoppedLocked()
	settled := inst.state
	dep.mu.Unlock()

	d.logger.Info("instance exited",
		"deployment_id", dep.id,
		"index", inst.index,
		"exit_code", inst.proc.ExitCode(),
		"state", string(settled),
		"requested", requested,
	)

	d.recordInstanceExit(dep, inst)

	if undeploying {
		if stopped {
			d.finalize(dep)
		}
		return
	}
	d.recordState(dep)
}

// probeLoop polls one instance until it is ready, then keeps polling its
// health for as long as it runs. Startup failures only hold the starting
// state; a health failure after readiness marks the instance failed and the
// mark sticks even if the endpoint later recovers.
func (d *Deployer) probeLoop(ctx context.Context, dep *deployment, inst *instance) {
	defer d.wg.Done()

	target := probe.Target{
		Port:        inst.port,
		StartupPath: dep.props.StartupProbePath,
		HealthPath:  dep.props.HealthProbePath,
	}

	ticker := time.NewTicker(d.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		// The tick and the cancellation can be ready at the same time and
		// select picks arbitrarily; no probe may fire once teardown started.
		if ctx.Err() != nil {
			return
		}

		dep.mu.Lock()
		current := inst.state
		dep.mu.Unlock()

		switch current {
		case domain.InstanceLaunching:
			if err := d.prober.CheckStartup(ctx, target); err != nil {
				continue
			}
			dep.mu.Lock()
			ready := inst.state == domain.InstanceLaunching
			if ready {
				inst.state = state.NextOnProbe(inst.state, true)
				inst.bound = true
			}
			dep.mu.Unlock()
			if ready {
				d.logger.Info("instance ready",
					"deployment_id", dep.id,
					"index", inst.index,
					"port", inst.port,
				)
				d.recordState(dep)
			}

		case domain.InstanceRunning:
			if dep.props.HealthProbePath == "" {
				// Nothing to poll; liveness is watched by the exit watcher.
				return
			}
			if err := d.prober.CheckHealth(ctx, target); err == nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			dep.mu.Lock()
			failed := inst.state == domain.InstanceRunning
			if failed {
				inst.state = state.NextOnProbe(inst.state, false)
			}
			dep.mu.Unlock()
			if failed {
				d.logger.Warn("health probe failed",
					"deployment_id", dep.id,
					"index", inst.index,
					"path", dep.props.HealthProbePath,
				)
				d.recordState(dep)
			}
			return

		default:
			return
		}
	}
}
