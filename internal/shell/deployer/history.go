package deployer

import (
	"context"
	"time"

	"github.com/artpar/slipway/internal/core/domain"
	"github.com/artpar/slipway/internal/shell/store"
)

// storeTimeout bounds every history write so a slow database can never
// stall deployment lifecycle work.
const storeTimeout = 5 * time.Second

// =============================================================================
// History Recording
// =============================================================================
//
// The store is a best-effort journal. Failures to record are logged and
// otherwise ignored: live state in the registry is the source of truth, and
// a broken database must not take down running deployments.

func (d *Deployer) recordCreate(dep *deployment) {
	if d.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	record := &domain.DeploymentRecord{
		ID:        dep.id,
		AppName:   dep.request.Definition.Name,
		Artifact:  dep.request.Artifact,
		State:     domain.StateDeploying,
		CreatedAt: dep.createdAt,
		UpdatedAt: dep.createdAt,
	}
	if err := d.store.CreateDeployment(ctx, record); err != nil {
		d.logger.Warn("failed to record deployment", "deployment_id", dep.id, "error", err)
	}
}

func (d *Deployer) recordInstance(dep *deployment, inst *instance) {
	if d.store == nil || inst.proc == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	record := &domain.InstanceRecord{
		DeploymentID: dep.id,
		Index:        inst.index,
		PID:          inst.proc.PID(),
		Port:         inst.port,
		GUID:         inst.guid,
		WorkDir:      inst.workDir,
		StartedAt:    inst.startedAt,
	}
	if err := d.store.CreateInstance(ctx, record); err != nil {
		d.logger.Warn("failed to record instance", "deployment_id", dep.id, "index", inst.index, "error", err)
	}
}

func (d *Deployer) recordInstanceExit(dep *deployment, inst *instance) {
	if d.store == nil || inst.proc == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := d.store.MarkInstanceExited(ctx, dep.id, inst.index, time.Now(), inst.proc.ExitCode()); err != nil {
		d.logger.Warn("failed to record instance exit", "deployment_id", dep.id, "index", inst.index, "error", err)
	}
}

func (d *Deployer) recordState(dep *deployment) {
	if d.store == nil {
		return
	}

	dep.mu.Lock()
	aggregate := dep.aggregateLocked()
	failure := dep.failureLocked()
	dep.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := d.store.UpdateDeploymentState(ctx, dep.id, aggregate, failure); err != nil {
		d.logger.Warn("failed to record deployment state", "deployment_id", dep.id, "error", err)
	}
}

func (d *Deployer) recordUndeployed(dep *deployment, final domain.DeploymentState, failure string) {
	if d.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	err := d.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateDeploymentState(ctx, dep.id, final, failure); err != nil {
			return err
		}
		return tx.MarkUndeployed(ctx, dep.id, time.Now())
	})
	if err != nil {
		d.logger.Warn("failed to record undeploy", "deployment_id", dep.id, "error", err)
	}
}
