package deployer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/artpar/slipway/internal/core/domain"
	"github.com/artpar/slipway/internal/core/launch"
	"github.com/artpar/slipway/internal/core/props"
	"github.com/artpar/slipway/internal/shell/launcher"
	"github.com/artpar/slipway/internal/shell/probe"
	"github.com/artpar/slipway/internal/shell/store"
	"github.com/artpar/slipway/internal/shell/workdir"
)

// =============================================================================
// Deployer
// =============================================================================

// Deployer launches and tracks local application deployments.
type Deployer struct {
	config   Config
	launcher *launcher.Launcher
	prober   *probe.Prober
	workdirs *workdir.Manager
	store    store.Store
	logger   *slog.Logger

	mu          sync.RWMutex
	deployments map[string]*deployment

	wg sync.WaitGroup
}

// New creates a deployer. The store is optional; with a nil store no
// deployment history is recorded. Zero config fields fall back to defaults.
func New(config Config, st store.Store, logger *slog.Logger) *Deployer {
	defaults := DefaultConfig()
	if config.WorkDirsRoot == "" {
		config.WorkDirsRoot = defaults.WorkDirsRoot
	}
	if config.ProbeInterval == 0 {
		config.ProbeInterval = defaults.ProbeInterval
	}
	if config.ProbeTimeout == 0 {
		config.ProbeTimeout = defaults.ProbeTimeout
	}
	if config.StopGrace == 0 {
		config.StopGrace = defaults.StopGrace
	}
	if config.InheritPatterns == nil {
		config.InheritPatterns = defaults.InheritPatterns
	}
	if config.JavaCommand == "" {
		config.JavaCommand = defaults.JavaCommand
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Deployer{
		config:      config,
		launcher:    launcher.NewLauncher(logger),
		prober:      probe.NewProber(probe.Config{Interval: config.ProbeInterval, Timeout: config.ProbeTimeout}),
		workdirs:    workdir.NewManager(config.WorkDirsRoot),
		store:       st,
		logger:      logger.With("component", "deployer"),
		deployments: make(map[string]*deployment),
	}
}

// =============================================================================
// Deploy
// =============================================================================

// Deploy validates the request, launches the requested number of instances,
// and returns the new deployment id. The call is synchronous with respect to
// launching only; readiness is observed later through Status.
//
// When an instance fails to launch partway through, the error is returned
// together with a valid deployment id: already-launched instances stay
// tracked and the deployment converges to failed rather than being rolled
// back silently.
func (d *Deployer) Deploy(req domain.DeploymentRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	parsed, err := props.Parse(req.Properties)
	if err != nil {
		return "", err
	}
	if err := launcher.CheckArtifact(req.Artifact); err != nil {
		return "", err
	}
	plan, err := launch.PlanPort(req.Definition.Properties)
	if err != nil {
		return "", err
	}

	id := domain.NewDeploymentID(req.Definition.Name)
	dep := &deployment{
		id:        id,
		request:   req,
		props:     parsed,
		plan:      plan,
		createdAt: time.Now(),
		instances: make(map[int]*instance),
		nextIndex: parsed.Count,
	}

	d.mu.Lock()
	if _, exists := d.deployments[id]; exists {
		d.mu.Unlock()
		return "", domain.ErrDeploymentExists
	}
	d.deployments[id] = dep
	d.mu.Unlock()

	d.recordCreate(dep)

	launchErr := d.launchInstances(dep, 0, parsed.Count)
	d.recordState(dep)

	d.logger.Info("deployment launched",
		"deployment_id", id,
		"app", req.Definition.Name,
		"artifact", req.Artifact,
		"instances", parsed.Count,
	)

	if launchErr != nil {
		return id, launchErr
	}
	return id, nil
}

// launchInstances launches indices from..from+n-1 in order. The first
// failure is recorded as a failed instance and stops the loop; earlier
// launches stay tracked.
//
// Registration re-checks undeploying under the deployment lock: an undeploy
// signals only the instances registered at that moment, so an instance that
// comes up afterwards must be stopped here or its process would outlive the
// deployment and teardown would wait on it forever.
func (d *Deployer) launchInstances(dep *deployment, from, n int) error {
	for i := from; i < from+n; i++ {
		inst, err := d.launchInstance(dep, i)

		dep.mu.Lock()
		ctx, cancel := context.WithCancel(context.Background())
		inst.cancelProbe = cancel
		dep.instances[i] = inst
		if dep.undeploying {
			inst.stopRequested = true
			dep.mu.Unlock()
			cancel()
			if err != nil {
				return err
			}
			d.watch(ctx, dep, inst)
			d.recordInstance(dep, inst)
			d.terminateAsync(inst.proc)
			d.logger.Info("launch aborted by undeploy", "deployment_id", dep.id, "index", i)
			return fmt.Errorf("launch %s instance %d: %w", dep.id, i, domain.ErrDeploymentNotFound)
		}
		dep.mu.Unlock()

		if err != nil {
			cancel()
			d.logger.Error("instance launch failed",
				"deployment_id", dep.id,
				"index", i,
				"error", err,
			)
			return err
		}

		d.watch(ctx, dep, inst)
		d.recordInstance(dep, inst)
	}
	return nil
}

// launchInstance prepares and starts one child process. On failure it
// returns a failed instance stub alongside the error so the shortfall stays
// visible in status.
func (d *Deployer) launchInstance(dep *deployment, index int) (*instance, error) {
	inst := &instance{
		index:     index,
		guid:      domain.NewInstanceGUID(),
		state:     domain.InstanceLaunching,
		startedAt: time.Now(),
	}
	if dep.props.DebugEnabled() {
		// One debug port per instance, offset by index, so multi-instance
		// debug deployments do not collide.
		inst.debugPort = dep.props.DebugPort + index
		inst.debugSuspend = dep.props.DebugSuspend
	}

	fail := func(err error) (*instance, error) {
		inst.state = domain.InstanceFailed
		inst.failure = err.Error()
		return inst, err
	}

	workDir, err := d.workdirs.Allocate(dep.props.WorkDirsRoot, dep.id, index)
	if err != nil {
		return fail(launcher.NewLaunchError(dep.id, index, err))
	}
	inst.workDir = workDir

	var reserved int
	if dep.plan.Ephemeral {
		reserved, err = reservePort()
		if err != nil {
			return fail(launcher.NewLaunchError(dep.id, index, err))
		}
	}
	inst.port = dep.plan.InstancePort(reserved)

	env, err := launch.BuildEnvironment(launch.EnvSpec{
		DeploymentID:  dep.id,
		Index:         index,
		GUID:          inst.guid,
		Port:          inst.port,
		AppProperties: dep.request.Definition.Properties,
		DebugPort:     inst.debugPort,
		DebugSuspend:  inst.debugSuspend,
	}, os.Environ(), d.config.InheritPatterns)
	if err != nil {
		return fail(launcher.NewLaunchError(dep.id, index, err))
	}

	command := launch.BuildCommand(launch.CommandSpec{
		Artifact:     dep.request.Artifact,
		JavaCommand:  d.config.JavaCommand,
		DebugPort:    inst.debugPort,
		DebugSuspend: inst.debugSuspend,
	})

	proc, err := d.launcher.Launch(launcher.LaunchSpec{
		DeploymentID:   dep.id,
		Index:          index,
		Command:        command,
		Env:            env,
		WorkDir:        workDir,
		InheritLogging: dep.props.InheritLogging,
	})
	if err != nil {
		return fail(err)
	}

	inst.proc = proc
	return inst, nil
}

// reservePort binds an ephemeral port and releases it so the child can take
// it. The concrete port is known to the orchestrator before launch, which
// keeps ephemeral-port deployments probeable.
func reservePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("reserve port: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if err := ln.Close(); err != nil {
		return 0, fmt.Errorf("reserve port: %w", err)
	}
	return port, nil
}

// =============================================================================
// Scale
// =============================================================================

// Scale adjusts the number of active instances. Growth launches new
// instances at fresh indices; shrinkage stops the highest-indexed instances
// first. Like Deploy and Undeploy, the call returns once processes are
// launched or signaled.
func (d *Deployer) Scale(id string, count int) error {
	if count < 1 {
		return fmt.Errorf("scale %s to %d: %w", id, count, domain.ErrInvalidCount)
	}

	d.mu.RLock()
	dep, ok := d.deployments[id]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("scale %s: %w", id, domain.ErrDeploymentNotFound)
	}

	dep.mu.Lock()
	if dep.undeploying {
		dep.mu.Unlock()
		return fmt.Errorf("scale %s: %w", id, domain.ErrDeploymentNotFound)
	}
	active := dep.activeLocked()
	diff := count - len(active)

	var from int
	var victims []*instance
	switch {
	case diff > 0:
		from = dep.nextIndex
		dep.nextIndex += diff
	case diff < 0:
		victims = active[len(active)+diff:]
		for _, inst := range victims {
			inst.stopRequested = true
			if inst.cancelProbe != nil {
				inst.cancelProbe()
			}
		}
	}
	dep.mu.Unlock()

	if diff == 0 {
		return nil
	}

	if diff < 0 {
		d.logger.Info("scaling down", "deployment_id", id, "from", len(active), "to", count)
		for _, inst := range victims {
			d.terminateAsync(inst.proc)
		}
		return nil
	}

	d.logger.Info("scaling up", "deployment_id", id, "from", len(active), "to", count)
	err := d.launchInstances(dep, from, diff)
	d.recordState(dep)
	return err
}

// =============================================================================
// Undeploy
// =============================================================================

// Undeploy signals termination to every instance and returns immediately.
// The reported state stays frozen at its pre-undeploy value until all
// processes have exited, at which point the deployment disappears from the
// registry and Status reports unknown.
//
// Unknown ids are a no-op: the desired end state already holds.
func (d *Deployer) Undeploy(id string) error {
	d.mu.RLock()
	dep, ok := d.deployments[id]
	d.mu.RUnlock()
	if !ok {
		return nil
	}

	dep.mu.Lock()
	if dep.undeploying {
		dep.mu.Unlock()
		return nil
	}
	dep.frozenState = dep.aggregateLocked()
	dep.undeploying = true

	var live []*instance
	for _, inst := range dep.instances {
		inst.stopRequested = true
		if inst.cancelProbe != nil {
			inst.cancelProbe()
		}
		if inst.proc != nil && inst.proc.Alive() {
			live = append(live, inst)
		}
	}
	stopped := dep.allStoppedLocked()
	dep.mu.Unlock()

	d.logger.Info("undeploy requested", "deployment_id", id, "live_instances", len(live))

	for _, inst := range live {
		d.terminateAsync(inst.proc)
	}

	if stopped {
		d.finalize(dep)
	}
	return nil
}

// terminateAsync runs the SIGTERM-then-kill ladder off the caller's
// goroutine so deploy-facing calls never block on process death.
func (d *Deployer) terminateAsync(proc *launcher.Process) {
	if proc == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		proc.Terminate(d.config.StopGrace)
	}()
}

// finalize drops a fully stopped deployment from the registry, closes out
// its history, and optionally removes its working directories.
func (d *Deployer) finalize(dep *deployment) {
	dep.mu.Lock()
	if dep.finalized {
		dep.mu.Unlock()
		return
	}
	dep.finalized = true
	final := dep.frozenState
	failure := dep.failureLocked()
	var workDirs []string
	for _, inst := range dep.instances {
		if inst.workDir != "" {
			workDirs = append(workDirs, inst.workDir)
		}
	}
	dep.mu.Unlock()

	d.mu.Lock()
	delete(d.deployments, dep.id)
	d.mu.Unlock()

	d.recordUndeployed(dep, final, failure)

	if d.config.DeleteWorkDirs {
		for _, dir := range workDirs {
			if err := d.workdirs.Remove(dir); err != nil {
				d.logger.Warn("failed to remove working directory", "dir", dir, "error", err)
			}
		}
	}

	d.logger.Info("deployment undeployed", "deployment_id", dep.id, "final_state", string(final))
}

// =============================================================================
// Status and Logs
// =============================================================================

// Status reports the aggregate state and per-instance attributes for a
// deployment. Ids the registry does not know, including fully undeployed
// ones, report unknown with no instances. Status never fails.
func (d *Deployer) Status(id string) domain.AppStatus {
	d.mu.RLock()
	dep, ok := d.deployments[id]
	d.mu.RUnlock()
	if !ok {
		return domain.UnknownStatus(id)
	}

	dep.mu.Lock()
	defer dep.mu.Unlock()
	return dep.snapshotLocked()
}

// Statuses reports every tracked deployment, oldest first.
func (d *Deployer) Statuses() []domain.AppStatus {
	d.mu.RLock()
	deps := make([]*deployment, 0, len(d.deployments))
	for _, dep := range d.deployments {
		deps = append(deps, dep)
	}
	d.mu.RUnlock()

	sort.Slice(deps, func(i, j int) bool {
		if deps[i].createdAt.Equal(deps[j].createdAt) {
			return deps[i].id < deps[j].id
		}
		return deps[i].createdAt.Before(deps[j].createdAt)
	})

	statuses := make([]domain.AppStatus, 0, len(deps))
	for _, dep := range deps {
		dep.mu.Lock()
		statuses = append(statuses, dep.snapshotLocked())
		dep.mu.Unlock()
	}
	return statuses
}

// Log returns the concatenated captured output of every instance in index
// order. Output is available as soon as the processes write it, well before
// the deployment reaches readiness.
func (d *Deployer) Log(id string) (string, error) {
	d.mu.RLock()
	dep, ok := d.deployments[id]
	d.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("log %s: %w", id, domain.ErrDeploymentNotFound)
	}

	dep.mu.Lock()
	insts := make([]*instance, 0, len(dep.instances))
	for _, inst := range dep.instances {
		insts = append(insts, inst)
	}
	dep.mu.Unlock()

	sort.Slice(insts, func(i, j int) bool { return insts[i].index < insts[j].index })

	var b strings.Builder
	for _, inst := range insts {
		if inst.workDir == "" {
			continue
		}
		b.WriteString(launcher.CombinedLog(inst.workDir))
	}
	return b.String(), nil
}

// =============================================================================
// Shutdown
// =============================================================================

// Shutdown undeploys everything still tracked and waits for the launched
// processes and watchers to finish, bounded by ctx.
func (d *Deployer) Shutdown(ctx context.Context) error {
	d.mu.RLock()
	ids := make([]string, 0, len(d.deployments))
	for id := range d.deployments {
		ids = append(ids, id)
	}
	d.mu.RUnlock()

	for _, id := range ids {
		if err := d.Undeploy(id); err != nil {
			d.logger.Warn("undeploy during shutdown failed", "deployment_id", id, "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("deployer stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
