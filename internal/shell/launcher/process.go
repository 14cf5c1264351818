package launcher

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// =============================================================================
// Process
// =============================================================================

// Process is one spawned instance process plus its exit observation. Each
// process gets a dedicated monitor goroutine that reaps the exit status and
// releases the capture files; mutable state is guarded by the process's own
// mutex, never a shared lock.
type Process struct {
	cmd    *exec.Cmd
	pid    int
	stdout *os.File // nil when logging is inherited
	stderr *os.File

	mu       sync.Mutex
	exited   bool
	exitCode int

	done chan struct{}
}

func newProcess(cmd *exec.Cmd, stdout, stderr *os.File) *Process {
	p := &Process{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		stdout: stdout,
		stderr: stderr,
		done:   make(chan struct{}),
	}
	go p.monitor()
	return p
}

// monitor blocks on Wait, then records the exit and closes the capture
// files. Wait returns only after the child's stdio is flushed, so closing
// here never races a write.
func (p *Process) monitor() {
	err := p.cmd.Wait()

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	if p.stdout != nil {
		p.stdout.Close()
	}
	if p.stderr != nil {
		p.stderr.Close()
	}

	p.mu.Lock()
	p.exited = true
	p.exitCode = code
	p.mu.Unlock()
	close(p.done)
}

// PID returns the OS process id.
func (p *Process) PID() int {
	return p.pid
}

// Alive reports whether the process has not yet been reaped.
func (p *Process) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.exited
}

// ExitCode returns the recorded exit code. Only meaningful once Alive
// reports false; killed processes report -1.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Signal forwards a signal to the process. Signaling an already-exited
// process returns an error the caller is expected to ignore: the desired
// end state already holds.
func (p *Process) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

// Terminate asks the process to exit with SIGTERM, escalating to SIGKILL
// once the grace period passes, and blocks until the process is reaped.
// Run it on its own goroutine when the caller must not wait.
func (p *Process) Terminate(grace time.Duration) {
	if !p.Alive() {
		return
	}
	_ = p.Signal(syscall.SIGTERM)

	select {
	case <-p.done:
	case <-time.After(grace):
		_ = p.cmd.Process.Kill()
		<-p.done
	}
}
