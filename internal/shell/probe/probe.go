// Package probe checks whether launched instances are ready and healthy.
//
// Probes always target 127.0.0.1: the orchestrator and the processes it
// launches share a host, so there is never a remote endpoint involved.
package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Config configures probe behavior.
type Config struct {
	// Interval is the time between probe attempts on a single instance.
	// Default: 500 milliseconds.
	Interval time.Duration

	// Timeout is the per-attempt timeout for HTTP and TCP probes.
	// Default: 2 seconds.
	Timeout time.Duration
}

// DefaultConfig returns the default probe configuration.
func DefaultConfig() Config {
	return Config{
		Interval: 500 * time.Millisecond,
		Timeout:  2 * time.Second,
	}
}

// Target identifies one instance endpoint to probe.
type Target struct {
	// Port is the HTTP port the instance was told to listen on.
	// Zero means the instance has no known port.
	Port int

	// StartupPath is polled until the instance first responds successfully.
	// Empty selects a plain TCP connect check instead.
	StartupPath string

	// HealthPath is polled after startup to detect failures.
	// Empty leaves process liveness as the only health condition.
	HealthPath string
}

// Prober performs single-shot readiness and health checks against local
// instances. Callers drive the polling loop; each Check method is one attempt.
type Prober struct {
	client  *http.Client
	timeout time.Duration
}

// NewProber creates a prober with the given configuration.
// Zero config fields fall back to defaults.
func NewProber(config Config) *Prober {
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Second
	}
	return &Prober{
		client:  &http.Client{Timeout: config.Timeout},
		timeout: config.Timeout,
	}
}

// CheckStartup reports whether the instance has come up far enough to serve.
// With a startup path configured it issues an HTTP GET against it; otherwise
// it falls back to a TCP connect on the instance port. Instances without a
// known port are considered started as soon as their process is running.
// Cancelling ctx aborts the in-flight attempt.
func (p *Prober) CheckStartup(ctx context.Context, target Target) error {
	if target.StartupPath != "" {
		return p.checkHTTP(ctx, target.Port, target.StartupPath)
	}
	if target.Port > 0 {
		return p.checkTCP(ctx, target.Port)
	}
	return nil
}

// CheckHealth reports whether a started instance is still healthy.
// Without a health path there is nothing to poll and the check passes;
// process liveness is tracked separately by the caller.
func (p *Prober) CheckHealth(ctx context.Context, target Target) error {
	if target.HealthPath == "" {
		return nil
	}
	return p.checkHTTP(ctx, target.Port, target.HealthPath)
}

func (p *Prober) checkHTTP(ctx context.Context, port int, path string) error {
	if port <= 0 {
		return fmt.Errorf("no port to probe for path %q", path)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	url := "http://127.0.0.1:" + strconv.Itoa(port) + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("probe %s: %w", url, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("probe %s: unexpected status %d", url, resp.StatusCode)
	}
	return nil
}

func (p *Prober) checkTCP(ctx context.Context, port int) error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	dialer := net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("probe %s: %w", addr, err)
	}
	return conn.Close()
}
