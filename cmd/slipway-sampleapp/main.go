// Package main provides the slipway-sampleapp binary, a small HTTP
// application for exercising a slipway daemon end to end.
//
// The app plays the part of a deployed workload: it reads the environment
// slipway injects into instances (SERVER_PORT, the index markers, the debug
// settings) and serves actuator-style endpoints that readiness and health
// probes can hit.
//
// Endpoints:
//
//	GET /                 - instance identity (name, index, pid)
//	GET /actuator/health  - {"status":"UP"} or 503 {"status":"DOWN"}
//	GET /actuator/info    - build information
//	GET /actuator/env     - the process environment as a JSON object
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/artpar/slipway/internal/core/launch"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on when no SERVER_PORT is set")
	failHealthAfter := flag.Duration("fail-health-after", 0, "Report DOWN health after this duration (0 disables)")
	flag.Parse()

	// A suspended instance behaves like a JVM started with JDWP suspend=y:
	// nothing runs until a debugger attaches, so the app never starts
	// listening and its deployment never leaves the deploying state.
	if os.Getenv(launch.EnvDebugSuspend) == "y" {
		fmt.Printf("Suspended, waiting for debugger on port %s\n", os.Getenv(launch.EnvDebugPort))
		for {
			time.Sleep(time.Hour)
		}
	}

	listenPort := resolvePort(*port)
	hostname, _ := os.Hostname()
	fmt.Printf("Starting SlipwaySampleApplication %s on %s with PID %d (port %d)\n",
		Version, hostname, os.Getpid(), listenPort)

	app := newApp(resolveFailAfter(*failHealthAfter))
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", listenPort),
		Handler: app.routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		fmt.Printf("Received %s, shutting down\n", sig)
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

// resolvePort picks the listen port: the injected SERVER_PORT wins, then the
// dotted spelling, then the flag.
func resolvePort(flagPort int) int {
	for _, key := range []string{launch.EnvServerPort, launch.EnvDottedServerPort} {
		if v := os.Getenv(key); v != "" {
			if p, err := strconv.Atoi(v); err == nil && p > 0 {
				return p
			}
		}
	}
	return flagPort
}

// resolveFailAfter falls back to the FAIL_HEALTH_AFTER environment variable
// when the flag is unset, so a deployer can configure the health flip through
// an app property.
func resolveFailAfter(flagValue time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if v := os.Getenv("FAIL_HEALTH_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return 0
}

// =============================================================================
// App
// =============================================================================

type app struct {
	started         time.Time
	failHealthAfter time.Duration
}

func newApp(failHealthAfter time.Duration) *app {
	return &app{
		started:         time.Now(),
		failHealthAfter: failHealthAfter,
	}
}

func (a *app) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", a.handleHome)
	r.Route("/actuator", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Get("/info", a.handleInfo)
		r.Get("/env", a.handleEnv)
	})

	return r
}

func (a *app) handleHome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"application":    "slipway-sampleapp",
		"instance_index": os.Getenv(launch.EnvInstanceIndex),
		"pid":            os.Getpid(),
	})
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.failHealthAfter > 0 && time.Since(a.started) >= a.failHealthAfter {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "DOWN"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

func (a *app) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"app": map[string]string{
			"name":       "slipway-sampleapp",
			"version":    Version,
			"build_time": BuildTime,
		},
		"uptime": time.Since(a.started).String(),
	})
}

func (a *app) handleEnv(w http.ResponseWriter, r *http.Request) {
	env := make(map[string]string)
	for _, entry := range os.Environ() {
		if i := strings.IndexByte(entry, '='); i >= 0 {
			env[entry[:i]] = entry[i+1:]
		}
	}
	writeJSON(w, http.StatusOK, env)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
