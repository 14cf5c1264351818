// Package api provides the HTTP surface of the slipway daemon. Deployments
// are a JSON:API resource served with api2go; actions that do not map to
// CRUD (logs, scaling) are plain mux routes beside it.
package api

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/manyminds/api2go"

	"github.com/artpar/slipway/internal/core/domain"
	"github.com/artpar/slipway/internal/shell/api/openapi"
	"github.com/artpar/slipway/internal/shell/api/resources"
	"github.com/artpar/slipway/internal/shell/deployer"
	"github.com/artpar/slipway/internal/shell/store"
)

// =============================================================================
// API Setup
// =============================================================================

// APIConfig holds the dependencies for the API router.
type APIConfig struct {
	Deployer *deployer.Deployer
	Store    store.Store
	Logger   *slog.Logger
}

// SetupAPI creates the complete API router with the JSON:API deployment
// resource and the custom log/scale/openapi endpoints. Returns an
// http.Handler that can be used as the server's main handler.
func SetupAPI(cfg APIConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	router := mux.NewRouter()
	router.Use(requestIDMiddleware)
	router.Use(recoveryMiddleware(cfg.Logger))

	// Health endpoints (not JSON:API, just simple JSON)
	router.HandleFunc("/health", healthHandler).Methods("GET")
	router.HandleFunc("/ready", readyHandler(cfg.Store)).Methods("GET")

	// Create api2go API for JSON:API resources
	// Using NewAPIWithResolver - it creates its own internal router
	jsonAPI := api2go.NewAPIWithResolver("v1", api2go.NewStaticResolver("/api"))
	jsonAPI.ContentType = "application/vnd.api+json"

	deploymentResource := resources.NewDeploymentResource(cfg.Deployer, cfg.Store, cfg.Logger)
	jsonAPI.AddResource(resources.Deployment{}, deploymentResource)

	// Custom action endpoints. Registered before the PathPrefix mount below
	// so the api2go handler does not swallow them.
	router.HandleFunc("/api/v1/deployments/{id}/log", func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		text, err := deploymentResource.LogDeployment(id)
		if err != nil {
			if errors.Is(err, domain.ErrDeploymentNotFound) {
				writeJSONError(w, http.StatusNotFound, "Deployment not found")
				return
			}
			cfg.Logger.Error("log request failed", "deployment_id", id, "error", err)
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(text))
	}).Methods("GET")

	router.HandleFunc("/api/v1/deployments/{id}/scale", func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		resp, err := deploymentResource.ScaleDeployment(id, r)
		writeResponder(w, resp, err, cfg.Logger)
	}).Methods("POST")

	// OpenAPI endpoint, generated by reflecting over the registered resources
	openapiGen := openapi.NewGenerator(
		openapi.WithTitle("Slipway API"),
		openapi.WithVersion("1.0.0"),
		openapi.WithDescription("Single-host app deployer API following the JSON:API specification"),
		openapi.WithServer("/api/v1"),
	)
	openapiGen.RegisterResource(openapi.ResourceInfo{
		Name:           "deployments",
		Model:          resources.Deployment{},
		SupportsFind:   true,
		SupportsCreate: true,
		SupportsDelete: true,
		Actions: []openapi.ActionInfo{
			{
				Name:      "log",
				Method:    http.MethodGet,
				Summary:   "Fetch the combined stdout and stderr of all instances",
				PlainText: true,
			},
			{
				Name:         "scale",
				Method:       http.MethodPost,
				Summary:      "Change the instance count",
				RequestModel: resources.ScaleRequest{},
			},
		},
	})
	router.HandleFunc("/openapi.json", openapiGen.Handler()).Methods("GET")

	// Mount the api2go handler for all other /api routes. api2go expects
	// paths without the /api prefix (e.g. /v1/deployments), so the prefix is
	// stripped before handing over.
	router.PathPrefix("/api").Handler(http.StripPrefix("/api", jsonAPI.Handler()))

	return router
}

// =============================================================================
// Middleware
// =============================================================================

// requestIDMiddleware generates and adds a request ID to responses.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware recovers from panics and returns a 500 error.
func recoveryMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered", "error", err)
					writeJSONError(w, http.StatusInternalServerError, "An unexpected error occurred")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// Health Handlers
// =============================================================================

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the readiness check response.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthResponse{Status: "healthy"})
}

func readyHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		checks := make(map[string]string)

		if _, err := st.ListDeployments(r.Context(), store.ListOptions{Limit: 1}); err != nil {
			checks["store"] = "failed"
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(ReadyResponse{Status: "not_ready", Checks: checks})
			return
		}
		checks["store"] = "ok"

		json.NewEncoder(w).Encode(ReadyResponse{Status: "ready", Checks: checks})
	}
}

// =============================================================================
// Helpers
// =============================================================================

// writeResponder writes an api2go.Responder to the response writer.
func writeResponder(w http.ResponseWriter, resp api2go.Responder, err error, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/vnd.api+json")

	if err != nil {
		var httpErr api2go.HTTPError
		if errors.As(err, &httpErr) && len(httpErr.Errors) > 0 {
			w.WriteHeader(parseStatus(httpErr.Errors[0].Status))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"errors": httpErr.Errors,
			})
			return
		}
		logger.Error("request error", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"errors": []map[string]interface{}{
				{
					"status": "500",
					"title":  "Internal Server Error",
					"detail": err.Error(),
				},
			},
		})
		return
	}

	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.WriteHeader(resp.StatusCode())
	if result := resp.Result(); result != nil {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": result,
			"meta": resp.Metadata(),
		})
	}
}

// writeJSONError writes a single JSON:API-style error object.
func writeJSONError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/vnd.api+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"errors": []map[string]interface{}{
			{
				"status": strconv.Itoa(status),
				"title":  http.StatusText(status),
				"detail": detail,
			},
		},
	})
}

// parseStatus converts a status string to an int.
func parseStatus(status string) int {
	if status == "" {
		return http.StatusInternalServerError
	}
	if i, err := strconv.Atoi(status); err == nil && i > 0 {
		return i
	}
	return http.StatusInternalServerError
}

// generateRequestID generates a unique request ID.
func generateRequestID() string {
	return "req_" + randomString(12)
}

// randomString generates a cryptographically random string of the given length.
func randomString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		idx, _ := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		b[i] = letters[idx.Int64()]
	}
	return string(b)
}
