// Package resources provides the JSON:API resource implementations for the
// Slipway API.
package resources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/manyminds/api2go"

	"github.com/artpar/slipway/internal/core/domain"
	"github.com/artpar/slipway/internal/shell/deployer"
	"github.com/artpar/slipway/internal/shell/store"
)

// =============================================================================
// Deployment JSON:API Model
// =============================================================================

// Deployment is the JSON:API view of one deployment: the persisted history
// record overlaid with live orchestrator state while the deployment is still
// tracked. Properties and DeploymentProperties are request-side only; the
// journal does not retain them, so reads after creation omit them.
type Deployment struct {
	ID                   string            `json:"-"`
	AppName              string            `json:"app_name"`
	Artifact             string            `json:"artifact"`
	Properties           map[string]string `json:"properties,omitempty"`
	DeploymentProperties map[string]string `json:"deployment_properties,omitempty"`
	State                string            `json:"state"`
	ErrorMessage         string            `json:"error_message,omitempty"`
	Instances            []Instance        `json:"instances,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
	UndeployedAt         *time.Time        `json:"undeployed_at,omitempty"`
}

// Instance is one instance entry inside a Deployment resource. Live instances
// carry attributes from the orchestrator; undeployed ones are reconstructed
// from history rows and carry exit details instead.
type Instance struct {
	ID         string            `json:"id"`
	Index      int               `json:"index"`
	State      string            `json:"state"`
	Attributes map[string]string `json:"attributes,omitempty"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	ExitedAt   *time.Time        `json:"exited_at,omitempty"`
	ExitCode   *int              `json:"exit_code,omitempty"`
}

// ScaleRequest is the body of the scale action.
type ScaleRequest struct {
	Count int `json:"count"`
}

// GetID returns the deployment ID for JSON:API.
func (d Deployment) GetID() string {
	return d.ID
}

// SetID sets the deployment ID for JSON:API.
func (d *Deployment) SetID(id string) error {
	d.ID = id
	return nil
}

// GetName returns the JSON:API resource type name.
func (d Deployment) GetName() string {
	return "deployments"
}

// =============================================================================
// Conversion Functions
// =============================================================================

// deploymentFromRecord converts a history record into the resource shape.
func deploymentFromRecord(rec *domain.DeploymentRecord) Deployment {
	return Deployment{
		ID:           rec.ID,
		AppName:      rec.AppName,
		Artifact:     rec.Artifact,
		State:        string(rec.State),
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
		UndeployedAt: rec.UndeployedAt,
	}
}

// instancesFromStatus converts the orchestrator's live snapshot, ordered by
// instance index.
func instancesFromStatus(status domain.AppStatus) []Instance {
	instances := make([]Instance, 0, len(status.Instances))
	for _, inst := range status.Instances {
		instances = append(instances, Instance{
			ID:         inst.ID,
			Index:      inst.Index,
			State:      string(inst.State),
			Attributes: inst.Attributes,
		})
	}
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].Index < instances[j].Index
	})
	return instances
}

// instancesFromRecords reconstructs instance entries from history rows. The
// journal does not persist per-instance probe state, so every row reads as
// exited.
func instancesFromRecords(records []domain.InstanceRecord) []Instance {
	instances := make([]Instance, 0, len(records))
	for i := range records {
		rec := &records[i]
		startedAt := rec.StartedAt
		instances = append(instances, Instance{
			ID:    domain.InstanceID(rec.DeploymentID, rec.Index),
			Index: rec.Index,
			State: string(domain.InstanceExited),
			Attributes: map[string]string{
				domain.AttrPID:     strconv.Itoa(rec.PID),
				domain.AttrPort:    strconv.Itoa(rec.Port),
				domain.AttrGUID:    rec.GUID,
				domain.AttrWorkDir: rec.WorkDir,
			},
			StartedAt: &startedAt,
			ExitedAt:  rec.ExitedAt,
			ExitCode:  rec.ExitCode,
		})
	}
	return instances
}

// =============================================================================
// DeploymentResource - CRUD Operations
// =============================================================================

// DeploymentResource implements the api2go resource interface for deployments.
type DeploymentResource struct {
	Deployer *deployer.Deployer
	Store    store.Store
	Logger   *slog.Logger
}

// NewDeploymentResource creates a new deployment resource handler.
func NewDeploymentResource(d *deployer.Deployer, s store.Store, l *slog.Logger) *DeploymentResource {
	if l == nil {
		l = slog.Default()
	}
	return &DeploymentResource{
		Deployer: d,
		Store:    s,
		Logger:   l,
	}
}

// FindAll returns deployment history with live state overlaid, newest first.
// The list view omits instances; FindOne carries them.
// GET /api/v1/deployments
func (r DeploymentResource) FindAll(req api2go.Request) (api2go.Responder, error) {
	opts := store.DefaultListOptions()

	// Parse pagination from query params
	if limit, ok := req.QueryParams["page[size]"]; ok && len(limit) > 0 {
		if l, err := strconv.Atoi(limit[0]); err == nil {
			opts.Limit = l
		}
	}
	if offset, ok := req.QueryParams["page[offset]"]; ok && len(offset) > 0 {
		if o, err := strconv.Atoi(offset[0]); err == nil {
			opts.Offset = o
		}
	}
	if pageNum, ok := req.QueryParams["page[number]"]; ok && len(pageNum) > 0 {
		if pn, err := strconv.Atoi(pageNum[0]); err == nil && pn > 0 {
			opts.Offset = (pn - 1) * opts.Limit
		}
	}

	ctx := req.PlainRequest.Context()

	records, err := r.Store.ListDeployments(ctx, opts)
	if err != nil {
		return &Response{Code: http.StatusInternalServerError}, err
	}

	result := make([]Deployment, 0, len(records))
	for i := range records {
		d := deploymentFromRecord(&records[i])
		if status := r.Deployer.Status(d.ID); status.State != domain.StateUnknown {
			d.State = string(status.State)
		}
		result = append(result, d)
	}

	return &Response{
		Code: http.StatusOK,
		Res:  result,
		Meta: map[string]interface{}{
			"total":  len(result),
			"limit":  opts.Limit,
			"offset": opts.Offset,
		},
	}, nil
}

// FindOne returns a single deployment by ID.
// GET /api/v1/deployments/{id}
func (r DeploymentResource) FindOne(id string, req api2go.Request) (api2go.Responder, error) {
	d, ok, err := r.fetch(req.PlainRequest.Context(), id)
	if err != nil {
		return &Response{Code: http.StatusInternalServerError}, err
	}
	if !ok {
		return &Response{Code: http.StatusNotFound}, api2go.NewHTTPError(
			fmt.Errorf("deployment not found"),
			"Deployment not found",
			http.StatusNotFound,
		)
	}

	return &Response{
		Code: http.StatusOK,
		Res:  d,
	}, nil
}

// Create launches a new deployment.
// POST /api/v1/deployments
//
// A launch that fails after some instances spawned still creates the
// deployment; it converges to failed and the response reports its current
// state.
func (r DeploymentResource) Create(obj interface{}, req api2go.Request) (api2go.Responder, error) {
	d, ok := obj.(Deployment)
	if !ok {
		return &Response{Code: http.StatusBadRequest}, api2go.NewHTTPError(
			fmt.Errorf("invalid request body"),
			"Invalid request body",
			http.StatusBadRequest,
		)
	}

	if d.AppName == "" {
		return &Response{Code: http.StatusBadRequest}, api2go.NewHTTPError(
			fmt.Errorf("app_name is required"),
			"app_name is required",
			http.StatusBadRequest,
		)
	}
	if d.Artifact == "" {
		return &Response{Code: http.StatusBadRequest}, api2go.NewHTTPError(
			fmt.Errorf("artifact is required"),
			"artifact is required",
			http.StatusBadRequest,
		)
	}

	request := domain.NewDeploymentRequest(
		domain.NewAppDefinition(d.AppName, d.Properties),
		d.Artifact,
		d.DeploymentProperties,
	)

	id, err := r.Deployer.Deploy(request)
	if id == "" {
		if errors.Is(err, domain.ErrDeploymentExists) {
			return &Response{Code: http.StatusInternalServerError}, err
		}
		return &Response{Code: http.StatusBadRequest}, api2go.NewHTTPError(
			err,
			err.Error(),
			http.StatusBadRequest,
		)
	}
	if err != nil {
		r.Logger.Warn("deployment launched partially", "deployment_id", id, "error", err)
	}

	created, ok, fetchErr := r.fetch(req.PlainRequest.Context(), id)
	if fetchErr != nil || !ok {
		// The journal is unreachable; answer with what the request told us.
		created = Deployment{
			ID:       id,
			AppName:  d.AppName,
			Artifact: d.Artifact,
			State:    string(r.Deployer.Status(id).State),
		}
	}

	r.Logger.Info("deployment created", "deployment_id", id, "app", d.AppName)

	return &Response{
		Code: http.StatusCreated,
		Res:  created,
	}, nil
}

// Delete undeploys a deployment. Teardown is asynchronous: a 202 means stop
// signals were dispatched and the deployment converges to unknown; callers
// poll FindOne until then.
// DELETE /api/v1/deployments/{id}
func (r DeploymentResource) Delete(id string, req api2go.Request) (api2go.Responder, error) {
	ctx := req.PlainRequest.Context()

	if r.Deployer.Status(id).State == domain.StateUnknown {
		if _, err := r.Store.GetDeployment(ctx, id); err != nil {
			if isNotFound(err) {
				return &Response{Code: http.StatusNotFound}, api2go.NewHTTPError(
					fmt.Errorf("deployment not found"),
					"Deployment not found",
					http.StatusNotFound,
				)
			}
			return &Response{Code: http.StatusInternalServerError}, err
		}
		// Known only to history: already undeployed, nothing to stop.
		return &Response{Code: http.StatusNoContent}, nil
	}

	if err := r.Deployer.Undeploy(id); err != nil {
		return &Response{Code: http.StatusInternalServerError}, err
	}

	r.Logger.Info("deployment undeploy requested", "deployment_id", id)

	return &Response{Code: http.StatusAccepted}, nil
}

// =============================================================================
// Custom Actions - Log/Scale
// =============================================================================

// LogDeployment returns the combined stdout and stderr of every live
// instance, ordered by instance index.
func (r DeploymentResource) LogDeployment(id string) (string, error) {
	return r.Deployer.Log(id)
}

// ScaleDeployment changes the instance count of a live deployment. Scale-down
// is asynchronous like undeploy: stopped instances leave the response once
// their processes exit.
// POST /api/v1/deployments/{id}/scale
func (r DeploymentResource) ScaleDeployment(id string, req *http.Request) (api2go.Responder, error) {
	var body ScaleRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return &Response{Code: http.StatusBadRequest}, api2go.NewHTTPError(
			fmt.Errorf("invalid request body"),
			"Invalid request body",
			http.StatusBadRequest,
		)
	}

	if err := r.Deployer.Scale(id, body.Count); err != nil {
		switch {
		case errors.Is(err, domain.ErrDeploymentNotFound):
			return &Response{Code: http.StatusNotFound}, api2go.NewHTTPError(
				err,
				"Deployment not found",
				http.StatusNotFound,
			)
		case errors.Is(err, domain.ErrInvalidCount):
			return &Response{Code: http.StatusBadRequest}, api2go.NewHTTPError(
				err,
				err.Error(),
				http.StatusBadRequest,
			)
		default:
			return &Response{Code: http.StatusInternalServerError}, api2go.NewHTTPError(
				err,
				"Failed to scale deployment: "+err.Error(),
				http.StatusInternalServerError,
			)
		}
	}

	r.Logger.Info("deployment scaled", "deployment_id", id, "count", body.Count)

	d, ok, err := r.fetch(req.Context(), id)
	if err != nil {
		return &Response{Code: http.StatusInternalServerError}, err
	}
	if !ok {
		d = Deployment{ID: id, State: string(r.Deployer.Status(id).State)}
	}

	return &Response{
		Code: http.StatusOK,
		Res:  d,
	}, nil
}

// =============================================================================
// Merged View
// =============================================================================

// fetch assembles the merged resource view for one id. The bool is false when
// neither the journal nor the orchestrator knows the id. A deployment whose
// journal row is missing (history write failed) is served from the live view
// alone and reads sparse.
func (r DeploymentResource) fetch(ctx context.Context, id string) (Deployment, bool, error) {
	record, err := r.Store.GetDeployment(ctx, id)
	if err != nil && !isNotFound(err) {
		return Deployment{}, false, err
	}

	status := r.Deployer.Status(id)
	live := status.State != domain.StateUnknown

	if record == nil && !live {
		return Deployment{}, false, nil
	}

	var d Deployment
	if record != nil {
		d = deploymentFromRecord(record)
	} else {
		d = Deployment{ID: id}
	}

	if live {
		d.State = string(status.State)
		d.Instances = instancesFromStatus(status)
		return d, true, nil
	}

	rows, listErr := r.Store.ListInstances(ctx, id)
	if listErr != nil {
		r.Logger.Warn("list instance history failed", "deployment_id", id, "error", listErr)
		return d, true, nil
	}
	d.Instances = instancesFromRecords(rows)
	return d, true, nil
}

// =============================================================================
// Response Type
// =============================================================================

// Response implements the api2go.Responder interface.
type Response struct {
	Code int
	Res  interface{}
	Meta map[string]interface{}
}

// Metadata returns additional metadata for the response.
func (r *Response) Metadata() map[string]interface{} {
	return r.Meta
}

// Result returns the response data.
func (r *Response) Result() interface{} {
	return r.Res
}

// StatusCode returns the HTTP status code.
func (r *Response) StatusCode() int {
	return r.Code
}

// =============================================================================
// Helper Functions
// =============================================================================

// isNotFound checks if an error is a not found error.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var storeErr *store.StoreError
	if errors.As(err, &storeErr) {
		return errors.Is(storeErr.Unwrap(), store.ErrNotFound)
	}
	return errors.Is(err, store.ErrNotFound)
}
