package store

import (
	"context"
	"time"

	"github.com/artpar/slipway/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for deployment history.
//
// The store is a journal, not the source of truth: live deployment state is
// held by the orchestrator in memory and written here so history survives
// restarts and can be inspected over the API.
type Store interface {
	// Deployment history operations
	CreateDeployment(ctx context.Context, record *domain.DeploymentRecord) error
	GetDeployment(ctx context.Context, id string) (*domain.DeploymentRecord, error)
	UpdateDeploymentState(ctx context.Context, id string, state domain.DeploymentState, errorMessage string) error
	MarkUndeployed(ctx context.Context, id string, at time.Time) error
	ListDeployments(ctx context.Context, opts ListOptions) ([]domain.DeploymentRecord, error)

	// Instance history operations
	CreateInstance(ctx context.Context, record *domain.InstanceRecord) error
	MarkInstanceExited(ctx context.Context, deploymentID string, index int, exitedAt time.Time, exitCode int) error
	ListInstances(ctx context.Context, deploymentID string) ([]domain.InstanceRecord, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
