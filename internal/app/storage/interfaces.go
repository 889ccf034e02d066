package storage

import (
	"context"

	"github.com/R3E-Network/apphost/internal/app/domain/deployment"
	"github.com/R3E-Network/apphost/internal/app/domain/module"
)

// ModuleStore persists module descriptors. List returns descriptors in
// insertion order; re-putting an existing name keeps its original position.
type ModuleStore interface {
	PutModule(ctx context.Context, desc module.Descriptor) (module.Descriptor, error)
	GetModule(ctx context.Context, name string) (module.Descriptor, error)
	ListModules(ctx context.Context) ([]module.Descriptor, error)
	DeleteModule(ctx context.Context, name string) error
}

// DeploymentStore persists deployment records keyed by domain.
type DeploymentStore interface {
	CreateDeployment(ctx context.Context, dep deployment.Deployment) (deployment.Deployment, error)
	UpdateDeployment(ctx context.Context, dep deployment.Deployment) (deployment.Deployment, error)
	GetDeployment(ctx context.Context, domain string) (deployment.Deployment, error)
	ListDeployments(ctx context.Context) ([]deployment.Deployment, error)
	ListDeploymentsByModule(ctx context.Context, moduleName string) ([]deployment.Deployment, error)
	DeleteDeployment(ctx context.Context, domain string) error
}

// EventStore persists the bounded per-domain transition log.
type EventStore interface {
	AppendEvent(ctx context.Context, ev deployment.Event, keep int) error
	ListEvents(ctx context.Context, domain string) ([]deployment.Event, error)
	DeleteEvents(ctx context.Context, domain string) error
}
