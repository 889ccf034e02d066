package app

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/apphost/internal/app/metrics"
	"github.com/R3E-Network/apphost/internal/app/services/deployments"
	"github.com/R3E-Network/apphost/internal/app/services/lifecycle"
	"github.com/R3E-Network/apphost/internal/app/services/modules"
	"github.com/R3E-Network/apphost/internal/app/services/reconcile"
	"github.com/R3E-Network/apphost/internal/app/services/status"
	"github.com/R3E-Network/apphost/internal/app/storage"
	"github.com/R3E-Network/apphost/internal/app/storage/memory"
	"github.com/R3E-Network/apphost/internal/app/system"
	"github.com/R3E-Network/apphost/internal/hosting"
	"github.com/R3E-Network/apphost/internal/repository"
	"github.com/R3E-Network/apphost/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Modules     storage.ModuleStore
	Deployments storage.DeploymentStore
	Events      storage.EventStore
}

// Options tunes the composed services. Zero values select defaults.
type Options struct {
	Runtime           hosting.Runtime
	Locker            lifecycle.Locker
	Lifecycle         lifecycle.Config
	TickInterval      time.Duration
	ReconcileSchedule string
	CatalogPath       string
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	catalog string

	Modules     *modules.Service
	Deployments *deployments.Service
	Lifecycle   *lifecycle.Controller
	Status      *status.Service
	Repository  *repository.Repository
	Reconciler  *reconcile.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Modules == nil {
		stores.Modules = mem
	}
	if stores.Deployments == nil {
		stores.Deployments = mem
	}
	if stores.Events == nil {
		stores.Events = mem
	}
	if opts.Runtime == nil {
		log.Warn("no hosting runtime configured; using local runtime")
		opts.Runtime = hosting.NewLocalRuntime(hosting.DefaultHostSuffix, 0)
	}

	moduleService := modules.New(stores.Modules, stores.Deployments, log.Named("modules"))
	deploymentService := deployments.New(stores.Deployments, stores.Events, moduleService, opts.TickInterval, log.Named("deployments"))
	controller := lifecycle.New(deploymentService, moduleService, opts.Runtime, opts.Locker, opts.Lifecycle, log.Named("lifecycle")).
		WithObserver(metrics.Lifecycle{})
	statusService := status.New(moduleService, deploymentService)
	repo := repository.New(moduleService, log.Named("repository"))
	reconciler := reconcile.New(moduleService, deploymentService, controller, opts.ReconcileSchedule, log.Named("reconcile"))

	manager := system.NewManager()
	for _, svc := range []system.Service{controller, reconciler} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:     manager,
		log:         log,
		catalog:     opts.CatalogPath,
		Modules:     moduleService,
		Deployments: deploymentService,
		Lifecycle:   controller,
		Status:      statusService,
		Repository:  repo,
		Reconciler:  reconciler,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start loads the module catalog, if configured, and begins all registered
// services.
func (a *Application) Start(ctx context.Context) error {
	if a.catalog != "" {
		descs, err := a.Repository.LoadDir(ctx, a.catalog)
		if err != nil {
			return fmt.Errorf("load module catalog: %w", err)
		}
		a.log.WithField("path", a.catalog).WithField("modules", len(descs)).Info("module catalog loaded")
	}
	return a.manager.Start(ctx)
}

// Stop stops all services, waiting for in-flight lifecycle operations.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Services lists registered background services in start order.
func (a *Application) Services() []string {
	return a.manager.Services()
}
