package deployments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/R3E-Network/apphost/internal/app/domain/deployment"
	"github.com/R3E-Network/apphost/internal/app/domain/module"
	"github.com/R3E-Network/apphost/internal/app/storage"
	apperrors "github.com/R3E-Network/apphost/internal/errors"
	"github.com/R3E-Network/apphost/pkg/logger"
)

// ReportSize bounds the per-domain event log.
const ReportSize = 100

// DefaultTickInterval is the progress unit reported while loading.
const DefaultTickInterval = 500 * time.Millisecond

// ModuleLookup resolves module descriptors by name.
type ModuleLookup interface {
	Get(ctx context.Context, name string) (module.Descriptor, error)
}

// RegisterRequest carries the inputs of Register. An empty Domain is derived
// from ModuleName and Owner.
type RegisterRequest struct {
	Domain     string            `json:"domain"`
	ModuleName string            `json:"moduleName"`
	Owner      string            `json:"-"`
	Injections map[string]string `json:"injections,omitempty"`
}

// Service is the deployment directory.
type Service struct {
	store   storage.DeploymentStore
	events  storage.EventStore
	modules ModuleLookup
	tick    time.Duration
	now     func() time.Time
	log     *logger.Logger
}

// New constructs a directory. events and modules may be nil.
func New(store storage.DeploymentStore, events storage.EventStore, modules ModuleLookup, tick time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("deployments")
	}
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	return &Service{
		store:   store,
		events:  events,
		modules: modules,
		tick:    tick,
		now:     func() time.Time { return time.Now().UTC() },
		log:     log,
	}
}

// TickInterval returns the configured progress unit.
func (s *Service) TickInterval() time.Duration { return s.tick }

// Register creates a deployment in the Registered state. The module need not
// exist yet, but an existing module must be a web module.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (deployment.Deployment, error) {
	moduleName := strings.TrimSpace(req.ModuleName)
	if moduleName == "" {
		return deployment.Deployment{}, apperrors.InvalidInput("moduleName is required")
	}

	var (
		domain string
		err    error
	)
	if strings.TrimSpace(req.Domain) == "" {
		domain, err = DeriveDomain(moduleName, req.Owner)
	} else {
		domain, err = NormalizeDomain(req.Domain)
	}
	if err != nil {
		return deployment.Deployment{}, err
	}

	if s.modules != nil {
		desc, err := s.modules.Get(ctx, moduleName)
		switch {
		case err == nil:
			if !desc.IsWebModule {
				return deployment.Deployment{}, apperrors.InvalidInput(fmt.Sprintf("module %q is not a web module", moduleName))
			}
		case apperrors.IsNotFound(err):
		default:
			return deployment.Deployment{}, fmt.Errorf("lookup module: %w", err)
		}
	}

	created, err := s.store.CreateDeployment(ctx, deployment.Deployment{
		Domain:     domain,
		ModuleName: moduleName,
		Owner:      req.Owner,
		State:      deployment.StateRegistered,
		Injections: req.Injections,
	})
	if err != nil {
		return deployment.Deployment{}, err
	}
	s.Record(ctx, domain, deployment.EventRegistered, "bound to module "+moduleName)
	s.log.WithField("domain", domain).
		WithField("module", moduleName).
		WithField("owner", req.Owner).
		Info("deployment registered")
	return s.decorate(created), nil
}

// Unregister removes a deployment unless an operation is in flight on it.
func (s *Service) Unregister(ctx context.Context, domain string) error {
	domain = deployment.CanonicalDomain(domain)
	dep, err := s.store.GetDeployment(ctx, domain)
	if err != nil {
		return err
	}
	if dep.State.InFlight() {
		return apperrors.Conflict(fmt.Sprintf("deployment %q is %s", domain, dep.State))
	}
	if err := s.store.DeleteDeployment(ctx, domain); err != nil {
		return err
	}
	if s.events != nil {
		if err := s.events.DeleteEvents(ctx, domain); err != nil {
			s.log.WithError(err).WithField("domain", domain).Warn("drop deployment report")
		}
	}
	s.log.WithField("domain", domain).Info("deployment unregistered")
	return nil
}

// Get returns a deployment by domain.
func (s *Service) Get(ctx context.Context, domain string) (deployment.Deployment, error) {
	domain = deployment.CanonicalDomain(domain)
	dep, err := s.store.GetDeployment(ctx, domain)
	if err != nil {
		return deployment.Deployment{}, err
	}
	return s.decorate(dep), nil
}

// List returns every deployment.
func (s *Service) List(ctx context.Context) ([]deployment.Deployment, error) {
	deps, err := s.store.ListDeployments(ctx)
	if err != nil {
		return nil, err
	}
	for i := range deps {
		deps[i] = s.decorate(deps[i])
	}
	return deps, nil
}

// Update persists a state change made by the lifecycle controller.
func (s *Service) Update(ctx context.Context, dep deployment.Deployment) (deployment.Deployment, error) {
	updated, err := s.store.UpdateDeployment(ctx, dep)
	if err != nil {
		return deployment.Deployment{}, err
	}
	return s.decorate(updated), nil
}

// Record appends an entry to the deployment's report. Failures are logged.
func (s *Service) Record(ctx context.Context, domain string, typ deployment.EventType, message string) {
	if s.events == nil {
		return
	}
	domain = deployment.CanonicalDomain(domain)
	err := s.events.AppendEvent(ctx, deployment.Event{
		Domain:  domain,
		Type:    typ,
		Message: message,
		At:      s.now(),
	}, ReportSize)
	if err != nil {
		s.log.WithError(err).WithField("domain", domain).Warn("record deployment event")
	}
}

// Report returns the recorded transitions of a deployment, oldest first.
func (s *Service) Report(ctx context.Context, domain string) ([]deployment.Event, error) {
	domain = deployment.CanonicalDomain(domain)
	if _, err := s.store.GetDeployment(ctx, domain); err != nil {
		return nil, err
	}
	if s.events == nil {
		return []deployment.Event{}, nil
	}
	return s.events.ListEvents(ctx, domain)
}

func (s *Service) decorate(dep deployment.Deployment) deployment.Deployment {
	dep.LoadingTicks = dep.Ticks(s.now(), s.tick)
	return dep
}
