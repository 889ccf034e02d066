package memory

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/apphost/internal/app/domain/deployment"
	"github.com/R3E-Network/apphost/internal/app/domain/module"
	"github.com/R3E-Network/apphost/internal/app/storage"
	apperrors "github.com/R3E-Network/apphost/internal/errors"
	"github.com/google/uuid"
)

// Store is a thread-safe in-memory implementation of the storage interfaces.
// It is the default backend when no database DSN is configured.
type Store struct {
	mu          sync.RWMutex
	nextSeq     int64
	modules     map[string]module.Descriptor
	deployments map[string]deployment.Deployment
	events      map[string][]deployment.Event
}

var (
	_ storage.ModuleStore     = (*Store)(nil)
	_ storage.DeploymentStore = (*Store)(nil)
	_ storage.EventStore      = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextSeq:     1,
		modules:     make(map[string]module.Descriptor),
		deployments: make(map[string]deployment.Deployment),
		events:      make(map[string][]deployment.Event),
	}
}

// ModuleStore ---------------------------------------------------------------

func (s *Store) PutModule(_ context.Context, desc module.Descriptor) (module.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.modules[desc.Name]; ok {
		desc.Seq = existing.Seq
		desc.CreatedAt = existing.CreatedAt
	} else {
		desc.Seq = s.nextSeq
		s.nextSeq++
		desc.CreatedAt = now
	}
	desc.UpdatedAt = now

	s.modules[desc.Name] = desc.Clone()
	return desc.Clone(), nil
}

func (s *Store) GetModule(_ context.Context, name string) (module.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	desc, ok := s.modules[name]
	if !ok {
		return module.Descriptor{}, apperrors.NotFound("module", name)
	}
	return desc.Clone(), nil
}

func (s *Store) ListModules(_ context.Context) ([]module.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]module.Descriptor, 0, len(s.modules))
	for _, desc := range s.modules {
		out = append(out, desc.Clone())
	}
	sortBySeq(out)
	return out, nil
}

func (s *Store) DeleteModule(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.modules[name]; !ok {
		return apperrors.NotFound("module", name)
	}
	delete(s.modules, name)
	return nil
}

// DeploymentStore -----------------------------------------------------------

func (s *Store) CreateDeployment(_ context.Context, dep deployment.Deployment) (deployment.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.deployments[dep.Domain]; exists {
		return deployment.Deployment{}, apperrors.AlreadyExists("deployment", dep.Domain)
	}
	now := time.Now().UTC()
	dep.CreatedAt = now
	dep.UpdatedAt = now

	s.deployments[dep.Domain] = dep.Clone()
	return dep.Clone(), nil
}

func (s *Store) UpdateDeployment(_ context.Context, dep deployment.Deployment) (deployment.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.deployments[dep.Domain]
	if !ok {
		return deployment.Deployment{}, apperrors.NotFound("deployment", dep.Domain)
	}
	dep.CreatedAt = original.CreatedAt
	dep.UpdatedAt = time.Now().UTC()

	s.deployments[dep.Domain] = dep.Clone()
	return dep.Clone(), nil
}

func (s *Store) GetDeployment(_ context.Context, domain string) (deployment.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dep, ok := s.deployments[domain]
	if !ok {
		return deployment.Deployment{}, apperrors.NotFound("deployment", domain)
	}
	return dep.Clone(), nil
}

func (s *Store) ListDeployments(_ context.Context) ([]deployment.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]deployment.Deployment, 0, len(s.deployments))
	for _, dep := range s.deployments {
		out = append(out, dep.Clone())
	}
	sortByCreated(out)
	return out, nil
}

func (s *Store) ListDeploymentsByModule(_ context.Context, moduleName string) ([]deployment.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []deployment.Deployment
	for _, dep := range s.deployments {
		if dep.ModuleName == moduleName {
			out = append(out, dep.Clone())
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *Store) DeleteDeployment(_ context.Context, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deployments[domain]; !ok {
		return apperrors.NotFound("deployment", domain)
	}
	delete(s.deployments, domain)
	return nil
}

// EventStore ----------------------------------------------------------------

func (s *Store) AppendEvent(_ context.Context, ev deployment.Event, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	log := append(s.events[ev.Domain], ev)
	if keep > 0 && len(log) > keep {
		log = append([]deployment.Event(nil), log[len(log)-keep:]...)
	}
	s.events[ev.Domain] = log
	return nil
}

func (s *Store) ListEvents(_ context.Context, domain string) ([]deployment.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]deployment.Event(nil), s.events[domain]...), nil
}

func (s *Store) DeleteEvents(_ context.Context, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events, domain)
	return nil
}
