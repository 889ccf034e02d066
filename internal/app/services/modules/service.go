package modules

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/R3E-Network/apphost/internal/app/domain/deployment"
	"github.com/R3E-Network/apphost/internal/app/domain/module"
	"github.com/R3E-Network/apphost/internal/app/storage"
	apperrors "github.com/R3E-Network/apphost/internal/errors"
	"github.com/R3E-Network/apphost/pkg/logger"
)

// References lists the deployments bound to a module.
type References interface {
	ListDeploymentsByModule(ctx context.Context, moduleName string) ([]deployment.Deployment, error)
}

// Service is the module registry. Every mutation re-resolves the whole
// registry under the write lock, so readers never observe a descriptor whose
// derived fields lag behind the registry contents.
type Service struct {
	mu    sync.RWMutex
	store storage.ModuleStore
	refs  References
	log   *logger.Logger
}

// New constructs a registry. refs may be nil, in which case deletes are never
// blocked by deployments.
func New(store storage.ModuleStore, refs References, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("modules")
	}
	return &Service{store: store, refs: refs, log: log}
}

// List returns every descriptor in insertion order.
func (s *Service) List(ctx context.Context) ([]module.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.ListModules(ctx)
}

// Get returns a descriptor by name.
func (s *Service) Get(ctx context.Context, name string) (module.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.GetModule(ctx, name)
}

// Put upserts a descriptor and re-resolves it together with every module that
// depends on it.
func (s *Service) Put(ctx context.Context, desc module.Descriptor) (module.Descriptor, error) {
	desc.Name = strings.TrimSpace(desc.Name)
	if desc.Name == "" {
		return module.Descriptor{}, apperrors.InvalidInput("module name is required")
	}
	if desc.Type == "" {
		desc.Type = module.TypeWeb
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.ListModules(ctx)
	if err != nil {
		return module.Descriptor{}, fmt.Errorf("list modules: %w", err)
	}
	names := make(map[string]struct{}, len(existing)+1)
	for _, d := range existing {
		names[d.Name] = struct{}{}
	}
	names[desc.Name] = struct{}{}

	resolved := Resolve(desc, func(name string) bool {
		_, ok := names[name]
		return ok
	})
	stored, err := s.store.PutModule(ctx, resolved)
	if err != nil {
		return module.Descriptor{}, fmt.Errorf("put module: %w", err)
	}
	if _, err := s.resolveLocked(ctx); err != nil {
		return module.Descriptor{}, err
	}

	s.log.WithField("module", stored.Name).
		WithField("resolved", stored.IsResolved).
		WithField("missing", stored.MissingDependencies()).
		Info("module stored")
	return stored, nil
}

// Delete removes a descriptor. It fails with Conflict while any deployment
// references the module.
func (s *Service) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.store.GetModule(ctx, name); err != nil {
		return err
	}
	if s.refs != nil {
		deps, err := s.refs.ListDeploymentsByModule(ctx, name)
		if err != nil {
			return fmt.Errorf("list deployments for module: %w", err)
		}
		if len(deps) > 0 {
			domains := make([]string, 0, len(deps))
			for _, d := range deps {
				domains = append(domains, d.Domain)
			}
			return apperrors.Conflict(fmt.Sprintf("module %q is used by %d deployment(s)", name, len(deps))).
				WithDetails("domains", domains)
		}
	}
	if err := s.store.DeleteModule(ctx, name); err != nil {
		return err
	}
	if _, err := s.resolveLocked(ctx); err != nil {
		return err
	}
	s.log.WithField("module", name).Info("module deleted")
	return nil
}

// Resolve recomputes resolution for the whole registry and returns the named
// descriptor.
func (s *Service) Resolve(ctx context.Context, name string) (module.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.resolveLocked(ctx); err != nil {
		return module.Descriptor{}, err
	}
	return s.store.GetModule(ctx, name)
}

// ResolveAll recomputes resolution for the whole registry and reports how many
// descriptors changed.
func (s *Service) ResolveAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked(ctx)
}

func (s *Service) resolveLocked(ctx context.Context) (int, error) {
	current, err := s.store.ListModules(ctx)
	if err != nil {
		return 0, fmt.Errorf("list modules: %w", err)
	}
	next := ResolveAll(current)
	changed := 0
	for i := range next {
		if !resolutionChanged(current[i], next[i]) {
			continue
		}
		if _, err := s.store.PutModule(ctx, next[i]); err != nil {
			return changed, fmt.Errorf("update module %s: %w", next[i].Name, err)
		}
		changed++
		s.log.WithField("module", next[i].Name).
			WithField("resolved", next[i].IsResolved).
			Debug("module resolution changed")
	}
	return changed, nil
}
