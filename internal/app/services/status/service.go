// Package status builds read-only snapshots of the registry and directory for
// polling clients.
package status

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/apphost/internal/app/domain/deployment"
	"github.com/R3E-Network/apphost/internal/app/domain/module"
)

// ModuleSource lists registry contents.
type ModuleSource interface {
	List(ctx context.Context) ([]module.Descriptor, error)
}

// DeploymentSource lists directory contents.
type DeploymentSource interface {
	List(ctx context.Context) ([]deployment.Deployment, error)
}

// ModuleView is a descriptor with its display classification.
type ModuleView struct {
	module.Descriptor
	MissingDependencies    []string `json:"missingDependencies"`
	HasMissingDependencies bool     `json:"hasMissingDependencies"`
	HasIssues              bool     `json:"hasIssues"`
	Deployments            int      `json:"deployments"`
}

// Display classifies a deployment for presentation.
type Display string

const (
	DisplayInactive  Display = "inactive"
	DisplayLoading   Display = "loading"
	DisplayActive    Display = "active"
	DisplayError     Display = "error"
	DisplayUnloading Display = "unloading"
)

// DeploymentView is a deployment with its display classification.
type DeploymentView struct {
	deployment.Deployment
	Display          Display `json:"display"`
	ModuleRegistered bool    `json:"moduleRegistered"`
	ModuleResolved   bool    `json:"moduleResolved"`
}

// Summary counts deployments per display class and modules per resolution.
type Summary struct {
	Modules           int             `json:"modules"`
	ResolvedModules   int             `json:"resolvedModules"`
	UnresolvedModules int             `json:"unresolvedModules"`
	Deployments       int             `json:"deployments"`
	ByDisplay         map[Display]int `json:"byDisplay"`
}

// Snapshot is a point-in-time view of modules and deployments.
type Snapshot struct {
	Modules     []ModuleView     `json:"modules"`
	Deployments []DeploymentView `json:"deployments"`
	Summary     Summary          `json:"summary"`
	TakenAt     time.Time        `json:"takenAt"`
}

// Service is the status reporter.
type Service struct {
	modules     ModuleSource
	deployments DeploymentSource
	now         func() time.Time
}

// New constructs a status reporter.
func New(modules ModuleSource, deployments DeploymentSource) *Service {
	return &Service{
		modules:     modules,
		deployments: deployments,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Snapshot merges registry and directory state. It never mutates either.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	mods, err := s.modules.List(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list modules: %w", err)
	}
	deps, err := s.deployments.List(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list deployments: %w", err)
	}

	byName := make(map[string]module.Descriptor, len(mods))
	usage := make(map[string]int, len(mods))
	for _, m := range mods {
		byName[m.Name] = m
	}
	for _, d := range deps {
		usage[d.ModuleName]++
	}

	snap := Snapshot{
		Modules:     make([]ModuleView, 0, len(mods)),
		Deployments: make([]DeploymentView, 0, len(deps)),
		Summary:     Summary{ByDisplay: make(map[Display]int)},
		TakenAt:     s.now(),
	}
	for _, m := range mods {
		view := ClassifyModule(m)
		view.Deployments = usage[m.Name]
		snap.Modules = append(snap.Modules, view)
		if m.IsResolved {
			snap.Summary.ResolvedModules++
		} else {
			snap.Summary.UnresolvedModules++
		}
	}
	for _, d := range deps {
		m, registered := byName[d.ModuleName]
		view := DeploymentView{
			Deployment:       d,
			Display:          Classify(d),
			ModuleRegistered: registered,
			ModuleResolved:   registered && m.IsResolved,
		}
		snap.Deployments = append(snap.Deployments, view)
		snap.Summary.ByDisplay[view.Display]++
	}
	snap.Summary.Modules = len(mods)
	snap.Summary.Deployments = len(deps)
	return snap, nil
}

// ClassifyModule derives the display flags of a descriptor.
func ClassifyModule(m module.Descriptor) ModuleView {
	missing := m.MissingDependencies()
	if missing == nil {
		missing = []string{}
	}
	return ModuleView{
		Descriptor:             m,
		MissingDependencies:    missing,
		HasMissingDependencies: len(missing) > 0,
		HasIssues:              m.HasIssues(),
	}
}

// Classify maps a deployment state onto its display class.
func Classify(d deployment.Deployment) Display {
	switch d.State {
	case deployment.StateLoading:
		return DisplayLoading
	case deployment.StateActive:
		return DisplayActive
	case deployment.StateError:
		return DisplayError
	case deployment.StateUnloading:
		return DisplayUnloading
	default:
		return DisplayInactive
	}
}
