package status

import (
	"context"
	"errors"
	"testing"

	"github.com/R3E-Network/apphost/internal/app/domain/deployment"
	"github.com/R3E-Network/apphost/internal/app/domain/module"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticModules []module.Descriptor

func (s staticModules) List(context.Context) ([]module.Descriptor, error) { return s, nil }

type staticDeployments struct {
	items []deployment.Deployment
	err   error
}

func (s staticDeployments) List(context.Context) ([]deployment.Deployment, error) {
	return s.items, s.err
}

func TestSnapshotClassifies(t *testing.T) {
	mods := staticModules{
		{Name: "welcome", Type: module.TypeWeb, IsWebModule: true, IsResolved: true},
		{Name: "bank", Type: module.TypeWeb, IsWebModule: true, Dependencies: []module.Dependency{{Name: "oodb"}}},
		{Name: "broken", Issues: []string{"syntax error"}},
	}
	deps := staticDeployments{items: []deployment.Deployment{
		{Domain: "shop.alice.user", ModuleName: "welcome", State: deployment.StateActive, Active: true, URL: "http://shop"},
		{Domain: "bank.bob.user", ModuleName: "bank", State: deployment.StateError, LastError: "missing oodb"},
		{Domain: "new.bob.user", ModuleName: "ghost", State: deployment.StateRegistered},
	}}

	snap, err := New(mods, deps).Snapshot(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.Modules, 3)
	assert.False(t, snap.Modules[0].HasMissingDependencies)
	assert.Equal(t, 1, snap.Modules[0].Deployments)
	assert.True(t, snap.Modules[1].HasMissingDependencies)
	assert.Equal(t, []string{"oodb"}, snap.Modules[1].MissingDependencies)
	assert.True(t, snap.Modules[2].HasIssues)
	assert.Equal(t, []string{}, snap.Modules[2].MissingDependencies)

	require.Len(t, snap.Deployments, 3)
	assert.Equal(t, DisplayActive, snap.Deployments[0].Display)
	assert.True(t, snap.Deployments[0].ModuleResolved)
	assert.Equal(t, DisplayError, snap.Deployments[1].Display)
	assert.False(t, snap.Deployments[1].ModuleResolved)
	assert.Equal(t, DisplayInactive, snap.Deployments[2].Display)
	assert.False(t, snap.Deployments[2].ModuleRegistered)

	assert.Equal(t, 3, snap.Summary.Modules)
	assert.Equal(t, 1, snap.Summary.ResolvedModules)
	assert.Equal(t, 2, snap.Summary.UnresolvedModules)
	assert.Equal(t, 1, snap.Summary.ByDisplay[DisplayActive])
	assert.False(t, snap.TakenAt.IsZero())
}

func TestSnapshotDoesNotMutateSources(t *testing.T) {
	mods := staticModules{{Name: "bank", Dependencies: []module.Dependency{{Name: "oodb"}}}}
	deps := staticDeployments{items: []deployment.Deployment{{Domain: "a", ModuleName: "bank", State: deployment.StateLoading}}}

	_, err := New(mods, deps).Snapshot(context.Background())
	require.NoError(t, err)
	assert.False(t, mods[0].Dependencies[0].Available)
	assert.Equal(t, deployment.StateLoading, deps.items[0].State)
}

func TestSnapshotPropagatesErrors(t *testing.T) {
	_, err := New(staticModules{}, staticDeployments{err: errors.New("db down")}).Snapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		state deployment.State
		want  Display
	}{
		{deployment.StateRegistered, DisplayInactive},
		{deployment.StateLoading, DisplayLoading},
		{deployment.StateActive, DisplayActive},
		{deployment.StateError, DisplayError},
		{deployment.StateUnloading, DisplayUnloading},
		{deployment.StateUnknown, DisplayInactive},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(deployment.Deployment{State: tt.state}))
		})
	}
}
