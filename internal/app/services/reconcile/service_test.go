package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/R3E-Network/apphost/internal/app/domain/deployment"
	"github.com/R3E-Network/apphost/internal/app/domain/module"
	"github.com/R3E-Network/apphost/internal/app/services/deployments"
	"github.com/R3E-Network/apphost/internal/app/services/lifecycle"
	"github.com/R3E-Network/apphost/internal/app/services/modules"
	"github.com/R3E-Network/apphost/internal/app/storage/memory"
	"github.com/R3E-Network/apphost/internal/hosting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunOnceRepairsState(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	registry := modules.New(store, store, nil)
	directory := deployments.New(store, store, registry, 0, nil)
	controller := lifecycle.New(directory, registry, hosting.NewLocalRuntime("", 0), nil, lifecycle.Config{}, nil)

	// stale flags written behind the registry
	_, err := store.PutModule(ctx, module.Descriptor{Name: "bank", IsResolved: true, Dependencies: []module.Dependency{{Name: "oodb", Available: true}}})
	require.NoError(t, err)

	_, err = directory.Register(ctx, deployments.RegisterRequest{Domain: "bank.bob.user", ModuleName: "bank"})
	require.NoError(t, err)
	dep, err := directory.Get(ctx, "bank.bob.user")
	require.NoError(t, err)
	dep.State = deployment.StateLoading
	_, err = directory.Update(ctx, dep)
	require.NoError(t, err)

	svc := New(registry, directory, controller, "", nil)
	res, err := svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Reresolved)
	assert.Equal(t, 1, res.Recovered)

	bank, err := registry.Get(ctx, "bank")
	require.NoError(t, err)
	assert.False(t, bank.IsResolved)

	dep, err = directory.Get(ctx, "bank.bob.user")
	require.NoError(t, err)
	assert.Equal(t, deployment.StateError, dep.State)

	res, err = svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

type failingRegistry struct{}

func (failingRegistry) List(context.Context) ([]module.Descriptor, error) { return nil, nil }
func (failingRegistry) ResolveAll(context.Context) (int, error) {
	return 0, errors.New("store offline")
}

func TestRunOnceReportsErrors(t *testing.T) {
	store := memory.New()
	svc := New(failingRegistry{}, deployments.New(store, store, nil, 0, nil), nil, "", nil)
	_, err := svc.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store offline")
}

func TestStartRejectsBadSchedule(t *testing.T) {
	store := memory.New()
	registry := modules.New(store, store, nil)
	svc := New(registry, deployments.New(store, store, nil, 0, nil), nil, "not a schedule", nil)
	assert.Error(t, svc.Start(context.Background()))
}

func TestStartStop(t *testing.T) {
	store := memory.New()
	registry := modules.New(store, store, nil)
	svc := New(registry, deployments.New(store, store, nil, 0, nil), nil, "@every 1h", nil)

	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, "reconcile", svc.Name())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(ctx))
	require.NoError(t, svc.Stop(ctx))
}
