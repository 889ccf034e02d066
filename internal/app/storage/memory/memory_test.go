package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/R3E-Network/apphost/internal/app/domain/deployment"
	"github.com/R3E-Network/apphost/internal/app/domain/module"
	apperrors "github.com/R3E-Network/apphost/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModulesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, name := range []string{"welcome", "bank", "oodb"} {
		_, err := s.PutModule(ctx, module.Descriptor{Name: name})
		require.NoError(t, err)
	}
	// re-put keeps position
	_, err := s.PutModule(ctx, module.Descriptor{Name: "welcome", Issues: []string{"x"}})
	require.NoError(t, err)

	list, err := s.ListModules(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "welcome", list[0].Name)
	assert.Equal(t, "bank", list[1].Name)
	assert.Equal(t, "oodb", list[2].Name)
	assert.Equal(t, []string{"x"}, list[0].Issues)
}

func TestModuleClonesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.PutModule(ctx, module.Descriptor{Name: "bank", Dependencies: []module.Dependency{{Name: "oodb"}}})
	require.NoError(t, err)

	got, err := s.GetModule(ctx, "bank")
	require.NoError(t, err)
	got.Dependencies[0].Available = true

	again, err := s.GetModule(ctx, "bank")
	require.NoError(t, err)
	assert.False(t, again.Dependencies[0].Available)
}

func TestModuleNotFound(t *testing.T) {
	s := New()
	_, err := s.GetModule(context.Background(), "missing")
	assert.True(t, apperrors.IsNotFound(err))
	assert.True(t, apperrors.IsNotFound(s.DeleteModule(context.Background(), "missing")))
}

func TestDeploymentCRUD(t *testing.T) {
	ctx := context.Background()
	s := New()

	dep, err := s.CreateDeployment(ctx, deployment.Deployment{
		Domain:     "shop.alice.user",
		ModuleName: "welcome",
		State:      deployment.StateRegistered,
		Injections: map[string]string{"k": "v"},
	})
	require.NoError(t, err)
	assert.False(t, dep.CreatedAt.IsZero())

	_, err = s.CreateDeployment(ctx, deployment.Deployment{Domain: "shop.alice.user"})
	assert.True(t, apperrors.IsAlreadyExists(err))

	dep.State = deployment.StateActive
	dep.Injections["k"] = "changed"
	_, err = s.UpdateDeployment(ctx, dep)
	require.NoError(t, err)

	got, err := s.GetDeployment(ctx, "shop.alice.user")
	require.NoError(t, err)
	assert.Equal(t, deployment.StateActive, got.State)
	assert.Equal(t, "changed", got.Injections["k"])

	byModule, err := s.ListDeploymentsByModule(ctx, "welcome")
	require.NoError(t, err)
	assert.Len(t, byModule, 1)

	require.NoError(t, s.DeleteDeployment(ctx, "shop.alice.user"))
	_, err = s.GetDeployment(ctx, "shop.alice.user")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = s.UpdateDeployment(ctx, dep)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestEventsAreBounded(t *testing.T) {
	ctx := context.Background()
	s := New()

	for i := 0; i < 12; i++ {
		require.NoError(t, s.AppendEvent(ctx, deployment.Event{
			Domain:  "shop.alice.user",
			Type:    deployment.EventLoadStarted,
			Message: fmt.Sprintf("event %d", i),
		}, 5))
	}

	events, err := s.ListEvents(ctx, "shop.alice.user")
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.Equal(t, "event 7", events[0].Message)
	assert.Equal(t, "event 11", events[4].Message)
	assert.NotEmpty(t, events[0].ID)

	require.NoError(t, s.DeleteEvents(ctx, "shop.alice.user"))
	events, err = s.ListEvents(ctx, "shop.alice.user")
	require.NoError(t, err)
	assert.Empty(t, events)
}
