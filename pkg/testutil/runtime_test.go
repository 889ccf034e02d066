package testutil

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/apphost/internal/hosting"
)

func TestGateRuntimeBlocksUntilOpen(t *testing.T) {
	rt := NewGateRuntime("apps.test")

	result := make(chan hosting.Instance, 1)
	go func() {
		inst, err := rt.Instantiate(context.Background(), hosting.Spec{Module: "welcome", Domain: "shop.alice.user"})
		if err == nil {
			result <- inst
		}
	}()

	<-rt.Entered()
	select {
	case <-result:
		t.Fatal("instantiate returned before the gate opened")
	case <-time.After(20 * time.Millisecond):
	}

	rt.Open()
	rt.Open()
	select {
	case inst := <-result:
		assert.Equal(t, "shop.alice.user.apps.test", inst.HostName)
	case <-time.After(time.Second):
		t.Fatal("instantiate did not return after Open")
	}
}

func TestGateRuntimeHonoursContext(t *testing.T) {
	rt := NewGateRuntime("apps.test")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := rt.Instantiate(ctx, hosting.Spec{Module: "welcome", Domain: "shop.alice.user"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGateRuntimeTeardown(t *testing.T) {
	rt := NewGateRuntime("apps.test")
	rt.Open()
	_, err := rt.Instantiate(context.Background(), hosting.Spec{Module: "welcome", Domain: "shop.alice.user"})
	require.NoError(t, err)
	<-rt.Entered()
	require.NoError(t, rt.Teardown(context.Background(), "shop.alice.user"))
	assert.False(t, rt.Running("shop.alice.user"))

	boom := errors.New("runtime unreachable")
	rt.FailTeardown(boom)
	assert.ErrorIs(t, rt.Teardown(context.Background(), "shop.alice.user"), boom)
	assert.Equal(t, 2, rt.Teardowns())
}

func TestGateRuntimeDoesNotBlockOnUndrainedSignals(t *testing.T) {
	rt := NewGateRuntime("apps.test")
	rt.Open()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 40; i++ {
			_, err := rt.Instantiate(context.Background(), hosting.Spec{Module: "welcome", Domain: fmt.Sprintf("app%d.alice.user", i)})
			if err != nil {
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("instantiate blocked on the entered signal")
	}
	assert.True(t, rt.Running("app39.alice.user"))
}
