// Package testutil provides controllable hosting runtimes for tests.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/R3E-Network/apphost/internal/hosting"
)

// GateRuntime wraps a LocalRuntime and blocks every Instantiate call until
// Open is called. Each call signals Entered before blocking.
type GateRuntime struct {
	*hosting.LocalRuntime

	gate     chan struct{}
	once     sync.Once
	entered  chan struct{}
	teardown atomic.Int32

	mu       sync.Mutex
	failWith error
}

// NewGateRuntime creates a closed gate serving hosts under hostSuffix.
func NewGateRuntime(hostSuffix string) *GateRuntime {
	return &GateRuntime{
		LocalRuntime: hosting.NewLocalRuntime(hostSuffix, 0),
		gate:         make(chan struct{}),
		entered:      make(chan struct{}, 16),
	}
}

// Open releases all blocked and future Instantiate calls.
func (g *GateRuntime) Open() {
	g.once.Do(func() { close(g.gate) })
}

// Entered receives one value per Instantiate call. Signals beyond the buffer
// are dropped.
func (g *GateRuntime) Entered() <-chan struct{} {
	return g.entered
}

// FailTeardown makes subsequent Teardown calls return err.
func (g *GateRuntime) FailTeardown(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failWith = err
}

// Teardowns reports how many Teardown calls were made.
func (g *GateRuntime) Teardowns() int {
	return int(g.teardown.Load())
}

func (g *GateRuntime) Instantiate(ctx context.Context, spec hosting.Spec) (hosting.Instance, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.gate:
	case <-ctx.Done():
		return hosting.Instance{}, ctx.Err()
	}
	return g.LocalRuntime.Instantiate(ctx, spec)
}

func (g *GateRuntime) Teardown(ctx context.Context, domain string) error {
	g.teardown.Add(1)
	g.mu.Lock()
	err := g.failWith
	g.mu.Unlock()
	if err != nil {
		return err
	}
	return g.LocalRuntime.Teardown(ctx, domain)
}
