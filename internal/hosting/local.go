package hosting

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultHostSuffix is appended to domains by the local runtime.
const DefaultHostSuffix = "apps.localhost"

// LocalRuntime keeps an in-process table of instances and hands out URLs
// derived from the domain. It backs development setups and tests.
type LocalRuntime struct {
	mu        sync.Mutex
	suffix    string
	scheme    string
	delay     time.Duration
	instances map[string]Instance
}

// NewLocalRuntime creates a local runtime. delay simulates instance startup.
func NewLocalRuntime(hostSuffix string, delay time.Duration) *LocalRuntime {
	if hostSuffix == "" {
		hostSuffix = DefaultHostSuffix
	}
	return &LocalRuntime{
		suffix:    hostSuffix,
		scheme:    "http",
		delay:     delay,
		instances: make(map[string]Instance),
	}
}

func (r *LocalRuntime) Instantiate(ctx context.Context, spec Spec) (Instance, error) {
	if spec.Domain == "" {
		return Instance{}, fmt.Errorf("instantiate %s: domain is required", spec.Module)
	}
	if r.delay > 0 {
		timer := time.NewTimer(r.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Instance{}, fmt.Errorf("instantiate %s on %s: %w", spec.Module, spec.Domain, ctx.Err())
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return Instance{}, fmt.Errorf("instantiate %s on %s: %w", spec.Module, spec.Domain, err)
	}

	host := spec.Domain + "." + r.suffix
	inst := Instance{URL: fmt.Sprintf("%s://%s/", r.scheme, host), HostName: host}

	r.mu.Lock()
	r.instances[spec.Domain] = inst
	r.mu.Unlock()
	return inst, nil
}

func (r *LocalRuntime) Teardown(ctx context.Context, domain string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("teardown %s: %w", domain, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[domain]; !ok {
		return fmt.Errorf("teardown %s: no instance bound to domain", domain)
	}
	delete(r.instances, domain)
	return nil
}

// Running reports whether an instance is bound to domain.
func (r *LocalRuntime) Running(domain string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.instances[domain]
	return ok
}
