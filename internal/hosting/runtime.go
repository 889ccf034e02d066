// Package hosting contains the runtimes that instantiate and tear down module
// instances bound to a domain.
package hosting

import "context"

// Spec describes one instantiation request.
type Spec struct {
	Module     string            `json:"module"`
	Domain     string            `json:"domain"`
	Injections map[string]string `json:"injections,omitempty"`
	Script     string            `json:"-"`
}

// Instance is a running module reachable at URL.
type Instance struct {
	URL      string `json:"url"`
	HostName string `json:"hostName"`
}

// Runtime instantiates modules and tears them down. Implementations must
// honour ctx cancellation so that lifecycle timeouts bound every call.
type Runtime interface {
	Instantiate(ctx context.Context, spec Spec) (Instance, error)
	Teardown(ctx context.Context, domain string) error
}
