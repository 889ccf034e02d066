package system

import "context"

// Service is a component the manager starts in registration order and stops
// in reverse. The lifecycle controller and the reconciler implement it.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
