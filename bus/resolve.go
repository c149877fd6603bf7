package bus

import (
	"context"
	"fmt"

	"github.com/meridian-run/meridian/core"
	"github.com/meridian-run/meridian/registry"
)

// resolve looks up a provider for (handler, serviceType, requiredCapabilities)
// and type-asserts it to T, the typed bus's provider contract. A registry
// hit whose concrete type doesn't satisfy T is treated as provider_failed —
// that's a registration bug, not an absent-provider condition.
func resolve[T any](ctx context.Context, reg *registry.Registry, handler string, st core.ServiceType, requiredCapabilities []string) (T, error) {
	var zero T

	p, ok := reg.GetService(ctx, handler, st, requiredCapabilities, true)
	if !ok {
		return zero, core.ErrProviderNotFound
	}

	typed, ok := p.(T)
	if !ok {
		return zero, core.NewFrameworkError("bus.resolve", "bus", fmt.Errorf("provider for %s does not implement expected contract", st))
	}

	return typed, nil
}

// recoverPanic converts a panicking provider call into an error rather
// than letting it escape the bus's public method.
func recoverPanic(err *error) {
	if r := recover(); r != nil {
		*err = core.NewFrameworkError("bus.invoke", "bus", fmt.Errorf("provider panic: %v", r))
	}
}
