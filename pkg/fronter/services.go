package fronter

import (
	"fmt"
)

// ServiceLogger names the process *slog.Logger. Modules treat it as optional.
const ServiceLogger = "logger"

// ServiceRegistry is the name-keyed lookup that cmd wires at startup and
// modules consult during OnRegister.
type ServiceRegistry interface {
	Register(name string, service any) error
	Resolve(name string) (any, error)
}

// ResolveAs resolves name and asserts the result to T.
func ResolveAs[T any](registry ServiceRegistry, name string) (T, error) {
	var zero T

	service, err := registry.Resolve(name)
	if err != nil {
		return zero, fmt.Errorf("resolve service %s: %w", name, err)
	}

	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("resolve service %s: have %T, want %T", name, service, zero)
	}

	return typed, nil
}
