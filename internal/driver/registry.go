// Package driver turns configured driver entries into running platform
// adapters and merges their outbound sinks behind one dispatcher.
package driver

import (
	"context"
	"log/slog"
	"slices"

	"github.com/go-faster/errors"

	"ex-fronter/pkg/fronter"
)

// Definition is one entry of the "drivers" config list.
type Definition struct {
	Name    string
	Type    string
	Enabled bool
	// Config is the raw JSON object handed to the type's builder.
	Config []byte
}

// Runtime is a built driver: its inbound half and, when the platform supports
// it, its outbound sink.
type Runtime struct {
	Source         fronter.EventSource
	Driver         fronter.Driver
	SinkDispatcher fronter.SinkDispatcher
}

// BuilderFunc constructs a Runtime from one enabled Definition.
type BuilderFunc func(ctx context.Context, definition Definition, logger *slog.Logger) (Runtime, error)

// Descriptor registers a driver type.
type Descriptor struct {
	Type     string
	Platform fronter.Platform
	Builder  BuilderFunc
}

// Registry maps driver type names to descriptors. It is immutable once built.
type Registry struct {
	byType map[string]Descriptor
}

// NewRegistry validates descriptors and indexes them by type.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	byType := make(map[string]Descriptor, len(descriptors))
	for idx, descriptor := range descriptors {
		switch {
		case descriptor.Type == "":
			return nil, errors.Errorf("descriptor %d: empty type", idx)
		case descriptor.Platform == "":
			return nil, errors.Errorf("descriptor %s: empty platform", descriptor.Type)
		case descriptor.Builder == nil:
			return nil, errors.Errorf("descriptor %s: nil builder", descriptor.Type)
		}
		if _, taken := byType[descriptor.Type]; taken {
			return nil, errors.Errorf("descriptor %s: registered twice", descriptor.Type)
		}
		byType[descriptor.Type] = descriptor
	}

	return &Registry{byType: byType}, nil
}

// Types lists the registered type names in lexical order.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}
	types := make([]string, 0, len(r.byType))
	for driverType := range r.byType {
		types = append(types, driverType)
	}
	slices.Sort(types)

	return types
}

// PlatformForType returns the platform a driver type serves.
func (r *Registry) PlatformForType(driverType string) (fronter.Platform, error) {
	if r == nil {
		return "", errors.New("platform for type: nil registry")
	}
	descriptor, ok := r.byType[driverType]
	if !ok {
		return "", errors.Errorf("platform for type: unsupported type %q", driverType)
	}

	return descriptor.Platform, nil
}

// BuildEnabled builds every enabled definition in config order. Disabled
// entries are skipped without validation. A runtime without a source id takes
// the definition name.
func (r *Registry) BuildEnabled(
	ctx context.Context,
	definitions []Definition,
	logger *slog.Logger,
) ([]Runtime, error) {
	if r == nil {
		return nil, errors.New("build drivers: nil registry")
	}

	var runtimes []Runtime
	names := make(map[string]bool, len(definitions))
	for _, definition := range definitions {
		if !definition.Enabled {
			continue
		}
		runtime, err := r.build(ctx, definition, names, logger)
		if err != nil {
			return nil, errors.Wrapf(err, "build driver %q", definition.Name)
		}
		runtimes = append(runtimes, runtime)
	}

	return runtimes, nil
}

func (r *Registry) build(
	ctx context.Context,
	definition Definition,
	names map[string]bool,
	logger *slog.Logger,
) (Runtime, error) {
	if definition.Name == "" {
		return Runtime{}, errors.New("empty name")
	}
	if names[definition.Name] {
		return Runtime{}, errors.New("duplicate name")
	}
	names[definition.Name] = true

	descriptor, ok := r.byType[definition.Type]
	if !ok {
		return Runtime{}, errors.Errorf("unsupported type %q", definition.Type)
	}

	runtime, err := descriptor.Builder(ctx, definition, logger)
	if err != nil {
		return Runtime{}, errors.Wrap(err, definition.Type)
	}
	if runtime.Driver == nil {
		return Runtime{}, errors.Errorf("%s builder returned nil driver", definition.Type)
	}
	if runtime.Source.Platform == "" {
		return Runtime{}, errors.Errorf("%s builder returned no source platform", definition.Type)
	}
	if runtime.Source.ID == "" {
		runtime.Source.ID = definition.Name
	}

	return runtime, nil
}
