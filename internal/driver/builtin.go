package driver

import (
	"context"
	"log/slog"

	"github.com/go-faster/errors"

	"ex-fronter/internal/driver/telegram"
)

// NewBuiltinRegistry returns a registry with every driver type this binary
// ships. Telegram is currently the only one.
func NewBuiltinRegistry() (*Registry, error) {
	return NewRegistry([]Descriptor{telegramDescriptor()})
}

func telegramDescriptor() Descriptor {
	return Descriptor{
		Type:     telegram.DriverType,
		Platform: telegram.DriverPlatform,
		Builder: func(_ context.Context, definition Definition, logger *slog.Logger) (Runtime, error) {
			source, inbound, outbound, err := telegram.BuildRuntimeFromConfig(definition.Name, logger, definition.Config)
			if err != nil {
				return Runtime{}, errors.Wrap(err, "telegram config")
			}

			return Runtime{Source: source, Driver: inbound, SinkDispatcher: outbound}, nil
		},
	}
}
