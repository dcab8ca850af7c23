package fronter

import (
	"context"
)

// ServiceCommandCatalog names the kernel-provided CommandCatalog.
const ServiceCommandCatalog = "fronter.command_catalog"

// RegisteredCommand pairs a command with the module that declared it.
type RegisteredCommand struct {
	ModuleName string
	Command    CommandSpec
}

// Invocation returns the text a user types to run the command, e.g. "E!help".
func (c RegisteredCommand) Invocation() string {
	return string(c.Command.Prefix) + NormalizeCommandName(c.Command.Name)
}

// CommandCatalog lists every command currently registered with the kernel.
// Callers own the returned slice.
type CommandCatalog interface {
	ListCommands(ctx context.Context) ([]RegisteredCommand, error)
}
