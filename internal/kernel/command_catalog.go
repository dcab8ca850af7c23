package kernel

import (
	"cmp"
	"context"
	"slices"

	"github.com/go-faster/errors"

	"ex-fronter/pkg/fronter"
)

// commandCatalog serves fronter.ServiceCommandCatalog from the kernel's live
// command table, so help output follows whatever modules registered.
type commandCatalog struct {
	kernel *Kernel
}

// ListCommands returns every registered command ordered by invocation text
// (prefix plus name) and then by module.
func (c commandCatalog) ListCommands(ctx context.Context) ([]fronter.RegisteredCommand, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "list commands")
	}
	if c.kernel == nil {
		return nil, errors.New("list commands: catalog not bound to a kernel")
	}

	c.kernel.mu.RLock()
	listed := make([]fronter.RegisteredCommand, 0, len(c.kernel.commands))
	for _, registration := range c.kernel.commands {
		listed = append(listed, fronter.RegisteredCommand{
			ModuleName: registration.moduleName,
			Command:    cloneCommandSpec(registration.spec),
		})
	}
	c.kernel.mu.RUnlock()

	slices.SortFunc(listed, func(left, right fronter.RegisteredCommand) int {
		return cmp.Or(
			cmp.Compare(left.Invocation(), right.Invocation()),
			cmp.Compare(left.ModuleName, right.ModuleName),
		)
	})

	return listed, nil
}

var _ fronter.CommandCatalog = commandCatalog{}
