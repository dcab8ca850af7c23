package kernel

import (
	"context"

	"github.com/go-faster/errors"

	"ex-fronter/pkg/fronter"
)

type commandRegistration struct {
	moduleName string
	spec       fronter.CommandSpec
}

// registerModuleCommands claims every command of one module, or none of them
// when any is invalid or already owned.
func (k *Kernel) registerModuleCommands(_ context.Context, moduleName string, commands []fronter.CommandSpec) error {
	if len(commands) == 0 {
		return nil
	}

	claimed := make(map[string]commandRegistration, len(commands))
	for idx, command := range commands {
		if err := command.Validate(); err != nil {
			return errors.Wrapf(err, "command %d", idx)
		}
		command = cloneCommandSpec(command)
		claimed[commandRegistryKey(command.Prefix, command.Name)] = commandRegistration{
			moduleName: moduleName,
			spec:       command,
		}
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	for key, registration := range claimed {
		if owner, taken := k.commands[key]; taken {
			return errors.Errorf(
				"command %s already registered by module %s",
				formatCommandKey(registration.spec.Prefix, registration.spec.Name),
				owner.moduleName,
			)
		}
	}
	for key, registration := range claimed {
		k.commands[key] = registration
	}

	return nil
}

func (k *Kernel) unregisterModuleCommands(moduleName string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for key, registration := range k.commands {
		if registration.moduleName == moduleName {
			delete(k.commands, key)
		}
	}
}

// lookupCommand finds a command by prefix and case-insensitive name.
func (k *Kernel) lookupCommand(prefix fronter.CommandPrefix, name string) (fronter.CommandSpec, bool) {
	k.mu.RLock()
	registration, ok := k.commands[commandRegistryKey(prefix, name)]
	k.mu.RUnlock()
	if !ok {
		return fronter.CommandSpec{}, false
	}

	return cloneCommandSpec(registration.spec), true
}

// commandRegistryKey keeps the prefix separate from the name so "E!" + "x"
// and "E" + "!x" never collide.
func commandRegistryKey(prefix fronter.CommandPrefix, name string) string {
	return string(prefix) + "\x00" + fronter.NormalizeCommandName(name)
}

func formatCommandKey(prefix fronter.CommandPrefix, name string) string {
	return string(prefix) + fronter.NormalizeCommandName(name)
}

func cloneCommandSpec(spec fronter.CommandSpec) fronter.CommandSpec {
	spec.Name = fronter.NormalizeCommandName(spec.Name)
	if spec.Args != nil {
		spec.Args = append([]fronter.CommandArgSpec(nil), spec.Args...)
	}

	return spec
}
