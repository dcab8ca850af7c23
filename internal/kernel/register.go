package kernel

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"github.com/go-faster/errors"

	"ex-fronter/pkg/fronter"
)

// RegisterModule validates module's spec, checks that every service its
// capabilities require is already registered, then in order: claims its
// commands, runs OnRegister, subscribes its handlers and appends its
// interceptors. Any failure undoes the steps already taken.
func (k *Kernel) RegisterModule(ctx context.Context, module fronter.Module) (err error) {
	if module == nil {
		return errors.New("register module: nil module")
	}
	name := module.Name()
	if name == "" {
		return errors.New("register module: empty module name")
	}
	defer func() {
		if err != nil {
			err = errors.Wrapf(err, "register module %s", name)
		}
	}()

	spec := module.Spec()
	if err := checkModuleSpec(spec); err != nil {
		return err
	}
	record := &moduleRecord{name: name, module: module, capabilities: spec.Capabilities()}
	if err := k.requireServices(record.capabilities); err != nil {
		return err
	}
	if err := k.claimModuleName(record); err != nil {
		return err
	}

	committed := false
	defer func() {
		if !committed {
			k.rollbackModule(ctx, record)
		}
	}()

	if err := k.registerModuleCommands(ctx, name, spec.Commands); err != nil {
		return err
	}

	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
	defer cancel()

	runtime := &moduleRuntime{moduleName: name, serviceLookup: k.services, bus: k.bus, record: record}
	if registrar, ok := module.(fronter.ModuleRegistrar); ok {
		if err := runSafely("OnRegister", func() error {
			return registrar.OnRegister(hookCtx, runtime)
		}); err != nil {
			return err
		}
	}

	for idx, declared := range spec.Handlers {
		subscription := declared.Subscription
		if subscription.Name == "" {
			subscription.Name = name + "-handler-" + strconv.Itoa(idx+1)
		}
		if _, err := runtime.Subscribe(hookCtx, declared.Capability.Interest, subscription, declared.Handler); err != nil {
			return errors.Wrapf(err, "handler %s", declared.Capability.Name)
		}
	}
	k.registerInterceptors(name, spec.Interceptors)
	committed = true

	return nil
}

func (k *Kernel) claimModuleName(record *moduleRecord) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, taken := k.modules[record.name]; taken {
		return fronter.ErrModuleAlreadyRegistered
	}
	k.modules[record.name] = record
	k.moduleOrder = append(k.moduleOrder, record.name)

	return nil
}

// rollbackModule forgets a module whose registration failed part way.
func (k *Kernel) rollbackModule(ctx context.Context, record *moduleRecord) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.moduleHookTimeout)
	defer cancel()

	if err := record.closeSubscriptions(cleanupCtx); err != nil {
		k.cfg.onAsyncError(cleanupCtx, "rollback module "+record.name, err)
	}
	k.unregisterModuleCommands(record.name)

	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.modules, record.name)
	k.moduleOrder = slices.DeleteFunc(k.moduleOrder, func(candidate string) bool {
		return candidate == record.name
	})
}

// requireServices fails on the first required service that is not registered
// and lists what is, which is usually enough to spot a wiring-order mistake.
func (k *Kernel) requireServices(capabilities []fronter.Capability) error {
	for _, capability := range capabilities {
		for _, service := range capability.RequiredServices {
			if _, err := k.services.Resolve(service); err != nil {
				return errors.Wrapf(
					err,
					"capability %s requires service %s (registered: %s)",
					capability.Name,
					service,
					strings.Join(k.services.Names(), ", "),
				)
			}
		}
	}

	return nil
}

// specChecker accumulates names seen while walking a ModuleSpec.
type specChecker struct {
	capabilities  map[string]bool
	subscriptions map[string]bool
	commands      map[string]bool
}

func checkModuleSpec(spec fronter.ModuleSpec) error {
	checker := specChecker{
		capabilities:  map[string]bool{},
		subscriptions: map[string]bool{},
		commands:      map[string]bool{},
	}

	for idx, handler := range spec.Handlers {
		if err := checker.capability("handler", idx, handler.Capability.Name); err != nil {
			return err
		}
		if handler.Handler == nil {
			return errors.Errorf("handler %s: nil handler", handler.Capability.Name)
		}
		if subscription := handler.Subscription.Name; subscription != "" {
			if checker.subscriptions[subscription] {
				return errors.Errorf("handler %s: duplicate subscription name %s", handler.Capability.Name, subscription)
			}
			checker.subscriptions[subscription] = true
		}
	}
	for idx, interceptor := range spec.Interceptors {
		if err := checker.capability("interceptor", idx, interceptor.Capability.Name); err != nil {
			return err
		}
		if interceptor.Handler == nil {
			return errors.Errorf("interceptor %s: nil handler", interceptor.Capability.Name)
		}
	}
	for idx, capability := range spec.AdditionalCapabilities {
		if err := checker.capability("additional capability", idx, capability.Name); err != nil {
			return err
		}
	}
	for idx, command := range spec.Commands {
		if err := command.Validate(); err != nil {
			return errors.Wrapf(err, "module command %d", idx)
		}
		key := commandRegistryKey(command.Prefix, command.Name)
		if checker.commands[key] {
			return errors.Errorf("module command %d: duplicate command %s", idx, formatCommandKey(command.Prefix, command.Name))
		}
		checker.commands[key] = true
	}

	return nil
}

func (c specChecker) capability(kind string, idx int, name string) error {
	if name == "" {
		return errors.Errorf("%s %d: empty capability name", kind, idx)
	}
	if c.capabilities[name] {
		return errors.Errorf("%s %d: duplicate capability name %s", kind, idx, name)
	}
	c.capabilities[name] = true

	return nil
}
