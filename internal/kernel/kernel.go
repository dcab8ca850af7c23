package kernel

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"ex-fronter/pkg/fronter"
)

// Kernel orchestrates modules, drivers, the inbound pipeline, and the event bus.
type Kernel struct {
	cfg config

	bus      *EventBus
	services *ServiceRegistry

	mu           sync.RWMutex
	modules      map[string]*moduleRecord
	moduleOrder  []string
	commands     map[string]commandRegistration
	interceptors []interceptorRegistration
	drivers      map[string]fronter.Driver
	driverOrder  []string

	runMu   sync.Mutex
	running bool
}

// New creates a new kernel runtime.
func New(options ...Option) *Kernel {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	services := NewServiceRegistry()
	bus := NewEventBus(
		cfg.subscriptionBuffer,
		cfg.subscriptionWorker,
		cfg.handlerTimeout,
		cfg.onAsyncError,
	)

	kernelRuntime := &Kernel{
		cfg:         cfg,
		bus:         bus,
		services:    services,
		modules:     make(map[string]*moduleRecord),
		commands:    make(map[string]commandRegistration),
		drivers:     make(map[string]fronter.Driver),
		moduleOrder: make([]string, 0),
		driverOrder: make([]string, 0),
	}
	if err := kernelRuntime.services.Register(
		fronter.ServiceCommandCatalog,
		commandCatalog{kernel: kernelRuntime},
	); err != nil {
		cfg.onAsyncError(context.Background(), "register command catalog service", err)
	}

	return kernelRuntime
}

// EventBus exposes the kernel event bus to integration code.
func (k *Kernel) EventBus() fronter.EventBus {
	return k.bus
}

// Services exposes the kernel service registry.
func (k *Kernel) Services() fronter.ServiceRegistry {
	return k.services
}

// InboundDispatcher returns the dispatcher drivers publish into: interceptors,
// then the bus, then command derivation.
func (k *Kernel) InboundDispatcher() fronter.EventDispatcher {
	return k.newInboundPipeline()
}

// RegisterService registers a runtime service singleton.
func (k *Kernel) RegisterService(name string, service any) error {
	if err := k.services.Register(name, service); err != nil {
		return errors.Wrapf(err, "register service %s", name)
	}

	return nil
}

// RegisterDriver registers a platform driver.
func (k *Kernel) RegisterDriver(driver fronter.Driver) error {
	if driver == nil {
		return errors.New("register driver: nil driver")
	}
	name := driver.Name()
	if name == "" {
		return errors.New("register driver: empty name")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, exists := k.drivers[name]; exists {
		return errors.Wrapf(fronter.ErrDriverAlreadyRegistered, "register driver %s", name)
	}

	k.drivers[name] = driver
	k.driverOrder = append(k.driverOrder, name)

	return nil
}

// Run starts modules, runs drivers until ctx ends or one of them fails, then
// shuts everything down in reverse order.
func (k *Kernel) Run(ctx context.Context) error {
	if err := k.claimRun(); err != nil {
		return err
	}
	defer k.releaseRun()

	if err := k.startModules(ctx); err != nil {
		return err
	}

	runErr := k.runDrivers(ctx)
	if isContextCancellation(runErr) {
		runErr = nil
	}

	return multierr.Combine(runErr, k.shutdownAll(ctx))
}

func (k *Kernel) claimRun() error {
	k.runMu.Lock()
	defer k.runMu.Unlock()

	if k.running {
		return errors.New("kernel run: already running")
	}
	k.running = true

	return nil
}

func (k *Kernel) releaseRun() {
	k.runMu.Lock()
	k.running = false
	k.runMu.Unlock()
}

// startModules invokes OnStart in registration order with per-module timeouts.
func (k *Kernel) startModules(ctx context.Context) error {
	order, modules := k.snapshotModules()

	for _, name := range order {
		record, exists := modules[name]
		if !exists {
			continue
		}
		hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+name+" OnStart", func() error {
			return record.module.OnStart(hookCtx)
		})
		cancel()
		if err != nil {
			return errors.Wrapf(err, "start module %s", name)
		}
	}

	return nil
}

// runDrivers blocks until every driver returns, ctx ends, or one driver fails.
// A failure cancels the others; stragglers get shutdownTimeout to return.
func (k *Kernel) runDrivers(ctx context.Context) error {
	order, drivers := k.snapshotDrivers()
	dispatcher := k.newInboundPipeline()

	group, groupCtx := errgroup.WithContext(ctx)
	for _, name := range order {
		driver := drivers[name]
		if driver == nil {
			continue
		}
		group.Go(func() error {
			err := runSafely("driver "+name+" Start", func() error {
				return driver.Start(groupCtx, dispatcher)
			})
			if err == nil || isContextCancellation(err) {
				return nil
			}
			return errors.Wrapf(err, "run driver %s", name)
		})
	}

	finished := make(chan error, 1)
	go func() {
		finished <- group.Wait()
	}()

	select {
	case err := <-finished:
		return err
	case <-groupCtx.Done():
	}

	timer := time.NewTimer(k.cfg.shutdownTimeout)
	defer timer.Stop()
	select {
	case err := <-finished:
		return err
	case <-timer.C:
		return context.Cause(groupCtx)
	}
}

// shutdownAll tears down drivers, modules, and bus in a bounded timeout window.
// It uses WithoutCancel so cleanup still runs after parent cancellation.
func (k *Kernel) shutdownAll(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.shutdownTimeout)
	defer cancel()

	shutdownErr := multierr.Combine(
		k.shutdownDrivers(shutdownCtx),
		k.shutdownModules(shutdownCtx),
		k.bus.Close(shutdownCtx),
	)
	if shutdownErr != nil {
		return errors.Wrap(shutdownErr, "kernel shutdown")
	}

	return nil
}

// shutdownDrivers executes driver Shutdown in reverse registration order.
func (k *Kernel) shutdownDrivers(ctx context.Context) error {
	order, drivers := k.snapshotDrivers()

	var shutdownErr error
	for idx := len(order) - 1; idx >= 0; idx-- {
		name := order[idx]
		driver := drivers[name]
		if driver == nil {
			continue
		}
		err := runSafely("driver "+name+" Shutdown", func() error {
			return driver.Shutdown(ctx)
		})
		if err != nil {
			shutdownErr = multierr.Append(shutdownErr, errors.Wrapf(err, "shutdown driver %s", name))
		}
	}

	return shutdownErr
}

// shutdownModules closes module subscriptions and invokes OnShutdown in reverse order.
func (k *Kernel) shutdownModules(ctx context.Context) error {
	order, modules := k.snapshotModules()

	var shutdownErr error
	for idx := len(order) - 1; idx >= 0; idx-- {
		name := order[idx]
		record := modules[name]
		if record == nil {
			continue
		}
		if err := record.closeSubscriptions(ctx); err != nil {
			shutdownErr = multierr.Append(shutdownErr, errors.Wrapf(err, "shutdown module %s subscriptions", name))
		}
		hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+name+" OnShutdown", func() error {
			return record.module.OnShutdown(hookCtx)
		})
		cancel()
		if err != nil {
			shutdownErr = multierr.Append(shutdownErr, errors.Wrapf(err, "shutdown module %s", name))
		}
	}

	return shutdownErr
}

func (k *Kernel) snapshotModules() ([]string, map[string]*moduleRecord) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	order := append([]string(nil), k.moduleOrder...)
	modules := make(map[string]*moduleRecord, len(k.modules))
	for name, module := range k.modules {
		modules[name] = module
	}

	return order, modules
}

func (k *Kernel) snapshotDrivers() ([]string, map[string]fronter.Driver) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	order := append([]string(nil), k.driverOrder...)
	drivers := make(map[string]fronter.Driver, len(k.drivers))
	for name, driver := range k.drivers {
		drivers[name] = driver
	}

	return order, drivers
}

// isContextCancellation reports whether err is a context-driven termination signal.
func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
