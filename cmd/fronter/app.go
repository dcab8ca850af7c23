package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"ex-fronter/internal/driver"
	"ex-fronter/internal/kernel"
	"ex-fronter/internal/roster"
	"ex-fronter/internal/roster/jsonfile"
	"ex-fronter/internal/roster/sqlitestore"
	"ex-fronter/modules/help"
	"ex-fronter/modules/presence"
	"ex-fronter/modules/proxy"
	"ex-fronter/modules/system"
	"ex-fronter/pkg/fronter"
)

func run() error {
	registry, err := driver.NewBuiltinRegistry()
	if err != nil {
		return fmt.Errorf("new builtin driver registry: %w", err)
	}

	cfg, err := loadConfig(registry)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(os.Stdout, cfg)
	kernelRuntime := buildKernelRuntime(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openRoster(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("close roster storage", "error", err)
		}
	}()

	drivers, sinkDispatcher, err := buildDriverRuntime(ctx, logger, cfg, registry)
	if err != nil {
		return err
	}

	if err := registerRuntimeDrivers(kernelRuntime, drivers); err != nil {
		return err
	}
	if err := registerRuntimeServices(kernelRuntime, logger, sinkDispatcher, store); err != nil {
		return err
	}
	if err := registerRuntimeModules(ctx, kernelRuntime, cfg); err != nil {
		return err
	}

	if err := kernelRuntime.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run kernel: %w", err)
	}

	return nil
}

func newLogger(w io.Writer, cfg appConfig) *slog.Logger {
	options := &slog.HandlerOptions{Level: cfg.logLevel}
	if cfg.logFormat == logFormatText {
		return slog.New(slog.NewTextHandler(w, options))
	}

	return slog.New(slog.NewJSONHandler(w, options))
}

func buildKernelRuntime(logger *slog.Logger, cfg appConfig) *kernel.Kernel {
	return kernel.New(
		kernel.WithLogger(logger),
		kernel.WithModuleHookTimeout(cfg.moduleHookTimeout),
		kernel.WithShutdownTimeout(cfg.shutdownTimeout),
		kernel.WithDefaultSubscriptionBuffer(cfg.subscriptionBuffer),
		kernel.WithDefaultSubscriptionWorkers(cfg.subscriptionWorkers),
		kernel.WithDefaultHandlerTimeout(cfg.handlerTimeout),
		kernel.WithInterceptorTimeout(cfg.interceptorTimeout),
	)
}

// openRoster builds the configured persister and restores the last snapshot.
// The returned close function releases storage resources.
func openRoster(ctx context.Context, logger *slog.Logger, cfg appConfig) (*roster.Store, func() error, error) {
	var (
		persister roster.Persister
		closer    = func() error { return nil }
	)

	switch cfg.storageType {
	case storageTypeSQLite:
		sqlite, err := sqlitestore.Open(ctx, cfg.storagePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite storage %s: %w", cfg.storagePath, err)
		}
		persister = sqlite
		closer = sqlite.Close
	case storageTypeJSON:
		persister = jsonfile.New(cfg.storagePath)
	default:
		return nil, nil, fmt.Errorf("open storage: unsupported type %q", cfg.storageType)
	}

	store := roster.NewStore(persister, logger)
	if err := store.Load(ctx); err != nil {
		_ = closer()
		return nil, nil, fmt.Errorf("restore roster from %s: %w", cfg.storagePath, err)
	}
	logger.Info("roster storage ready", "type", cfg.storageType, "path", cfg.storagePath)

	return store, closer, nil
}

func buildDriverRuntime(
	ctx context.Context,
	logger *slog.Logger,
	cfg appConfig,
	registry *driver.Registry,
) ([]fronter.Driver, fronter.SinkDispatcher, error) {
	if registry == nil {
		return nil, nil, fmt.Errorf("build drivers: nil driver registry")
	}

	runtimes, err := registry.BuildEnabled(ctx, cfg.drivers, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("build drivers: %w", err)
	}

	drivers := make([]fronter.Driver, 0, len(runtimes))
	for _, runtime := range runtimes {
		drivers = append(drivers, runtime.Driver)
	}

	dispatcher, err := driver.NewCompositeSinkDispatcher(runtimes)
	if err != nil {
		return nil, nil, fmt.Errorf("build sink dispatcher: %w", err)
	}

	return drivers, dispatcher, nil
}

func registerRuntimeServices(
	kernelRuntime *kernel.Kernel,
	logger *slog.Logger,
	sinkDispatcher fronter.SinkDispatcher,
	store *roster.Store,
) error {
	if err := kernelRuntime.RegisterService(fronter.ServiceLogger, logger); err != nil {
		return fmt.Errorf("register logger service: %w", err)
	}
	if sinkDispatcher == nil {
		return fmt.Errorf("register sink dispatcher service: nil dispatcher")
	}
	if err := kernelRuntime.RegisterService(fronter.ServiceSinkDispatcher, sinkDispatcher); err != nil {
		return fmt.Errorf("register sink dispatcher service: %w", err)
	}
	if store == nil {
		return fmt.Errorf("register roster service: nil store")
	}
	if err := kernelRuntime.RegisterService(roster.ServiceStore, store); err != nil {
		return fmt.Errorf("register roster service: %w", err)
	}

	return nil
}

// registerRuntimeModules registers modules in dependency order. Presence
// provides a service system needs; proxy must precede any other interceptor.
func registerRuntimeModules(ctx context.Context, kernelRuntime *kernel.Kernel, cfg appConfig) error {
	modules := []fronter.Module{
		presence.New(),
		proxy.New(
			proxy.WithAttachmentCaption(cfg.attachmentCaption),
			proxy.WithDefaultColor(cfg.defaultColor),
		),
		system.New(system.WithDefaultColor(cfg.defaultColor)),
		help.New(),
	}
	for _, module := range modules {
		if err := kernelRuntime.RegisterModule(ctx, module); err != nil {
			return fmt.Errorf("register %s module: %w", module.Name(), err)
		}
	}

	return nil
}

func registerRuntimeDrivers(kernelRuntime *kernel.Kernel, drivers []fronter.Driver) error {
	for _, runtimeDriver := range drivers {
		if err := kernelRuntime.RegisterDriver(runtimeDriver); err != nil {
			return fmt.Errorf("register driver %s: %w", runtimeDriver.Name(), err)
		}
	}

	return nil
}
