package kernel

import (
	"context"
	"log/slog"
	"time"
)

// config holds the values New resolved from defaults and options.
type config struct {
	moduleHookTimeout  time.Duration
	shutdownTimeout    time.Duration
	subscriptionBuffer int
	subscriptionWorker int
	handlerTimeout     time.Duration
	interceptorTimeout time.Duration
	logger             *slog.Logger
	onAsyncError       func(context.Context, string, error)
}

// Option configures New.
type Option func(*config)

// defaultConfig runs one subscription worker so commands from the same
// chat are handled strictly in order. Interceptors get minutes because the
// proxy transfers attachments synchronously.
func defaultConfig() config {
	cfg := config{
		moduleHookTimeout:  5 * time.Second,
		shutdownTimeout:    10 * time.Second,
		subscriptionBuffer: 256,
		subscriptionWorker: 1,
		handlerTimeout:     30 * time.Second,
		interceptorTimeout: 2 * time.Minute,
	}
	WithLogger(slog.Default())(&cfg)

	return cfg
}

// positive returns an Option that overwrites one field when value > 0, so a
// zero in config files keeps the default.
func positive[T ~int | ~int64](value T, field func(*config) *T) Option {
	return func(cfg *config) {
		if value > 0 {
			*field(cfg) = value
		}
	}
}

// WithModuleHookTimeout bounds each OnRegister, OnStart and OnShutdown call.
func WithModuleHookTimeout(timeout time.Duration) Option {
	return positive(timeout, func(cfg *config) *time.Duration { return &cfg.moduleHookTimeout })
}

// WithShutdownTimeout bounds the whole shutdown sequence.
func WithShutdownTimeout(timeout time.Duration) Option {
	return positive(timeout, func(cfg *config) *time.Duration { return &cfg.shutdownTimeout })
}

// WithDefaultSubscriptionBuffer sets the queue depth of each subscription lane.
func WithDefaultSubscriptionBuffer(size int) Option {
	return positive(size, func(cfg *config) *int { return &cfg.subscriptionBuffer })
}

// WithDefaultSubscriptionWorkers sets how many lanes a subscription runs.
func WithDefaultSubscriptionWorkers(workers int) Option {
	return positive(workers, func(cfg *config) *int { return &cfg.subscriptionWorker })
}

// WithDefaultHandlerTimeout bounds one asynchronous handler call.
func WithDefaultHandlerTimeout(timeout time.Duration) Option {
	return positive(timeout, func(cfg *config) *time.Duration { return &cfg.handlerTimeout })
}

// WithInterceptorTimeout bounds one synchronous interceptor call.
func WithInterceptorTimeout(timeout time.Duration) Option {
	return positive(timeout, func(cfg *config) *time.Duration { return &cfg.interceptorTimeout })
}

// WithLogger sets the kernel logger. Unless WithAsyncErrorHandler is also
// given, background failures are logged through it.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger == nil {
			return
		}
		cfg.logger = logger
		cfg.onAsyncError = func(ctx context.Context, scope string, err error) {
			logger.ErrorContext(ctx, "background failure", "scope", scope, "error", err)
		}
	}
}

// WithAsyncErrorHandler replaces the background failure callback.
func WithAsyncErrorHandler(handler func(context.Context, string, error)) Option {
	return func(cfg *config) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}
