// Package presence keeps the bot's status line in step with who is fronting.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ex-fronter/internal/roster"
	"ex-fronter/pkg/fronter"
)

const defaultAttemptTimeout = 15 * time.Second

// Option mutates presence module configuration.
type Option func(*Module)

// WithLogger injects a logger directly, bypassing service lookup.
func WithLogger(logger *slog.Logger) Option {
	return func(module *Module) {
		if logger != nil {
			module.logger = logger
		}
	}
}

// Module is the Presence Reporter. It registers itself as
// fronter.ServicePresenceReporter.
//
// The status starts as fronter.PresenceIdle. Drivers connect after modules
// start, so the initial push is retried in the background until it lands or
// a later Refresh supersedes it.
type Module struct {
	logger     *slog.Logger
	dispatcher fronter.SinkDispatcher
	roster     roster.Resolver

	newBackOff     func() backoff.BackOff
	attemptTimeout time.Duration

	mu         sync.Mutex
	current    string
	generation uint64

	stop func()
	done chan struct{}
}

// New creates a presence module.
func New(options ...Option) *Module {
	module := &Module{
		logger:         slog.Default(),
		current:        fronter.PresenceIdle,
		attemptTimeout: defaultAttemptTimeout,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = time.Minute
			b.MaxElapsedTime = 0
			return b
		},
	}
	for _, option := range options {
		option(module)
	}

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "presence"
}

// Spec declares the service dependencies; the module has no handlers.
func (m *Module) Spec() fronter.ModuleSpec {
	return fronter.ModuleSpec{
		AdditionalCapabilities: []fronter.Capability{
			{
				Name:        "presence-reporter",
				Description: "publishes the fronting status line to every sink",
				RequiredServices: []string{
					fronter.ServiceSinkDispatcher,
					roster.ServiceStore,
				},
			},
		},
	}
}

// OnRegister resolves dependencies and registers the reporter service.
func (m *Module) OnRegister(_ context.Context, runtime fronter.ModuleRuntime) error {
	logger, err := fronter.ResolveAs[*slog.Logger](runtime.Services(), fronter.ServiceLogger)
	switch {
	case err == nil:
		m.logger = logger
	case errors.Is(err, fronter.ErrServiceNotFound):
	default:
		return fmt.Errorf("presence resolve logger: %w", err)
	}

	dispatcher, err := fronter.ResolveAs[fronter.SinkDispatcher](runtime.Services(), fronter.ServiceSinkDispatcher)
	if err != nil {
		return fmt.Errorf("presence resolve sink dispatcher: %w", err)
	}
	store, err := fronter.ResolveAs[*roster.Store](runtime.Services(), roster.ServiceStore)
	if err != nil {
		return fmt.Errorf("presence resolve roster: %w", err)
	}
	m.dispatcher = dispatcher
	m.roster = store

	if err := runtime.Services().Register(fronter.ServicePresenceReporter, m); err != nil {
		return fmt.Errorf("presence register service %s: %w", fronter.ServicePresenceReporter, err)
	}

	return nil
}

// OnStart resets the status to idle and starts pushing it.
func (m *Module) OnStart(_ context.Context) error {
	m.mu.Lock()
	m.current = fronter.PresenceIdle
	m.generation++
	generation := m.generation
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	m.stop = cancel
	m.done = make(chan struct{})
	go m.pushInitial(ctx, generation)

	return nil
}

// OnShutdown stops a pending initial push.
func (m *Module) OnShutdown(ctx context.Context) error {
	if m.stop == nil {
		return nil
	}
	m.stop()

	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("presence shutdown: %w", ctx.Err())
	}
}

// Refresh publishes the status derived from userID's fronting state.
func (m *Module) Refresh(ctx context.Context, userID string) error {
	if m.roster == nil || m.dispatcher == nil {
		return fmt.Errorf("presence refresh: module not registered")
	}

	text := StatusText(m.roster.Resolve(userID))

	m.mu.Lock()
	m.current = text
	m.generation++
	m.mu.Unlock()

	if err := m.dispatcher.SetPresence(ctx, fronter.SetPresenceRequest{Text: text}); err != nil {
		return fmt.Errorf("presence refresh for %s: %w", userID, err)
	}

	return nil
}

// Current returns the last status text written.
func (m *Module) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.current
}

// StatusText renders the status line for one routing decision.
func StatusText(decision roster.Decision) string {
	if !decision.IsProxy() {
		return fronter.PresenceIdle
	}

	return fmt.Sprintf(fronter.PresenceFrontingFormat, decision.Member.Name)
}

func (m *Module) pushInitial(ctx context.Context, generation uint64) {
	defer close(m.done)

	attempt := func() error {
		if m.superseded(generation) {
			return nil
		}

		attemptCtx, cancel := context.WithTimeout(ctx, m.attemptTimeout)
		defer cancel()

		err := m.dispatcher.SetPresence(attemptCtx, fronter.SetPresenceRequest{Text: fronter.PresenceIdle})
		if errors.Is(err, fronter.ErrInvalidOutboundRequest) || errors.Is(err, fronter.ErrOutboundUnsupported) {
			return backoff.Permanent(err)
		}

		return err
	}
	notify := func(err error, wait time.Duration) {
		m.logger.DebugContext(ctx, "presence initial push retry", "error", err, "wait", wait)
	}

	if err := backoff.RetryNotify(attempt, backoff.WithContext(m.newBackOff(), ctx), notify); err != nil {
		if ctx.Err() == nil {
			m.logger.WarnContext(ctx, "presence initial push failed", "error", err)
		}
		return
	}
	m.logger.InfoContext(ctx, "presence initialised", "text", fronter.PresenceIdle)
}

func (m *Module) superseded(generation uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.generation != generation
}

var (
	_ fronter.Module           = (*Module)(nil)
	_ fronter.ModuleRegistrar  = (*Module)(nil)
	_ fronter.PresenceReporter = (*Module)(nil)
)
