// Package system implements the E! roster commands: switching, toggling,
// adding, deleting, importing and listing members.
package system

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ex-fronter/internal/roster"
	"ex-fronter/pkg/fronter"
)

const (
	commandSwitchMember  = "switch_member"
	commandToggleProxy   = "toggle_proxy"
	commandDeleteMember  = "delete_member"
	commandAddMember     = "add_member"
	commandImportMembers = "import_members"
	commandListMembers   = "list_members"
)

// Option mutates system module configuration.
type Option func(*Module)

// WithLogger injects a logger directly, bypassing service lookup.
func WithLogger(logger *slog.Logger) Option {
	return func(module *Module) {
		if logger != nil {
			module.logger = logger
		}
	}
}

// WithDefaultColor sets the accent used for listed members whose stored color
// does not parse.
func WithDefaultColor(color fronter.Color) Option {
	return func(module *Module) {
		module.defaultColor = color
	}
}

// Module handles roster mutation commands for the invoking user.
type Module struct {
	logger       *slog.Logger
	dispatcher   fronter.SinkDispatcher
	store        roster.Mutator
	presence     fronter.PresenceReporter
	defaultColor fronter.Color
}

// New creates a system module with default configuration.
func New(options ...Option) *Module {
	module := &Module{
		logger:       slog.Default(),
		defaultColor: fronter.DefaultColor,
	}
	for _, option := range options {
		option(module)
	}

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "system"
}

// Spec declares the roster commands and the interceptor that serves them.
// Commands run as an interceptor so a mutation is applied before the next
// inbound message is routed.
func (m *Module) Spec() fronter.ModuleSpec {
	commands := commandSpecs()
	names := make([]string, 0, len(commands))
	for _, command := range commands {
		names = append(names, command.Name)
	}

	return fronter.ModuleSpec{
		Interceptors: []fronter.ModuleInterceptor{
			{
				Capability: fronter.Capability{
					Name:        "roster-commands",
					Description: "mutates and lists the invoking user's members",
					Interest: fronter.InterestSet{
						Kinds:          []fronter.EventKind{fronter.EventKindCommandReceived},
						RequireMessage: true,
						RequireCommand: true,
						CommandNames:   names,
						ExcludeBots:    true,
					},
					RequiredServices: []string{
						fronter.ServiceSinkDispatcher,
						fronter.ServicePresenceReporter,
						roster.ServiceStore,
					},
				},
				Handler: m.handleCommand,
			},
		},
		Commands: commands,
	}
}

func commandSpecs() []fronter.CommandSpec {
	return []fronter.CommandSpec{
		{
			Prefix:      fronter.CommandPrefixBot,
			Name:        commandSwitchMember,
			Description: "front as one of your members",
			Args:        []fronter.CommandArgSpec{{Name: "name", Required: true}},
		},
		{
			Prefix:      fronter.CommandPrefixBot,
			Name:        commandToggleProxy,
			Description: "turn proxying on or off",
		},
		{
			Prefix:      fronter.CommandPrefixBot,
			Name:        commandDeleteMember,
			Description: "remove a member",
			Args:        []fronter.CommandArgSpec{{Name: "name", Required: true}},
		},
		{
			Prefix:      fronter.CommandPrefixBot,
			Name:        commandAddMember,
			Description: "add a member; an attached link overrides the avatar",
			Args: []fronter.CommandArgSpec{
				{Name: "name", Required: true},
				{Name: "avatar_url"},
				{Name: "color"},
			},
		},
		{
			Prefix:      fronter.CommandPrefixBot,
			Name:        commandImportMembers,
			Description: "import members from an attached system.json",
		},
		{
			Prefix:      fronter.CommandPrefixBot,
			Name:        commandListMembers,
			Description: "list your members",
		},
	}
}

// OnRegister resolves dependencies required by this module.
func (m *Module) OnRegister(_ context.Context, runtime fronter.ModuleRuntime) error {
	logger, err := fronter.ResolveAs[*slog.Logger](runtime.Services(), fronter.ServiceLogger)
	switch {
	case err == nil:
		m.logger = logger
	case errors.Is(err, fronter.ErrServiceNotFound):
	default:
		return fmt.Errorf("system resolve logger: %w", err)
	}

	dispatcher, err := fronter.ResolveAs[fronter.SinkDispatcher](runtime.Services(), fronter.ServiceSinkDispatcher)
	if err != nil {
		return fmt.Errorf("system resolve sink dispatcher: %w", err)
	}
	store, err := fronter.ResolveAs[*roster.Store](runtime.Services(), roster.ServiceStore)
	if err != nil {
		return fmt.Errorf("system resolve roster: %w", err)
	}
	presence, err := fronter.ResolveAs[fronter.PresenceReporter](runtime.Services(), fronter.ServicePresenceReporter)
	if err != nil {
		return fmt.Errorf("system resolve presence reporter: %w", err)
	}

	m.dispatcher = dispatcher
	m.store = store
	m.presence = presence

	return nil
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(_ context.Context) error {
	return nil
}

// OnShutdown stops the module lifecycle.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}

var (
	_ fronter.Module          = (*Module)(nil)
	_ fronter.ModuleRegistrar = (*Module)(nil)
)
