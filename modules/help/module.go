package help

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"ex-fronter/pkg/fronter"
)

const helpCommandName = "help"

// Module replies with command reference text for E!help and /help.
type Module struct {
	dispatcher     fronter.SinkDispatcher
	commandCatalog fronter.CommandCatalog
}

// New creates a help module with default configuration.
func New() *Module {
	return &Module{}
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "help"
}

// Spec declares interest in help command events under both prefixes.
func (m *Module) Spec() fronter.ModuleSpec {
	return fronter.ModuleSpec{
		Handlers: []fronter.ModuleHandler{
			{
				Capability: fronter.Capability{
					Name:        "help-command-handler",
					Description: "renders registered command help",
					Interest: fronter.InterestSet{
						Kinds:          []fronter.EventKind{fronter.EventKindCommandReceived},
						RequireCommand: true,
						CommandNames:   []string{helpCommandName},
						RequireMessage: true,
						ExcludeBots:    true,
					},
					RequiredServices: []string{
						fronter.ServiceSinkDispatcher,
						fronter.ServiceCommandCatalog,
					},
				},
				Subscription: fronter.NewDefaultSubscriptionSpec("help-commands"),
				Handler:      m.handleCommand,
			},
		},
		Commands: []fronter.CommandSpec{
			{
				Prefix:      fronter.CommandPrefixBot,
				Name:        helpCommandName,
				Description: "show all available commands",
			},
			{
				Prefix:      fronter.CommandPrefixSlash,
				Name:        helpCommandName,
				Description: "show all available commands",
			},
		},
	}
}

// OnRegister resolves dependencies required by this module.
func (m *Module) OnRegister(_ context.Context, runtime fronter.ModuleRuntime) error {
	dispatcher, err := fronter.ResolveAs[fronter.SinkDispatcher](
		runtime.Services(),
		fronter.ServiceSinkDispatcher,
	)
	if err != nil {
		return fmt.Errorf("help resolve outbound dispatcher: %w", err)
	}
	commandCatalog, err := fronter.ResolveAs[fronter.CommandCatalog](
		runtime.Services(),
		fronter.ServiceCommandCatalog,
	)
	if err != nil {
		return fmt.Errorf("help resolve command catalog: %w", err)
	}

	m.dispatcher = dispatcher
	m.commandCatalog = commandCatalog

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

func (m *Module) handleCommand(ctx context.Context, event *fronter.Event) error {
	if event == nil || event.Command == nil || event.Message == nil {
		return nil
	}
	if event.Kind != fronter.EventKindCommandReceived {
		return nil
	}
	if event.Command.Name != helpCommandName {
		return nil
	}
	if m.dispatcher == nil {
		return fmt.Errorf("help handle command: outbound dispatcher not configured")
	}
	if m.commandCatalog == nil {
		return fmt.Errorf("help handle command: command catalog not configured")
	}

	commands, err := m.commandCatalog.ListCommands(ctx)
	if err != nil {
		return fmt.Errorf("help list commands: %w", err)
	}
	body := renderHelp(commands)

	target, err := fronter.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("help derive outbound target: %w", err)
	}
	// No reply link: the proxy may already have removed the invoking message.
	_, err = m.dispatcher.SendMessage(ctx, fronter.SendMessageRequest{
		Target: target,
		Text:   body,
	})
	if err != nil {
		return fmt.Errorf("help send help message: %w", err)
	}

	return nil
}

// renderHelp groups commands under the module that registered them. Modules
// and the commands inside each are listed alphabetically.
func renderHelp(commands []fronter.RegisteredCommand) string {
	if len(commands) == 0 {
		return "Available commands:\n(none)"
	}

	byModule := make(map[string][]fronter.RegisteredCommand)
	for _, command := range commands {
		module := strings.TrimSpace(command.ModuleName)
		if module == "" {
			module = "other"
		}
		byModule[module] = append(byModule[module], command)
	}

	var body strings.Builder
	body.WriteString("Available commands:")
	for _, module := range slices.Sorted(maps.Keys(byModule)) {
		group := byModule[module]
		slices.SortFunc(group, func(left, right fronter.RegisteredCommand) int {
			return strings.Compare(left.Invocation(), right.Invocation())
		})

		body.WriteString("\n\n" + module + ":")
		for _, command := range group {
			body.WriteString("\n  " + command.Command.Usage())
			if description := strings.TrimSpace(command.Command.Description); description != "" {
				body.WriteString(" - " + description)
			}
		}
	}

	return body.String()
}

var (
	_ fronter.Module          = (*Module)(nil)
	_ fronter.ModuleRegistrar = (*Module)(nil)
)
