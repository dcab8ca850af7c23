package fronter

import (
	"fmt"
	"strings"
	"unicode"
)

// CommandPrefix identifies the prefix introducing one command invocation.
type CommandPrefix string

const (
	// CommandPrefixBot identifies roster commands such as `E!switch_member`.
	CommandPrefixBot CommandPrefix = "E!"
	// CommandPrefixSlash identifies platform-native slash commands.
	CommandPrefixSlash CommandPrefix = "/"
)

// Validate checks whether one command prefix is supported.
func (p CommandPrefix) Validate() error {
	switch p {
	case CommandPrefixBot, CommandPrefixSlash:
		return nil
	default:
		return fmt.Errorf("validate command prefix: unsupported prefix %q", p)
	}
}

// CommandCandidate is a parsed command-looking message before command-spec binding.
type CommandCandidate struct {
	// Prefix is the leading command prefix.
	Prefix CommandPrefix
	// Name is the normalized command name without prefix and mention suffix.
	Name string
	// Mention is the optional mention suffix from `<name>@<mention>`.
	Mention string
	// RawInput is the original untrimmed message text.
	RawInput string
	// Tokens stores argument tokens after the command header, with quotes removed.
	Tokens []string
}

// CommandInvocation carries one validated command event payload.
type CommandInvocation struct {
	// Prefix is the prefix the command was invoked with.
	Prefix CommandPrefix
	// Name is the normalized command name.
	Name string
	// Mention is the optional mention suffix from `<name>@<mention>`.
	Mention string
	// Args holds one value per declared argument; missing optional
	// arguments are empty strings.
	Args []string
	// Value stores every argument token joined by spaces.
	Value string
	// SourceEventID identifies the inbound source event that produced this command.
	SourceEventID string
	// SourceEventKind identifies the inbound source event kind.
	SourceEventKind EventKind
	// RawInput stores the original inbound message text.
	RawInput string
}

// Arg returns the positional argument at index, or "" when absent.
func (c *CommandInvocation) Arg(index int) string {
	if c == nil || index < 0 || index >= len(c.Args) {
		return ""
	}

	return c.Args[index]
}

// Validate checks command invocation contract fields.
func (c *CommandInvocation) Validate() error {
	if c == nil {
		return fmt.Errorf("validate command invocation: nil invocation")
	}
	if normalizeCommandName(c.Name) == "" {
		return fmt.Errorf("validate command invocation: missing name")
	}
	if c.SourceEventID == "" {
		return fmt.Errorf("validate command invocation: missing source_event_id")
	}
	if c.SourceEventKind == "" {
		return fmt.Errorf("validate command invocation: missing source_event_kind")
	}

	return nil
}

// CommandArgSpec declares one positional argument.
type CommandArgSpec struct {
	// Name is shown in usage text.
	Name string
	// Required reports whether binding fails when the argument is absent.
	Required bool
}

// CommandSpec declares one module command registration.
type CommandSpec struct {
	// Prefix identifies which command prefix triggers this command.
	Prefix CommandPrefix
	// Name is the command name without prefix and mention suffix.
	Name string
	// Description describes command behavior for help text.
	Description string
	// Args declares positional arguments in order.
	Args []CommandArgSpec
}

// Validate checks command specification coherence.
func (s CommandSpec) Validate() error {
	if err := s.Prefix.Validate(); err != nil {
		return fmt.Errorf("validate command spec %q: %w", s.Name, err)
	}
	name := normalizeCommandName(s.Name)
	if name == "" {
		return fmt.Errorf("validate command spec: missing name")
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 || strings.Contains(name, "@") {
		return fmt.Errorf("validate command spec %q: invalid name", s.Name)
	}

	seen := make(map[string]struct{}, len(s.Args))
	optionalSeen := false
	for index, arg := range s.Args {
		argName := strings.TrimSpace(arg.Name)
		if argName == "" {
			return fmt.Errorf("validate command spec %s arg[%d]: missing name", name, index)
		}
		if _, exists := seen[argName]; exists {
			return fmt.Errorf("validate command spec %s: duplicate arg %q", name, argName)
		}
		seen[argName] = struct{}{}

		if arg.Required && optionalSeen {
			return fmt.Errorf("validate command spec %s: required arg %q follows optional arg", name, argName)
		}
		if !arg.Required {
			optionalSeen = true
		}
	}

	return nil
}

// Usage renders the one-line usage string, for example
// `E!add_member <name> [avatar_url] [color]`.
func (s CommandSpec) Usage() string {
	usage := string(s.Prefix) + normalizeCommandName(s.Name)
	for _, arg := range s.Args {
		if arg.Required {
			usage += " <" + arg.Name + ">"
		} else {
			usage += " [" + arg.Name + "]"
		}
	}

	return usage
}

// ParseCommandCandidate parses one input text into a command candidate.
//
// matched is false when text does not look like a command. When matched is true,
// candidate fields are populated as much as possible and err reports syntax
// issues such as a missing command name or an unterminated quote.
func ParseCommandCandidate(text string) (candidate CommandCandidate, matched bool, err error) {
	candidate.RawInput = text

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return candidate, false, nil
	}

	prefix, matched := parseCommandPrefix(trimmed)
	if !matched {
		return candidate, false, nil
	}
	candidate.Prefix = prefix

	rest := trimmed[len(prefix):]
	headerEnd := strings.IndexFunc(rest, unicode.IsSpace)
	header := rest
	tail := ""
	if headerEnd >= 0 {
		header = rest[:headerEnd]
		tail = rest[headerEnd:]
	}

	name, mention := splitCommandHeader(header)
	candidate.Name = normalizeCommandName(name)
	candidate.Mention = strings.TrimSpace(mention)
	if candidate.Name == "" {
		return candidate, true, fmt.Errorf("parse command candidate: missing command name")
	}

	tokens, tokenErr := splitCommandArgs(tail)
	candidate.Tokens = tokens
	if tokenErr != nil {
		return candidate, true, fmt.Errorf("parse command candidate: %w", tokenErr)
	}

	return candidate, true, nil
}

// BindCommand validates one parsed candidate against one command spec.
//
// Tokens beyond the declared arguments are kept in Value but otherwise ignored.
// sourceEvent must identify the inbound event that produced this command.
func BindCommand(
	candidate CommandCandidate,
	spec CommandSpec,
	sourceEvent *Event,
) (CommandInvocation, error) {
	if sourceEvent == nil {
		return CommandInvocation{}, fmt.Errorf("bind command: nil source event")
	}
	if err := spec.Validate(); err != nil {
		return CommandInvocation{}, fmt.Errorf("bind command %s: %w", spec.Name, err)
	}
	if candidate.Prefix != spec.Prefix {
		return CommandInvocation{}, fmt.Errorf(
			"bind command %s: prefix mismatch, got %q want %q",
			spec.Name,
			candidate.Prefix,
			spec.Prefix,
		)
	}

	specName := normalizeCommandName(spec.Name)
	if normalizeCommandName(candidate.Name) != specName {
		return CommandInvocation{}, fmt.Errorf(
			"bind command %s: name mismatch, got %q",
			spec.Name,
			candidate.Name,
		)
	}

	args := make([]string, len(spec.Args))
	for index, arg := range spec.Args {
		if index < len(candidate.Tokens) {
			args[index] = candidate.Tokens[index]
			continue
		}
		if arg.Required {
			return CommandInvocation{}, fmt.Errorf("bind command %s: missing argument <%s>", specName, arg.Name)
		}
	}

	invocation := CommandInvocation{
		Prefix:          spec.Prefix,
		Name:            specName,
		Mention:         candidate.Mention,
		Args:            args,
		Value:           strings.Join(candidate.Tokens, " "),
		SourceEventID:   sourceEvent.ID,
		SourceEventKind: sourceEvent.Kind,
		RawInput:        candidate.RawInput,
	}
	if err := invocation.Validate(); err != nil {
		return CommandInvocation{}, fmt.Errorf("bind command %s: %w", spec.Name, err)
	}

	return invocation, nil
}

// NormalizeCommandName returns the canonical lookup form of a command name.
func NormalizeCommandName(value string) string {
	return normalizeCommandName(value)
}

func parseCommandPrefix(text string) (CommandPrefix, bool) {
	switch {
	case strings.HasPrefix(text, string(CommandPrefixBot)):
		return CommandPrefixBot, true
	case strings.HasPrefix(text, string(CommandPrefixSlash)):
		return CommandPrefixSlash, true
	default:
		return "", false
	}
}

func splitCommandHeader(token string) (name string, mention string) {
	if token == "" {
		return "", ""
	}
	separator := strings.Index(token, "@")
	if separator < 0 {
		return token, ""
	}

	return token[:separator], token[separator+1:]
}

// splitCommandArgs splits on whitespace. Double quotes group words into one
// token and a backslash escapes the next rune inside quotes.
func splitCommandArgs(text string) ([]string, error) {
	var (
		tokens   []string
		current  strings.Builder
		inToken  bool
		inQuotes bool
		escaped  bool
	)

	for _, r := range text {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case inQuotes && r == '\\':
			escaped = true
		case r == '"':
			inQuotes = !inQuotes
			inToken = true
		case !inQuotes && unicode.IsSpace(r):
			if inToken {
				tokens = append(tokens, current.String())
				current.Reset()
				inToken = false
			}
		default:
			current.WriteRune(r)
			inToken = true
		}
	}

	if inQuotes || escaped {
		return tokens, fmt.Errorf("unterminated quote")
	}
	if inToken {
		tokens = append(tokens, current.String())
	}

	return tokens, nil
}

func normalizeCommandName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
