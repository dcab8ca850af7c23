// Package proxy re-emits messages from users who are fronting as one of their
// members and removes the originals.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"ex-fronter/internal/roster"
	"ex-fronter/pkg/fronter"
)

const (
	// DefaultAttachmentCaption is the caption template for relayed files.
	// `{name}` is replaced with the member name.
	DefaultAttachmentCaption = "{name} sent an attachment:"

	relayFailureFormat = "Could not relay an attachment from %s."
)

// Option mutates proxy module configuration.
type Option func(*Module)

// WithLogger injects a logger directly, bypassing service lookup.
func WithLogger(logger *slog.Logger) Option {
	return func(module *Module) {
		if logger != nil {
			module.logger = logger
		}
	}
}

// WithAttachmentCaption overrides the caption template for relayed files.
func WithAttachmentCaption(template string) Option {
	return func(module *Module) {
		if strings.TrimSpace(template) != "" {
			module.captionTemplate = template
		}
	}
}

// WithDefaultColor sets the accent color used when a stored member color does
// not parse.
func WithDefaultColor(color fronter.Color) Option {
	return func(module *Module) {
		module.defaultColor = color
	}
}

// Module is the Message Router. It runs as an inbound interceptor so the
// re-emitted copy lands before any command derived from the same message is
// handled.
type Module struct {
	logger          *slog.Logger
	dispatcher      fronter.SinkDispatcher
	roster          roster.Resolver
	captionTemplate string
	defaultColor    fronter.Color
}

// New creates a proxy module with default configuration.
func New(options ...Option) *Module {
	module := &Module{
		logger:          slog.Default(),
		captionTemplate: DefaultAttachmentCaption,
		defaultColor:    fronter.DefaultColor,
	}
	for _, option := range options {
		option(module)
	}

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "proxy"
}

// Spec declares one interceptor over human-authored messages.
func (m *Module) Spec() fronter.ModuleSpec {
	return fronter.ModuleSpec{
		Interceptors: []fronter.ModuleInterceptor{
			{
				Capability: fronter.Capability{
					Name:        "proxy-router",
					Description: "re-emits messages as the fronting member and deletes the original",
					Interest: fronter.InterestSet{
						Kinds:          []fronter.EventKind{fronter.EventKindMessageCreated},
						RequireMessage: true,
						ExcludeBots:    true,
					},
					RequiredServices: []string{
						fronter.ServiceSinkDispatcher,
						roster.ServiceStore,
					},
				},
				Handler: m.handleMessage,
			},
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
		return fmt.Errorf("proxy resolve logger: %w", err)
	}

	dispatcher, err := fronter.ResolveAs[fronter.SinkDispatcher](runtime.Services(), fronter.ServiceSinkDispatcher)
	if err != nil {
		return fmt.Errorf("proxy resolve sink dispatcher: %w", err)
	}
	store, err := fronter.ResolveAs[*roster.Store](runtime.Services(), roster.ServiceStore)
	if err != nil {
		return fmt.Errorf("proxy resolve roster: %w", err)
	}

	m.dispatcher = dispatcher
	m.roster = store

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

func (m *Module) handleMessage(ctx context.Context, event *fronter.Event) error {
	if event == nil || event.Message == nil || event.Actor.IsBot {
		return nil
	}
	if m.dispatcher == nil || m.roster == nil {
		return fmt.Errorf("proxy handle message: module not registered")
	}

	decision := m.roster.Resolve(event.Actor.ID)
	if !decision.IsProxy() {
		return nil
	}

	attachments := transferable(event.Message.Media)
	if strings.TrimSpace(event.Message.Text) == "" && len(attachments) == 0 {
		return nil
	}

	target, err := fronter.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("proxy derive outbound target: %w", err)
	}

	member := decision.Member
	card := &fronter.Card{
		AuthorName:    member.Name,
		AuthorIconURL: member.AvatarURL,
		Description:   event.Message.Text,
		Color:         fronter.ParseColorOr(member.Color, m.defaultColor),
	}

	var relayed bool
	if len(attachments) == 0 {
		relayed = m.relayText(ctx, target, event, card)
	} else {
		relayed = m.relayAttachments(ctx, target, event, member, card, attachments)
	}
	if !relayed {
		return nil
	}

	err = m.dispatcher.DeleteMessage(ctx, fronter.DeleteMessageRequest{
		Target:    target,
		MessageID: event.Message.ID,
	})
	if err != nil {
		m.logger.WarnContext(ctx, "proxy delete original failed",
			"conversation_id", target.Conversation.ID,
			"message_id", event.Message.ID,
			"error", err,
		)
	}

	return nil
}

func (m *Module) relayText(
	ctx context.Context,
	target fronter.OutboundTarget,
	event *fronter.Event,
	card *fronter.Card,
) bool {
	_, err := m.dispatcher.SendMessage(ctx, fronter.SendMessageRequest{
		Target:           target,
		Card:             card,
		ReplyToMessageID: event.Message.ReplyToID,
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "proxy relay message failed",
			"conversation_id", target.Conversation.ID,
			"message_id", event.Message.ID,
			"member", card.AuthorName,
			"error", err,
		)
		return false
	}

	return true
}

// relayAttachments sends one message per attachment and reports whether every
// send landed. Failed attachments are announced in the conversation.
func (m *Module) relayAttachments(
	ctx context.Context,
	target fronter.OutboundTarget,
	event *fronter.Event,
	member roster.Member,
	card *fronter.Card,
	attachments []fronter.MediaAttachment,
) bool {
	caption := strings.ReplaceAll(m.captionTemplate, "{name}", member.Name)
	complete := true

	for index, attachment := range attachments {
		err := m.relayAttachment(ctx, target, event, card, caption, attachment)
		if err == nil {
			continue
		}

		complete = false
		m.logger.ErrorContext(ctx, "proxy relay attachment failed",
			"conversation_id", target.Conversation.ID,
			"message_id", event.Message.ID,
			"attachment_index", index,
			"attachment_id", attachment.ID,
			"member", member.Name,
			"error", err,
		)
		_, replyErr := m.dispatcher.SendMessage(ctx, fronter.SendMessageRequest{
			Target: target,
			Text:   fmt.Sprintf(relayFailureFormat, member.Name),
		})
		if replyErr != nil {
			m.logger.WarnContext(ctx, "proxy relay failure notice failed",
				"conversation_id", target.Conversation.ID,
				"error", replyErr,
			)
		}
	}

	return complete
}

func (m *Module) relayAttachment(
	ctx context.Context,
	target fronter.OutboundTarget,
	event *fronter.Event,
	card *fronter.Card,
	caption string,
	attachment fronter.MediaAttachment,
) error {
	data, err := m.dispatcher.FetchAttachment(ctx, fronter.FetchAttachmentRequest{
		Target:     target,
		MessageID:  event.Message.ID,
		Attachment: attachment,
	})
	if err != nil {
		return fmt.Errorf("fetch attachment %s: %w", attachment.ID, err)
	}

	_, err = m.dispatcher.SendMessage(ctx, fronter.SendMessageRequest{
		Target:           target,
		Text:             caption,
		Card:             card,
		Files:            []fronter.OutboundFile{outboundFile(attachment, data)},
		ReplyToMessageID: event.Message.ReplyToID,
	})
	if err != nil {
		return fmt.Errorf("send attachment %s: %w", attachment.ID, err)
	}

	return nil
}

func transferable(media []fronter.MediaAttachment) []fronter.MediaAttachment {
	attachments := make([]fronter.MediaAttachment, 0, len(media))
	for _, attachment := range media {
		if attachment.Transferable() {
			attachments = append(attachments, attachment)
		}
	}

	return attachments
}

func outboundFile(attachment fronter.MediaAttachment, data []byte) fronter.OutboundFile {
	name := strings.TrimSpace(attachment.FileName)
	if name == "" {
		name = fmt.Sprintf("%s-%s", attachment.Type, attachment.ID)
	}

	return fronter.OutboundFile{
		FileName: name,
		MIMEType: attachment.MIMEType,
		Data:     data,
	}
}

var (
	_ fronter.Module          = (*Module)(nil)
	_ fronter.ModuleRegistrar = (*Module)(nil)
)
