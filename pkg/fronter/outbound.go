package fronter

import (
	"context"
	"fmt"
	"strings"
)

// ServiceSinkDispatcher is the canonical service registry key for outbound messaging.
const ServiceSinkDispatcher = "fronter.sink_dispatcher"

// EventSink identifies one outbound driver instance.
type EventSink struct {
	// Platform is the sink platform.
	Platform Platform
	// ID is the configured driver instance name.
	ID string
}

// SinkDispatcher sends neutral outbound operations to sink adapters.
//
// Implementations enforce platform-specific constraints while preserving
// these protocol-level request semantics.
type SinkDispatcher interface {
	// SendMessage publishes a new outbound message to a destination conversation.
	SendMessage(ctx context.Context, request SendMessageRequest) (*OutboundMessage, error)
	// DeleteMessage removes an existing message by ID.
	DeleteMessage(ctx context.Context, request DeleteMessageRequest) error
	// FetchAttachment downloads the exact bytes of one inbound attachment.
	FetchAttachment(ctx context.Context, request FetchAttachmentRequest) ([]byte, error)
	// SetPresence replaces the bot's process-wide status text.
	SetPresence(ctx context.Context, request SetPresenceRequest) error
}

// OutboundTarget identifies where an outbound operation should be delivered.
type OutboundTarget struct {
	// Conversation identifies the destination conversation.
	Conversation Conversation
	// Sink selects which driver instance delivers the operation.
	Sink *EventSink
}

// Validate checks target identity fields used for outbound routing.
func (t OutboundTarget) Validate() error {
	if t.Conversation.ID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrInvalidOutboundRequest)
	}
	if t.Conversation.Type == "" {
		return fmt.Errorf("%w: missing conversation type", ErrInvalidOutboundRequest)
	}
	if t.Sink != nil && t.Sink.Platform == "" && t.Sink.ID == "" {
		return fmt.Errorf("%w: missing sink identity", ErrInvalidOutboundRequest)
	}

	return nil
}

// OutboundTargetFromEvent derives a same-conversation target from an inbound event.
func OutboundTargetFromEvent(event *Event) (OutboundTarget, error) {
	if event == nil {
		return OutboundTarget{}, fmt.Errorf("%w: nil event", ErrInvalidOutboundRequest)
	}
	target := OutboundTarget{
		Conversation: event.Conversation,
	}
	if event.Source.Platform != "" || event.Source.ID != "" {
		target.Sink = &EventSink{
			Platform: event.Source.Platform,
			ID:       event.Source.ID,
		}
	}
	if err := target.Validate(); err != nil {
		return OutboundTarget{}, fmt.Errorf("derive target from event %s: %w", event.Kind, err)
	}

	return target, nil
}

// OutboundMessage identifies a message successfully emitted by the dispatcher.
type OutboundMessage struct {
	// ID is the destination-platform message identifier.
	ID string
	// Target is the destination where this message was delivered.
	Target OutboundTarget
}

// OutboundFile is one file uploaded with an outbound message.
type OutboundFile struct {
	FileName string
	MIMEType string
	Data     []byte
}

// SendMessageRequest describes a new outbound message.
//
// At least one of Text, Card, or Files must be set.
type SendMessageRequest struct {
	// Target identifies where the message should be sent.
	Target OutboundTarget
	// Text is plain body text, rendered before the card when both are set.
	Text string
	// Card is an optional rich block.
	Card *Card
	// Files are uploaded alongside the message.
	Files []OutboundFile
	// ReplyToMessageID optionally links this message as a reply.
	ReplyToMessageID string
}

// Validate checks the request envelope before dispatch.
func (r SendMessageRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate send message target: %w", err)
	}
	if strings.TrimSpace(r.Text) == "" && r.Card == nil && len(r.Files) == 0 {
		return fmt.Errorf("%w: empty message", ErrInvalidOutboundRequest)
	}
	if r.Card != nil {
		if err := r.Card.Validate(); err != nil {
			return fmt.Errorf("validate send message card: %w", err)
		}
	}
	for index, file := range r.Files {
		if strings.TrimSpace(file.FileName) == "" {
			return fmt.Errorf("%w: file[%d] missing name", ErrInvalidOutboundRequest, index)
		}
	}

	return nil
}

// DeleteMessageRequest describes message deletion.
type DeleteMessageRequest struct {
	// Target identifies where the message exists.
	Target OutboundTarget
	// MessageID identifies which message should be deleted.
	MessageID string
}

// Validate checks the request envelope before dispatch.
func (r DeleteMessageRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate delete message target: %w", err)
	}
	if r.MessageID == "" {
		return fmt.Errorf("%w: missing message id", ErrInvalidOutboundRequest)
	}

	return nil
}

// FetchAttachmentRequest identifies one attachment on one inbound message.
type FetchAttachmentRequest struct {
	// Target identifies the conversation holding the message.
	Target OutboundTarget
	// MessageID identifies the message that carries the attachment.
	MessageID string
	// Attachment is the attachment as delivered on the inbound event.
	Attachment MediaAttachment
}

// Validate checks the request envelope before dispatch.
func (r FetchAttachmentRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate fetch attachment target: %w", err)
	}
	if r.MessageID == "" {
		return fmt.Errorf("%w: missing message id", ErrInvalidOutboundRequest)
	}
	if r.Attachment.ID == "" {
		return fmt.Errorf("%w: missing attachment id", ErrInvalidOutboundRequest)
	}
	if !r.Attachment.Transferable() {
		return fmt.Errorf("%w: attachment type %s has no body", ErrInvalidOutboundRequest, r.Attachment.Type)
	}

	return nil
}

// SetPresenceRequest replaces the bot status line.
type SetPresenceRequest struct {
	// Text is the new status line.
	Text string
	// Sink limits the update to one driver instance; nil updates every sink.
	Sink *EventSink
}

// Validate checks the request envelope before dispatch.
func (r SetPresenceRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("%w: missing presence text", ErrInvalidOutboundRequest)
	}
	if r.Sink != nil && r.Sink.Platform == "" && r.Sink.ID == "" {
		return fmt.Errorf("%w: missing sink identity", ErrInvalidOutboundRequest)
	}

	return nil
}
