package telegram

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"ex-fronter/pkg/fronter"
)

const (
	// DriverType is the "type" value of a telegram entry in the drivers list.
	DriverType = "telegram"
	// DriverPlatform is stamped on every event this package produces.
	DriverPlatform fronter.Platform = fronter.PlatformTelegram
)

// UpdateType classifies an Update. Only new messages are relayed today.
type UpdateType string

// UpdateTypeMessage is a newly posted message.
const UpdateTypeMessage UpdateType = "message"

// Update is a Telegram update after peer and media resolution, before it
// becomes a fronter.Event.
type Update struct {
	ID         string
	Type       UpdateType
	OccurredAt time.Time
	Chat       ChatRef
	Actor      ActorRef
	Message    *MessagePayload
	Metadata   map[string]string
}

// ChatRef is the chat an update arrived in.
type ChatRef struct {
	ID    string
	Title string
	Type  fronter.ConversationType
}

// ActorRef is the update's sender.
type ActorRef struct {
	ID          string
	Username    string
	DisplayName string
	IsBot       bool
}

// MessagePayload is the message carried by a message update.
type MessagePayload struct {
	ID        string
	ReplyToID string
	Text      string
	Media     []MediaPayload
}

// MediaPayload describes one attachment. Downloadable media is registered in
// the MediaCache under ID; URI is only set for link previews.
type MediaPayload struct {
	ID        string
	Type      fronter.MediaType
	MIMEType  string
	FileName  string
	SizeBytes int64
	URI       string
}

func (m MediaPayload) attachment() fronter.MediaAttachment {
	return fronter.MediaAttachment{
		ID:        m.ID,
		Type:      m.Type,
		MIMEType:  m.MIMEType,
		FileName:  m.FileName,
		SizeBytes: m.SizeBytes,
		URI:       m.URI,
	}
}

// UpdateHandler receives updates from an UpdateSource. Returning an error
// stops the source.
type UpdateHandler func(ctx context.Context, update Update) error

// UpdateSource feeds updates to a handler until ctx ends or the stream fails.
type UpdateSource interface {
	Consume(ctx context.Context, handler UpdateHandler) error
}

// ChannelSource replays updates from a channel. Tests and local tooling use
// it in place of a live bot session.
type ChannelSource struct {
	Updates <-chan Update
}

// Consume drains Updates until it is closed or ctx ends.
func (s ChannelSource) Consume(ctx context.Context, handler UpdateHandler) error {
	if handler == nil {
		return errors.New("channel source: nil handler")
	}

	for {
		var (
			update Update
			open   bool
		)
		select {
		case <-ctx.Done():
			return nil
		case update, open = <-s.Updates:
		}
		if !open {
			return nil
		}
		if err := handler(ctx, update); err != nil {
			return errors.Wrapf(err, "channel source: update %s", update.ID)
		}
	}
}
