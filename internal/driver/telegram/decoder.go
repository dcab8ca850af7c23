package telegram

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"ex-fronter/pkg/fronter"
)

// Decoder turns an Update into a validated fronter.Event.
type Decoder interface {
	Decode(ctx context.Context, update Update) (*fronter.Event, error)
}

// DefaultDecoder maps message updates to message.created events. The source
// id is left empty; Driver fills it with its own name.
type DefaultDecoder struct {
	now func() time.Time
}

// NewDefaultDecoder returns a decoder that stamps undated updates with the
// current UTC time.
func NewDefaultDecoder() DefaultDecoder {
	return DefaultDecoder{now: func() time.Time { return time.Now().UTC() }}
}

// Decode implements Decoder.
func (d DefaultDecoder) Decode(_ context.Context, update Update) (*fronter.Event, error) {
	if update.Type != UpdateTypeMessage {
		return nil, errors.Errorf("update %s: unsupported type %q", update.ID, update.Type)
	}
	if update.Message == nil {
		return nil, errors.Errorf("update %s: message update without payload", update.ID)
	}

	occurredAt := update.OccurredAt
	if occurredAt.IsZero() && d.now != nil {
		occurredAt = d.now()
	}

	var media []fronter.MediaAttachment
	for _, item := range update.Message.Media {
		media = append(media, item.attachment())
	}

	event := &fronter.Event{
		ID:         update.ID,
		Kind:       fronter.EventKindMessageCreated,
		OccurredAt: occurredAt,
		Source:     fronter.EventSource{Platform: DriverPlatform},
		Conversation: fronter.Conversation{
			ID:    update.Chat.ID,
			Type:  update.Chat.Type,
			Title: update.Chat.Title,
		},
		Actor: fronter.Actor{
			ID:          update.Actor.ID,
			Username:    update.Actor.Username,
			DisplayName: update.Actor.DisplayName,
			IsBot:       update.Actor.IsBot,
		},
		Message: &fronter.Message{
			ID:        update.Message.ID,
			ReplyToID: update.Message.ReplyToID,
			Text:      update.Message.Text,
			Media:     media,
		},
		Metadata: update.Metadata,
	}
	if err := event.Validate(); err != nil {
		return nil, errors.Wrapf(err, "update %s", update.ID)
	}

	return event, nil
}
