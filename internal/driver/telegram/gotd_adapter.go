package telegram

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
)

const defaultGotdUpdateBuffer = 1024

// GotdUpdateChannel receives gotd update containers and exposes them as a
// stream of single-message envelopes.
//
// It implements gotd's telegram.UpdateHandler.
type GotdUpdateChannel struct {
	updates chan any
}

// NewGotdUpdateChannel creates a buffered bridge between gotd and GotdBotSource.
func NewGotdUpdateChannel(buffer int) *GotdUpdateChannel {
	if buffer <= 0 {
		buffer = defaultGotdUpdateBuffer
	}

	return &GotdUpdateChannel{updates: make(chan any, buffer)}
}

// Updates returns the envelope stream.
func (s *GotdUpdateChannel) Updates(ctx context.Context) (<-chan any, error) {
	if ctx == nil {
		return nil, errors.New("gotd update channel: nil context")
	}
	if s == nil || s.updates == nil {
		return nil, errors.New("gotd update channel: not initialized")
	}

	return s.updates, nil
}

// Handle flattens one gotd container and enqueues every new-message update.
// It blocks while the buffer is full, which applies backpressure to gotd.
func (s *GotdUpdateChannel) Handle(ctx context.Context, updates tg.UpdatesClass) error {
	batch, err := flattenGotdUpdates(updates)
	if err != nil {
		return errors.Errorf("handle gotd updates: %w", err)
	}

	for _, item := range batch {
		select {
		case <-ctx.Done():
			return errors.Errorf("handle gotd updates: %w", ctx.Err())
		case s.updates <- item:
		}
	}

	return nil
}

// gotdUpdateEnvelope carries one update with the entities delivered in the
// same container.
type gotdUpdateEnvelope struct {
	update      tg.UpdateClass
	occurredAt  time.Time
	usersByID   map[int64]*tg.User
	chatsByID   map[int64]gotdChatInfo
	updateClass string
}

func flattenGotdUpdates(updates tg.UpdatesClass) ([]gotdUpdateEnvelope, error) {
	if updates == nil {
		return nil, errors.New("flatten gotd updates: nil updates")
	}

	switch typed := updates.(type) {
	case *tg.Updates:
		return flattenGotdBatch(typed.Updates, typed.Date, typed.Users, typed.Chats), nil
	case *tg.UpdatesCombined:
		return flattenGotdBatch(typed.Updates, typed.Date, typed.Users, typed.Chats), nil
	case *tg.UpdateShort:
		return flattenGotdBatch([]tg.UpdateClass{typed.Update}, typed.Date, nil, nil), nil
	case *tg.UpdateShortMessage:
		return []gotdUpdateEnvelope{shortMessageEnvelope(typed)}, nil
	case *tg.UpdateShortChatMessage:
		return []gotdUpdateEnvelope{shortChatMessageEnvelope(typed)}, nil
	case *tg.UpdatesTooLong, *tg.UpdateShortSentMessage:
		return nil, nil
	default:
		return nil, errors.Errorf("flatten gotd updates %s: unsupported container", updates.TypeName())
	}
}

// flattenGotdBatch keeps only new-message updates; every other update kind is
// irrelevant to proxying.
func flattenGotdBatch(
	updates []tg.UpdateClass,
	date int,
	users []tg.UserClass,
	chats []tg.ChatClass,
) []gotdUpdateEnvelope {
	occurredAt := intToTimeUTC(date)
	usersByID := indexGotdUsers(users)
	chatsByID := indexGotdChats(chats)

	batch := make([]gotdUpdateEnvelope, 0, len(updates))
	for _, update := range updates {
		switch update.(type) {
		case *tg.UpdateNewMessage, *tg.UpdateNewChannelMessage:
		default:
			continue
		}
		batch = append(batch, gotdUpdateEnvelope{
			update:      update,
			occurredAt:  occurredAt,
			usersByID:   usersByID,
			chatsByID:   chatsByID,
			updateClass: update.TypeName(),
		})
	}

	return batch
}

func shortMessageEnvelope(update *tg.UpdateShortMessage) gotdUpdateEnvelope {
	message := &tg.Message{
		ID:      update.ID,
		Out:     update.Out,
		PeerID:  &tg.PeerUser{UserID: update.UserID},
		Date:    update.Date,
		Message: update.Message,
	}
	message.SetFromID(&tg.PeerUser{UserID: update.UserID})
	if replyTo, ok := update.GetReplyTo(); ok {
		message.SetReplyTo(replyTo)
	}

	return gotdUpdateEnvelope{
		update:      &tg.UpdateNewMessage{Message: message, Pts: update.Pts, PtsCount: update.PtsCount},
		occurredAt:  intToTimeUTC(update.Date),
		updateClass: update.TypeName(),
	}
}

func shortChatMessageEnvelope(update *tg.UpdateShortChatMessage) gotdUpdateEnvelope {
	message := &tg.Message{
		ID:      update.ID,
		Out:     update.Out,
		PeerID:  &tg.PeerChat{ChatID: update.ChatID},
		Date:    update.Date,
		Message: update.Message,
	}
	message.SetFromID(&tg.PeerUser{UserID: update.FromID})
	if replyTo, ok := update.GetReplyTo(); ok {
		message.SetReplyTo(replyTo)
	}

	return gotdUpdateEnvelope{
		update:      &tg.UpdateNewMessage{Message: message, Pts: update.Pts, PtsCount: update.PtsCount},
		occurredAt:  intToTimeUTC(update.Date),
		updateClass: update.TypeName(),
	}
}
