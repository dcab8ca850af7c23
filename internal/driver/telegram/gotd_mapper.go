package telegram

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"

	"ex-fronter/pkg/fronter"
)

const (
	gotdUnknownConversationID = "unknown"
	gotdUnknownActorID        = "unknown"
)

// DefaultGotdUpdateMapper maps gotd new-message updates into adapter DTOs.
//
// Along the way it records peers for outbound routing and download locations
// for every transferable attachment.
type DefaultGotdUpdateMapper struct {
	peerCache  *PeerCache
	mediaCache *MediaCache
}

// GotdUpdateMapperOption mutates DefaultGotdUpdateMapper behavior.
type GotdUpdateMapperOption func(*DefaultGotdUpdateMapper)

// WithPeerCache records entity-derived peer mappings for outbound dispatch.
func WithPeerCache(cache *PeerCache) GotdUpdateMapperOption {
	return func(mapper *DefaultGotdUpdateMapper) {
		if cache != nil {
			mapper.peerCache = cache
		}
	}
}

// WithMediaCache records attachment download locations.
func WithMediaCache(cache *MediaCache) GotdUpdateMapperOption {
	return func(mapper *DefaultGotdUpdateMapper) {
		if cache != nil {
			mapper.mediaCache = cache
		}
	}
}

// NewDefaultGotdUpdateMapper creates the default gotd mapper.
func NewDefaultGotdUpdateMapper(options ...GotdUpdateMapperOption) DefaultGotdUpdateMapper {
	mapper := DefaultGotdUpdateMapper{}
	for _, option := range options {
		option(&mapper)
	}

	return mapper
}

// Map converts a gotd raw update value into an adapter update.
func (m DefaultGotdUpdateMapper) Map(ctx context.Context, raw any) (Update, bool, error) {
	if err := ctx.Err(); err != nil {
		return Update{}, false, errors.Errorf("map gotd update context: %w", err)
	}

	envelope, err := normalizeGotdRaw(raw)
	if err != nil {
		return Update{}, false, errors.Errorf("map gotd raw update: %w", err)
	}
	if m.peerCache != nil {
		m.peerCache.RememberEnvelope(envelope)
	}

	var message tg.MessageClass
	switch update := envelope.update.(type) {
	case *tg.UpdateNewMessage:
		message = update.Message
	case *tg.UpdateNewChannelMessage:
		message = update.Message
	default:
		return Update{}, false, nil
	}

	typed, ok := message.(*tg.Message)
	if !ok {
		return Update{}, false, nil
	}

	return m.mapMessage(typed, envelope)
}

func normalizeGotdRaw(raw any) (gotdUpdateEnvelope, error) {
	switch typed := raw.(type) {
	case gotdUpdateEnvelope:
		return typed, nil
	case *gotdUpdateEnvelope:
		if typed == nil {
			return gotdUpdateEnvelope{}, errors.New("nil envelope")
		}
		return *typed, nil
	case tg.UpdateClass:
		if typed == nil {
			return gotdUpdateEnvelope{}, errors.New("nil update class")
		}
		return gotdUpdateEnvelope{
			update:      typed,
			occurredAt:  time.Now().UTC(),
			updateClass: typed.TypeName(),
		}, nil
	default:
		return gotdUpdateEnvelope{}, errors.Errorf("unsupported raw type %T", raw)
	}
}

func (m DefaultGotdUpdateMapper) mapMessage(
	message *tg.Message,
	envelope gotdUpdateEnvelope,
) (Update, bool, error) {
	chat := resolveChatFromPeer(message.PeerID, envelope)
	if chat.ID == gotdUnknownConversationID {
		return Update{}, false, errors.Errorf("map message %d: unknown peer %T", message.ID, message.PeerID)
	}

	actor := resolveActorFromPeer(message.FromID, envelope)
	if actor.ID == gotdUnknownActorID {
		actor = resolveActorFromPeer(message.PeerID, envelope)
	}
	// Outgoing messages were sent by this bot; they must never be proxied.
	if message.Out {
		actor.IsBot = true
	}

	payload := &MessagePayload{
		ID:   strconv.Itoa(message.ID),
		Text: message.Message,
	}
	if replyTo, ok := message.GetReplyTo(); ok {
		if header, ok := replyTo.(*tg.MessageReplyHeader); ok {
			if replyToMessageID, ok := header.GetReplyToMsgID(); ok {
				payload.ReplyToID = strconv.Itoa(replyToMessageID)
			}
		}
	}
	payload.Media = m.mapMessageMedia(chat.ID, payload.ID, message.Media)

	occurredAt := intToTimeUTC(message.Date)
	if occurredAt.IsZero() {
		occurredAt = envelope.occurredAt
	}
	if m.peerCache != nil {
		m.peerCache.RememberConversation(chat, resolveInputPeerFromPeer(message.PeerID, envelope))
	}

	return Update{
		ID:         composeUpdateID(UpdateTypeMessage, chat.ID, payload.ID),
		Type:       UpdateTypeMessage,
		OccurredAt: occurredAt,
		Chat:       chat,
		Actor:      actor,
		Message:    payload,
		Metadata:   newGotdMetadata(envelope),
	}, true, nil
}

// mapMessageMedia projects one message media block and caches the download
// location of transferable bodies under the conversation and message.
func (m DefaultGotdUpdateMapper) mapMessageMedia(
	conversationID string,
	messageID string,
	media tg.MessageMediaClass,
) []MediaPayload {
	payload, location, ok := projectMessageMedia(media)
	if !ok {
		return nil
	}
	if location != nil {
		m.mediaCache.Remember(mediaKey{
			conversationID: conversationID,
			messageID:      messageID,
			attachmentID:   payload.ID,
		}, mediaLocation{location: location, sizeBytes: payload.SizeBytes})
	}

	return []MediaPayload{payload}
}

func projectMessageMedia(media tg.MessageMediaClass) (MediaPayload, tg.InputFileLocationClass, bool) {
	switch typed := media.(type) {
	case *tg.MessageMediaPhoto:
		photoClass, ok := typed.GetPhoto()
		if !ok {
			return MediaPayload{}, nil, false
		}
		photo, ok := photoClass.(*tg.Photo)
		if !ok {
			return MediaPayload{}, nil, false
		}
		return projectPhoto(photo)
	case *tg.MessageMediaDocument:
		documentClass, ok := typed.GetDocument()
		if !ok {
			return MediaPayload{}, nil, false
		}
		document, ok := documentClass.(*tg.Document)
		if !ok {
			return MediaPayload{}, nil, false
		}
		return projectDocument(document)
	case *tg.MessageMediaWebPage:
		page, ok := typed.Webpage.(*tg.WebPage)
		if !ok || page.URL == "" {
			return MediaPayload{}, nil, false
		}
		return MediaPayload{
			ID:   "webpage:" + strconv.FormatInt(page.ID, 10),
			Type: fronter.MediaTypeLink,
			URI:  page.URL,
		}, nil, true
	default:
		return MediaPayload{}, nil, false
	}
}

func projectPhoto(photo *tg.Photo) (MediaPayload, tg.InputFileLocationClass, bool) {
	sizeType, sizeBytes, ok := largestPhotoSize(photo.Sizes)
	if !ok {
		return MediaPayload{}, nil, false
	}
	id := strconv.FormatInt(photo.ID, 10)

	return MediaPayload{
			ID:        "photo:" + id,
			Type:      fronter.MediaTypePhoto,
			MIMEType:  "image/jpeg",
			FileName:  "photo_" + id + ".jpg",
			SizeBytes: sizeBytes,
		}, &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     sizeType,
		}, true
}

// largestPhotoSize picks the highest resolution full-size variant.
func largestPhotoSize(sizes []tg.PhotoSizeClass) (sizeType string, sizeBytes int64, ok bool) {
	bestArea := -1
	for _, size := range sizes {
		switch typed := size.(type) {
		case *tg.PhotoSize:
			if area := typed.W * typed.H; area > bestArea {
				bestArea, sizeType, sizeBytes, ok = area, typed.Type, int64(typed.Size), true
			}
		case *tg.PhotoSizeProgressive:
			if len(typed.Sizes) == 0 {
				continue
			}
			if area := typed.W * typed.H; area > bestArea {
				last := typed.Sizes[len(typed.Sizes)-1]
				bestArea, sizeType, sizeBytes, ok = area, typed.Type, int64(last), true
			}
		}
	}

	return sizeType, sizeBytes, ok
}

func projectDocument(document *tg.Document) (MediaPayload, tg.InputFileLocationClass, bool) {
	id := strconv.FormatInt(document.ID, 10)
	fileName := documentFileName(document.Attributes)
	if fileName == "" {
		fileName = "file_" + id
	}

	return MediaPayload{
			ID:        "document:" + id,
			Type:      mediaTypeFromDocument(document.MimeType, document.Attributes),
			MIMEType:  document.MimeType,
			FileName:  fileName,
			SizeBytes: document.Size,
		}, &tg.InputDocumentFileLocation{
			ID:            document.ID,
			AccessHash:    document.AccessHash,
			FileReference: document.FileReference,
		}, true
}

func mediaTypeFromDocument(mimeType string, attributes []tg.DocumentAttributeClass) fronter.MediaType {
	for _, attribute := range attributes {
		switch attribute.(type) {
		case *tg.DocumentAttributeAudio:
			return fronter.MediaTypeAudio
		case *tg.DocumentAttributeVideo:
			return fronter.MediaTypeVideo
		}
	}

	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return fronter.MediaTypePhoto
	case strings.HasPrefix(mimeType, "video/"):
		return fronter.MediaTypeVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return fronter.MediaTypeAudio
	default:
		return fronter.MediaTypeDocument
	}
}

func documentFileName(attributes []tg.DocumentAttributeClass) string {
	for _, attribute := range attributes {
		if typed, ok := attribute.(*tg.DocumentAttributeFilename); ok {
			return typed.FileName
		}
	}

	return ""
}

type gotdChatInfo struct {
	title     string
	kind      fronter.ConversationType
	inputPeer tg.InputPeerClass
}

func indexGotdUsers(users []tg.UserClass) map[int64]*tg.User {
	if len(users) == 0 {
		return nil
	}

	out := make(map[int64]*tg.User, len(users))
	for _, user := range users {
		if user == nil {
			continue
		}
		notEmpty, ok := user.AsNotEmpty()
		if !ok || notEmpty == nil {
			continue
		}
		out[notEmpty.ID] = notEmpty
	}

	return out
}

func indexGotdChats(chats []tg.ChatClass) map[int64]gotdChatInfo {
	if len(chats) == 0 {
		return nil
	}

	out := make(map[int64]gotdChatInfo, len(chats))
	for _, chat := range chats {
		switch typed := chat.(type) {
		case *tg.Chat:
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      fronter.ConversationTypeGroup,
				inputPeer: typed.AsInputPeer(),
			}
		case *tg.ChatForbidden:
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      fronter.ConversationTypeGroup,
				inputPeer: &tg.InputPeerChat{ChatID: typed.ID},
			}
		case *tg.Channel:
			out[typed.ID] = gotdChatInfo{
				title:     typed.Title,
				kind:      channelKind(typed.Megagroup),
				inputPeer: typed.AsInputPeer(),
			}
		case *tg.ChannelForbidden:
			out[typed.ID] = gotdChatInfo{
				title: typed.Title,
				kind:  channelKind(typed.Megagroup),
				inputPeer: &tg.InputPeerChannel{
					ChannelID:  typed.ID,
					AccessHash: typed.AccessHash,
				},
			}
		}
	}

	return out
}

// channelKind maps supergroups to group conversations; they still use
// channel peers for RPC.
func channelKind(megagroup bool) fronter.ConversationType {
	if megagroup {
		return fronter.ConversationTypeGroup
	}

	return fronter.ConversationTypeChannel
}

func resolveChatFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) ChatRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		actor := resolveActorByUserID(typed.UserID, envelope)
		return ChatRef{
			ID:    actor.ID,
			Type:  fronter.ConversationTypePrivate,
			Title: actor.DisplayName,
		}
	case *tg.PeerChat:
		return resolveChatByID(typed.ChatID, fronter.ConversationTypeGroup, envelope)
	case *tg.PeerChannel:
		return resolveChatByID(typed.ChannelID, fronter.ConversationTypeChannel, envelope)
	default:
		return ChatRef{
			ID:   gotdUnknownConversationID,
			Type: fronter.ConversationTypePrivate,
		}
	}
}

func resolveChatByID(id int64, fallback fronter.ConversationType, envelope gotdUpdateEnvelope) ChatRef {
	chat := ChatRef{ID: strconv.FormatInt(id, 10), Type: fallback}
	if info, ok := envelope.chatsByID[id]; ok {
		chat.Title = info.title
		chat.Type = info.kind
	}

	return chat
}

func resolveActorFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) ActorRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		return resolveActorByUserID(typed.UserID, envelope)
	case *tg.PeerChat:
		return ActorRef{
			ID:          strconv.FormatInt(typed.ChatID, 10),
			DisplayName: envelope.chatsByID[typed.ChatID].title,
		}
	case *tg.PeerChannel:
		return ActorRef{
			ID:          strconv.FormatInt(typed.ChannelID, 10),
			DisplayName: envelope.chatsByID[typed.ChannelID].title,
		}
	default:
		return ActorRef{ID: gotdUnknownActorID}
	}
}

func resolveActorByUserID(userID int64, envelope gotdUpdateEnvelope) ActorRef {
	if userID == 0 {
		return ActorRef{ID: gotdUnknownActorID}
	}
	id := strconv.FormatInt(userID, 10)

	user, ok := envelope.usersByID[userID]
	if !ok || user == nil {
		return ActorRef{ID: id}
	}

	username, _ := user.GetUsername()
	firstName, _ := user.GetFirstName()
	lastName, _ := user.GetLastName()

	displayName := strings.TrimSpace(firstName + " " + lastName)
	if displayName == "" {
		displayName = username
	}
	if displayName == "" {
		displayName = id
	}

	return ActorRef{
		ID:          id,
		Username:    username,
		DisplayName: displayName,
		IsBot:       user.Bot || user.Self,
	}
}

func resolveInputPeerFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		user, ok := envelope.usersByID[typed.UserID]
		if !ok || user == nil {
			return nil
		}
		return user.AsInputPeer()
	case *tg.PeerChat:
		if typed.ChatID == 0 {
			return nil
		}
		return &tg.InputPeerChat{ChatID: typed.ChatID}
	case *tg.PeerChannel:
		info, ok := envelope.chatsByID[typed.ChannelID]
		if !ok || info.inputPeer == nil {
			return nil
		}
		return cloneInputPeer(info.inputPeer)
	default:
		return nil
	}
}

func intToTimeUTC(value int) time.Time {
	if value <= 0 {
		return time.Time{}
	}

	return time.Unix(int64(value), 0).UTC()
}

// composeUpdateID builds `tg:<type>:<chat>:<message>`. Message IDs are unique
// per chat, so the result is stable across redeliveries.
func composeUpdateID(updateType UpdateType, chatID string, messageID string) string {
	return strings.Join([]string{"tg", string(updateType), chatID, messageID}, ":")
}

func newGotdMetadata(envelope gotdUpdateEnvelope) map[string]string {
	if envelope.updateClass == "" {
		return nil
	}

	return map[string]string{"gotd_update": envelope.updateClass}
}
