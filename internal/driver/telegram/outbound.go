package telegram

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/crypto"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/unpack"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"

	"ex-fronter/pkg/fronter"
)

const (
	defaultOutboundTimeout = 10 * time.Second
	defaultTransferTimeout = 2 * time.Minute
	defaultFileMIMEType    = "application/octet-stream"
)

// OutboundOption mutates outbound dispatcher configuration.
type OutboundOption func(*outboundConfig)

// WithOutboundTimeout bounds each text, delete, and presence RPC call.
func WithOutboundTimeout(timeout time.Duration) OutboundOption {
	return func(cfg *outboundConfig) {
		if timeout > 0 {
			cfg.rpcTimeout = timeout
		}
	}
}

// WithTransferTimeout bounds each file upload or download.
func WithTransferTimeout(timeout time.Duration) OutboundOption {
	return func(cfg *outboundConfig) {
		if timeout > 0 {
			cfg.transferTimeout = timeout
		}
	}
}

// WithFetchAttempts sets how many times one attachment download is tried.
func WithFetchAttempts(attempts int) OutboundOption {
	return func(cfg *outboundConfig) {
		if attempts > 0 {
			cfg.transfer.attempts = attempts
		}
	}
}

// WithOutboundLogger configures structured logging for outbound operations.
func WithOutboundLogger(logger *slog.Logger) OutboundOption {
	return func(cfg *outboundConfig) {
		cfg.logger = logger
	}
}

// WithSinkRef configures the sink identity this dispatcher answers for.
func WithSinkRef(ref fronter.EventSink) OutboundOption {
	return func(cfg *outboundConfig) {
		cfg.sink = ref
		if cfg.sink.Platform == "" {
			cfg.sink.Platform = DriverPlatform
		}
	}
}

// SinkDispatcher adapts neutral outbound operations to Telegram RPC calls.
type SinkDispatcher struct {
	cfg      outboundConfig
	peers    *PeerCache
	media    *MediaCache
	telegram outboundRPC
}

type outboundConfig struct {
	rpcTimeout      time.Duration
	transferTimeout time.Duration
	transfer        transferPolicy
	logger          *slog.Logger
	sink            fronter.EventSink
}

// NewOutboundDispatcher creates a Telegram outbound dispatcher using gotd client APIs.
func NewOutboundDispatcher(
	client *gotdtelegram.Client,
	peers *PeerCache,
	media *MediaCache,
	options ...OutboundOption,
) (*SinkDispatcher, error) {
	if client == nil {
		return nil, errors.New("new telegram outbound dispatcher: nil client")
	}

	return newOutboundDispatcherWithRPC(newGotdOutboundRPC(client), peers, media, options...)
}

func newOutboundDispatcherWithRPC(
	rpc outboundRPC,
	peers *PeerCache,
	media *MediaCache,
	options ...OutboundOption,
) (*SinkDispatcher, error) {
	if rpc == nil {
		return nil, errors.New("new telegram outbound dispatcher: nil rpc adapter")
	}
	if peers == nil {
		return nil, errors.New("new telegram outbound dispatcher: nil peer cache")
	}
	if media == nil {
		return nil, errors.New("new telegram outbound dispatcher: nil media cache")
	}

	cfg := outboundConfig{
		rpcTimeout:      defaultOutboundTimeout,
		transferTimeout: defaultTransferTimeout,
		transfer:        defaultTransferPolicy(),
		sink:            fronter.EventSink{Platform: DriverPlatform},
	}
	for _, option := range options {
		option(&cfg)
	}

	return &SinkDispatcher{
		cfg:      cfg,
		peers:    peers,
		media:    media,
		telegram: rpc,
	}, nil
}

// SendMessage renders text and card into one Telegram message. With files,
// each file is uploaded as a document; the first carries the rendered
// caption and the rest follow with empty captions.
//
// Bodies longer than Telegram allows are split at line breaks into several
// messages. A caption too long for a document is sent as text just before
// the files. The returned ID is the first message carrying rendered text.
func (d *SinkDispatcher) SendMessage(
	ctx context.Context,
	request fronter.SendMessageRequest,
) (*fronter.OutboundMessage, error) {
	messageID, err := d.sendMessage(ctx, request)
	if err != nil {
		return nil, mapTelegramOutboundError(fronter.OutboundOperationSendMessage, d.cfg.sink, err)
	}

	return &fronter.OutboundMessage{
		ID:     strconv.Itoa(messageID),
		Target: request.Target,
	}, nil
}

func (d *SinkDispatcher) sendMessage(ctx context.Context, request fronter.SendMessageRequest) (int, error) {
	if err := request.Validate(); err != nil {
		return 0, errors.Errorf("send message validate: %w", err)
	}

	peer, err := d.resolvePeer(request.Target)
	if err != nil {
		return 0, errors.Errorf("send message resolve peer: %w", err)
	}

	replyTo := 0
	if request.ReplyToMessageID != "" {
		replyTo, err = parseMessageID(request.ReplyToMessageID)
		if err != nil {
			return 0, errors.Errorf("send message parse reply id %s: %w", request.ReplyToMessageID, err)
		}
	}

	text, entities := renderMessage(request.Text, request.Card)
	caption, captionEntities := text, entities
	firstID := 0
	if len(request.Files) == 0 || utf16Len(text) > maxCaptionLength {
		parts := splitRendered(text, entities, maxMessageLength)
		if len(parts) == 0 {
			return 0, errors.Wrap(fronter.ErrInvalidOutboundRequest, "send message: nothing to render")
		}
		firstID, err = d.sendParts(ctx, peer, request, parts, replyTo)
		if err != nil {
			return 0, err
		}
		caption, captionEntities, replyTo = "", nil, 0
	}

	for index, file := range request.Files {
		if index > 0 {
			caption, captionEntities = "", nil
		}

		messageID, err := d.sendFile(ctx, peer, file, caption, captionEntities, replyTo)
		if err != nil {
			return 0, errors.Errorf("send file %q to %s: %w", file.FileName, request.Target.Conversation.ID, err)
		}
		if firstID == 0 {
			firstID = messageID
		}
		d.logOutbound(ctx, fronter.OutboundOperationSendMessage,
			"conversation", request.Target.Conversation.ID,
			"conversation_type", request.Target.Conversation.Type,
			"message_id", messageID,
			"file_name", file.FileName,
			"file_bytes", len(file.Data),
		)
	}

	return firstID, nil
}

// sendParts sends a split body in order. Only the first part is threaded and
// its ID is returned.
func (d *SinkDispatcher) sendParts(
	ctx context.Context,
	peer tg.InputPeerClass,
	request fronter.SendMessageRequest,
	parts []renderedPart,
	replyTo int,
) (int, error) {
	firstID := 0
	for index, part := range parts {
		rpcCtx, cancel := d.withTimeout(ctx, d.cfg.rpcTimeout)
		messageID, err := d.telegram.SendText(rpcCtx, peer, part.text, part.entities, replyTo)
		cancel()
		if err != nil {
			return 0, errors.Errorf("send message part %d/%d to %s: %w",
				index+1, len(parts), request.Target.Conversation.ID, err)
		}
		if index == 0 {
			firstID = messageID
			replyTo = 0
		}
		d.logOutbound(ctx, fronter.OutboundOperationSendMessage,
			"conversation", request.Target.Conversation.ID,
			"conversation_type", request.Target.Conversation.Type,
			"message_id", messageID,
			"part", index+1,
			"parts", len(parts),
			"reply_to_message_id", request.ReplyToMessageID,
		)
	}

	return firstID, nil
}

func (d *SinkDispatcher) sendFile(
	ctx context.Context,
	peer tg.InputPeerClass,
	file fronter.OutboundFile,
	caption string,
	entities []tg.MessageEntityClass,
	replyTo int,
) (int, error) {
	transferCtx, cancel := d.withTimeout(ctx, d.cfg.transferTimeout)
	defer cancel()

	return d.telegram.SendFile(transferCtx, peer, file, caption, entities, replyTo)
}

// DeleteMessage removes an existing Telegram message for every participant.
func (d *SinkDispatcher) DeleteMessage(ctx context.Context, request fronter.DeleteMessageRequest) error {
	if err := d.deleteMessage(ctx, request); err != nil {
		return mapTelegramOutboundError(fronter.OutboundOperationDeleteMessage, d.cfg.sink, err)
	}

	return nil
}

func (d *SinkDispatcher) deleteMessage(ctx context.Context, request fronter.DeleteMessageRequest) error {
	if err := request.Validate(); err != nil {
		return errors.Errorf("delete message validate: %w", err)
	}

	peer, err := d.resolvePeer(request.Target)
	if err != nil {
		return errors.Errorf("delete message resolve peer: %w", err)
	}

	messageID, err := parseMessageID(request.MessageID)
	if err != nil {
		return errors.Errorf("delete message parse id %s: %w", request.MessageID, err)
	}

	rpcCtx, cancel := d.withTimeout(ctx, d.cfg.rpcTimeout)
	defer cancel()

	if err := d.telegram.DeleteMessage(rpcCtx, peer, messageID); err != nil {
		return errors.Errorf("delete message %s: %w", request.MessageID, err)
	}

	d.logOutbound(ctx, fronter.OutboundOperationDeleteMessage,
		"conversation", request.Target.Conversation.ID,
		"conversation_type", request.Target.Conversation.Type,
		"message_id", request.MessageID,
	)

	return nil
}

// FetchAttachment downloads the exact bytes of an attachment seen on an
// inbound message. Only attachments still held by the media cache can be
// fetched; anything older reports fronter.ErrOutboundNotFound.
func (d *SinkDispatcher) FetchAttachment(
	ctx context.Context,
	request fronter.FetchAttachmentRequest,
) ([]byte, error) {
	data, err := d.fetchAttachment(ctx, request)
	if err != nil {
		return nil, mapTelegramOutboundError(fronter.OutboundOperationFetchAttachment, d.cfg.sink, err)
	}

	return data, nil
}

func (d *SinkDispatcher) fetchAttachment(ctx context.Context, request fronter.FetchAttachmentRequest) ([]byte, error) {
	if err := request.Validate(); err != nil {
		return nil, errors.Errorf("fetch attachment validate: %w", err)
	}
	if err := d.checkSink(request.Target.Sink); err != nil {
		return nil, errors.Errorf("fetch attachment: %w", err)
	}

	location, ok := d.media.Lookup(mediaKey{
		conversationID: request.Target.Conversation.ID,
		messageID:      request.MessageID,
		attachmentID:   request.Attachment.ID,
	})
	if !ok {
		return nil, errors.Wrapf(fronter.ErrOutboundNotFound,
			"fetch attachment %s on message %s: location unknown or expired", request.Attachment.ID, request.MessageID)
	}

	transferCtx, cancel := d.withTimeout(ctx, d.cfg.transferTimeout)
	defer cancel()

	data, err := fetchBytes(transferCtx, d.cfg.transfer, func(ctx context.Context, w io.Writer) error {
		return d.telegram.Download(ctx, location.location, w)
	})
	if err != nil {
		return nil, errors.Errorf("fetch attachment %s: %w", request.Attachment.ID, err)
	}

	d.logOutbound(ctx, fronter.OutboundOperationFetchAttachment,
		"conversation", request.Target.Conversation.ID,
		"message_id", request.MessageID,
		"attachment_id", request.Attachment.ID,
		"bytes", len(data),
	)

	return data, nil
}

// SetPresence replaces the bot's profile about text, which Telegram shows
// on the bot's profile page.
func (d *SinkDispatcher) SetPresence(ctx context.Context, request fronter.SetPresenceRequest) error {
	if err := d.setPresence(ctx, request); err != nil {
		return mapTelegramOutboundError(fronter.OutboundOperationSetPresence, d.cfg.sink, err)
	}

	return nil
}

func (d *SinkDispatcher) setPresence(ctx context.Context, request fronter.SetPresenceRequest) error {
	if err := request.Validate(); err != nil {
		return errors.Errorf("set presence validate: %w", err)
	}
	if err := d.checkSink(request.Sink); err != nil {
		return errors.Errorf("set presence: %w", err)
	}

	rpcCtx, cancel := d.withTimeout(ctx, d.cfg.rpcTimeout)
	defer cancel()

	text := strings.TrimSpace(request.Text)
	if err := d.telegram.SetBotInfo(rpcCtx, text); err != nil {
		return errors.Errorf("set presence: %w", err)
	}

	d.logOutbound(ctx, fronter.OutboundOperationSetPresence, "text", text)

	return nil
}

// ListSinks returns the configured Telegram sink identity.
func (d *SinkDispatcher) ListSinks(ctx context.Context) ([]fronter.EventSink, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Errorf("list sinks: %w", err)
	}

	return []fronter.EventSink{d.cfg.sink}, nil
}

func (d *SinkDispatcher) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, timeout)
}

func (d *SinkDispatcher) checkSink(sink *fronter.EventSink) error {
	if sink == nil {
		return nil
	}
	if sink.Platform != "" && sink.Platform != d.cfg.sink.Platform {
		return errors.Wrapf(fronter.ErrOutboundUnsupported, "platform %s", sink.Platform)
	}
	if sink.ID != "" && d.cfg.sink.ID != "" && sink.ID != d.cfg.sink.ID {
		return errors.Wrapf(fronter.ErrOutboundUnsupported, "sink %s", sink.ID)
	}

	return nil
}

func (d *SinkDispatcher) resolvePeer(target fronter.OutboundTarget) (tg.InputPeerClass, error) {
	if err := d.checkSink(target.Sink); err != nil {
		return nil, err
	}

	peer, err := d.peers.Resolve(target.Conversation)
	if err != nil {
		return nil, errors.Errorf("resolve conversation %s: %w", target.Conversation.ID, err)
	}

	return peer, nil
}

func (d *SinkDispatcher) logOutbound(ctx context.Context, operation fronter.OutboundOperation, attrs ...any) {
	if d.cfg.logger == nil {
		return
	}

	values := make([]any, 0, 4+len(attrs))
	values = append(values, "operation", string(operation), "platform", d.cfg.sink.Platform)
	values = append(values, attrs...)
	d.cfg.logger.InfoContext(ctx, "telegram outbound operation", values...)
}

func parseMessageID(raw string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, errors.Wrapf(fronter.ErrInvalidOutboundRequest, "invalid message id %q", raw)
	}
	if value <= 0 {
		return 0, errors.Wrapf(fronter.ErrInvalidOutboundRequest, "invalid message id")
	}

	return value, nil
}

// outboundRPC is the slice of the Telegram API the dispatcher needs.
type outboundRPC interface {
	SendText(ctx context.Context, peer tg.InputPeerClass, text string, entities []tg.MessageEntityClass, replyTo int) (int, error)
	SendFile(
		ctx context.Context,
		peer tg.InputPeerClass,
		file fronter.OutboundFile,
		caption string,
		entities []tg.MessageEntityClass,
		replyTo int,
	) (int, error)
	DeleteMessage(ctx context.Context, peer tg.InputPeerClass, messageID int) error
	Download(ctx context.Context, location tg.InputFileLocationClass, w io.Writer) error
	SetBotInfo(ctx context.Context, about string) error
}

type gotdOutboundRPC struct {
	raw        *tg.Client
	rand       io.Reader
	sender     *message.Sender
	uploader   *uploader.Uploader
	downloader *downloader.Downloader
}

func newGotdOutboundRPC(client *gotdtelegram.Client) gotdOutboundRPC {
	raw := client.API()

	return gotdOutboundRPC{
		raw:        raw,
		rand:       crypto.DefaultRand(),
		sender:     message.NewSender(raw),
		uploader:   uploader.NewUploader(raw),
		downloader: downloader.NewDownloader(),
	}
}

func (r gotdOutboundRPC) SendText(
	ctx context.Context,
	peer tg.InputPeerClass,
	text string,
	entities []tg.MessageEntityClass,
	replyTo int,
) (int, error) {
	randomID, err := crypto.RandInt64(r.rand)
	if err != nil {
		return 0, errors.Errorf("send text random id: %w", err)
	}

	request := &tg.MessagesSendMessageRequest{
		Peer:      peer,
		Message:   text,
		Entities:  entities,
		RandomID:  randomID,
		NoWebpage: true,
	}
	if replyTo > 0 {
		request.SetReplyTo(&tg.InputReplyToMessage{ReplyToMsgID: replyTo})
	}

	updates, err := r.raw.MessagesSendMessage(ctx, request)
	if err != nil {
		return 0, errors.Errorf("send text: %w", err)
	}

	messageID, err := unpack.MessageID(updates, nil)
	if err != nil {
		return 0, errors.Errorf("extract sent message id: %w", err)
	}

	return messageID, nil
}

// SendFile uploads file as a forced document so Telegram keeps the bytes
// as-is instead of recompressing images.
func (r gotdOutboundRPC) SendFile(
	ctx context.Context,
	peer tg.InputPeerClass,
	file fronter.OutboundFile,
	caption string,
	entities []tg.MessageEntityClass,
	replyTo int,
) (int, error) {
	uploaded, err := r.uploader.FromBytes(ctx, file.FileName, file.Data)
	if err != nil {
		return 0, errors.Errorf("upload file: %w", err)
	}

	mimeType := strings.TrimSpace(file.MIMEType)
	if mimeType == "" {
		mimeType = defaultFileMIMEType
	}

	randomID, err := crypto.RandInt64(r.rand)
	if err != nil {
		return 0, errors.Errorf("send file random id: %w", err)
	}

	request := &tg.MessagesSendMediaRequest{
		Peer: peer,
		Media: &tg.InputMediaUploadedDocument{
			ForceFile: true,
			File:      uploaded,
			MimeType:  mimeType,
			Attributes: []tg.DocumentAttributeClass{
				&tg.DocumentAttributeFilename{FileName: file.FileName},
			},
		},
		Message:  caption,
		Entities: entities,
		RandomID: randomID,
	}
	if replyTo > 0 {
		request.SetReplyTo(&tg.InputReplyToMessage{ReplyToMsgID: replyTo})
	}

	updates, err := r.raw.MessagesSendMedia(ctx, request)
	if err != nil {
		return 0, errors.Errorf("send media: %w", err)
	}

	messageID, err := unpack.MessageID(updates, nil)
	if err != nil {
		return 0, errors.Errorf("extract sent media id: %w", err)
	}

	return messageID, nil
}

func (r gotdOutboundRPC) DeleteMessage(ctx context.Context, peer tg.InputPeerClass, messageID int) error {
	if _, err := r.sender.To(peer).Revoke().Messages(ctx, messageID); err != nil {
		return errors.Errorf("revoke delete message: %w", err)
	}

	return nil
}

func (r gotdOutboundRPC) Download(ctx context.Context, location tg.InputFileLocationClass, w io.Writer) error {
	if _, err := r.downloader.Download(r.raw, location).Stream(ctx, w); err != nil {
		return errors.Errorf("download file: %w", err)
	}

	return nil
}

func (r gotdOutboundRPC) SetBotInfo(ctx context.Context, about string) error {
	request := &tg.BotsSetBotInfoRequest{}
	request.SetAbout(about)

	if _, err := r.raw.BotsSetBotInfo(ctx, request); err != nil {
		return errors.Errorf("set bot info: %w", err)
	}

	return nil
}
