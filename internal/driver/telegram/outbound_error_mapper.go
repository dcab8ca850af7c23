package telegram

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tgerr"
	"go.uber.org/multierr"

	"ex-fronter/pkg/fronter"
)

// mapTelegramOutboundError wraps err in a fronter.OutboundError whose cause
// carries the neutral classification sentinel when one applies.
func mapTelegramOutboundError(
	operation fronter.OutboundOperation,
	sink fronter.EventSink,
	err error,
) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fronter.ErrInvalidOutboundRequest) {
		return err
	}
	if _, already := fronter.AsOutboundError(err); already {
		return err
	}

	outboundErr := &fronter.OutboundError{
		Operation: operation,
		Platform:  sink.Platform,
		SinkID:    sink.ID,
		Cause:     err,
	}
	if rpcErr, ok := tgerr.As(err); ok {
		outboundErr.Code = rpcErr.Code
		outboundErr.Type = rpcErr.Type
	}

	if retryAfter, ok := tgerr.AsFloodWait(err); ok {
		outboundErr.RetryAfter = retryAfter
		outboundErr.Cause = multierr.Combine(fronter.ErrOutboundRateLimited, err)
		return outboundErr
	}
	if sentinel := classifyTelegramError(err); sentinel != nil && !errors.Is(err, sentinel) {
		outboundErr.Cause = multierr.Combine(sentinel, err)
	}

	return outboundErr
}

// classifyTelegramError maps RPC errors onto the neutral sentinels. It
// returns nil for transient or unknown failures.
func classifyTelegramError(err error) error {
	for _, sentinel := range []error{
		fronter.ErrOutboundNotFound,
		fronter.ErrOutboundForbidden,
		fronter.ErrOutboundRateLimited,
	} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}

	rpcErr, ok := tgerr.As(err)
	if !ok {
		return nil
	}

	errorType := strings.ToUpper(strings.TrimSpace(rpcErr.Type))
	switch {
	case rpcErr.Code == 420 || rpcErr.Code == 429 || strings.Contains(errorType, "FLOOD"):
		return fronter.ErrOutboundRateLimited
	case rpcErr.Code == 403,
		strings.HasSuffix(errorType, "_FORBIDDEN"),
		errorType == "CHAT_ADMIN_REQUIRED",
		errorType == "USER_BANNED_IN_CHANNEL":
		return fronter.ErrOutboundForbidden
	case rpcErr.Code == 404,
		errorType == "MESSAGE_ID_INVALID",
		errorType == "PEER_ID_INVALID",
		errorType == "CHANNEL_INVALID",
		errorType == "FILE_REFERENCE_EXPIRED",
		errorType == "FILE_ID_INVALID":
		return fronter.ErrOutboundNotFound
	default:
		return nil
	}
}
