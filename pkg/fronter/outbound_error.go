package fronter

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// OutboundOperation identifies one outbound dispatcher operation type.
type OutboundOperation string

const (
	// OutboundOperationSendMessage identifies SendMessage operations.
	OutboundOperationSendMessage OutboundOperation = "send_message"
	// OutboundOperationDeleteMessage identifies DeleteMessage operations.
	OutboundOperationDeleteMessage OutboundOperation = "delete_message"
	// OutboundOperationFetchAttachment identifies FetchAttachment operations.
	OutboundOperationFetchAttachment OutboundOperation = "fetch_attachment"
	// OutboundOperationSetPresence identifies SetPresence operations.
	OutboundOperationSetPresence OutboundOperation = "set_presence"
)

// OutboundError carries structured metadata for one outbound operation failure.
//
// Cause is expected to wrap one of ErrOutboundNotFound, ErrOutboundForbidden,
// or ErrOutboundRateLimited when the platform error could be classified.
type OutboundError struct {
	// Operation identifies which outbound operation failed.
	Operation OutboundOperation
	// Platform identifies which destination platform produced the failure.
	Platform Platform
	// SinkID identifies which configured sink produced the failure when known.
	SinkID string
	// RetryAfter carries the suggested retry delay for rate-limited failures.
	RetryAfter time.Duration
	// Code carries the platform RPC/status code when known.
	Code int
	// Type carries the platform error type token when known.
	Type string
	// Cause is the wrapped platform or transport error.
	Cause error
}

// Error returns one operator-readable failure summary.
func (e *OutboundError) Error() string {
	if e == nil {
		return "<nil>"
	}

	fields := make([]string, 0, 6)
	if operation := strings.TrimSpace(string(e.Operation)); operation != "" {
		fields = append(fields, "operation="+operation)
	}
	if platform := strings.TrimSpace(string(e.Platform)); platform != "" {
		fields = append(fields, "platform="+platform)
	}
	if sinkID := strings.TrimSpace(e.SinkID); sinkID != "" {
		fields = append(fields, "sink_id="+sinkID)
	}
	if e.RetryAfter > 0 {
		fields = append(fields, "retry_after="+e.RetryAfter.String())
	}
	if e.Code != 0 {
		fields = append(fields, fmt.Sprintf("code=%d", e.Code))
	}
	if errorType := strings.TrimSpace(e.Type); errorType != "" {
		fields = append(fields, "type="+errorType)
	}

	summary := "outbound error"
	if len(fields) > 0 {
		summary += ": " + strings.Join(fields, " ")
	}
	if e.Cause == nil {
		return summary
	}

	return summary + ": " + e.Cause.Error()
}

// Unwrap returns the wrapped root cause.
func (e *OutboundError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// AsOutboundError extracts one OutboundError from wrapped error chains.
func AsOutboundError(err error) (*OutboundError, bool) {
	if err == nil {
		return nil, false
	}

	var outboundErr *OutboundError
	if errors.As(err, &outboundErr) {
		return outboundErr, true
	}

	return nil, false
}

// AsOutboundRateLimit extracts the retry delay from a rate-limited failure.
//
// It returns (0, false) when err is not rate-limited and (0, true) when it is
// but no delay hint is known.
func AsOutboundRateLimit(err error) (time.Duration, bool) {
	if !errors.Is(err, ErrOutboundRateLimited) {
		return 0, false
	}
	outboundErr, ok := AsOutboundError(err)
	if !ok {
		return 0, true
	}

	return outboundErr.RetryAfter, true
}
