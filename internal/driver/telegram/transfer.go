package telegram

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/gotd/td/tgerr"
)

const (
	defaultFetchAttempts = 3
	// Longer flood waits fail the fetch instead of stalling the event.
	maxFetchFloodWait = 30 * time.Second
)

// transferPolicy bounds attachment download retries.
type transferPolicy struct {
	attempts   int
	newBackOff func() backoff.BackOff
}

func defaultTransferPolicy() transferPolicy {
	return transferPolicy{
		attempts: defaultFetchAttempts,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
}

// fetchBytes runs download until it succeeds, fails permanently, or the
// attempt budget runs out. Each attempt starts from an empty buffer.
func fetchBytes(
	ctx context.Context,
	policy transferPolicy,
	download func(ctx context.Context, w io.Writer) error,
) ([]byte, error) {
	attempts := policy.attempts
	if attempts <= 0 {
		attempts = defaultFetchAttempts
	}
	newBackOff := policy.newBackOff
	if newBackOff == nil {
		newBackOff = defaultTransferPolicy().newBackOff
	}

	var buffer bytes.Buffer
	attempt := 0
	operation := func() error {
		attempt++
		buffer.Reset()

		err := download(ctx, &buffer)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(errors.Wrap(ctxErr, "fetch cancelled"))
		}
		if !retryableTransferError(err) {
			return backoff.Permanent(errors.Wrapf(err, "attempt %d", attempt))
		}
		if wait, ok := tgerr.AsFloodWait(err); ok {
			if wait > maxFetchFloodWait {
				return backoff.Permanent(errors.Wrapf(err, "attempt %d: flood wait %s", attempt, wait))
			}
			if waitErr := sleepContext(ctx, wait); waitErr != nil {
				return backoff.Permanent(errors.Wrap(waitErr, "flood wait"))
			}
		}

		return errors.Wrapf(err, "attempt %d", attempt)
	}

	schedule := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), uint64(attempts-1)), ctx)
	if err := backoff.Retry(operation, schedule); err != nil {
		return nil, errors.Wrap(err, "download")
	}

	return buffer.Bytes(), nil
}

// retryableTransferError reports whether another attempt could succeed.
// Classified not-found and forbidden failures never recover by retrying.
func retryableTransferError(err error) bool {
	if _, ok := tgerr.AsFloodWait(err); ok {
		return true
	}
	switch classifyTelegramError(err) {
	case nil:
		return true
	default:
		if rpcErr, ok := tgerr.As(err); ok {
			return rpcErr.Code == 420 || rpcErr.Code == 429
		}
		return false
	}
}

func sleepContext(ctx context.Context, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
