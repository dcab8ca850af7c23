package telegram

import (
	"context"

	"github.com/go-faster/errors"
)

// GotdSession abstracts one authenticated gotd client lifecycle.
type GotdSession interface {
	// Run connects, authenticates and executes fn while the session is live.
	Run(ctx context.Context, fn func(runCtx context.Context) error) error
}

// GotdRawUpdateStream provides raw gotd updates from an active session.
type GotdRawUpdateStream interface {
	// Updates returns a channel of raw gotd updates bound to ctx lifetime.
	Updates(ctx context.Context) (<-chan any, error)
}

// GotdUpdateMapper maps raw gotd updates into adapter Update DTOs.
type GotdUpdateMapper interface {
	// Map converts a raw update into adapter DTO form.
	// The accepted flag allows skipping unsupported update classes.
	Map(ctx context.Context, raw any) (Update, bool, error)
}

// GotdBotSource streams bot-account updates from a gotd session.
//
// An update that fails to map is reported and skipped; the session keeps
// running.
type GotdBotSource struct {
	session  GotdSession
	stream   GotdRawUpdateStream
	mapper   GotdUpdateMapper
	onFailed func(context.Context, error)
}

// NewGotdBotSource creates a source backed by a gotd bot session.
func NewGotdBotSource(
	session GotdSession,
	stream GotdRawUpdateStream,
	mapper GotdUpdateMapper,
	onFailed func(context.Context, error),
) (*GotdBotSource, error) {
	if session == nil {
		return nil, errors.New("new gotd bot source: nil session")
	}
	if stream == nil {
		return nil, errors.New("new gotd bot source: nil stream")
	}
	if mapper == nil {
		return nil, errors.New("new gotd bot source: nil mapper")
	}
	if onFailed == nil {
		onFailed = func(context.Context, error) {}
	}

	return &GotdBotSource{
		session:  session,
		stream:   stream,
		mapper:   mapper,
		onFailed: onFailed,
	}, nil
}

// Consume runs the gotd session and forwards mapped updates to handler.
func (s *GotdBotSource) Consume(ctx context.Context, handler UpdateHandler) error {
	if handler == nil {
		return errors.New("consume gotd bot updates: nil handler")
	}

	err := s.session.Run(ctx, func(runCtx context.Context) error {
		updates, err := s.stream.Updates(runCtx)
		if err != nil {
			return errors.Errorf("get gotd updates stream: %w", err)
		}

		for {
			select {
			case <-runCtx.Done():
				return nil
			case rawUpdate, ok := <-updates:
				if !ok {
					return nil
				}

				mapped, accepted, mapErr := s.mapUpdateSafely(runCtx, rawUpdate)
				if mapErr != nil {
					s.onFailed(runCtx, errors.Errorf("map gotd update: %w", mapErr))
					continue
				}
				if !accepted {
					continue
				}
				if err := handler(runCtx, mapped); err != nil {
					return errors.Errorf("consume gotd update %s: %w", mapped.ID, err)
				}
			}
		}
	})
	if err != nil {
		return errors.Errorf("consume gotd bot updates: %w", err)
	}

	return nil
}

// mapUpdateSafely isolates mapper panics so a bad mapping path cannot crash the process.
func (s *GotdBotSource) mapUpdateSafely(ctx context.Context, rawUpdate any) (mapped Update, accepted bool, err error) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		mapped, accepted = Update{}, false
		err = errors.Errorf("map gotd update panic: %v", recovered)
	}()

	return s.mapper.Map(ctx, rawUpdate)
}
