package telegram

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"ex-fronter/pkg/fronter"
)

// DriverOption configures NewDriver.
type DriverOption func(*Driver)

// WithName sets the driver name, which doubles as the event source id.
func WithName(name string) DriverOption {
	return func(d *Driver) {
		if name != "" {
			d.name = name
		}
	}
}

// WithPublishTimeout bounds one pass through the kernel pipeline. The proxy
// interceptor transfers attachments inside that pass, so keep it generous.
func WithPublishTimeout(timeout time.Duration) DriverOption {
	return func(d *Driver) {
		if timeout > 0 {
			d.publishTimeout = timeout
		}
	}
}

// WithErrorHandler receives per-update decode and publish failures.
func WithErrorHandler(handler func(context.Context, error)) DriverOption {
	return func(d *Driver) {
		if handler != nil {
			d.report = handler
		}
	}
}

// Driver is the fronter.Driver for one bot account. Updates are handled one
// at a time in arrival order; a bad update is reported and skipped.
type Driver struct {
	name           string
	publishTimeout time.Duration
	report         func(context.Context, error)

	source  UpdateSource
	decoder Decoder
}

// NewDriver wires an update source to a decoder.
func NewDriver(source UpdateSource, decoder Decoder, options ...DriverOption) (*Driver, error) {
	if source == nil || decoder == nil {
		return nil, errors.New("new telegram driver: source and decoder are required")
	}

	driver := &Driver{
		name:           DriverType,
		publishTimeout: 2 * time.Minute,
		report:         func(context.Context, error) {},
		source:         source,
		decoder:        decoder,
	}
	for _, option := range options {
		option(driver)
	}

	return driver, nil
}

// Name implements fronter.Driver.
func (d *Driver) Name() string {
	return d.name
}

// Start blocks, publishing every decoded update to dispatcher, until ctx ends
// or the update source fails.
func (d *Driver) Start(ctx context.Context, dispatcher fronter.EventDispatcher) error {
	if dispatcher == nil {
		return errors.New("start telegram driver: nil dispatcher")
	}

	err := d.source.Consume(ctx, func(ctx context.Context, update Update) error {
		if err := d.forward(ctx, update, dispatcher); err != nil {
			d.report(ctx, errors.Wrapf(err, "update %s", update.ID))
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		return errors.Wrap(err, "start telegram driver")
	}

	return nil
}

func (d *Driver) forward(ctx context.Context, update Update, dispatcher fronter.EventDispatcher) error {
	event, err := d.decode(ctx, update)
	if err != nil {
		return err
	}
	event.Source = fronter.EventSource{Platform: DriverPlatform, ID: d.name}

	publishCtx, cancel := context.WithTimeout(ctx, d.publishTimeout)
	defer cancel()
	if err := dispatcher.Publish(publishCtx, event); err != nil {
		return errors.Wrap(err, "publish")
	}

	return nil
}

func (d *Driver) decode(ctx context.Context, update Update) (event *fronter.Event, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			event, err = nil, errors.Errorf("decode panic: %v", recovered)
		}
	}()

	event, err = d.decoder.Decode(ctx, update)
	if err != nil {
		return nil, errors.Wrap(err, "decode")
	}

	return event, nil
}

// Shutdown implements fronter.Driver. The gotd client is owned by the update
// source and stops with Start's context.
func (d *Driver) Shutdown(context.Context) error {
	return nil
}
