package driver

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
	"go.uber.org/multierr"

	"ex-fronter/pkg/fronter"
)

// CompositeSinkDispatcher is the fronter.SinkDispatcher registered as
// fronter.ServiceSinkDispatcher. It forwards each request to the sink that
// owns the target conversation.
type CompositeSinkDispatcher struct {
	sinks map[string]sinkRoute
	ids   []string
}

type sinkRoute struct {
	ref        fronter.EventSink
	dispatcher fronter.SinkDispatcher
}

// NewCompositeSinkDispatcher collects the sinks of runtimes that have one.
func NewCompositeSinkDispatcher(runtimes []Runtime) (*CompositeSinkDispatcher, error) {
	composite := &CompositeSinkDispatcher{sinks: make(map[string]sinkRoute, len(runtimes))}
	for _, runtime := range runtimes {
		if runtime.SinkDispatcher == nil {
			continue
		}
		id := runtime.Source.ID
		if id == "" {
			return nil, errors.New("composite sink dispatcher: runtime without source id")
		}
		if _, taken := composite.sinks[id]; taken {
			return nil, errors.Errorf("composite sink dispatcher: sink %s registered twice", id)
		}
		composite.sinks[id] = sinkRoute{
			ref:        fronter.EventSink{Platform: runtime.Source.Platform, ID: id},
			dispatcher: runtime.SinkDispatcher,
		}
		composite.ids = append(composite.ids, id)
	}
	slices.Sort(composite.ids)

	return composite, nil
}

// SendMessage forwards to the target's sink.
func (d *CompositeSinkDispatcher) SendMessage(
	ctx context.Context,
	request fronter.SendMessageRequest,
) (*fronter.OutboundMessage, error) {
	sink, err := d.forTarget(request.Target)
	if err != nil {
		return nil, errors.Wrap(err, "send message")
	}

	return sink.SendMessage(ctx, request)
}

// DeleteMessage forwards to the target's sink.
func (d *CompositeSinkDispatcher) DeleteMessage(ctx context.Context, request fronter.DeleteMessageRequest) error {
	sink, err := d.forTarget(request.Target)
	if err != nil {
		return errors.Wrap(err, "delete message")
	}

	return sink.DeleteMessage(ctx, request)
}

// FetchAttachment forwards to the sink that received the message.
func (d *CompositeSinkDispatcher) FetchAttachment(
	ctx context.Context,
	request fronter.FetchAttachmentRequest,
) ([]byte, error) {
	sink, err := d.forTarget(request.Target)
	if err != nil {
		return nil, errors.Wrap(err, "fetch attachment")
	}

	return sink.FetchAttachment(ctx, request)
}

// SetPresence updates request.Sink when set. Otherwise every sink is updated
// in id order; one failing sink does not stop the rest.
func (d *CompositeSinkDispatcher) SetPresence(ctx context.Context, request fronter.SetPresenceRequest) error {
	if d == nil {
		return errors.New("set presence: nil dispatcher")
	}
	if request.Sink != nil {
		sink, err := d.byRef(*request.Sink)
		if err != nil {
			return errors.Wrap(err, "set presence")
		}
		return sink.SetPresence(ctx, request)
	}
	if len(d.ids) == 0 {
		return errors.Wrap(fronter.ErrOutboundUnsupported, "set presence: no sinks configured")
	}

	var failed error
	for _, id := range d.ids {
		route := d.sinks[id]
		scoped := request
		scoped.Sink = &fronter.EventSink{Platform: route.ref.Platform, ID: id}
		if err := route.dispatcher.SetPresence(ctx, scoped); err != nil {
			failed = multierr.Append(failed, errors.Wrapf(err, "sink %s", id))
		}
	}
	if failed != nil {
		return errors.Wrap(failed, "set presence")
	}

	return nil
}

// ListSinks returns the configured sinks in id order.
func (d *CompositeSinkDispatcher) ListSinks(ctx context.Context) ([]fronter.EventSink, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "list sinks")
	}
	sinks := make([]fronter.EventSink, 0, len(d.ids))
	for _, id := range d.ids {
		sinks = append(sinks, d.sinks[id].ref)
	}

	return sinks, nil
}

// forTarget picks the sink named by target. A target without a sink is
// accepted only when exactly one sink exists.
func (d *CompositeSinkDispatcher) forTarget(target fronter.OutboundTarget) (fronter.SinkDispatcher, error) {
	if d == nil {
		return nil, errors.New("nil dispatcher")
	}
	switch {
	case len(d.ids) == 0:
		return nil, errors.Wrap(fronter.ErrOutboundUnsupported, "no sinks configured")
	case target.Sink != nil:
		return d.byRef(*target.Sink)
	case len(d.ids) == 1:
		return d.sinks[d.ids[0]].dispatcher, nil
	default:
		return nil, errors.Wrapf(fronter.ErrOutboundUnsupported, "target has no sink and %d are configured", len(d.ids))
	}
}

// byRef resolves by id when present, otherwise by a platform with exactly one
// sink.
func (d *CompositeSinkDispatcher) byRef(ref fronter.EventSink) (fronter.SinkDispatcher, error) {
	if ref.ID != "" {
		route, ok := d.sinks[ref.ID]
		if !ok {
			return nil, errors.Wrapf(fronter.ErrOutboundUnsupported, "unknown sink %s", ref.ID)
		}
		if ref.Platform != "" && ref.Platform != route.ref.Platform {
			return nil, errors.Wrapf(
				fronter.ErrOutboundUnsupported,
				"sink %s serves %s, not %s",
				ref.ID,
				route.ref.Platform,
				ref.Platform,
			)
		}
		return route.dispatcher, nil
	}
	if ref.Platform == "" {
		return nil, errors.Wrap(fronter.ErrOutboundUnsupported, "empty sink reference")
	}

	var match *sinkRoute
	for _, id := range d.ids {
		route := d.sinks[id]
		if route.ref.Platform != ref.Platform {
			continue
		}
		if match != nil {
			return nil, errors.Wrapf(fronter.ErrOutboundUnsupported, "several sinks serve %s", ref.Platform)
		}
		match = &route
	}
	if match == nil {
		return nil, errors.Wrapf(fronter.ErrOutboundUnsupported, "no sink serves %s", ref.Platform)
	}

	return match.dispatcher, nil
}

var _ fronter.SinkDispatcher = (*CompositeSinkDispatcher)(nil)
