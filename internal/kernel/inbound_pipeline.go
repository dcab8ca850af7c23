package kernel

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/go-faster/errors"

	"ex-fronter/pkg/fronter"
)

// derivedCommandIDSuffix marks command events derived from a source message.
const derivedCommandIDSuffix = "#command"

type interceptorRegistration struct {
	moduleName string
	name       string
	interest   fronter.InterestSet
	handler    fronter.EventHandler
}

func (k *Kernel) registerInterceptors(moduleName string, interceptors []fronter.ModuleInterceptor) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, interceptor := range interceptors {
		k.interceptors = append(k.interceptors, interceptorRegistration{
			moduleName: moduleName,
			name:       interceptor.Capability.Name,
			interest:   interceptor.Capability.Interest.Clone(),
			handler:    interceptor.Handler,
		})
	}
}

func (k *Kernel) snapshotInterceptors() []interceptorRegistration {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return slices.Clone(k.interceptors)
}

func (k *Kernel) newInboundPipeline() fronter.EventDispatcher {
	return &inboundPipeline{
		bus:                k.bus,
		interceptors:       k.snapshotInterceptors,
		lookupCommand:      k.lookupCommand,
		serviceLookup:      k.services,
		interceptorTimeout: k.cfg.interceptorTimeout,
		reportAsync:        k.cfg.onAsyncError,
	}
}

// inboundPipeline is the dispatcher drivers publish into.
//
// A source event first passes every interested interceptor synchronously, in
// registration order. It is then published on the bus, and when its text
// names a registered command a derived command event follows the same path:
// interceptors first, then the bus. Publish returns only after every
// interceptor for both events has finished, so state they change is visible
// to the next inbound event.
type inboundPipeline struct {
	bus                fronter.EventDispatcher
	interceptors       func() []interceptorRegistration
	lookupCommand      func(prefix fronter.CommandPrefix, name string) (fronter.CommandSpec, bool)
	serviceLookup      fronter.ServiceRegistry
	interceptorTimeout time.Duration
	reportAsync        func(context.Context, string, error)
}

// Publish runs one source event through the pipeline. Interceptor failures are
// reported, never returned.
func (p *inboundPipeline) Publish(ctx context.Context, event *fronter.Event) error {
	if err := event.Validate(); err != nil {
		return errors.Wrap(err, "inbound event")
	}
	if p.bus == nil {
		return errors.New("inbound event: no bus")
	}

	p.runInterceptors(ctx, event)
	if err := p.bus.Publish(ctx, event); err != nil {
		return errors.Wrapf(err, "inbound event %s", event.ID)
	}

	derived, err := p.commandFor(ctx, event)
	if err != nil || derived == nil {
		return err
	}
	p.runInterceptors(ctx, derived)
	if err := p.bus.Publish(ctx, derived); err != nil {
		return errors.Wrapf(err, "derived command %s", derived.Command.Name)
	}

	return nil
}

func (p *inboundPipeline) runInterceptors(ctx context.Context, event *fronter.Event) {
	if p.interceptors == nil {
		return
	}
	for _, interceptor := range p.interceptors() {
		if interceptor.interest.Matches(event) {
			p.intercept(ctx, interceptor, event)
		}
	}
}

func (p *inboundPipeline) intercept(ctx context.Context, interceptor interceptorRegistration, event *fronter.Event) {
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.interceptorTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, p.interceptorTimeout)
	}
	defer cancel()

	scope := "interceptor " + interceptor.moduleName + "/" + interceptor.name
	if err := runSafely(scope, func() error {
		return interceptor.handler(callCtx, event)
	}); err != nil {
		p.report(ctx, scope, err)
	}
}

// commandFor returns the command event derived from a human message, or nil
// when the message names no registered command. A registered command that
// fails to parse or bind is answered with its usage line instead.
func (p *inboundPipeline) commandFor(ctx context.Context, event *fronter.Event) (*fronter.Event, error) {
	if event.Kind != fronter.EventKindMessageCreated || event.Message == nil || event.Actor.IsBot {
		return nil, nil
	}
	candidate, matched, parseErr := fronter.ParseCommandCandidate(event.Message.Text)
	if !matched || p.lookupCommand == nil {
		return nil, nil
	}
	spec, registered := p.lookupCommand(candidate.Prefix, candidate.Name)
	if !registered {
		return nil, nil
	}

	if parseErr != nil {
		p.replyUsage(ctx, event, spec, parseErr)
		return nil, nil
	}
	invocation, err := fronter.BindCommand(candidate, spec, event)
	if err != nil {
		p.replyUsage(ctx, event, spec, err)
		return nil, nil
	}

	message := *event.Message
	message.Media = slices.Clone(event.Message.Media)
	invocation.Args = slices.Clone(invocation.Args)

	return &fronter.Event{
		ID:           event.ID + derivedCommandIDSuffix,
		Kind:         fronter.EventKindCommandReceived,
		OccurredAt:   event.OccurredAt,
		Source:       event.Source,
		Conversation: event.Conversation,
		Actor:        event.Actor,
		Message:      &message,
		Command:      &invocation,
		Metadata:     maps.Clone(event.Metadata),
	}, nil
}

// replyUsage answers a malformed invocation in the same conversation. The
// reply is not threaded since the source message may be deleted by then.
func (p *inboundPipeline) replyUsage(ctx context.Context, event *fronter.Event, spec fronter.CommandSpec, cause error) {
	const scope = "command usage reply"

	if p.serviceLookup == nil {
		p.report(ctx, scope, errors.New("no service registry"))
		return
	}
	sink, err := fronter.ResolveAs[fronter.SinkDispatcher](p.serviceLookup, fronter.ServiceSinkDispatcher)
	if err != nil {
		p.report(ctx, scope, err)
		return
	}
	target, err := fronter.OutboundTargetFromEvent(event)
	if err != nil {
		p.report(ctx, scope, err)
		return
	}

	text := "usage: " + spec.Usage()
	if cause != nil {
		text = cause.Error() + "\n" + text
	}
	if _, err := sink.SendMessage(ctx, fronter.SendMessageRequest{Target: target, Text: text}); err != nil {
		p.report(ctx, scope, err)
	}
}

func (p *inboundPipeline) report(ctx context.Context, scope string, err error) {
	if p.reportAsync != nil {
		p.reportAsync(ctx, scope, err)
	}
}
