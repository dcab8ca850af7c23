package kernel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"ex-fronter/pkg/fronter"
)

func TestInboundPipelineRunsInterceptorsThenBusThenCommand(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		trace []string
	)
	record := func(step string) {
		mu.Lock()
		trace = append(trace, step)
		mu.Unlock()
	}

	bus := &recordingDispatcher{onPublish: func(event *fronter.Event) {
		record("bus:" + string(event.Kind))
	}}
	pipeline := &inboundPipeline{
		bus: bus,
		interceptors: func() []interceptorRegistration {
			return []interceptorRegistration{
				{
					moduleName: "proxy",
					name:       "router",
					interest:   messagesOnly,
					handler: func(context.Context, *fronter.Event) error {
						record("intercept:router")
						return errors.New("relay failed")
					},
				},
				{
					moduleName: "system",
					name:       "roster",
					interest:   fronter.InterestSet{Kinds: []fronter.EventKind{fronter.EventKindCommandReceived}},
					handler: func(context.Context, *fronter.Event) error {
						record("intercept:roster")
						return nil
					},
				},
				{
					moduleName: "audit",
					name:       "everything",
					handler: func(_ context.Context, event *fronter.Event) error {
						record("intercept:all:" + string(event.Kind))
						return nil
					},
				},
			}
		},
		lookupCommand: func(prefix fronter.CommandPrefix, name string) (fronter.CommandSpec, bool) {
			if prefix == fronter.CommandPrefixBot && name == "list_members" {
				return fronter.CommandSpec{Prefix: fronter.CommandPrefixBot, Name: "list_members"}, true
			}
			return fronter.CommandSpec{}, false
		},
		interceptorTimeout: time.Second,
	}

	event := newTestEvent("evt-1", fronter.EventKindMessageCreated)
	event.Message.Text = "E!list_members"
	if err := pipeline.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	want := []string{
		"intercept:router",
		"intercept:all:message.created",
		"bus:message.created",
		"intercept:roster",
		"intercept:all:command.received",
		"bus:command.received",
	}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(trace, ",") != strings.Join(want, ",") {
		t.Fatalf("trace = %v, want %v", trace, want)
	}

	derived := bus.events[1]
	if derived.ID != "evt-1#command" {
		t.Fatalf("derived id = %q, want evt-1#command", derived.ID)
	}
	if derived.Command == nil || derived.Command.Name != "list_members" {
		t.Fatalf("derived command = %+v, want list_members", derived.Command)
	}
	if derived.Command.SourceEventID != "evt-1" {
		t.Fatalf("source event id = %q, want evt-1", derived.Command.SourceEventID)
	}
}

func TestInboundPipelineRecoversInterceptorPanic(t *testing.T) {
	t.Parallel()

	var reported []string
	bus := &recordingDispatcher{}
	pipeline := &inboundPipeline{
		bus: bus,
		interceptors: func() []interceptorRegistration {
			return []interceptorRegistration{{
				moduleName: "proxy",
				name:       "boom",
				handler: func(context.Context, *fronter.Event) error {
					panic("boom")
				},
			}}
		},
		lookupCommand: func(fronter.CommandPrefix, string) (fronter.CommandSpec, bool) {
			return fronter.CommandSpec{}, false
		},
		reportAsync: func(_ context.Context, scope string, _ error) {
			reported = append(reported, scope)
		},
	}

	if err := pipeline.Publish(context.Background(), newTestEvent("evt-1", fronter.EventKindMessageCreated)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if len(bus.events) != 1 {
		t.Fatalf("bus events = %d, want 1", len(bus.events))
	}
	if len(reported) != 1 || reported[0] != "interceptor proxy/boom" {
		t.Fatalf("reported = %v, want [interceptor proxy/boom]", reported)
	}
}

func TestInboundPipelineSkipsInterceptorOutsideInterest(t *testing.T) {
	t.Parallel()

	called := false
	pipeline := &inboundPipeline{
		bus: &recordingDispatcher{},
		interceptors: func() []interceptorRegistration {
			return []interceptorRegistration{{
				moduleName: "proxy",
				name:       "humans",
				interest:   fronter.InterestSet{ExcludeBots: true},
				handler: func(context.Context, *fronter.Event) error {
					called = true
					return nil
				},
			}}
		},
		lookupCommand: func(fronter.CommandPrefix, string) (fronter.CommandSpec, bool) {
			return fronter.CommandSpec{}, false
		},
	}

	event := newTestEvent("evt-1", fronter.EventKindMessageCreated)
	event.Actor.IsBot = true
	if err := pipeline.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if called {
		t.Fatal("interceptor ran for an event outside its interest")
	}
}

func TestInboundPipelineCommandDerivation(t *testing.T) {
	t.Parallel()

	switchSpec := fronter.CommandSpec{
		Prefix: fronter.CommandPrefixBot,
		Name:   "switch_member",
		Args:   []fronter.CommandArgSpec{{Name: "name", Required: true}},
	}

	tests := []struct {
		name        string
		text        string
		isBot       bool
		wantDerived bool
		wantReply   string
	}{
		{name: "registered command", text: `E!switch_member "Mary Jane"`, wantDerived: true},
		{name: "unregistered command ignored", text: "E!unknown", wantDerived: false},
		{name: "plain text", text: "hello", wantDerived: false},
		{name: "bot author ignored", text: "E!switch_member Alice", isBot: true, wantDerived: false},
		{
			name:      "missing argument replies usage",
			text:      "E!switch_member",
			wantReply: "bind command switch_member: missing argument <name>\nusage: E!switch_member <name>",
		},
		{
			name:      "unterminated quote replies usage",
			text:      `E!switch_member "Mary`,
			wantReply: "parse command candidate: unterminated quote\nusage: E!switch_member <name>",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			services := NewServiceRegistry()
			replies := &replyCaptureDispatcher{}
			if err := services.Register(fronter.ServiceSinkDispatcher, replies); err != nil {
				t.Fatalf("register dispatcher: %v", err)
			}
			bus := &recordingDispatcher{}
			pipeline := &inboundPipeline{
				bus: bus,
				lookupCommand: func(prefix fronter.CommandPrefix, name string) (fronter.CommandSpec, bool) {
					if prefix == switchSpec.Prefix && name == switchSpec.Name {
						return switchSpec, true
					}
					return fronter.CommandSpec{}, false
				},
				serviceLookup: services,
			}

			event := newTestEvent("evt-1", fronter.EventKindMessageCreated)
			event.Message.Text = testCase.text
			event.Actor.IsBot = testCase.isBot
			if err := pipeline.Publish(context.Background(), event); err != nil {
				t.Fatalf("publish failed: %v", err)
			}

			gotDerived := len(bus.events) == 2
			if gotDerived != testCase.wantDerived {
				t.Fatalf("derived = %v, want %v (events=%d)", gotDerived, testCase.wantDerived, len(bus.events))
			}
			if gotDerived && bus.events[1].Command.Arg(0) != "Mary Jane" {
				t.Fatalf("arg = %q, want Mary Jane", bus.events[1].Command.Arg(0))
			}

			if testCase.wantReply == "" {
				if len(replies.requests) != 0 {
					t.Fatalf("unexpected replies: %+v", replies.requests)
				}
				return
			}
			if len(replies.requests) != 1 {
				t.Fatalf("replies = %d, want 1", len(replies.requests))
			}
			reply := replies.requests[0]
			if reply.Text != testCase.wantReply {
				t.Fatalf("reply text = %q, want %q", reply.Text, testCase.wantReply)
			}
			if reply.ReplyToMessageID != "" {
				t.Fatalf("reply threaded to %q, want unthreaded", reply.ReplyToMessageID)
			}
		})
	}
}

func TestKernelInboundDispatcherUsesRegisteredInterceptors(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	intercepted := make(chan string, 1)
	module := &stubModule{
		name: "router",
		spec: fronter.ModuleSpec{
			Interceptors: []fronter.ModuleInterceptor{{
				Capability: fronter.Capability{
					Name:     "route",
					Interest: fronter.InterestSet{Kinds: []fronter.EventKind{fronter.EventKindMessageCreated}},
				},
				Handler: func(_ context.Context, event *fronter.Event) error {
					intercepted <- event.ID
					return nil
				},
			}},
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}

	dispatcher := kernelRuntime.InboundDispatcher()
	if err := dispatcher.Publish(context.Background(), newTestEvent("evt-9", fronter.EventKindMessageCreated)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	select {
	case id := <-intercepted:
		if id != "evt-9" {
			t.Fatalf("intercepted id = %q, want evt-9", id)
		}
	default:
		t.Fatal("interceptor did not run synchronously")
	}
	if err := kernelRuntime.EventBus().Close(context.Background()); err != nil {
		t.Fatalf("close bus: %v", err)
	}
}

type recordingDispatcher struct {
	mu        sync.Mutex
	events    []*fronter.Event
	onPublish func(*fronter.Event)
}

func (d *recordingDispatcher) Publish(_ context.Context, event *fronter.Event) error {
	d.mu.Lock()
	d.events = append(d.events, event)
	d.mu.Unlock()
	if d.onPublish != nil {
		d.onPublish(event)
	}

	return nil
}

type replyCaptureDispatcher struct {
	mu       sync.Mutex
	requests []fronter.SendMessageRequest
}

func (d *replyCaptureDispatcher) SendMessage(
	_ context.Context,
	request fronter.SendMessageRequest,
) (*fronter.OutboundMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, request)

	return &fronter.OutboundMessage{ID: "reply-1", Target: request.Target}, nil
}

func (*replyCaptureDispatcher) DeleteMessage(context.Context, fronter.DeleteMessageRequest) error {
	return nil
}

func (*replyCaptureDispatcher) FetchAttachment(context.Context, fronter.FetchAttachmentRequest) ([]byte, error) {
	return nil, nil
}

func (*replyCaptureDispatcher) SetPresence(context.Context, fronter.SetPresenceRequest) error {
	return nil
}
