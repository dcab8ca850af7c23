package presence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-cmp/cmp"

	"ex-fronter/internal/roster"
	"ex-fronter/pkg/fronter"
)

func TestStatusText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		decision roster.Decision
		want     string
	}{
		{name: "pass through", decision: roster.PassThrough(), want: "Not fronting"},
		{name: "proxy", decision: roster.Proxy(roster.Member{Name: "Alice"}), want: "Fronting as Alice"},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := StatusText(testCase.decision); got != testCase.want {
				t.Fatalf("status = %q, want %q", got, testCase.want)
			}
		})
	}
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := roster.NewStore(nil, discardLogger())
	if _, err := store.AddMember(ctx, "u1", roster.Member{Name: "Alice"}); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if _, err := store.SwitchMember(ctx, "u1", "alice"); err != nil {
		t.Fatalf("switch member: %v", err)
	}

	dispatcher := &presenceDispatcher{}
	module := newTestModule(dispatcher, store)

	if err := module.Refresh(ctx, "u1"); err != nil {
		t.Fatalf("refresh u1: %v", err)
	}
	if err := module.Refresh(ctx, "someone-else"); err != nil {
		t.Fatalf("refresh someone-else: %v", err)
	}
	if err := module.Refresh(ctx, "u1"); err != nil {
		t.Fatalf("refresh u1 again: %v", err)
	}

	want := []string{"Fronting as Alice", "Not fronting", "Fronting as Alice"}
	if diff := cmp.Diff(want, dispatcher.texts()); diff != "" {
		t.Fatalf("presence texts mismatch (-want +got):\n%s", diff)
	}
	if module.Current() != "Fronting as Alice" {
		t.Fatalf("current = %q, want Fronting as Alice", module.Current())
	}
}

func TestRefreshReportsSinkFailure(t *testing.T) {
	t.Parallel()

	dispatcher := &presenceDispatcher{errs: []error{errors.New("sink down")}}
	module := newTestModule(dispatcher, roster.NewStore(nil, discardLogger()))

	err := module.Refresh(context.Background(), "u1")
	if err == nil || !strings.Contains(err.Error(), "sink down") {
		t.Fatalf("error = %v, want sink failure", err)
	}
	if module.Current() != "Not fronting" {
		t.Fatalf("current = %q, want Not fronting", module.Current())
	}
}

func TestOnStartRetriesInitialPush(t *testing.T) {
	t.Parallel()

	dispatcher := &presenceDispatcher{errs: []error{errors.New("not connected"), errors.New("not connected")}}
	module := newTestModule(dispatcher, roster.NewStore(nil, discardLogger()))

	if err := module.OnStart(context.Background()); err != nil {
		t.Fatalf("on start: %v", err)
	}
	waitDone(t, module)

	want := []string{"Not fronting", "Not fronting", "Not fronting"}
	if diff := cmp.Diff(want, dispatcher.texts()); diff != "" {
		t.Fatalf("presence texts mismatch (-want +got):\n%s", diff)
	}
	if err := module.OnShutdown(context.Background()); err != nil {
		t.Fatalf("on shutdown: %v", err)
	}
}

func TestInitialPushStopsWhenSuperseded(t *testing.T) {
	t.Parallel()

	dispatcher := &presenceDispatcher{}
	module := newTestModule(dispatcher, roster.NewStore(nil, discardLogger()))
	module.mu.Lock()
	module.generation = 1
	module.mu.Unlock()

	module.done = make(chan struct{})
	module.pushInitial(context.Background(), 0)

	if got := dispatcher.texts(); len(got) != 0 {
		t.Fatalf("presence texts = %v, want none", got)
	}
}

func TestOnShutdownStopsPendingPush(t *testing.T) {
	t.Parallel()

	dispatcher := &presenceDispatcher{alwaysErr: errors.New("not connected")}
	module := newTestModule(dispatcher, roster.NewStore(nil, discardLogger()))
	module.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(10 * time.Millisecond) }

	if err := module.OnStart(context.Background()); err != nil {
		t.Fatalf("on start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := module.OnShutdown(ctx); err != nil {
		t.Fatalf("on shutdown: %v", err)
	}
}

func TestModuleOnRegister(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		services         map[string]any
		wantErrSubstring string
	}{
		{
			name: "registers reporter",
			services: map[string]any{
				fronter.ServiceSinkDispatcher: &presenceDispatcher{},
				roster.ServiceStore:           roster.NewStore(nil, discardLogger()),
			},
		},
		{
			name: "missing dispatcher",
			services: map[string]any{
				roster.ServiceStore: roster.NewStore(nil, discardLogger()),
			},
			wantErrSubstring: "presence resolve sink dispatcher",
		},
		{
			name: "missing roster",
			services: map[string]any{
				fronter.ServiceSinkDispatcher: &presenceDispatcher{},
			},
			wantErrSubstring: "presence resolve roster",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			registry := &serviceRegistryStub{values: testCase.services}
			module := New()
			err := module.OnRegister(context.Background(), moduleRuntimeStub{registry: registry})
			if testCase.wantErrSubstring != "" {
				if err == nil || !strings.Contains(err.Error(), testCase.wantErrSubstring) {
					t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSubstring)
				}
				return
			}
			if err != nil {
				t.Fatalf("on register: %v", err)
			}
			if registry.values[fronter.ServicePresenceReporter] != module {
				t.Fatal("reporter service not registered")
			}
		})
	}
}

func newTestModule(dispatcher fronter.SinkDispatcher, store roster.Resolver) *Module {
	module := New(WithLogger(discardLogger()))
	module.dispatcher = dispatcher
	module.roster = store
	module.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	return module
}

func waitDone(t *testing.T, module *Module) {
	t.Helper()

	select {
	case <-module.done:
	case <-time.After(2 * time.Second):
		t.Fatal("initial push did not finish")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type presenceDispatcher struct {
	mu        sync.Mutex
	errs      []error
	alwaysErr error
	requests  []fronter.SetPresenceRequest
}

func (d *presenceDispatcher) SendMessage(context.Context, fronter.SendMessageRequest) (*fronter.OutboundMessage, error) {
	return nil, nil
}

func (d *presenceDispatcher) DeleteMessage(context.Context, fronter.DeleteMessageRequest) error {
	return nil
}

func (d *presenceDispatcher) FetchAttachment(context.Context, fronter.FetchAttachmentRequest) ([]byte, error) {
	return nil, nil
}

func (d *presenceDispatcher) SetPresence(_ context.Context, request fronter.SetPresenceRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.requests = append(d.requests, request)
	if d.alwaysErr != nil {
		return d.alwaysErr
	}
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		return err
	}

	return nil
}

func (d *presenceDispatcher) texts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	texts := make([]string, 0, len(d.requests))
	for _, request := range d.requests {
		texts = append(texts, request.Text)
	}

	return texts
}

type moduleRuntimeStub struct {
	registry fronter.ServiceRegistry
}

func (s moduleRuntimeStub) Services() fronter.ServiceRegistry {
	return s.registry
}

func (moduleRuntimeStub) Subscribe(
	context.Context,
	fronter.InterestSet,
	fronter.SubscriptionSpec,
	fronter.EventHandler,
) (fronter.Subscription, error) {
	return nil, nil
}

type serviceRegistryStub struct {
	values map[string]any
}

func (s *serviceRegistryStub) Register(name string, service any) error {
	if s.values == nil {
		s.values = make(map[string]any)
	}
	if _, exists := s.values[name]; exists {
		return fronter.ErrServiceAlreadyRegistered
	}
	s.values[name] = service

	return nil
}

func (s *serviceRegistryStub) Resolve(name string) (any, error) {
	value, ok := s.values[name]
	if !ok {
		return nil, fronter.ErrServiceNotFound
	}

	return value, nil
}
