package kernel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ex-fronter/pkg/fronter"
)

var messagesOnly = fronter.InterestSet{Kinds: []fronter.EventKind{fronter.EventKindMessageCreated}}

func TestEventBusDeliversOnlyMatchingKinds(t *testing.T) {
	t.Parallel()

	bus := newClosingBus(t, 8, 1, nil)
	received := make(chan string, 4)
	if _, err := bus.Subscribe(context.Background(), messagesOnly, fronter.NewDefaultSubscriptionSpec("messages"),
		func(_ context.Context, event *fronter.Event) error {
			received <- event.ID
			return nil
		},
	); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	for _, event := range []*fronter.Event{
		newTestEvent("cmd", fronter.EventKindCommandReceived),
		newTestEvent("msg", fronter.EventKindMessageCreated),
	} {
		if err := bus.Publish(context.Background(), event); err != nil {
			t.Fatalf("publish %s failed: %v", event.ID, err)
		}
	}

	select {
	case id := <-received:
		if id != "msg" {
			t.Fatalf("delivered = %s, want msg", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	select {
	case id := <-received:
		t.Fatalf("unexpected extra delivery %s", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBusBackpressure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		policy      fronter.BackpressurePolicy
		want        []string
		wantDropped int
	}{
		{
			name:        "drop newest",
			policy:      fronter.BackpressureDropNewest,
			want:        []string{"e1", "e2"},
			wantDropped: 1,
		},
		{
			name:   "drop oldest",
			policy: fronter.BackpressureDropOldest,
			want:   []string{"e1", "e3"},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			var (
				mu        sync.Mutex
				processed []string
				dropped   int
			)
			bus := newClosingBus(t, 1, 1, func(_ context.Context, _ string, err error) {
				if errors.Is(err, fronter.ErrEventDropped) {
					mu.Lock()
					dropped++
					mu.Unlock()
				}
			})

			gate := make(chan struct{})
			started := make(chan struct{})
			var once sync.Once
			_, err := bus.Subscribe(context.Background(), messagesOnly, fronter.SubscriptionSpec{
				Name:         "gated",
				Buffer:       1,
				Backpressure: testCase.policy,
			}, func(_ context.Context, event *fronter.Event) error {
				once.Do(func() {
					close(started)
					<-gate
				})
				mu.Lock()
				processed = append(processed, event.ID)
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Fatalf("subscribe failed: %v", err)
			}

			mustPublish(t, bus, newTestEvent("e1", fronter.EventKindMessageCreated))
			<-started
			mustPublish(t, bus, newTestEvent("e2", fronter.EventKindMessageCreated))
			mustPublish(t, bus, newTestEvent("e3", fronter.EventKindMessageCreated))
			close(gate)

			eventually(t, 2*time.Second, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(processed) == len(testCase.want)
			})

			mu.Lock()
			defer mu.Unlock()
			if diff := cmp.Diff(testCase.want, processed); diff != "" {
				t.Fatalf("processed mismatch (-want +got):\n%s", diff)
			}
			if dropped != testCase.wantDropped {
				t.Fatalf("dropped = %d, want %d", dropped, testCase.wantDropped)
			}
		})
	}
}

func TestEventBusKeepsConversationOrderAcrossWorkers(t *testing.T) {
	t.Parallel()

	bus := newClosingBus(t, 64, 4, nil)

	var (
		mu   sync.Mutex
		seen = make(map[string][]string)
	)
	_, err := bus.Subscribe(context.Background(), messagesOnly, fronter.SubscriptionSpec{
		Name:         "ordered",
		Backpressure: fronter.BackpressureBlock,
	}, func(_ context.Context, event *fronter.Event) error {
		time.Sleep(time.Millisecond)
		mu.Lock()
		seen[event.Conversation.ID] = append(seen[event.Conversation.ID], event.ID)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	conversations := []string{"chat-a", "chat-b", "chat-c"}
	want := make(map[string][]string)
	for idx := 0; idx < 10; idx++ {
		for _, conversation := range conversations {
			id := conversation + "-" + string(rune('0'+idx))
			event := newTestEvent(id, fronter.EventKindMessageCreated)
			event.Conversation.ID = conversation
			mustPublish(t, bus, event)
			want[conversation] = append(want[conversation], id)
		}
	}

	eventually(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		total := 0
		for _, ids := range seen {
			total += len(ids)
		}
		return total == 30
	})

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Fatalf("per-conversation order mismatch (-want +got):\n%s", diff)
	}
}

func TestEventBusSubscribeValidation(t *testing.T) {
	t.Parallel()

	bus := newClosingBus(t, 8, 1, nil)
	noop := func(context.Context, *fronter.Event) error { return nil }

	if _, err := bus.Subscribe(context.Background(), messagesOnly, fronter.SubscriptionSpec{
		Name:         "bad",
		Backpressure: "spill",
	}, noop); !errors.Is(err, fronter.ErrInvalidSubscription) {
		t.Fatalf("unknown policy error = %v, want ErrInvalidSubscription", err)
	}
	if _, err := bus.Subscribe(context.Background(), messagesOnly, fronter.NewDefaultSubscriptionSpec("nil"), nil); err == nil {
		t.Fatal("expected nil handler to be rejected")
	}

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := bus.Subscribe(canceled, messagesOnly, fronter.NewDefaultSubscriptionSpec("late"), noop); err == nil {
		t.Fatal("expected canceled context to be rejected")
	}

	sub, err := bus.Subscribe(context.Background(), messagesOnly, fronter.SubscriptionSpec{}, noop)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if sub.Name() == "" {
		t.Fatal("expected generated subscription name")
	}
}

func TestEventBusSubscriptionCloseStopsDelivery(t *testing.T) {
	t.Parallel()

	bus := newClosingBus(t, 8, 1, nil)
	received := make(chan string, 4)
	sub, err := bus.Subscribe(context.Background(), messagesOnly, fronter.NewDefaultSubscriptionSpec("short-lived"),
		func(_ context.Context, event *fronter.Event) error {
			received <- event.ID
			return nil
		},
	)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if err := sub.Close(context.Background()); err != nil {
		t.Fatalf("close subscription failed: %v", err)
	}

	mustPublish(t, bus, newTestEvent("after-close", fronter.EventKindMessageCreated))
	select {
	case id := <-received:
		t.Fatalf("closed subscription received %s", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBusReportsHandlerFailures(t *testing.T) {
	t.Parallel()

	reported := make(chan error, 2)
	bus := newClosingBus(t, 8, 1, func(_ context.Context, scope string, err error) {
		if scope == "fragile" {
			reported <- err
		}
	})
	_, err := bus.Subscribe(context.Background(), messagesOnly, fronter.NewDefaultSubscriptionSpec("fragile"),
		func(_ context.Context, event *fronter.Event) error {
			if event.ID == "panic" {
				panic("boom")
			}
			return errors.New("handler failed")
		},
	)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	mustPublish(t, bus, newTestEvent("error", fronter.EventKindMessageCreated))
	mustPublish(t, bus, newTestEvent("panic", fronter.EventKindMessageCreated))

	for idx := 0; idx < 2; idx++ {
		select {
		case err := <-reported:
			if err == nil {
				t.Fatal("reported nil error")
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for report %d", idx+1)
		}
	}
}

func TestEventBusClosed(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(8, 1, time.Second, nil)
	if err := bus.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := bus.Close(context.Background()); err != nil {
		t.Fatalf("second close failed: %v", err)
	}

	if err := bus.Publish(context.Background(), newTestEvent("e1", fronter.EventKindMessageCreated)); err == nil {
		t.Fatal("expected publish on closed bus to fail")
	}
	if _, err := bus.Subscribe(context.Background(), messagesOnly, fronter.NewDefaultSubscriptionSpec("late"),
		func(context.Context, *fronter.Event) error { return nil },
	); err == nil {
		t.Fatal("expected subscribe on closed bus to fail")
	}
	if err := bus.Publish(context.Background(), nil); err == nil {
		t.Fatal("expected nil event publish to fail")
	}
}

func newClosingBus(
	t *testing.T,
	buffer int,
	workers int,
	onError func(context.Context, string, error),
) *EventBus {
	t.Helper()

	bus := NewEventBus(buffer, workers, time.Second, onError)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	return bus
}

func mustPublish(t *testing.T, bus *EventBus, event *fronter.Event) {
	t.Helper()

	if err := bus.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish %s failed: %v", event.ID, err)
	}
}

func newTestEvent(id string, kind fronter.EventKind) *fronter.Event {
	event := &fronter.Event{
		ID:         id,
		Kind:       kind,
		OccurredAt: time.Now().UTC(),
		Source:     fronter.EventSource{Platform: fronter.PlatformTelegram, ID: "tg-test"},
		Conversation: fronter.Conversation{
			ID:   "chat-1",
			Type: fronter.ConversationTypeGroup,
		},
		Actor:   fronter.Actor{ID: "user-1"},
		Message: &fronter.Message{ID: "msg-1", Text: "hello"},
	}
	if kind == fronter.EventKindCommandReceived {
		event.Command = &fronter.CommandInvocation{
			Name:            "list_members",
			SourceEventID:   id,
			SourceEventKind: fronter.EventKindMessageCreated,
		}
	}

	return event
}

func eventually(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Fatal("condition not met before timeout")
}
