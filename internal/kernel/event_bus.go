package kernel

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/multierr"

	"ex-fronter/pkg/fronter"
)

// EventBus fans events out to subscriptions in registration order.
//
// Each subscription owns one lane per worker. Events are assigned to a lane by
// conversation, so a single chat is always handled in arrival order no matter
// how many workers the subscription runs.
type EventBus struct {
	mu       sync.RWMutex
	closed   bool
	subs     []*busSubscription
	lastID   atomic.Int64
	defaults fronter.SubscriptionSpec
	onError  func(context.Context, string, error)
}

// NewEventBus creates a bus whose subscriptions inherit the given defaults.
func NewEventBus(
	buffer int,
	workers int,
	handlerTimeout time.Duration,
	onAsyncError func(context.Context, string, error),
) *EventBus {
	return &EventBus{
		defaults: fronter.SubscriptionSpec{
			Buffer:         buffer,
			Workers:        workers,
			HandlerTimeout: handlerTimeout,
			Backpressure:   fronter.BackpressureDropNewest,
		},
		onError: onAsyncError,
	}
}

// Publish queues event on every subscription whose interest matches.
//
// Dropped events and closed subscriptions are reported through the async error
// callback; only blocking enqueue failures are returned.
func (b *EventBus) Publish(ctx context.Context, event *fronter.Event) error {
	if err := event.Validate(); err != nil {
		return errors.Wrap(err, "publish event")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errors.Errorf("publish event %s: bus closed", event.Kind)
	}
	targets := make([]*busSubscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.interest.Matches(event) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	var failed error
	for _, sub := range targets {
		err := sub.enqueue(ctx, event)
		switch {
		case err == nil:
		case errors.Is(err, fronter.ErrEventDropped), errors.Is(err, fronter.ErrSubscriptionClosed):
			b.report(ctx, sub.spec.Name, err)
		default:
			failed = multierr.Append(failed, err)
		}
	}
	if failed != nil {
		return errors.Wrapf(failed, "publish event %s", event.Kind)
	}

	return nil
}

// Subscribe starts a new subscription. Its workers run until Close.
func (b *EventBus) Subscribe(
	ctx context.Context,
	interest fronter.InterestSet,
	spec fronter.SubscriptionSpec,
	handler fronter.EventHandler,
) (fronter.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(err, "subscribe %s", spec.Name)
	}
	if handler == nil {
		return nil, errors.Errorf("subscribe %s: nil handler", spec.Name)
	}

	id := b.lastID.Add(1)
	spec = b.withDefaults(spec, id)
	switch spec.Backpressure {
	case fronter.BackpressureDropNewest, fronter.BackpressureDropOldest, fronter.BackpressureBlock:
	default:
		return nil, errors.Wrapf(fronter.ErrInvalidSubscription, "subscribe %s: backpressure %q", spec.Name, spec.Backpressure)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.Errorf("subscribe %s: bus closed", spec.Name)
	}
	sub := startSubscription(id, interest, spec, handler, b)
	b.subs = append(b.subs, sub)

	return sub, nil
}

// Close stops every subscription and waits for in-flight handlers until ctx
// expires. Later publishes and subscribes fail.
func (b *EventBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	var closeErr error
	for _, sub := range subs {
		closeErr = multierr.Append(closeErr, sub.stopAndWait(ctx))
	}
	if closeErr != nil {
		return errors.Wrap(closeErr, "close event bus")
	}

	return nil
}

func (b *EventBus) withDefaults(spec fronter.SubscriptionSpec, id int64) fronter.SubscriptionSpec {
	if spec.Name == "" {
		spec.Name = "subscription-" + strconv.FormatInt(id, 10)
	}
	if spec.Buffer <= 0 {
		spec.Buffer = b.defaults.Buffer
	}
	if spec.Workers <= 0 {
		spec.Workers = b.defaults.Workers
	}
	if spec.Workers <= 0 {
		spec.Workers = 1
	}
	if spec.HandlerTimeout <= 0 {
		spec.HandlerTimeout = b.defaults.HandlerTimeout
	}
	if spec.Backpressure == "" {
		spec.Backpressure = b.defaults.Backpressure
	}

	return spec
}

func (b *EventBus) detach(ctx context.Context, sub *busSubscription) error {
	b.mu.Lock()
	for idx, candidate := range b.subs {
		if candidate == sub {
			b.subs = append(b.subs[:idx:idx], b.subs[idx+1:]...)
			break
		}
	}
	b.mu.Unlock()

	if err := sub.stopAndWait(ctx); err != nil {
		return errors.Wrapf(err, "unsubscribe %s", sub.spec.Name)
	}

	return nil
}

func (b *EventBus) report(ctx context.Context, scope string, err error) {
	if b.onError != nil {
		b.onError(ctx, scope, err)
	}
}

type busSubscription struct {
	id       int64
	interest fronter.InterestSet
	spec     fronter.SubscriptionSpec
	handler  fronter.EventHandler
	lanes    []chan *fronter.Event
	bus      *EventBus

	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
	workers  sync.WaitGroup
}

func startSubscription(
	id int64,
	interest fronter.InterestSet,
	spec fronter.SubscriptionSpec,
	handler fronter.EventHandler,
	bus *EventBus,
) *busSubscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &busSubscription{
		id:       id,
		interest: interest.Clone(),
		spec:     spec,
		handler:  handler,
		lanes:    make([]chan *fronter.Event, spec.Workers),
		bus:      bus,
		ctx:      ctx,
		cancel:   cancel,
	}
	for idx := range sub.lanes {
		lane := make(chan *fronter.Event, spec.Buffer)
		sub.lanes[idx] = lane
		sub.workers.Add(1)
		go sub.drain(idx, lane)
	}

	return sub
}

// Name returns the subscription name.
func (s *busSubscription) Name() string {
	return s.spec.Name
}

// Close detaches the subscription from its bus and stops its workers.
func (s *busSubscription) Close(ctx context.Context) error {
	return s.bus.detach(ctx, s)
}

// laneFor maps a conversation onto a fixed lane.
func (s *busSubscription) laneFor(event *fronter.Event) chan *fronter.Event {
	if len(s.lanes) == 1 {
		return s.lanes[0]
	}
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(event.Source.ID))
	_, _ = hash.Write([]byte{0})
	_, _ = hash.Write([]byte(event.Conversation.ID))

	return s.lanes[hash.Sum32()%uint32(len(s.lanes))]
}

func (s *busSubscription) enqueue(ctx context.Context, event *fronter.Event) error {
	if s.stopping.Load() {
		return errors.Wrapf(fronter.ErrSubscriptionClosed, "enqueue %s", s.spec.Name)
	}
	lane := s.laneFor(event)

	select {
	case lane <- event:
		return nil
	default:
	}

	switch s.spec.Backpressure {
	case fronter.BackpressureDropNewest:
	case fronter.BackpressureDropOldest:
		select {
		case <-lane:
		default:
		}
		select {
		case lane <- event:
			return nil
		default:
		}
	case fronter.BackpressureBlock:
		select {
		case lane <- event:
			return nil
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "enqueue %s", s.spec.Name)
		case <-s.ctx.Done():
			return errors.Wrapf(fronter.ErrSubscriptionClosed, "enqueue %s", s.spec.Name)
		}
	default:
		return errors.Wrapf(fronter.ErrInvalidSubscription, "enqueue %s", s.spec.Name)
	}

	return errors.Wrapf(fronter.ErrEventDropped, "enqueue %s", s.spec.Name)
}

func (s *busSubscription) drain(laneID int, lane <-chan *fronter.Event) {
	defer s.workers.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-lane:
			if err := s.deliver(laneID, event); err != nil {
				s.bus.report(s.ctx, s.spec.Name, err)
			}
		}
	}
}

func (s *busSubscription) deliver(laneID int, event *fronter.Event) error {
	ctx := s.ctx
	if s.spec.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.spec.HandlerTimeout)
		defer cancel()
	}

	scope := "subscription " + s.spec.Name + " lane " + strconv.Itoa(laneID)
	if err := runSafely(scope, func() error {
		return s.handler(ctx, event)
	}); err != nil {
		return errors.Wrapf(err, "handle %s %s", event.Kind, event.ID)
	}

	return nil
}

func (s *busSubscription) stopAndWait(ctx context.Context) error {
	if s.stopping.CompareAndSwap(false, true) {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "stop subscription %s", s.spec.Name)
	}
}
