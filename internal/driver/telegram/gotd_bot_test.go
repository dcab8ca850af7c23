package telegram

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/go-faster/errors"
)

func TestGotdBotSourceConsume(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		run           func(ctx context.Context, fn func(context.Context) error) error
		rawUpdates    []any
		mapper        gotdTestMapper
		handlerErr    error
		wantHandled   []string
		wantReported  int
		wantErrSubstr string
	}{
		{
			name: "context cancellation exits cleanly",
			run: func(ctx context.Context, fn func(context.Context) error) error {
				cancelCtx, cancel := context.WithCancel(ctx)
				cancel()
				return fn(cancelCtx)
			},
		},
		{
			name:       "accepted updates reach handler in order",
			rawUpdates: []any{"a", "skip", "b"},
			mapper: gotdTestMapper{results: map[any]Update{
				"a": {ID: "a"},
				"b": {ID: "b"},
			}},
			wantHandled: []string{"a", "b"},
		},
		{
			name:       "mapper failure is reported and skipped",
			rawUpdates: []any{"bad", "a"},
			mapper: gotdTestMapper{
				results: map[any]Update{"a": {ID: "a"}},
				errs:    map[any]error{"bad": errors.New("map failed")},
			},
			wantHandled:  []string{"a"},
			wantReported: 1,
		},
		{
			name:       "mapper panic is reported and skipped",
			rawUpdates: []any{"panic", "a"},
			mapper: gotdTestMapper{
				results: map[any]Update{"a": {ID: "a"}},
				panics:  map[any]bool{"panic": true},
			},
			wantHandled:  []string{"a"},
			wantReported: 1,
		},
		{
			name:          "handler failure stops the session",
			rawUpdates:    []any{"a"},
			mapper:        gotdTestMapper{results: map[any]Update{"a": {ID: "a"}}},
			handlerErr:    errors.New("handler failed"),
			wantHandled:   []string{"a"},
			wantErrSubstr: "consume gotd update a",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			updates := make(chan any, len(testCase.rawUpdates))
			for _, raw := range testCase.rawUpdates {
				updates <- raw
			}
			close(updates)

			run := testCase.run
			if run == nil {
				run = func(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }
			}

			var (
				mu       sync.Mutex
				reported []error
			)
			source, err := NewGotdBotSource(
				gotdTestSession{run: run},
				gotdTestStream{updates: updates},
				testCase.mapper,
				func(_ context.Context, err error) {
					mu.Lock()
					defer mu.Unlock()
					reported = append(reported, err)
				},
			)
			if err != nil {
				t.Fatalf("new source: %v", err)
			}

			var handled []string
			err = source.Consume(context.Background(), func(_ context.Context, update Update) error {
				handled = append(handled, update.ID)
				return testCase.handlerErr
			})

			if testCase.wantErrSubstr == "" && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if testCase.wantErrSubstr != "" && (err == nil || !strings.Contains(err.Error(), testCase.wantErrSubstr)) {
				t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSubstr)
			}
			if strings.Join(handled, ",") != strings.Join(testCase.wantHandled, ",") {
				t.Fatalf("handled = %v, want %v", handled, testCase.wantHandled)
			}
			if len(reported) != testCase.wantReported {
				t.Fatalf("reported = %v, want %d errors", reported, testCase.wantReported)
			}
		})
	}
}

func TestNewGotdBotSourceRejectsNil(t *testing.T) {
	t.Parallel()

	stream := gotdTestStream{}
	mapper := gotdTestMapper{}
	session := gotdTestSession{}
	if _, err := NewGotdBotSource(nil, stream, mapper, nil); err == nil {
		t.Fatal("expected nil session error")
	}
	if _, err := NewGotdBotSource(session, nil, mapper, nil); err == nil {
		t.Fatal("expected nil stream error")
	}
	if _, err := NewGotdBotSource(session, stream, nil, nil); err == nil {
		t.Fatal("expected nil mapper error")
	}
}

type gotdTestSession struct {
	run func(ctx context.Context, fn func(context.Context) error) error
}

func (s gotdTestSession) Run(ctx context.Context, fn func(runCtx context.Context) error) error {
	return s.run(ctx, fn)
}

type gotdTestStream struct {
	updates <-chan any
}

func (s gotdTestStream) Updates(_ context.Context) (<-chan any, error) {
	return s.updates, nil
}

type gotdTestMapper struct {
	results map[any]Update
	errs    map[any]error
	panics  map[any]bool
}

func (m gotdTestMapper) Map(_ context.Context, raw any) (Update, bool, error) {
	if m.panics[raw] {
		panic("mapper exploded")
	}
	if err := m.errs[raw]; err != nil {
		return Update{}, false, err
	}
	update, ok := m.results[raw]

	return update, ok, nil
}
