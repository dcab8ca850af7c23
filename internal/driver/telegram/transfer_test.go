package telegram

import (
	"context"
	"io"
	"testing"

	"github.com/go-faster/errors"
	"github.com/cenkalti/backoff/v4"
	"github.com/gotd/td/tgerr"

	"ex-fronter/pkg/fronter"
)

func zeroTransferPolicy(attempts int) transferPolicy {
	return transferPolicy{
		attempts:   attempts,
		newBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}
}

func TestFetchBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		attempts  int
		failures  []error
		wantBytes string
		wantCalls int
		wantErr   error
	}{
		{
			name:      "first attempt succeeds",
			attempts:  3,
			wantBytes: "payload",
			wantCalls: 1,
		},
		{
			name:      "transient failure then success",
			attempts:  3,
			failures:  []error{errors.New("connection reset"), tgerr.New(500, "INTERNAL")},
			wantBytes: "payload",
			wantCalls: 3,
		},
		{
			name:      "budget exhausted",
			attempts:  2,
			failures:  []error{errors.New("reset 1"), errors.New("reset 2"), errors.New("reset 3")},
			wantCalls: 2,
		},
		{
			name:      "expired reference is permanent",
			attempts:  5,
			failures:  []error{tgerr.New(400, "FILE_REFERENCE_EXPIRED")},
			wantCalls: 1,
		},
		{
			name:      "classified forbidden is permanent",
			attempts:  5,
			failures:  []error{errors.Wrapf(fronter.ErrOutboundForbidden, "no access")},
			wantCalls: 1,
			wantErr:   fronter.ErrOutboundForbidden,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			calls := 0
			data, err := fetchBytes(context.Background(), zeroTransferPolicy(testCase.attempts),
				func(_ context.Context, w io.Writer) error {
					calls++
					if calls <= len(testCase.failures) {
						_, _ = io.WriteString(w, "partial")
						return testCase.failures[calls-1]
					}
					_, _ = io.WriteString(w, "payload")
					return nil
				})

			if calls != testCase.wantCalls {
				t.Fatalf("calls = %d, want %d", calls, testCase.wantCalls)
			}
			if testCase.wantBytes == "" {
				if err == nil {
					t.Fatalf("data = %q, want error", data)
				}
				if testCase.wantErr != nil && !errors.Is(err, testCase.wantErr) {
					t.Fatalf("error = %v, want %v", err, testCase.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("fetch: %v", err)
			}
			if string(data) != testCase.wantBytes {
				t.Fatalf("data = %q, want %q", data, testCase.wantBytes)
			}
		})
	}
}

func TestFetchBytesStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := fetchBytes(ctx, zeroTransferPolicy(5), func(context.Context, io.Writer) error {
		calls++
		cancel()
		return errors.New("interrupted")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
