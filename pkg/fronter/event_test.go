package fronter

import (
	"errors"
	"testing"
	"time"
)

func TestEventValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Event {
		return &Event{
			ID:           "e1",
			Kind:         EventKindMessageCreated,
			OccurredAt:   time.Unix(10, 0),
			Conversation: Conversation{ID: "c1", Type: ConversationTypeGroup},
			Message:      &Message{ID: "m1", Text: "hello"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Event) *Event
		wantErr bool
	}{
		{name: "valid message", mutate: func(e *Event) *Event { return e }},
		{name: "nil event", mutate: func(*Event) *Event { return nil }, wantErr: true},
		{name: "missing id", mutate: func(e *Event) *Event { e.ID = ""; return e }, wantErr: true},
		{name: "missing timestamp", mutate: func(e *Event) *Event { e.OccurredAt = time.Time{}; return e }, wantErr: true},
		{name: "missing conversation", mutate: func(e *Event) *Event { e.Conversation.ID = ""; return e }, wantErr: true},
		{name: "missing message", mutate: func(e *Event) *Event { e.Message = nil; return e }, wantErr: true},
		{name: "unknown kind", mutate: func(e *Event) *Event { e.Kind = "message.edited"; return e }, wantErr: true},
		{
			name: "command without invocation",
			mutate: func(e *Event) *Event {
				e.Kind = EventKindCommandReceived
				return e
			},
			wantErr: true,
		},
		{
			name: "valid command",
			mutate: func(e *Event) *Event {
				e.Kind = EventKindCommandReceived
				e.Command = &CommandInvocation{
					Name:            "list_members",
					SourceEventID:   "e0",
					SourceEventKind: EventKindMessageCreated,
				}
				return e
			},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := testCase.mutate(valid()).Validate()
			if testCase.wantErr {
				if !errors.Is(err, ErrInvalidEvent) {
					t.Fatalf("error = %v, want ErrInvalidEvent", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestMediaAttachmentTransferable(t *testing.T) {
	t.Parallel()

	if !(MediaAttachment{Type: MediaTypeDocument}).Transferable() {
		t.Fatal("document should be transferable")
	}
	if (MediaAttachment{Type: MediaTypeLink}).Transferable() {
		t.Fatal("link preview should not be transferable")
	}
}
