package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/gotd/td/tg"
)

func TestGotdUpdateChannelUpdatesNilContext(t *testing.T) {
	t.Parallel()

	stream := NewGotdUpdateChannel(8)

	var nilCtx context.Context
	if _, err := stream.Updates(nilCtx); err == nil {
		t.Fatal("expected nil context error")
	}
}

func TestGotdUpdateChannelKeepsOnlyNewMessages(t *testing.T) {
	t.Parallel()

	stream := NewGotdUpdateChannel(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := stream.Updates(ctx)
	if err != nil {
		t.Fatalf("open updates stream: %v", err)
	}

	batch := &tg.Updates{
		Date:  1_700_000_010,
		Users: []tg.UserClass{newTGUser(42, "alice", "Alice", "", false)},
		Updates: []tg.UpdateClass{
			&tg.UpdateDeleteChannelMessages{ChannelID: 500, Messages: []int{101}},
			&tg.UpdateNewChannelMessage{Message: &tg.Message{ID: 7, PeerID: &tg.PeerChannel{ChannelID: 500}}},
			&tg.UpdateUserTyping{UserID: 42},
			&tg.UpdateNewMessage{Message: &tg.Message{ID: 8, PeerID: &tg.PeerUser{UserID: 42}}},
		},
	}
	if err := stream.Handle(ctx, batch); err != nil {
		t.Fatalf("handle: %v", err)
	}

	want := []string{"updateNewChannelMessage", "updateNewMessage"}
	for index, wantClass := range want {
		select {
		case item := <-updates:
			envelope, ok := item.(gotdUpdateEnvelope)
			if !ok {
				t.Fatalf("item type = %T, want gotdUpdateEnvelope", item)
			}
			if envelope.updateClass != wantClass {
				t.Fatalf("envelope[%d] class = %q, want %q", index, envelope.updateClass, wantClass)
			}
			if _, ok := envelope.usersByID[42]; !ok {
				t.Fatalf("envelope[%d] missing indexed user", index)
			}
			if !envelope.occurredAt.Equal(time.Unix(1_700_000_010, 0)) {
				t.Fatalf("envelope[%d] occurredAt = %v", index, envelope.occurredAt)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out receiving flattened updates")
		}
	}

	select {
	case item := <-updates:
		t.Fatalf("unexpected extra item %#v", item)
	default:
	}
}

func TestFlattenShortMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		updates    tg.UpdatesClass
		wantPeer   tg.PeerClass
		wantFromID int64
		wantOut    bool
	}{
		{
			name: "short private message",
			updates: &tg.UpdateShortMessage{
				ID:      11,
				UserID:  42,
				Out:     true,
				Message: "hi",
				Date:    1_700_000_000,
			},
			wantPeer:   &tg.PeerUser{UserID: 42},
			wantFromID: 42,
			wantOut:    true,
		},
		{
			name: "short chat message",
			updates: &tg.UpdateShortChatMessage{
				ID:      12,
				FromID:  42,
				ChatID:  900,
				Message: "hi",
				Date:    1_700_000_000,
			},
			wantPeer:   &tg.PeerChat{ChatID: 900},
			wantFromID: 42,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			batch, err := flattenGotdUpdates(testCase.updates)
			if err != nil {
				t.Fatalf("flatten: %v", err)
			}
			if len(batch) != 1 {
				t.Fatalf("batch len = %d, want 1", len(batch))
			}
			update, ok := batch[0].update.(*tg.UpdateNewMessage)
			if !ok {
				t.Fatalf("update type = %T, want *tg.UpdateNewMessage", batch[0].update)
			}
			message, ok := update.Message.(*tg.Message)
			if !ok {
				t.Fatalf("message type = %T", update.Message)
			}
			if message.PeerID.String() != testCase.wantPeer.String() {
				t.Fatalf("peer = %v, want %v", message.PeerID, testCase.wantPeer)
			}
			from, ok := message.FromID.(*tg.PeerUser)
			if !ok || from.UserID != testCase.wantFromID {
				t.Fatalf("from = %v, want user %d", message.FromID, testCase.wantFromID)
			}
			if message.Out != testCase.wantOut {
				t.Fatalf("out = %v, want %v", message.Out, testCase.wantOut)
			}
			if message.Message != "hi" {
				t.Fatalf("text = %q, want hi", message.Message)
			}
		})
	}
}

func TestFlattenIgnoresTooLongAndRejectsNil(t *testing.T) {
	t.Parallel()

	batch, err := flattenGotdUpdates(&tg.UpdatesTooLong{})
	if err != nil || len(batch) != 0 {
		t.Fatalf("too long = (%v, %v), want empty", batch, err)
	}
	if _, err := flattenGotdUpdates(nil); err == nil {
		t.Fatal("expected nil updates error")
	}
}

func TestGotdUpdateChannelHandleHonorsContext(t *testing.T) {
	t.Parallel()

	stream := NewGotdUpdateChannel(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch := &tg.Updates{Updates: []tg.UpdateClass{
		&tg.UpdateNewMessage{Message: &tg.Message{ID: 1, PeerID: &tg.PeerUser{UserID: 1}}},
		&tg.UpdateNewMessage{Message: &tg.Message{ID: 2, PeerID: &tg.PeerUser{UserID: 1}}},
	}}
	if err := stream.Handle(ctx, batch); err == nil {
		t.Fatal("expected context error with a full buffer")
	}
}
