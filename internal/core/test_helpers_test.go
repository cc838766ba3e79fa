package core

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/socialwire-server/internal/store"
	"github.com/vovakirdan/socialwire-server/internal/store/sqlite"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

func assertNoEvent(t *testing.T, ch <-chan *Event, kind EventKind) {
	t.Helper()

	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected event kind %v: %+v", kind, ev)
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func newTestHub(t *testing.T) (*Hub, store.Store) {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := zerolog.Nop()
	hub := NewHub(st, &logger, 4000, 32)
	t.Cleanup(hub.Close)
	return hub, st
}

func seedUser(t *testing.T, st store.Store, username string) *store.User {
	t.Helper()

	user, err := st.CreateUser(context.Background(), username, username, "")
	if err != nil {
		t.Fatalf("failed to create user %s: %v", username, err)
	}
	return user
}

func seedDirectConversation(t *testing.T, st store.Store, user1, user2 int64) *store.Conversation {
	t.Helper()

	conv, _, err := st.FindOrCreateDirectConversation(context.Background(), user1, user2)
	if err != nil {
		t.Fatalf("failed to create conversation: %v", err)
	}
	return conv
}
