package core

import (
	"context"
	"fmt"
	"testing"
)

func TestPresenceSingleEventForMultipleTabs(t *testing.T) {
	hub, st := newTestHub(t)
	ctx := context.Background()

	alice := seedUser(t, st, "alice")
	bob := seedUser(t, st, "bob")
	seedDirectConversation(t, st, alice.ID, bob.ID)

	bobClient := hub.NewClient("bob-1", bob.ID, "bob")
	hub.RegisterClient(ctx, bobClient)

	// Opening N tabs produces at most one online event, regardless of N.
	tabs := []*Client{
		hub.NewClient("alice-1", alice.ID, "alice"),
		hub.NewClient("alice-2", alice.ID, "alice"),
		hub.NewClient("alice-3", alice.ID, "alice"),
	}
	for _, c := range tabs {
		hub.RegisterClient(ctx, c)
	}

	ev := mustEvent(t, bobClient.Events, EventPresenceUpdate)
	if ev.Presence.UserID != alice.ID || !ev.Presence.IsOnline {
		t.Fatalf("unexpected presence event: %+v", ev.Presence)
	}
	assertNoEvent(t, bobClient.Events, EventPresenceUpdate)

	user, err := st.GetUserByID(ctx, alice.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !user.IsOnline {
		t.Fatal("expected persisted online presence")
	}

	// Closing all but the last tab produces nothing.
	hub.UnregisterClient(ctx, tabs[0])
	hub.UnregisterClient(ctx, tabs[1])
	assertNoEvent(t, bobClient.Events, EventPresenceUpdate)

	hub.UnregisterClient(ctx, tabs[2])
	ev = mustEvent(t, bobClient.Events, EventPresenceUpdate)
	if ev.Presence.UserID != alice.ID || ev.Presence.IsOnline {
		t.Fatalf("unexpected presence event: %+v", ev.Presence)
	}
	assertNoEvent(t, bobClient.Events, EventPresenceUpdate)

	user, err = st.GetUserByID(ctx, alice.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.IsOnline {
		t.Fatal("expected persisted offline presence")
	}
}

func TestSendMessageRejectsNonMember(t *testing.T) {
	hub, st := newTestHub(t)
	ctx := context.Background()

	alice := seedUser(t, st, "alice")
	bob := seedUser(t, st, "bob")
	carol := seedUser(t, st, "carol")
	conv := seedDirectConversation(t, st, alice.ID, bob.ID)

	_, err := hub.SendMessage(ctx, conv.ID, carol.ID, "hi there")
	ce, ok := AsCoreError(err)
	if !ok || ce.Code != ErrCodeNotAMember {
		t.Fatalf("expected not_a_member error, got %v", err)
	}

	// Membership is checked before content, so an outsider sending an empty
	// body is still rejected as a non-member.
	_, err = hub.SendMessage(ctx, conv.ID, carol.ID, "")
	ce, ok = AsCoreError(err)
	if !ok || ce.Code != ErrCodeNotAMember {
		t.Fatalf("expected not_a_member for outsider with empty body, got %v", err)
	}

	// Rejection must never persist a message.
	count, err := st.CountMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 0 {
		t.Fatalf("messages persisted = %d, want 0", count)
	}
}

func TestSendMessageRejectsInvalidContent(t *testing.T) {
	hub, st := newTestHub(t)
	ctx := context.Background()

	alice := seedUser(t, st, "alice")
	bob := seedUser(t, st, "bob")
	conv := seedDirectConversation(t, st, alice.ID, bob.ID)

	for _, content := range []string{"", "   ", "\n\t"} {
		_, err := hub.SendMessage(ctx, conv.ID, alice.ID, content)
		ce, ok := AsCoreError(err)
		if !ok || ce.Code != ErrCodeInvalidContent {
			t.Fatalf("content %q: expected invalid_content, got %v", content, err)
		}
	}

	long := make([]byte, 0, hub.maxMessageLen+1)
	for i := 0; i <= hub.maxMessageLen; i++ {
		long = append(long, 'x')
	}
	_, err := hub.SendMessage(ctx, conv.ID, alice.ID, string(long))
	ce, ok := AsCoreError(err)
	if !ok || ce.Code != ErrCodeInvalidContent {
		t.Fatalf("expected invalid_content for oversized body, got %v", err)
	}
}

func TestSendMessageFanOutPreservesOrder(t *testing.T) {
	hub, st := newTestHub(t)
	ctx := context.Background()

	alice := seedUser(t, st, "alice")
	bob := seedUser(t, st, "bob")
	conv := seedDirectConversation(t, st, alice.ID, bob.ID)

	aliceClient := hub.NewClient("alice-1", alice.ID, "alice")
	bobClient := hub.NewClient("bob-1", bob.ID, "bob")
	hub.RegisterClient(ctx, aliceClient)
	hub.RegisterClient(ctx, bobClient)

	first, err := hub.SendMessage(ctx, conv.ID, alice.ID, "hello")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if first.ID == 0 || first.Content != "hello" {
		t.Fatalf("unexpected synchronous response: %+v", first)
	}

	ev := mustEvent(t, bobClient.Events, EventNewMessage)
	if ev.Message.Content != "hello" || ev.Message.SenderID != alice.ID {
		t.Fatalf("unexpected message event: %+v", ev.Message)
	}

	if _, err := hub.SendMessage(ctx, conv.ID, alice.ID, "world"); err != nil {
		t.Fatalf("send message: %v", err)
	}

	// Both recipients observe "hello" before "world"; the sender's own
	// connections receive the fan-out too.
	ev = mustEvent(t, bobClient.Events, EventNewMessage)
	if ev.Message.Content != "world" {
		t.Fatalf("out of order delivery to bob: %+v", ev.Message)
	}
	ev = mustEvent(t, aliceClient.Events, EventNewMessage)
	if ev.Message.Content != "hello" {
		t.Fatalf("out of order delivery to alice: %+v", ev.Message)
	}
	ev = mustEvent(t, aliceClient.Events, EventNewMessage)
	if ev.Message.Content != "world" {
		t.Fatalf("out of order delivery to alice: %+v", ev.Message)
	}
}

func TestSendMessageBackToBackDeliveryOrder(t *testing.T) {
	hub, st := newTestHub(t)
	ctx := context.Background()

	alice := seedUser(t, st, "alice")
	bob := seedUser(t, st, "bob")
	conv := seedDirectConversation(t, st, alice.ID, bob.ID)

	bobClient := hub.NewClient("bob-1", bob.ID, "bob")
	hub.RegisterClient(ctx, bobClient)

	// No waiting between sends: delivery must still follow persisted order.
	const n = 30
	for i := 0; i < n; i++ {
		if _, err := hub.SendMessage(ctx, conv.ID, alice.ID, fmt.Sprintf("msg-%03d", i)); err != nil {
			t.Fatalf("send message %d: %v", i, err)
		}
	}

	var prevID int64
	for i := 0; i < n; i++ {
		ev := mustEvent(t, bobClient.Events, EventNewMessage)
		want := fmt.Sprintf("msg-%03d", i)
		if ev.Message.Content != want {
			t.Fatalf("ordering inversion at %d: got %q, want %q", i, ev.Message.Content, want)
		}
		if ev.Message.ID <= prevID {
			t.Fatalf("non-monotonic message ids at %d: %d after %d", i, ev.Message.ID, prevID)
		}
		prevID = ev.Message.ID
	}
}

func TestMarkAsReadBroadcastsReceipt(t *testing.T) {
	hub, st := newTestHub(t)
	ctx := context.Background()

	alice := seedUser(t, st, "alice")
	bob := seedUser(t, st, "bob")
	conv := seedDirectConversation(t, st, alice.ID, bob.ID)

	aliceClient := hub.NewClient("alice-1", alice.ID, "alice")
	hub.RegisterClient(ctx, aliceClient)

	if _, err := hub.SendMessage(ctx, conv.ID, alice.ID, "hello"); err != nil {
		t.Fatalf("send message: %v", err)
	}
	if _, err := hub.SendMessage(ctx, conv.ID, alice.ID, "world"); err != nil {
		t.Fatalf("send message: %v", err)
	}

	unread, err := hub.UnreadCount(ctx, conv.ID, bob.ID)
	if err != nil {
		t.Fatalf("unread count: %v", err)
	}
	if unread != 2 {
		t.Fatalf("unread = %d, want 2", unread)
	}

	if err := hub.MarkAsRead(ctx, conv.ID, bob.ID, 0); err != nil {
		t.Fatalf("mark as read: %v", err)
	}

	ev := mustEvent(t, aliceClient.Events, EventMessageRead)
	if ev.Read.ReaderID != bob.ID || ev.Read.ConversationID != conv.ID {
		t.Fatalf("unexpected read event: %+v", ev.Read)
	}

	unread, _ = hub.UnreadCount(ctx, conv.ID, bob.ID)
	if unread != 0 {
		t.Fatalf("unread after read = %d, want 0", unread)
	}
	// The sender never had their own messages counted as unread.
	unread, _ = hub.UnreadCount(ctx, conv.ID, alice.ID)
	if unread != 0 {
		t.Fatalf("sender unread = %d, want 0", unread)
	}
}

func TestMarkAsReadSingleMessage(t *testing.T) {
	hub, st := newTestHub(t)
	ctx := context.Background()

	alice := seedUser(t, st, "alice")
	bob := seedUser(t, st, "bob")
	conv := seedDirectConversation(t, st, alice.ID, bob.ID)
	other := seedDirectConversation(t, st, bob.ID, seedUser(t, st, "carol").ID)

	msg, err := hub.SendMessage(ctx, conv.ID, alice.ID, "hello")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}

	if err := hub.MarkAsRead(ctx, conv.ID, bob.ID, msg.ID); err != nil {
		t.Fatalf("mark single message read: %v", err)
	}
	unread, _ := hub.UnreadCount(ctx, conv.ID, bob.ID)
	if unread != 0 {
		t.Fatalf("unread = %d, want 0", unread)
	}

	// A message ID from a different conversation must not be markable.
	err = hub.MarkAsRead(ctx, other.ID, bob.ID, msg.ID)
	ce, ok := AsCoreError(err)
	if !ok || ce.Code != ErrCodeNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestMarkAsReadRejectsNonMember(t *testing.T) {
	hub, st := newTestHub(t)
	ctx := context.Background()

	alice := seedUser(t, st, "alice")
	bob := seedUser(t, st, "bob")
	carol := seedUser(t, st, "carol")
	conv := seedDirectConversation(t, st, alice.ID, bob.ID)

	err := hub.MarkAsRead(ctx, conv.ID, carol.ID, 0)
	ce, ok := AsCoreError(err)
	if !ok || ce.Code != ErrCodeNotAMember {
		t.Fatalf("expected not_a_member, got %v", err)
	}
}

func TestTypingExcludesSender(t *testing.T) {
	hub, st := newTestHub(t)
	ctx := context.Background()

	alice := seedUser(t, st, "alice")
	bob := seedUser(t, st, "bob")
	conv := seedDirectConversation(t, st, alice.ID, bob.ID)

	aliceClient := hub.NewClient("alice-1", alice.ID, "alice")
	bobClient := hub.NewClient("bob-1", bob.ID, "bob")
	hub.RegisterClient(ctx, aliceClient)
	hub.RegisterClient(ctx, bobClient)

	if err := hub.Typing(ctx, conv.ID, alice.ID, true); err != nil {
		t.Fatalf("typing: %v", err)
	}

	ev := mustEvent(t, bobClient.Events, EventUserTyping)
	if ev.Typing.UserID != alice.ID || !ev.Typing.IsTyping {
		t.Fatalf("unexpected typing event: %+v", ev.Typing)
	}
	assertNoEvent(t, aliceClient.Events, EventUserTyping)
}

func TestJoinConversationRequiresMembership(t *testing.T) {
	hub, st := newTestHub(t)
	ctx := context.Background()

	alice := seedUser(t, st, "alice")
	bob := seedUser(t, st, "bob")
	carol := seedUser(t, st, "carol")
	conv := seedDirectConversation(t, st, alice.ID, bob.ID)

	if err := hub.JoinConversation(ctx, conv.ID, alice.ID); err != nil {
		t.Fatalf("member join: %v", err)
	}

	err := hub.JoinConversation(ctx, conv.ID, carol.ID)
	ce, ok := AsCoreError(err)
	if !ok || ce.Code != ErrCodeNotAMember {
		t.Fatalf("expected not_a_member, got %v", err)
	}
}

func TestCreateDirectConversationValidation(t *testing.T) {
	hub, st := newTestHub(t)
	ctx := context.Background()

	alice := seedUser(t, st, "alice")
	bob := seedUser(t, st, "bob")
	carol := seedUser(t, st, "carol")

	tests := []struct {
		name     string
		creator  int64
		members  []int64
		wantCode string
	}{
		{"too few members", alice.ID, []int64{alice.ID}, ErrCodeBadRequest},
		{"duplicate members", alice.ID, []int64{alice.ID, alice.ID}, ErrCodeBadRequest},
		{"creator not a member", carol.ID, []int64{alice.ID, bob.ID}, ErrCodeNotAMember},
		{"unknown user", alice.ID, []int64{alice.ID, 9999}, ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := hub.CreateDirectConversation(ctx, tt.creator, tt.members)
			ce, ok := AsCoreError(err)
			if !ok || ce.Code != tt.wantCode {
				t.Fatalf("expected %s, got %v", tt.wantCode, err)
			}
		})
	}

	conv1, created, err := hub.CreateDirectConversation(ctx, alice.ID, []int64{alice.ID, bob.ID})
	if err != nil || !created {
		t.Fatalf("create: conv=%v created=%v err=%v", conv1, created, err)
	}
	conv2, created, err := hub.CreateDirectConversation(ctx, bob.ID, []int64{bob.ID, alice.ID})
	if err != nil || created {
		t.Fatalf("expected idempotent create, got created=%v err=%v", created, err)
	}
	if conv1.ID != conv2.ID {
		t.Fatalf("expected same conversation, got %d and %d", conv1.ID, conv2.ID)
	}
}
