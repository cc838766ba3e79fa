package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/socialwire-server/internal/store"
)

const (
	fanoutTimeout = 5 * time.Second
	fanoutQueue   = 256
)

// broadcast is one queued conversation-wide delivery.
type broadcast struct {
	conversationID int64
	excludeUserID  int64
	ev             *Event
}

// Hub coordinates the connection registry, presence tracking and message
// fan-out. Persistence is delegated to the store; the registry is the only
// state the hub owns.
type Hub struct {
	registry *Registry
	store    store.Store
	log      *zerolog.Logger

	maxMessageLen int
	eventBuffer   int

	// broadcasts feed a single dispatcher goroutine, so deliveries within a
	// conversation reach recipients in enqueue order.
	broadcasts chan broadcast
	done       chan struct{}
	closeOnce  sync.Once

	// presenceMu serializes 0↔1 connection-count transitions together with
	// their store write and peer notification, so online/offline events for
	// one user are emitted strictly in order and exactly once per transition.
	presenceMu sync.Mutex
}

// NewHub constructs a hub backed by the given store.
func NewHub(st store.Store, logger *zerolog.Logger, maxMessageLen, eventBuffer int) *Hub {
	if maxMessageLen <= 0 {
		maxMessageLen = 4000
	}
	h := &Hub{
		registry:      NewRegistry(),
		store:         st,
		log:           logger,
		maxMessageLen: maxMessageLen,
		eventBuffer:   eventBuffer,
		broadcasts:    make(chan broadcast, fanoutQueue),
		done:          make(chan struct{}),
	}
	go h.dispatch()
	return h
}

// Close stops the dispatcher. Queued broadcasts may be discarded.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// NewClient constructs a client for the authenticated user with the hub's
// configured event buffer.
func (h *Hub) NewClient(connID string, userID int64, username string) *Client {
	return NewClient(connID, userID, username, h.eventBuffer)
}

// Stats returns a snapshot of registry occupancy.
func (h *Hub) Stats() Stats {
	return h.registry.Stats()
}

// IsOnline reports whether the user holds at least one live connection.
func (h *Hub) IsOnline(userID int64) bool {
	return h.registry.IsOnline(userID)
}

// RegisterClient records a live connection. On the user's 0→1 transition it
// persists the online presence and notifies conversation peers. Store
// failures are logged and never fail the connection.
func (h *Hub) RegisterClient(ctx context.Context, c *Client) {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()

	if !h.registry.Register(c) {
		return
	}
	h.emitPresence(ctx, c.UserID, true)
}

// UnregisterClient removes a connection. On the user's 1→0 transition it
// persists the offline presence and notifies conversation peers.
func (h *Hub) UnregisterClient(ctx context.Context, c *Client) {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()

	userID, last, ok := h.registry.Unregister(c.ID)
	if !ok || !last {
		return
	}
	h.emitPresence(ctx, userID, false)
}

func (h *Hub) emitPresence(ctx context.Context, userID int64, isOnline bool) {
	now := time.Now().UTC()
	if err := h.store.UpdateUserPresence(ctx, userID, isOnline, now); err != nil {
		h.log.Warn().Err(err).Int64("user_id", userID).Msg("persist presence")
	}

	peers, err := h.store.ListPeerIDs(ctx, userID)
	if err != nil {
		h.log.Warn().Err(err).Int64("user_id", userID).Msg("list presence peers")
		return
	}

	ev := &Event{
		Kind:     EventPresenceUpdate,
		Presence: &PresencePayload{UserID: userID, IsOnline: isOnline, LastSeen: now},
	}
	for _, peerID := range peers {
		h.deliverToUser(peerID, ev)
	}
}

// deliverToUser sends an event to every live connection of one user.
// Presence is user-scoped, so this is the delivery primitive the presence
// tracker uses instead of a conversation broadcast.
func (h *Hub) deliverToUser(userID int64, ev *Event) {
	for _, c := range h.registry.ConnectionsOf(userID) {
		if !c.TrySend(ev) {
			h.log.Warn().Str("conn_id", c.ID).Int64("user_id", userID).Msg("dropping event for slow connection")
		}
	}
}

// broadcastToMembers resolves the conversation's membership and delivers the
// event to every member's connections, skipping excludeUserID (0 = none).
// Per-recipient failures never abort delivery to the rest.
func (h *Hub) broadcastToMembers(ctx context.Context, conversationID, excludeUserID int64, ev *Event) {
	members, err := h.store.ListMemberIDs(ctx, conversationID)
	if err != nil {
		h.log.Warn().Err(err).Int64("conversation_id", conversationID).Msg("resolve members for broadcast")
		return
	}
	for _, memberID := range members {
		if memberID == excludeUserID {
			continue
		}
		h.deliverToUser(memberID, ev)
	}
}

// fanOut queues a broadcast for the dispatcher. Delivery is asynchronous
// relative to the triggering request, but the single consumer preserves the
// enqueue order within and across conversations.
func (h *Hub) fanOut(conversationID, excludeUserID int64, ev *Event) {
	select {
	case h.broadcasts <- broadcast{conversationID: conversationID, excludeUserID: excludeUserID, ev: ev}:
	case <-h.done:
	}
}

func (h *Hub) dispatch() {
	for {
		select {
		case b := <-h.broadcasts:
			ctx, cancel := context.WithTimeout(context.Background(), fanoutTimeout)
			h.broadcastToMembers(ctx, b.conversationID, b.excludeUserID, b.ev)
			cancel()
		case <-h.done:
			return
		}
	}
}
