package core

import "sync"

// Registry is the in-memory bidirectional mapping between users and their
// live connections. It is the only mutable shared state in the server; the
// raw maps are never exposed, only the operations below.
type Registry struct {
	mu     sync.RWMutex
	byUser map[int64]map[string]*Client
	byConn map[string]int64
}

// Stats is a snapshot of registry occupancy.
// TotalConnections >= UniqueUsers holds at all times.
type Stats struct {
	TotalConnections int
	UniqueUsers      int
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[int64]map[string]*Client),
		byConn: make(map[string]int64),
	}
}

// Register adds the client to both maps and reports whether this was the
// user's first connection (the 0→1 transition). Idempotent per connection ID:
// re-registering an ID replaces the previous entry, and the last writer wins.
func (r *Registry) Register(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prevUser, ok := r.byConn[c.ID]; ok {
		if prevUser == c.UserID {
			r.byUser[c.UserID][c.ID] = c
			return false
		}
		r.removeLocked(c.ID, prevUser)
	}

	set := r.byUser[c.UserID]
	first := len(set) == 0
	if set == nil {
		set = make(map[string]*Client)
		r.byUser[c.UserID] = set
	}
	set[c.ID] = c
	r.byConn[c.ID] = c.UserID

	return first
}

// Unregister removes the connection from both maps. Returns the associated
// user ID and whether that was the user's last connection. Double unregister
// is a no-op (ok=false); disconnect races are expected.
func (r *Registry) Unregister(connID string) (userID int64, last bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok = r.byConn[connID]
	if !ok {
		return 0, false, false
	}
	r.removeLocked(connID, userID)
	_, stillOnline := r.byUser[userID]

	return userID, !stillOnline, true
}

func (r *Registry) removeLocked(connID string, userID int64) {
	delete(r.byConn, connID)
	if set, ok := r.byUser[userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byUser, userID)
		}
	}
}

// ConnectionsOf returns the user's live connections; empty if offline.
func (r *Registry) ConnectionsOf(userID int64) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[userID]
	clients := make([]*Client, 0, len(set))
	for _, c := range set {
		clients = append(clients, c)
	}
	return clients
}

// IsOnline reports whether the user holds at least one live connection.
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// Stats returns a snapshot of registry occupancy.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		TotalConnections: len(r.byConn),
		UniqueUsers:      len(r.byUser),
	}
}
