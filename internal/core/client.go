package core

// Client is one live transport connection as seen by the core layer.
// A user may hold several clients concurrently (multiple devices/tabs).
type Client struct {
	ID       string
	UserID   int64
	Username string
	Events   chan *Event
}

// NewClient constructs a client with an initialized event channel.
func NewClient(id string, userID int64, username string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 32
	}
	return &Client{
		ID:       id,
		UserID:   userID,
		Username: username,
		Events:   make(chan *Event, buffer),
	}
}

// TrySend delivers an event without blocking. Returns false if the client's
// buffer is full; a slow consumer drops events rather than stalling fan-out.
func (c *Client) TrySend(ev *Event) bool {
	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}
