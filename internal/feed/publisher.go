package feed

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// PostPayload is the feed projection of a post, fixed at the publisher
// boundary.
type PostPayload struct {
	ID         int64     `json:"id"`
	AuthorID   int64     `json:"author_id"`
	AuthorName string    `json:"author_name,omitempty"`
	Content    string    `json:"content,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

// Frame is one feed event to be written to a client stream.
type Frame struct {
	Event string
	Post  *PostPayload
	// PostID is set for deletions, where no payload survives.
	PostID int64
}

// Feed event names.
const (
	EventConnected   = "connected"
	EventNewPost     = "new_post"
	EventPostUpdated = "post_updated"
	EventPostDeleted = "post_deleted"
)

type stream struct {
	frames chan Frame
}

// Publisher fans post lifecycle events out to subscribed feed streams.
// Unlike the chat registry it holds at most one open stream per user: the
// feed channel has no inbound events and a fresh subscription supersedes the
// previous one. Delivery is best-effort with no queuing; an absent or slow
// subscriber simply misses frames and re-fetches on reconnect.
type Publisher struct {
	mu      sync.Mutex
	streams map[int64]*stream
	bufSize int
	log     *zerolog.Logger
}

// NewPublisher constructs a publisher with the given per-stream buffer size.
func NewPublisher(bufSize int, logger *zerolog.Logger) *Publisher {
	if bufSize <= 0 {
		bufSize = 16
	}
	return &Publisher{
		streams: make(map[int64]*stream),
		bufSize: bufSize,
		log:     logger,
	}
}

// Subscribe opens the user's feed stream, replacing and closing any previous
// one. The returned cancel function must be called when the stream ends; it
// is safe to call after a replacement.
func (p *Publisher) Subscribe(userID int64) (<-chan Frame, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.streams[userID]; ok {
		close(prev.frames)
	}

	s := &stream{frames: make(chan Frame, p.bufSize)}
	p.streams[userID] = s

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if cur, ok := p.streams[userID]; ok && cur == s {
			delete(p.streams, userID)
			close(s.frames)
		}
	}
	return s.frames, cancel
}

// PublishToFollowers delivers a new_post event to every follower currently
// holding an open stream, silently skipping the rest.
func (p *Publisher) PublishToFollowers(post PostPayload, followerIDs []int64) {
	frame := Frame{Event: EventNewPost, Post: &post}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, followerID := range followerIDs {
		s, ok := p.streams[followerID]
		if !ok {
			continue
		}
		p.sendLocked(followerID, s, frame)
	}
}

// PublishUpdate broadcasts a post_updated event to all open streams.
// Updates are global, not follower-scoped: anyone viewing a stale copy needs
// the correction.
func (p *Publisher) PublishUpdate(post PostPayload) {
	p.broadcast(Frame{Event: EventPostUpdated, Post: &post})
}

// PublishDelete broadcasts a post_deleted event to all open streams.
func (p *Publisher) PublishDelete(postID int64) {
	p.broadcast(Frame{Event: EventPostDeleted, PostID: postID})
}

func (p *Publisher) broadcast(frame Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for userID, s := range p.streams {
		p.sendLocked(userID, s, frame)
	}
}

func (p *Publisher) sendLocked(userID int64, s *stream, frame Frame) {
	select {
	case s.frames <- frame:
	default:
		p.log.Warn().Int64("user_id", userID).Str("event", frame.Event).Msg("dropping feed frame for slow stream")
	}
}

// Size returns the number of open streams.
func (p *Publisher) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.streams)
}
