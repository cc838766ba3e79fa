package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/socialwire-server/internal/auth"
	"github.com/vovakirdan/socialwire-server/internal/core"
	"github.com/vovakirdan/socialwire-server/internal/feed"
)

// SSEHandler streams feed events to clients over server-sent events.
type SSEHandler struct {
	publisher *feed.Publisher
	verifier  auth.Verifier
	heartbeat time.Duration
	log       *zerolog.Logger
}

// NewSSEHandler builds a new feed stream handler.
func NewSSEHandler(publisher *feed.Publisher, verifier auth.Verifier, heartbeat time.Duration, logger *zerolog.Logger) *SSEHandler {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &SSEHandler{
		publisher: publisher,
		verifier:  verifier,
		heartbeat: heartbeat,
		log:       logger,
	}
}

// Stream handles GET /api/feed/stream. EventSource cannot set headers, so
// the credential arrives as a token query parameter.
func (h *SSEHandler) Stream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	identity, err := h.verifier.Verify(tokenFromRequest(c.Request))
	if err != nil {
		// Framed rejection in the stream's own vocabulary; EventSource
		// clients surface it before the reconnect backoff kicks in.
		c.SSEvent("error", gin.H{"code": core.ErrCodeUnauthorized, "msg": "invalid or missing token"})
		c.Writer.Flush()
		return
	}

	frames, cancel := h.publisher.Subscribe(identity.UserID)
	defer cancel()

	h.log.Info().Int64("user_id", identity.UserID).Msg("feed stream opened")
	defer h.log.Info().Int64("user_id", identity.UserID).Msg("feed stream closed")

	c.SSEvent(feed.EventConnected, gin.H{"user_id": identity.UserID})
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				// Stream superseded by a newer subscription.
				return
			}
			h.writeFrame(c, frame)
		case <-ticker.C:
			// Comment frame keeps intermediaries from timing the
			// connection out between events.
			if _, err := c.Writer.WriteString(": keep-alive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func (h *SSEHandler) writeFrame(c *gin.Context, frame feed.Frame) {
	switch frame.Event {
	case feed.EventPostDeleted:
		c.SSEvent(frame.Event, gin.H{"post_id": frame.PostID})
	default:
		c.SSEvent(frame.Event, frame.Post)
	}
	c.Writer.Flush()
}
