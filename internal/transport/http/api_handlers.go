package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/socialwire-server/internal/core"
	"github.com/vovakirdan/socialwire-server/internal/feed"
	"github.com/vovakirdan/socialwire-server/internal/store"
)

// APIHandlers provides HTTP handlers for REST API endpoints.
type APIHandlers struct {
	hub       *core.Hub
	store     store.Store
	publisher *feed.Publisher
	log       *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(hub *core.Hub, st store.Store, publisher *feed.Publisher, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		hub:       hub,
		store:     st,
		publisher: publisher,
		log:       logger,
	}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Meta carries pagination information on list responses.
type Meta struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// UserResponse is the user projection returned by the API.
type UserResponse struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	IsOnline    bool      `json:"is_online"`
	LastSeen    time.Time `json:"last_seen"`
}

// MessageResponse is the message projection returned by the API.
type MessageResponse struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	SenderID       int64     `json:"sender_id"`
	SenderName     string    `json:"sender_name,omitempty"`
	SenderAvatar   string    `json:"sender_avatar,omitempty"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// MemberResponse is the per-member projection in conversation listings.
type MemberResponse struct {
	UserID      int64      `json:"user_id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name,omitempty"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	IsOnline    bool       `json:"is_online"`
	LastSeen    time.Time  `json:"last_seen"`
	LastReadAt  *time.Time `json:"last_read_at,omitempty"`
}

// ConversationResponse is the conversation projection returned by the API.
type ConversationResponse struct {
	ID          int64            `json:"id"`
	Type        string           `json:"type"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	Members     []MemberResponse `json:"members,omitempty"`
	LastMessage *MessageResponse `json:"last_message,omitempty"`
	UnreadCount int              `json:"unread_count"`
}

// CreateConversationRequest is the direct conversation creation body.
type CreateConversationRequest struct {
	MemberIDs []int64 `json:"member_ids" binding:"required"`
}

// MarkAsReadRequest marks one message or, with message_id omitted, the whole
// conversation as read.
type MarkAsReadRequest struct {
	MessageID int64 `json:"message_id"`
}

// PublishPostRequest is the feed hook body for a newly created post.
type PublishPostRequest struct {
	PostID      int64   `json:"post_id" binding:"required"`
	Content     string  `json:"content"`
	FollowerIDs []int64 `json:"follower_ids"`
}

// UpdatePostRequest is the feed hook body for an edited post.
type UpdatePostRequest struct {
	Content string `json:"content"`
}

// CreateConversation handles POST /api/conversations.
func (h *APIHandlers) CreateConversation(c *gin.Context) {
	identity := identityFromContext(c)

	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	conv, created, err := h.hub.CreateDirectConversation(c.Request.Context(), identity.UserID, req.MemberIDs)
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, ConversationResponse{
		ID:        conv.ID,
		Type:      string(conv.Type),
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	})
}

// ListConversations handles GET /api/conversations.
func (h *APIHandlers) ListConversations(c *gin.Context) {
	identity := identityFromContext(c)
	page, limit := pageParams(c)

	summaries, total, err := h.hub.Conversations(c.Request.Context(), identity.UserID, page, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	conversations := make([]ConversationResponse, 0, len(summaries))
	for _, s := range summaries {
		conversations = append(conversations, conversationResponse(s))
	}
	c.JSON(http.StatusOK, gin.H{
		"conversations": conversations,
		"meta":          Meta{Page: page, Limit: limit, Total: total},
	})
}

// ListMessages handles GET /api/conversations/:id/messages.
func (h *APIHandlers) ListMessages(c *gin.Context) {
	identity := identityFromContext(c)
	conversationID, ok := idParam(c)
	if !ok {
		return
	}
	page, limit := pageParams(c)

	messages, total, err := h.hub.Messages(c.Request.Context(), conversationID, identity.UserID, page, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messageResponses(messages),
		"meta":     Meta{Page: page, Limit: limit, Total: total},
	})
}

// MarkAsRead handles POST /api/conversations/:id/read.
func (h *APIHandlers) MarkAsRead(c *gin.Context) {
	identity := identityFromContext(c)
	conversationID, ok := idParam(c)
	if !ok {
		return
	}

	var req MarkAsReadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
			return
		}
	}

	if err := h.hub.MarkAsRead(c.Request.Context(), conversationID, identity.UserID, req.MessageID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UnreadCount handles GET /api/conversations/:id/unread.
func (h *APIHandlers) UnreadCount(c *gin.Context) {
	identity := identityFromContext(c)
	conversationID, ok := idParam(c)
	if !ok {
		return
	}

	count, err := h.hub.UnreadCount(c.Request.Context(), conversationID, identity.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": count})
}

// SearchMessages handles GET /api/messages/search.
func (h *APIHandlers) SearchMessages(c *gin.Context) {
	identity := identityFromContext(c)
	page, limit := pageParams(c)

	messages, total, err := h.hub.SearchMessages(c.Request.Context(), identity.UserID, c.Query("q"), page, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messageResponses(messages),
		"meta":     Meta{Page: page, Limit: limit, Total: total},
	})
}

// SearchUsers handles GET /api/users/search.
func (h *APIHandlers) SearchUsers(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "query parameter q is required"})
		return
	}

	users, err := h.store.SearchUsers(c.Request.Context(), query, 20)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := make([]UserResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, userResponse(u, h.hub.IsOnline(u.ID)))
	}
	c.JSON(http.StatusOK, gin.H{"users": resp})
}

// UserPresence handles GET /api/users/:id/presence. The registry is the live
// source for is_online; the store only carries the last persisted transition.
func (h *APIHandlers) UserPresence(c *gin.Context) {
	userID, ok := idParam(c)
	if !ok {
		return
	}

	user, err := h.store.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":   user.ID,
		"is_online": h.hub.IsOnline(user.ID),
		"last_seen": user.LastSeen,
	})
}

// PublishPost handles POST /api/feed/posts, invoked by the post CRUD layer
// after a post is created.
func (h *APIHandlers) PublishPost(c *gin.Context) {
	identity := identityFromContext(c)

	var req PublishPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	h.publisher.PublishToFollowers(feed.PostPayload{
		ID:         req.PostID,
		AuthorID:   identity.UserID,
		AuthorName: identity.Username,
		Content:    req.Content,
		CreatedAt:  time.Now().UTC(),
	}, req.FollowerIDs)

	c.Status(http.StatusAccepted)
}

// UpdatePost handles PUT /api/feed/posts/:id.
func (h *APIHandlers) UpdatePost(c *gin.Context) {
	identity := identityFromContext(c)
	postID, ok := idParam(c)
	if !ok {
		return
	}

	var req UpdatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	h.publisher.PublishUpdate(feed.PostPayload{
		ID:         postID,
		AuthorID:   identity.UserID,
		AuthorName: identity.Username,
		Content:    req.Content,
		UpdatedAt:  time.Now().UTC(),
	})

	c.Status(http.StatusAccepted)
}

// DeletePost handles DELETE /api/feed/posts/:id.
func (h *APIHandlers) DeletePost(c *gin.Context) {
	postID, ok := idParam(c)
	if !ok {
		return
	}

	h.publisher.PublishDelete(postID)
	c.Status(http.StatusAccepted)
}

func (h *APIHandlers) writeError(c *gin.Context, err error) {
	ce, ok := core.AsCoreError(err)
	if !ok {
		h.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("unhandled error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	status := http.StatusInternalServerError
	switch ce.Code {
	case core.ErrCodeNotAMember:
		status = http.StatusForbidden
	case core.ErrCodeInvalidContent, core.ErrCodeBadRequest:
		status = http.StatusBadRequest
	case core.ErrCodeNotFound:
		status = http.StatusNotFound
	case core.ErrCodeUnauthorized:
		status = http.StatusUnauthorized
	case core.ErrCodeStoreError:
		h.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("store error")
	}
	c.JSON(status, ErrorResponse{Error: ce.Message, Code: ce.Code})
}

func pageParams(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
		return 0, false
	}
	return id, true
}

func userResponse(u *store.User, isOnline bool) UserResponse {
	return UserResponse{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		IsOnline:    isOnline,
		LastSeen:    u.LastSeen,
	}
}

func messageResponse(m *store.MessageWithSender) MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		SenderAvatar:   m.SenderAvatar,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}

func messageResponses(messages []*store.MessageWithSender) []MessageResponse {
	resp := make([]MessageResponse, 0, len(messages))
	for _, m := range messages {
		resp = append(resp, messageResponse(m))
	}
	return resp
}

func conversationResponse(s *store.ConversationSummary) ConversationResponse {
	members := make([]MemberResponse, 0, len(s.Members))
	for _, m := range s.Members {
		members = append(members, MemberResponse{
			UserID:      m.UserID,
			Username:    m.Username,
			DisplayName: m.DisplayName,
			AvatarURL:   m.AvatarURL,
			IsOnline:    m.IsOnline,
			LastSeen:    m.LastSeen,
			LastReadAt:  m.LastReadAt,
		})
	}

	resp := ConversationResponse{
		ID:          s.ID,
		Type:        string(s.Type),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
		Members:     members,
		UnreadCount: s.UnreadCount,
	}
	if s.LastMessage != nil {
		msg := messageResponse(s.LastMessage)
		resp.LastMessage = &msg
	}
	return resp
}
