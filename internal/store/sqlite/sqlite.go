package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/socialwire-server/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file (":memory:" for tests).
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Set connection pool limits
	db.SetMaxOpenConns(1) // SQLite works best with single connection
	db.SetMaxIdleConns(1)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, displayName, avatarURL string) (*store.User, error) {
	query := `
		INSERT INTO users (username, display_name, avatar_url, last_seen)
		VALUES (?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, username, displayName, avatarURL, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `
		SELECT id, username, display_name, avatar_url, is_online, last_seen, created_at
		FROM users
		WHERE id = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Username,
		&user.DisplayName,
		&user.AvatarURL,
		&user.IsOnline,
		&user.LastSeen,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// UpdateUserPresence persists the coarse presence summary for a user.
func (s *SQLiteStore) UpdateUserPresence(ctx context.Context, userID int64, isOnline bool, lastSeen time.Time) error {
	query := `
		UPDATE users SET is_online = ?, last_seen = ?
		WHERE id = ?
	`
	if _, err := s.db.ExecContext(ctx, query, isOnline, lastSeen.UTC(), userID); err != nil {
		return fmt.Errorf("update presence: %w", err)
	}
	return nil
}

// SearchUsers searches for users by username substring.
func (s *SQLiteStore) SearchUsers(ctx context.Context, query string, limit int) ([]*store.User, error) {
	if limit <= 0 {
		limit = 10
	}
	q := `
		SELECT id, username, display_name, avatar_url, is_online, last_seen, created_at
		FROM users
		WHERE username LIKE '%' || ? || '%'
		ORDER BY username ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, q, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := []*store.User{}
	for rows.Next() {
		var user store.User
		if err := rows.Scan(
			&user.ID,
			&user.Username,
			&user.DisplayName,
			&user.AvatarURL,
			&user.IsOnline,
			&user.LastSeen,
			&user.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, &user)
	}

	return users, rows.Err()
}

// ==== ConversationStore implementation ====

// DirectKey builds the canonical dedup key for a direct conversation.
func DirectKey(user1ID, user2ID int64) string {
	if user1ID > user2ID {
		user1ID, user2ID = user2ID, user1ID
	}
	return fmt.Sprintf("dm:%d:%d", user1ID, user2ID)
}

// FindOrCreateDirectConversation returns the direct conversation for the
// unordered user pair, creating it (with both memberships) if absent.
func (s *SQLiteStore) FindOrCreateDirectConversation(ctx context.Context, user1ID, user2ID int64) (*store.Conversation, bool, error) {
	directKey := DirectKey(user1ID, user2ID)

	conv, err := s.getConversationByDirectKey(ctx, directKey)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("check existing conversation: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	query := `
		INSERT INTO conversations (type, direct_key, created_at, updated_at)
		VALUES ('direct', ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, query, directKey, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("insert conversation: %w", err)
	}

	convID, err := result.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("get last insert id: %w", err)
	}

	memberQuery := `
		INSERT INTO conversation_members (conversation_id, user_id, joined_at)
		VALUES (?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, memberQuery, convID, user1ID, now); err != nil {
		return nil, false, fmt.Errorf("add member %d: %w", user1ID, err)
	}
	if _, err := tx.ExecContext(ctx, memberQuery, convID, user2ID, now); err != nil {
		return nil, false, fmt.Errorf("add member %d: %w", user2ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit transaction: %w", err)
	}

	conv, err = s.GetConversationByID(ctx, convID)
	if err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

// GetConversationByID retrieves a conversation by ID.
func (s *SQLiteStore) GetConversationByID(ctx context.Context, id int64) (*store.Conversation, error) {
	query := `
		SELECT id, type, direct_key, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStore) getConversationByDirectKey(ctx context.Context, directKey string) (*store.Conversation, error) {
	query := `
		SELECT id, type, direct_key, created_at, updated_at
		FROM conversations
		WHERE direct_key = ?
	`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, directKey))
}

func (s *SQLiteStore) scanConversation(row *sql.Row) (*store.Conversation, error) {
	var conv store.Conversation
	var directKey sql.NullString
	err := row.Scan(
		&conv.ID,
		&conv.Type,
		&directKey,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	if directKey.Valid {
		conv.DirectKey = &directKey.String
	}

	return &conv, nil
}

// IsMember checks if user is a member of the conversation.
func (s *SQLiteStore) IsMember(ctx context.Context, conversationID, userID int64) (bool, error) {
	query := `
		SELECT 1 FROM conversation_members
		WHERE conversation_id = ? AND user_id = ?
	`
	var exists int
	err := s.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query membership: %w", err)
	}

	return true, nil
}

// ListMemberIDs lists all member user IDs of a conversation.
func (s *SQLiteStore) ListMemberIDs(ctx context.Context, conversationID int64) ([]int64, error) {
	query := `
		SELECT user_id FROM conversation_members
		WHERE conversation_id = ?
		ORDER BY joined_at ASC, user_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var members []int64
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, userID)
	}

	return members, rows.Err()
}

// ListPeerIDs lists the distinct other users sharing at least one
// conversation with the given user.
func (s *SQLiteStore) ListPeerIDs(ctx context.Context, userID int64) ([]int64, error) {
	query := `
		SELECT DISTINCT cm2.user_id
		FROM conversation_members cm1
		JOIN conversation_members cm2 ON cm1.conversation_id = cm2.conversation_id
		WHERE cm1.user_id = ? AND cm2.user_id <> ?
		ORDER BY cm2.user_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query peers: %w", err)
	}
	defer rows.Close()

	var peers []int64
	for rows.Next() {
		var peerID int64
		if err := rows.Scan(&peerID); err != nil {
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		peers = append(peers, peerID)
	}

	return peers, rows.Err()
}

// ListConversationsForUser lists the user's conversations ordered by recency,
// enriched with members, last message and unread count.
func (s *SQLiteStore) ListConversationsForUser(ctx context.Context, userID int64, page, limit int) ([]*store.ConversationSummary, int, error) {
	page, limit = normalizePage(page, limit)

	var total int
	countQuery := `SELECT COUNT(*) FROM conversation_members WHERE user_id = ?`
	if err := s.db.QueryRowContext(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}

	query := `
		SELECT c.id, c.type, c.direct_key, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_members cm ON cm.conversation_id = c.id
		WHERE cm.user_id = ?
		ORDER BY c.updated_at DESC, c.id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	summaries := []*store.ConversationSummary{}
	for rows.Next() {
		var conv store.Conversation
		var directKey sql.NullString
		if err := rows.Scan(&conv.ID, &conv.Type, &directKey, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan conversation: %w", err)
		}
		if directKey.Valid {
			conv.DirectKey = &directKey.String
		}
		summaries = append(summaries, &store.ConversationSummary{Conversation: conv})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for _, summary := range summaries {
		if err := s.enrichSummary(ctx, summary, userID); err != nil {
			return nil, 0, err
		}
	}

	return summaries, total, nil
}

func (s *SQLiteStore) enrichSummary(ctx context.Context, summary *store.ConversationSummary, userID int64) error {
	memberQuery := `
		SELECT u.id, u.username, u.display_name, u.avatar_url, u.is_online, u.last_seen, cm.last_read_at
		FROM conversation_members cm
		JOIN users u ON u.id = cm.user_id
		WHERE cm.conversation_id = ?
		ORDER BY cm.joined_at ASC, u.id ASC
	`
	rows, err := s.db.QueryContext(ctx, memberQuery, summary.ID)
	if err != nil {
		return fmt.Errorf("query conversation members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m store.MemberInfo
		var lastReadAt sql.NullTime
		if err := rows.Scan(&m.UserID, &m.Username, &m.DisplayName, &m.AvatarURL, &m.IsOnline, &m.LastSeen, &lastReadAt); err != nil {
			return fmt.Errorf("scan conversation member: %w", err)
		}
		if lastReadAt.Valid {
			m.LastReadAt = &lastReadAt.Time
		}
		summary.Members = append(summary.Members, m)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	lastQuery := `
		SELECT m.id, m.conversation_id, m.sender_id, m.content, m.created_at, u.display_name, u.avatar_url
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = ?
		ORDER BY m.id DESC
		LIMIT 1
	`
	var last store.MessageWithSender
	err = s.db.QueryRowContext(ctx, lastQuery, summary.ID).Scan(
		&last.ID,
		&last.ConversationID,
		&last.SenderID,
		&last.Content,
		&last.CreatedAt,
		&last.SenderName,
		&last.SenderAvatar,
	)
	switch {
	case err == nil:
		summary.LastMessage = &last
	case errors.Is(err, sql.ErrNoRows):
		// empty conversation
	default:
		return fmt.Errorf("query last message: %w", err)
	}

	unread, err := s.UnreadCount(ctx, summary.ID, userID)
	if err != nil {
		return err
	}
	summary.UnreadCount = unread

	return nil
}

// ==== MessageStore implementation ====

// CreateMessage persists a message and bumps the parent conversation's
// updated_at in the same transaction.
func (s *SQLiteStore) CreateMessage(ctx context.Context, conversationID, senderID int64, content string) (*store.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	query := `
		INSERT INTO messages (conversation_id, sender_id, content, created_at)
		VALUES (?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, query, conversationID, senderID, content, now)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	touchQuery := `UPDATE conversations SET updated_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, touchQuery, now, conversationID); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return &store.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      now,
	}, nil
}

// GetMessageByID retrieves a message by ID.
func (s *SQLiteStore) GetMessageByID(ctx context.Context, id int64) (*store.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, content, created_at
		FROM messages
		WHERE id = ?
	`
	var msg store.Message
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.Content,
		&msg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}

	return &msg, nil
}

// ListMessages returns a chronological page of a conversation's messages.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID int64, page, limit int) ([]*store.MessageWithSender, int, error) {
	page, limit = normalizePage(page, limit)

	total, err := s.CountMessages(ctx, conversationID)
	if err != nil {
		return nil, 0, err
	}

	query := `
		SELECT m.id, m.conversation_id, m.sender_id, m.content, m.created_at, u.display_name, u.avatar_url
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = ?
		ORDER BY m.id ASC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessagesWithSender(rows)
	if err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

// CountMessages counts all messages in a conversation.
func (s *SQLiteStore) CountMessages(ctx context.Context, conversationID int64) (int, error) {
	query := `SELECT COUNT(*) FROM messages WHERE conversation_id = ?`
	var count int
	if err := s.db.QueryRowContext(ctx, query, conversationID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// CountReadByUser counts the user's read markers in a conversation.
func (s *SQLiteStore) CountReadByUser(ctx context.Context, conversationID, userID int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM read_markers rm
		JOIN messages m ON m.id = rm.message_id
		WHERE m.conversation_id = ? AND rm.user_id = ?
	`
	var count int
	if err := s.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count read markers: %w", err)
	}
	return count, nil
}

// UnreadCount counts messages authored by others that the user has no read
// marker for. A user's own messages never count as unread for them.
func (s *SQLiteStore) UnreadCount(ctx context.Context, conversationID, userID int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages m
		WHERE m.conversation_id = ?
		  AND m.sender_id <> ?
		  AND NOT EXISTS (
			SELECT 1 FROM read_markers rm
			WHERE rm.message_id = m.id AND rm.user_id = ?
		  )
	`
	var count int
	if err := s.db.QueryRowContext(ctx, query, conversationID, userID, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

// UpsertReadMarker records that the user read the message.
func (s *SQLiteStore) UpsertReadMarker(ctx context.Context, messageID, userID int64, readAt time.Time) error {
	query := `
		INSERT INTO read_markers (message_id, user_id, read_at)
		VALUES (?, ?, ?)
		ON CONFLICT (message_id, user_id) DO UPDATE SET read_at = excluded.read_at
	`
	if _, err := s.db.ExecContext(ctx, query, messageID, userID, readAt.UTC()); err != nil {
		return fmt.Errorf("upsert read marker: %w", err)
	}
	return nil
}

// MarkConversationRead marks every message in the conversation read for the
// user and advances the member's last_read_at.
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, conversationID, userID int64, readAt time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	markQuery := `
		INSERT OR IGNORE INTO read_markers (message_id, user_id, read_at)
		SELECT id, ?, ? FROM messages WHERE conversation_id = ?
	`
	result, err := tx.ExecContext(ctx, markQuery, userID, readAt.UTC(), conversationID)
	if err != nil {
		return 0, fmt.Errorf("insert read markers: %w", err)
	}

	marked, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	memberQuery := `
		UPDATE conversation_members SET last_read_at = ?
		WHERE conversation_id = ? AND user_id = ?
	`
	if _, err := tx.ExecContext(ctx, memberQuery, readAt.UTC(), conversationID, userID); err != nil {
		return 0, fmt.Errorf("update last_read_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	return int(marked), nil
}

// SearchMessages finds messages across the user's conversations whose content
// case-insensitively contains the query, newest first.
func (s *SQLiteStore) SearchMessages(ctx context.Context, userID int64, query string, page, limit int) ([]*store.MessageWithSender, int, error) {
	page, limit = normalizePage(page, limit)

	// LIKE is case-insensitive for ASCII under the default collation.
	where := `
		m.conversation_id IN (SELECT conversation_id FROM conversation_members WHERE user_id = ?)
		AND m.content LIKE '%' || ? || '%'
	`

	var total int
	countQuery := `SELECT COUNT(*) FROM messages m WHERE ` + where
	if err := s.db.QueryRowContext(ctx, countQuery, userID, query).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count search results: %w", err)
	}

	listQuery := `
		SELECT m.id, m.conversation_id, m.sender_id, m.content, m.created_at, u.display_name, u.avatar_url
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE ` + where + `
		ORDER BY m.id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, listQuery, userID, query, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("query search results: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessagesWithSender(rows)
	if err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

func scanMessagesWithSender(rows *sql.Rows) ([]*store.MessageWithSender, error) {
	messages := []*store.MessageWithSender{}
	for rows.Next() {
		var msg store.MessageWithSender
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.SenderID,
			&msg.Content,
			&msg.CreatedAt,
			&msg.SenderName,
			&msg.SenderAvatar,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}
