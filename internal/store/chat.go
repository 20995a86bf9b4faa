package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"mcstore/internal/models"

	"github.com/jmoiron/sqlx"
)

// ChatMutation decides the next session state. It receives the locked session
// (a fresh active session when exists is false) and returns the message to append,
// or nil to leave the session untouched.
type ChatMutation func(sess *models.ChatSession, exists bool) (*models.ChatMessage, error)

var errSessionRace = errors.New("chat session created concurrently")

// MutateChatSession locks the session row, applies fn and persists the resulting
// session state together with the appended message. The message carries a snapshot
// of the session status and claim at write time.
func (s *Store) MutateChatSession(ctx context.Context, sessionID string, fn ChatMutation) (*models.ChatSession, *models.ChatMessage, error) {
	for attempt := 0; ; attempt++ {
		sess, msg, err := s.mutateChatSession(ctx, sessionID, fn)
		if errors.Is(err, errSessionRace) && attempt == 0 {
			continue
		}
		return sess, msg, err
	}
}

func (s *Store) mutateChatSession(ctx context.Context, sessionID string, fn ChatMutation) (*models.ChatSession, *models.ChatMessage, error) {
	var (
		sess models.ChatSession
		msg  *models.ChatMessage
	)

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		exists := true
		err := tx.GetContext(ctx, &sess, "SELECT * FROM chat_sessions WHERE session_id = $1 FOR UPDATE", sessionID)
		if errors.Is(err, sql.ErrNoRows) {
			exists = false
			sess = models.ChatSession{SessionID: sessionID, Status: models.ChatStatusActive}
		} else if err != nil {
			return err
		}

		msg, err = fn(&sess, exists)
		if err != nil || msg == nil {
			return err
		}

		now := time.Now().UTC()
		msg.SessionID = sessionID
		msg.Status = sess.Status
		msg.ClaimedBy = sess.ClaimedBy
		msg.ClaimedByUsername = sess.ClaimedByUsername
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		sess.LastMessage = msg.Message
		sess.LastMessageAt = &msg.CreatedAt
		sess.UpdatedAt = now

		if exists {
			_, err = tx.NamedExecContext(ctx, `
				UPDATE chat_sessions SET status = :status, claimed_by = :claimed_by,
					claimed_by_username = :claimed_by_username, last_message = :last_message,
					last_message_at = :last_message_at, updated_at = :updated_at
				WHERE session_id = :session_id`, &sess)
			if err != nil {
				return err
			}
		} else {
			sess.CreatedAt = now
			res, err := tx.NamedExecContext(ctx, `
				INSERT INTO chat_sessions (session_id, status, claimed_by, claimed_by_username,
					last_message, last_message_at, created_at, updated_at)
				VALUES (:session_id, :status, :claimed_by, :claimed_by_username,
					:last_message, :last_message_at, :created_at, :updated_at)
				ON CONFLICT (session_id) DO NOTHING`, &sess)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return errSessionRace
			}
		}

		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO chat_messages (id, session_id, message, sender, status, claimed_by, claimed_by_username, created_at)
			VALUES (:id, :session_id, :message, :sender, :status, :claimed_by, :claimed_by_username, :created_at)`, msg)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &sess, msg, nil
}

// GetChatMessages returns a session's messages in chronological order
func (s *Store) GetChatMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	messages := []models.ChatMessage{}
	err := s.db.SelectContext(ctx, &messages,
		"SELECT * FROM chat_messages WHERE session_id = $1 ORDER BY created_at ASC", sessionID)
	return messages, err
}

// ListChatSessions returns every session with the owning username, most recent activity first
func (s *Store) ListChatSessions(ctx context.Context) ([]models.ChatSessionSummary, error) {
	sessions := []models.ChatSessionSummary{}
	err := s.db.SelectContext(ctx, &sessions, `
		SELECT s.*, COALESCE(u.username, '') AS username, (u.id IS NULL) AS is_guest
		FROM chat_sessions s
		LEFT JOIN users u ON u.id = s.session_id
		ORDER BY s.last_message_at DESC NULLS LAST`)
	return sessions, err
}
