package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mcstore/internal/models"
	"mcstore/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxChatMessageLength = 2000
	maxGuestIDLength     = 64
	guestPrefix          = "guest-"
)

// ChatService manages chat sessions between players, guests and admins
type ChatService struct {
	store       ChatStore
	limiter     RateLimiter
	events      EventPublisher
	guestLimit  int
	guestWindow time.Duration
	logger      *zap.Logger
}

// NewChatService creates a new chat service. limiter may be nil to disable guest rate limiting.
func NewChatService(store ChatStore, limiter RateLimiter, events EventPublisher, guestLimit int, guestWindow time.Duration) *ChatService {
	return &ChatService{
		store:       store,
		limiter:     limiter,
		events:      events,
		guestLimit:  guestLimit,
		guestWindow: guestWindow,
		logger:      util.GetLogger(),
	}
}

// SendMessageRequest is a chat message submission. UserID targets a session for admin
// replies and GuestID identifies unauthenticated senders.
type SendMessageRequest struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
	GuestID string `json:"guestId"`
}

// History returns a session's messages oldest first. Admins may read any session via
// targetUserID, users read their own and guests read theirs by guestID.
func (cs *ChatService) History(ctx context.Context, actor *models.User, targetUserID, guestID string) ([]models.ChatMessage, error) {
	ctx, span := util.StartSpan(ctx, "ChatService.History")
	defer span.End()

	var sessionID string
	switch {
	case actor.Admin() && targetUserID != "":
		sessionID = targetUserID
	case actor != nil:
		sessionID = actor.ID
	default:
		sessionID = guestID
	}
	if sessionID == "" {
		return nil, newError(ErrInvalidInput, "User or guest ID is required.")
	}
	if actor == nil && !ValidGuestID(sessionID) {
		return nil, newError(ErrInvalidInput, "Invalid guest ID.")
	}

	messages, err := cs.store.GetChatMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}
	return messages, nil
}

// SendMessage appends a message to the sender's session. A user message on a closed
// session reopens it and clears the claim; admin messages never reopen.
func (cs *ChatService) SendMessage(ctx context.Context, actor *models.User, req *SendMessageRequest) (*models.ChatMessage, error) {
	ctx, span := util.StartSpan(ctx, "ChatService.SendMessage")
	defer span.End()

	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, newError(ErrInvalidInput, "Message content cannot be empty.")
	}
	if len(text) > maxChatMessageLength {
		return nil, newError(ErrInvalidInput, "Message is too long.")
	}

	var sender, sessionID string
	switch {
	case actor.Admin():
		sender, sessionID = models.SenderAdmin, req.UserID
		if sessionID == "" {
			return nil, newError(ErrInvalidInput, "Target user ID is required for admin replies.")
		}
	case actor != nil:
		sender, sessionID = models.SenderUser, actor.ID
	default:
		sender, sessionID = models.SenderUser, req.GuestID
		if sessionID == "" {
			return nil, newError(ErrInvalidInput, "Guest ID is required for unauthenticated users.")
		}
		if !ValidGuestID(sessionID) {
			return nil, newError(ErrInvalidInput, "Invalid guest ID.")
		}
		if err := cs.checkGuestRate(ctx, sessionID); err != nil {
			return nil, err
		}
	}

	reopened := false
	sess, msg, err := cs.store.MutateChatSession(ctx, sessionID, func(sess *models.ChatSession, exists bool) (*models.ChatMessage, error) {
		if sender == models.SenderUser && sess.Status == models.ChatStatusClosed {
			sess.Status = models.ChatStatusActive
			sess.ClaimedBy = nil
			sess.ClaimedByUsername = nil
			reopened = true
		}
		return &models.ChatMessage{
			ID:      uuid.New().String(),
			Message: text,
			Sender:  sender,
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	util.ChatMessagesTotal.WithLabelValues(sender).Inc()
	if reopened {
		util.ChatTransitionsTotal.WithLabelValues("reopen").Inc()
		cs.logger.Info("Chat session reopened by user", zap.String("session_id", sessionID))
		cs.publish(ctx, models.EventTypeChatSessionReopen, sess, "")
	}
	return msg, nil
}

// Claim assigns the session to admin. A session claimed by another admin is left untouched.
func (cs *ChatService) Claim(ctx context.Context, admin *models.User, sessionID string) (*models.ChatSession, error) {
	ctx, span := util.StartSpan(ctx, "ChatService.Claim")
	defer span.End()

	if sessionID == "" {
		return nil, newError(ErrInvalidInput, "Session user ID is required to claim a chat.")
	}

	sess, _, err := cs.store.MutateChatSession(ctx, sessionID, func(sess *models.ChatSession, exists bool) (*models.ChatMessage, error) {
		text := fmt.Sprintf("%s has claimed this chat.", admin.Username)
		if !exists {
			text = fmt.Sprintf("%s has initiated and claimed this chat.", admin.Username)
		} else if sess.ClaimedByOther(admin.ID) {
			return nil, newError(ErrSessionClaimed, "Chat already claimed by %s.", claimerName(sess))
		}

		adminID, adminName := admin.ID, admin.Username
		sess.Status = models.ChatStatusClaimed
		sess.ClaimedBy = &adminID
		sess.ClaimedByUsername = &adminName
		return &models.ChatMessage{
			ID:      uuid.New().String(),
			Message: text,
			Sender:  models.SenderSystem,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	util.ChatTransitionsTotal.WithLabelValues("claim").Inc()
	cs.logger.Info("Chat session claimed",
		zap.String("session_id", sessionID),
		zap.String("admin_id", admin.ID))
	cs.publish(ctx, models.EventTypeChatSessionClaimed, sess, admin.ID)
	return sess, nil
}

// Close ends the session and clears its claim. Only the claiming admin may close a claimed session.
func (cs *ChatService) Close(ctx context.Context, admin *models.User, sessionID string) (*models.ChatSession, error) {
	ctx, span := util.StartSpan(ctx, "ChatService.Close")
	defer span.End()

	if sessionID == "" {
		return nil, newError(ErrInvalidInput, "Session user ID is required to close a chat.")
	}

	sess, _, err := cs.store.MutateChatSession(ctx, sessionID, func(sess *models.ChatSession, exists bool) (*models.ChatMessage, error) {
		if !exists {
			return nil, newError(ErrSessionNotFound, "Chat session not found.")
		}
		if sess.ClaimedByOther(admin.ID) {
			return nil, newError(ErrSessionClaimedByOther,
				"This chat is claimed by %s. Only the claiming admin can close it.", claimerName(sess))
		}

		sess.Status = models.ChatStatusClosed
		sess.ClaimedBy = nil
		sess.ClaimedByUsername = nil
		return &models.ChatMessage{
			ID:      uuid.New().String(),
			Message: fmt.Sprintf("%s has closed this chat.", admin.Username),
			Sender:  models.SenderSystem,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	util.ChatTransitionsTotal.WithLabelValues("close").Inc()
	cs.logger.Info("Chat session closed",
		zap.String("session_id", sessionID),
		zap.String("admin_id", admin.ID))
	cs.publish(ctx, models.EventTypeChatSessionClosed, sess, admin.ID)
	return sess, nil
}

// Sessions lists every session with the owner's username, most recent first
func (cs *ChatService) Sessions(ctx context.Context) ([]models.ChatSessionSummary, error) {
	ctx, span := util.StartSpan(ctx, "ChatService.Sessions")
	defer span.End()

	sessions, err := cs.store.ListChatSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat sessions: %w", err)
	}

	for i := range sessions {
		if sessions[i].IsGuest || sessions[i].Username == "" {
			sessions[i].IsGuest = true
			sessions[i].Username = fmt.Sprintf("Guest (%s)", shortID(sessions[i].SessionID))
		}
	}
	return sessions, nil
}

func (cs *ChatService) checkGuestRate(ctx context.Context, guestID string) error {
	if cs.limiter == nil || cs.guestLimit <= 0 {
		return nil
	}

	allowed, retryAfter, err := cs.limiter.Allow(ctx, "chat:guest:"+guestID, cs.guestLimit, cs.guestWindow)
	if err != nil {
		cs.logger.Warn("Guest chat rate limiter unavailable", zap.Error(err))
		return nil
	}
	if !allowed {
		return newError(ErrRateLimited, "Too many messages. Try again in %d seconds.", int(retryAfter.Seconds())+1)
	}
	return nil
}

func (cs *ChatService) publish(ctx context.Context, eventType string, sess *models.ChatSession, adminID string) {
	event := &models.ChatSessionEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: time.Now().UTC(),
		},
		SessionID: sess.SessionID,
		AdminID:   adminID,
		Status:    sess.Status,
	}
	if err := cs.events.PublishChatSessionEvent(ctx, event); err != nil {
		cs.logger.Error("Failed to publish chat event",
			zap.String("type", eventType),
			zap.Error(err))
	}
}

func claimerName(sess *models.ChatSession) string {
	if sess.ClaimedByUsername != nil && *sess.ClaimedByUsername != "" {
		return *sess.ClaimedByUsername
	}
	return "another admin"
}

// NewGuestID issues a session id for an unauthenticated visitor
func (cs *ChatService) NewGuestID() string {
	return guestPrefix + uuid.New().String()
}

// ValidGuestID reports whether id is in the guest namespace. User ids never carry
// the prefix, so a guest can never address a registered user's session.
func ValidGuestID(id string) bool {
	suffix, ok := strings.CutPrefix(id, guestPrefix)
	if !ok || suffix == "" || len(id) > maxGuestIDLength {
		return false
	}
	for _, r := range suffix {
		if !(r == '-' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			return false
		}
	}
	return true
}

func shortID(id string) string {
	id = strings.TrimPrefix(id, guestPrefix)
	if len(id) > 6 {
		return id[:6]
	}
	return id
}
