package api

import (
	"net/http"

	"mcstore/internal/service"

	"github.com/gin-gonic/gin"
)

type sessionRequest struct {
	UserID string `json:"userId"`
}

// newGuestSession hands an unauthenticated visitor the id to chat under
func (h *Handler) newGuestSession(c *gin.Context) {
	respondOK(c, http.StatusCreated, gin.H{"guestId": h.Chat.NewGuestID()})
}

func (h *Handler) chatHistory(c *gin.Context) {
	messages, err := h.Chat.History(c.Request.Context(), currentUser(c), c.Query("userId"), c.Query("guestId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"messages": messages})
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req service.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	msg, err := h.Chat.SendMessage(c.Request.Context(), currentUser(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, gin.H{"message": msg})
}

func (h *Handler) chatSessions(c *gin.Context) {
	sessions, err := h.Chat.Sessions(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) claimChat(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	sess, err := h.Chat.Claim(c.Request.Context(), currentUser(c), req.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{
		"message":           "Chat session claimed successfully.",
		"claimedBy":         sess.ClaimedBy,
		"claimedByUsername": sess.ClaimedByUsername,
		"status":            sess.Status,
	})
}

func (h *Handler) closeChat(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	sess, err := h.Chat.Close(c.Request.Context(), currentUser(c), req.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{
		"message": "Chat session closed successfully.",
		"status":  sess.Status,
	})
}
