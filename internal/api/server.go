package api

import (
	"net/http"

	"mcstore/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

func (h *Handler) serverStats(c *gin.Context) {
	stats, err := h.Server.Stats(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"data": stats})
}

func (h *Handler) publicStats(c *gin.Context) {
	stats, err := h.Server.PublicStats(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"data": stats})
}

// updateServerStats receives the plugin's periodic push. The body was already
// read by VerifySecretKey, so it is bound from the cached copy.
func (h *Handler) updateServerStats(c *gin.Context) {
	var in service.StatsUpdate
	if err := c.ShouldBindBodyWith(&in, binding.JSON); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	if err := h.Server.UpdateStats(c.Request.Context(), &in); err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"message": "Stats updated successfully."})
}
