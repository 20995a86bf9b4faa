package api

import (
	"net/http"
	"strconv"

	"mcstore/internal/service"

	"github.com/gin-gonic/gin"
)

// createOrder handles checkout submissions
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	result, err := h.Orders.CreateOrder(c.Request.Context(), currentUser(c).ID, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	code := http.StatusCreated
	if result.Replayed {
		code = http.StatusOK
	}
	payload := gin.H{
		"orderId": result.Order.ID,
		"order":   result.Order,
	}
	if result.PaymentURL != "" {
		payload["paymentUrl"] = result.PaymentURL
	}
	if result.Replayed {
		payload["replayed"] = true
	}
	respondOK(c, code, payload)
}

// executePayment finalises a PayPal approval. PayPal's orders API redirects back
// with the order id in the token parameter.
func (h *Handler) executePayment(c *gin.Context) {
	paymentID := c.Query("paymentId")
	if paymentID == "" {
		paymentID = c.Query("token")
	}

	order, err := h.Orders.ExecutePayment(c.Request.Context(), paymentID, c.Query("PayerID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{
		"message": "Payment executed successfully",
		"order":   order,
	})
}

func (h *Handler) myOrders(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	result, err := h.Orders.ListUserOrders(c.Request.Context(), currentUser(c).ID, page, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{
		"count":  result.Count,
		"page":   result.Page,
		"pages":  result.Pages,
		"orders": result.Orders,
	})
}

func (h *Handler) cancelOrder(c *gin.Context) {
	var req struct {
		OrderID string `json:"orderId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	if err := h.Orders.CancelOrder(c.Request.Context(), req.OrderID, currentUser(c).ID); err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"message": "Order cancelled successfully"})
}

// getOrder handles fetching a single order owned by the caller
func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.Orders.GetOrder(c.Request.Context(), c.Param("id"), currentUser(c).ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"order": order})
}
