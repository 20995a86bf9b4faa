package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"mcstore/internal/service"
	"mcstore/internal/util"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Deps are the collaborators the HTTP layer is built from
type Deps struct {
	Orders  OrderAPI
	Chat    ChatAPI
	Users   UserAPI
	Catalog CatalogAPI
	Server  ServerAPI

	Tokens     TokenParser
	UserLoader UserLoader
	Readiness  map[string]Pinger

	StatsSecret    string
	AllowedOrigins []string
	// AuthRate limits login, register and password reset per client IP
	AuthRate  rate.Limit
	AuthBurst int
}

// Handler contains HTTP handlers
type Handler struct {
	Deps
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Deps) *Handler {
	if deps.AuthRate == 0 {
		deps.AuthRate = rate.Every(6 * time.Second)
	}
	if deps.AuthBurst == 0 {
		deps.AuthBurst = 10
	}
	return &Handler{Deps: deps, logger: util.GetLogger()}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.logger))
	router.Use(cors.New(h.corsConfig()))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	protect := Protect(h.Tokens, h.UserLoader)
	admin := []gin.HandlerFunc{protect, AuthorizeAdmin()}
	authLimit := RateLimit(h.AuthRate, h.AuthBurst)

	v1 := router.Group("/api/v1")

	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/register", authLimit, h.register)
		authGroup.POST("/login", authLimit, h.login)
		authGroup.POST("/forgot-password", authLimit, h.forgotPassword)
		authGroup.POST("/reset-password", authLimit, h.resetPassword)
		authGroup.GET("/me", protect, h.me)
		authGroup.POST("/send-verification-code", protect, h.sendVerificationCode)
		authGroup.POST("/verify-minecraft-link", protect, h.verifyMinecraftLink)
		authGroup.PUT("/unlink-minecraft", protect, h.unlinkMinecraft)
	}
	v1.POST("/player-stats", protect, h.playerStats)

	v1.GET("/products", h.listProducts)
	v1.GET("/products/:id", h.getProduct)

	orders := v1.Group("/orders", protect)
	{
		orders.POST("", h.createOrder)
		orders.GET("/execute", h.executePayment)
		orders.GET("/my-orders", h.myOrders)
		orders.POST("/cancel", h.cancelOrder)
		orders.GET("/:id", h.getOrder)
	}

	chat := v1.Group("/chat")
	{
		identify := IdentifyUser(h.Tokens, h.UserLoader)
		chat.POST("/guest", h.newGuestSession)
		chat.GET("/history", identify, h.chatHistory)
		chat.POST("/send", identify, h.sendMessage)
		chat.GET("/sessions", append(admin, h.chatSessions)...)
		chat.POST("/claim", append(admin, h.claimChat)...)
		chat.POST("/close", append(admin, h.closeChat)...)
	}

	adminGroup := v1.Group("/admin", admin...)
	{
		adminGroup.GET("/dashboard", h.dashboard)
		adminGroup.GET("/trends/registrations", h.registrationTrends)
		adminGroup.GET("/trends/new-players", h.newPlayerTrends)
		adminGroup.GET("/users", h.listUsers)
		adminGroup.GET("/users/:id", h.getUser)
		adminGroup.PUT("/users/:id", h.updateUser)
		adminGroup.PUT("/users/:id/admin-status", h.setAdminStatus)
		adminGroup.DELETE("/users/:id", h.deleteUser)

		adminGroup.POST("/products", h.createProduct)
		adminGroup.PUT("/products/:id", h.updateProduct)
		adminGroup.DELETE("/products/:id", h.deleteProduct)

		adminGroup.GET("/categories", h.listCategories)
		adminGroup.POST("/categories", h.createCategory)
		adminGroup.PUT("/categories/:id", h.updateCategory)
		adminGroup.DELETE("/categories/:id", h.deleteCategory)
	}

	server := v1.Group("/server")
	{
		server.GET("/stats", append(admin, h.serverStats)...)
		server.GET("/public-stats", h.publicStats)
		server.POST("/stats", VerifySecretKey(h.StatsSecret), h.updateServerStats)
	}
}

func (h *Handler) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", "Idempotency-Key"},
		ExposeHeaders: []string{"Content-Length", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(h.AllowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = h.AllowedOrigins
		cfg.AllowCredentials = true
	}
	return cfg
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true
	for name, p := range h.Readiness {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = "down"
			ready = false
			continue
		}
		checks[name] = "up"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// respondOK writes the success envelope merged with payload
func respondOK(c *gin.Context, code int, payload gin.H) {
	body := gin.H{"success": true}
	for k, v := range payload {
		body[k] = v
	}
	c.JSON(code, body)
}

func respondMessage(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"success": false, "message": message})
}

func badRequest(c *gin.Context, message string) {
	respondMessage(c, http.StatusBadRequest, message)
}

// respondError maps service errors onto HTTP statuses. Unclassified errors are
// logged and reported as a generic 500.
func (h *Handler) respondError(c *gin.Context, err error) {
	status := statusFor(err)

	message := http.StatusText(status)
	var svcErr *service.Error
	switch {
	case errors.As(err, &svcErr):
		message = svcErr.Message
	case status != http.StatusInternalServerError:
		message = publicMessage(err)
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
		if svcErr == nil && status == http.StatusInternalServerError {
			message = "Server error"
		}
	}
	respondMessage(c, status, message)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrInvalidPaymentMethod),
		errors.Is(err, service.ErrOrderNotPending),
		errors.Is(err, service.ErrOutOfStock),
		errors.Is(err, service.ErrPaymentMismatch),
		errors.Is(err, service.ErrEmailExists),
		errors.Is(err, service.ErrUsernameExists),
		errors.Is(err, service.ErrInvalidResetToken),
		errors.Is(err, service.ErrPluginRejected):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthorized),
		errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden),
		errors.Is(err, service.ErrSessionClaimedByOther):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrMinecraftNotLinked):
		return http.StatusNotFound
	case errors.Is(err, service.ErrSessionClaimed),
		errors.Is(err, service.ErrPaymentProcessed),
		errors.Is(err, service.ErrCheckoutInProgress):
		return http.StatusConflict
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrCurrencyConversion),
		errors.Is(err, service.ErrPaymentGateway):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrPluginUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return 499
	}
	return http.StatusInternalServerError
}

// publicMessage is the client text for a classified error that carries no service message
func publicMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrCurrencyConversion):
		return "Could not process currency conversion."
	case errors.Is(err, service.ErrPaymentGateway):
		return "Payment gateway error."
	case errors.Is(err, service.ErrInvalidPaymentMethod):
		return "Invalid payment method"
	case errors.Is(err, service.ErrNotFound):
		return "Not found"
	case errors.Is(err, context.Canceled):
		return "Request cancelled"
	}
	return "Request failed"
}
