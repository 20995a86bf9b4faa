package api

import (
	"context"
	"encoding/json"

	"mcstore/internal/auth"
	"mcstore/internal/models"
	"mcstore/internal/service"
)

// OrderAPI is the checkout flow
type OrderAPI interface {
	CreateOrder(ctx context.Context, userID string, req *service.CreateOrderRequest) (*service.CreateOrderResult, error)
	ExecutePayment(ctx context.Context, paymentID, payerID string) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID, userID string) error
	GetOrder(ctx context.Context, orderID, userID string) (*models.Order, error)
	ListUserOrders(ctx context.Context, userID string, page, limit int) (*service.OrderPage, error)
}

// ChatAPI is the support chat
type ChatAPI interface {
	History(ctx context.Context, actor *models.User, targetUserID, guestID string) ([]models.ChatMessage, error)
	SendMessage(ctx context.Context, actor *models.User, req *service.SendMessageRequest) (*models.ChatMessage, error)
	Claim(ctx context.Context, admin *models.User, sessionID string) (*models.ChatSession, error)
	Close(ctx context.Context, admin *models.User, sessionID string) (*models.ChatSession, error)
	Sessions(ctx context.Context) ([]models.ChatSessionSummary, error)
	NewGuestID() string
}

// UserAPI is accounts, Minecraft linking and user administration
type UserAPI interface {
	Register(ctx context.Context, username, email, password string) (*service.AuthResult, error)
	Login(ctx context.Context, identifier, password string) (*service.AuthResult, error)
	Profile(ctx context.Context, userID string) (*models.UserResponse, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, password string) error
	SendVerificationCode(ctx context.Context, minecraftUsername string) error
	VerifyMinecraftLink(ctx context.Context, userID, minecraftUsername, code string) (*models.UserResponse, error)
	UnlinkMinecraft(ctx context.Context, userID string) (*models.UserResponse, error)
	PlayerStats(ctx context.Context, userID string) (json.RawMessage, error)
	ListUsers(ctx context.Context) ([]models.UserResponse, error)
	GetUser(ctx context.Context, userID string) (*models.UserResponse, error)
	SetAdmin(ctx context.Context, userID string, isAdmin int) error
	UpdateUser(ctx context.Context, userID string, in *service.UserUpdate) (*models.UserResponse, error)
	DeleteUser(ctx context.Context, userID string) error
}

// CatalogAPI is the storefront catalog
type CatalogAPI interface {
	ProductsByCategory(ctx context.Context) (map[string][]models.Product, error)
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	CreateProduct(ctx context.Context, in *service.ProductInput) (*models.Product, error)
	UpdateProduct(ctx context.Context, id string, in *service.ProductInput) (*models.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	Categories(ctx context.Context) ([]models.Category, error)
	CreateCategory(ctx context.Context, in *service.CategoryInput) (*models.Category, error)
	UpdateCategory(ctx context.Context, id string, in *service.CategoryInput) (*models.Category, error)
	DeleteCategory(ctx context.Context, id string) error
}

// ServerAPI is plugin-pushed server stats and the admin dashboard
type ServerAPI interface {
	UpdateStats(ctx context.Context, in *service.StatsUpdate) error
	Stats(ctx context.Context) (*models.ServerStats, error)
	PublicStats(ctx context.Context) (*models.ServerStats, error)
	Dashboard(ctx context.Context) (*service.Dashboard, error)
	RegistrationTrends(ctx context.Context) ([]models.TrendPoint, error)
	NewPlayerTrends(ctx context.Context) ([]models.TrendPoint, error)
}

// TokenParser verifies session tokens
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// UserLoader loads the authenticated user for each request
type UserLoader interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// Pinger is a dependency checked by the readiness endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}
