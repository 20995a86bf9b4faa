package service

import (
	"context"
	"encoding/json"
	"time"

	"mcstore/internal/models"
	"mcstore/internal/pluginclient"
	"mcstore/internal/store"

	"github.com/shopspring/decimal"
)

// OrderStore is the persistence the order flow needs
type OrderStore interface {
	GetProductsByIDs(ctx context.Context, ids []string) ([]models.Product, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderByPaymentIntent(ctx context.Context, paymentID string) (*models.Order, error)
	GetOrdersByUserID(ctx context.Context, userID string, limit, offset int) ([]models.Order, int, error)
	SetPaymentIntent(ctx context.Context, orderID, paymentID string) error
	FailOrder(ctx context.Context, orderID, reason string) error
	CancelOrder(ctx context.Context, orderID, userID string) error
	FulfillOrder(ctx context.Context, orderID string) (*models.Order, error)
}

// UserStore is the persistence for accounts
type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	SetResetToken(ctx context.Context, userID, tokenHash string, expire time.Time) error
	ResetPassword(ctx context.Context, userID, passwordHash string) error
	SetMinecraftLink(ctx context.Context, userID, uuid, playerName string, verified bool) error
	SetAdmin(ctx context.Context, userID string, isAdmin int) error
	UpdateUser(ctx context.Context, u *models.User) error
	DeleteUser(ctx context.Context, userID string) error
}

// CatalogStore is the persistence for products and categories
type CatalogStore interface {
	GetProducts(ctx context.Context) ([]models.Product, error)
	GetProductByID(ctx context.Context, id string) (*models.Product, error)
	CreateProduct(ctx context.Context, p *models.Product) error
	UpdateProduct(ctx context.Context, p *models.Product) error
	DeleteProduct(ctx context.Context, id string) error
	GetCategories(ctx context.Context) ([]models.Category, error)
	GetCategoryByID(ctx context.Context, id string) (*models.Category, error)
	CreateCategory(ctx context.Context, c *models.Category) error
	UpdateCategory(ctx context.Context, c *models.Category) error
	DeleteCategory(ctx context.Context, id string) error
}

// ChatStore is the persistence for chat sessions and messages
type ChatStore interface {
	MutateChatSession(ctx context.Context, sessionID string, fn store.ChatMutation) (*models.ChatSession, *models.ChatMessage, error)
	GetChatMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error)
	ListChatSessions(ctx context.Context) ([]models.ChatSessionSummary, error)
}

// StatsStore is the persistence for server stats and dashboard counts
type StatsStore interface {
	UpsertServerStats(ctx context.Context, stats *models.ServerStats) error
	GetServerStats(ctx context.Context) (*models.ServerStats, error)
	CountUsers(ctx context.Context) (int, error)
	CountProducts(ctx context.Context) (int, error)
	CountOrders(ctx context.Context) (int, error)
	CountOrdersByStatus(ctx context.Context) (map[string]int, error)
	CountRegistrationsSince(ctx context.Context, since time.Time) ([]models.DailyCount, error)
	GetDailyNewPlayers(ctx context.Context, since time.Time) ([]models.DailyCount, error)
}

// Checkouts guards repeated checkout submissions
type Checkouts interface {
	GetIdempotencyKey(ctx context.Context, key string) (string, bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// RateCache caches exchange rates per base currency
type RateCache interface {
	GetRates(ctx context.Context, base string) (map[string]float64, bool, error)
	SetRates(ctx context.Context, base string, rates map[string]float64, ttl time.Duration) error
}

// RateLimiter counts hits per key in a fixed window
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
}

// Deliverer hands a purchased product to the player
type Deliverer interface {
	Deliver(ctx context.Context, orderID, userID, productID string) error
}

// PayPalGateway creates and captures remote payments
type PayPalGateway interface {
	CreatePayment(ctx context.Context, amount decimal.Decimal, currency, description, orderID string) (*models.PaymentLink, error)
	ExecutePayment(ctx context.Context, paymentID, payerID string) (*models.CapturedPayment, error)
}

// Plugin is the Minecraft plugin webhook
type Plugin interface {
	Configured() bool
	ExecuteCommand(ctx context.Context, command string, player pluginclient.PlayerContext) error
	PlayerStats(ctx context.Context, uuid string) (json.RawMessage, error)
	SendVerificationCode(ctx context.Context, username string) error
	VerifyCode(ctx context.Context, username, code string) (string, error)
}

// EventPublisher emits domain events
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error
	PublishChatSessionEvent(ctx context.Context, event *models.ChatSessionEvent) error
}

// TokenIssuer signs session tokens
type TokenIssuer interface {
	Sign(userID string, isAdmin int) (string, error)
}

// PasswordHasher hashes and checks passwords
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) bool
}

// ResetMailer sends password reset links
type ResetMailer interface {
	SendPasswordReset(ctx context.Context, to, username, token string) error
}

// Converter converts money between currencies
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error)
}
