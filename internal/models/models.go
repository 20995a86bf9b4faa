package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// User is a registered web account, optionally linked to a Minecraft player
type User struct {
	ID                  string     `db:"id" json:"id"`
	Username            string     `db:"username" json:"username"`
	Email               string     `db:"email" json:"email"`
	Password            string     `db:"password" json:"-"`
	MinecraftUUID       string     `db:"minecraft_uuid" json:"minecraft_uuid"`
	MinecraftUsername   string     `db:"minecraft_username" json:"minecraft_username,omitempty"`
	IsAdmin             int        `db:"is_admin" json:"is_admin"`
	IsVerified          bool       `db:"is_verified" json:"is_verified"`
	ResetPasswordToken  *string    `db:"reset_password_token" json:"-"`
	ResetPasswordExpire *time.Time `db:"reset_password_expire" json:"-"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// Admin reports whether the user carries the admin flag
func (u *User) Admin() bool {
	return u != nil && u.IsAdmin == 1
}

// PlayerName is the in-game name used for command placeholders
func (u *User) PlayerName() string {
	if u.MinecraftUsername != "" {
		return u.MinecraftUsername
	}
	return u.Username
}

// Category groups products in the storefront
type Category struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Product is a storefront item. A nil Stock means unlimited.
type Product struct {
	ID             string          `db:"id" json:"id"`
	Name           string          `db:"name" json:"name"`
	Description    string          `db:"description" json:"description"`
	Price          decimal.Decimal `db:"price" json:"price"`
	Stock          *int            `db:"stock" json:"stock"`
	CategoryID     string          `db:"category_id" json:"category"`
	ImageURL       string          `db:"image_url" json:"imageUrl"`
	InGameCommands pq.StringArray  `db:"in_game_commands" json:"in_game_commands"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderLine is a product snapshot stored on an order
type OrderLine struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// OrderLines is persisted as a JSONB column
type OrderLines []OrderLine

// Value implements driver.Valuer
func (l OrderLines) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner
func (l *OrderLines) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = OrderLines{}
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported order lines type %T", src)
	}
}

// Order is a checkout record
type Order struct {
	ID                string          `db:"id" json:"id"`
	UserID            string          `db:"user_id" json:"userId"`
	Products          OrderLines      `db:"products" json:"products"`
	TotalAmount       decimal.Decimal `db:"total_amount" json:"totalAmount"`
	Currency          string          `db:"currency" json:"currency"`
	ProcessedAmount   decimal.Decimal `db:"processed_amount" json:"processedAmount"`
	ProcessedCurrency string          `db:"processed_currency" json:"processedCurrency"`
	Status            string          `db:"status" json:"status"`
	PaymentMethod     string          `db:"payment_method" json:"paymentMethod"`
	PaymentIntentID   *string         `db:"payment_intent_id" json:"paymentIntentId"`
	FailureReason     *string         `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updatedAt"`
}

// Order statuses. Transitions only ever leave pending.
const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusFailed    = "failed"
	OrderStatusCancelled = "cancelled"
)

// Payment methods accepted at checkout
const (
	PaymentMethodPayPal       = "paypal"
	PaymentMethodCreditCard   = "credit-card"
	PaymentMethodBankTransfer = "bank-transfer"
	PaymentMethodCrypto       = "crypto"
)

// ChatSession is the current state of one conversation thread
type ChatSession struct {
	SessionID         string     `db:"session_id" json:"userId"`
	Status            string     `db:"status" json:"status"`
	ClaimedBy         *string    `db:"claimed_by" json:"claimedBy"`
	ClaimedByUsername *string    `db:"claimed_by_username" json:"claimedByUsername"`
	LastMessage       string     `db:"last_message" json:"lastMessage"`
	LastMessageAt     *time.Time `db:"last_message_at" json:"lastMessageTimestamp"`
	CreatedAt         time.Time  `db:"created_at" json:"-"`
	UpdatedAt         time.Time  `db:"updated_at" json:"-"`
}

// ClaimedByOther reports whether another admin holds the claim
func (s *ChatSession) ClaimedByOther(adminID string) bool {
	return s.Status == ChatStatusClaimed && s.ClaimedBy != nil && *s.ClaimedBy != adminID
}

// ChatSessionSummary is a session row enriched for the admin list
type ChatSessionSummary struct {
	ChatSession
	Username string `db:"username" json:"username"`
	IsGuest  bool   `db:"is_guest" json:"isGuest"`
}

// ChatMessage is one line of a conversation with the session snapshot at write time
type ChatMessage struct {
	ID                string    `db:"id" json:"id"`
	SessionID         string    `db:"session_id" json:"userId"`
	Message           string    `db:"message" json:"message"`
	Sender            string    `db:"sender" json:"sender"`
	Status            string    `db:"status" json:"status"`
	ClaimedBy         *string   `db:"claimed_by" json:"claimedBy"`
	ClaimedByUsername *string   `db:"claimed_by_username" json:"claimedByUsername"`
	CreatedAt         time.Time `db:"created_at" json:"timestamp"`
}

// Chat session statuses
const (
	ChatStatusActive  = "active"
	ChatStatusClaimed = "claimed"
	ChatStatusClosed  = "closed"
)

// Chat senders
const (
	SenderUser   = "user"
	SenderAdmin  = "admin"
	SenderSystem = "system"
)

// ServerStats is the latest snapshot pushed by the Minecraft plugin
type ServerStats struct {
	OnlinePlayers   int        `db:"online_players" json:"onlinePlayers"`
	MaxPlayers      int        `db:"max_players" json:"maxPlayers"`
	NewPlayersToday int        `db:"new_players_today" json:"newPlayersToday"`
	ServerStatus    string     `db:"server_status" json:"serverStatus"`
	LastUpdated     *time.Time `db:"last_updated" json:"lastUpdated"`
}

// DailyCount is one UTC day of a counted series, Day formatted as YYYY-MM-DD
type DailyCount struct {
	Day   string `db:"day"`
	Count int    `db:"count"`
}

// TrendPoint is one day of an admin trend chart
type TrendPoint struct {
	Date  string `json:"date"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// DashboardCounts aggregates admin dashboard numbers
type DashboardCounts struct {
	TotalUsers        int            `json:"totalUsers"`
	TotalProducts     int            `json:"totalProducts"`
	TotalOrders       int            `json:"totalOrders"`
	OrderStatusCounts map[string]int `json:"orderStatusCounts"`
}

// StockShortageError is returned when a line cannot be fulfilled
type StockShortageError struct {
	ProductID string
	Name      string
}

func (e *StockShortageError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s", e.ProductID)
}

// Reason is the customer-facing failure reason stored on the order
func (e *StockShortageError) Reason() string {
	name := e.Name
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("Product %s is out of stock.", name)
}

// UserResponse is the public shape of a user returned by the API
type UserResponse struct {
	ID                string `json:"id"`
	Username          string `json:"username"`
	Email             string `json:"email"`
	IsAdmin           bool   `json:"isAdmin"`
	IsVerified        bool   `json:"isVerified"`
	MinecraftUUID     string `json:"minecraft_uuid"`
	MinecraftUsername string `json:"minecraft_username,omitempty"`
}

// Response converts the user for API output
func (u *User) Response() UserResponse {
	return UserResponse{
		ID:                u.ID,
		Username:          u.Username,
		Email:             u.Email,
		IsAdmin:           u.Admin(),
		IsVerified:        u.IsVerified,
		MinecraftUUID:     u.MinecraftUUID,
		MinecraftUsername: u.MinecraftUsername,
	}
}
