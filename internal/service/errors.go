package service

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrUnauthorized          = errors.New("not authorized")
	ErrForbidden             = errors.New("forbidden")
	ErrOrderNotPending       = errors.New("order is not pending")
	ErrOutOfStock            = errors.New("out of stock")
	ErrInvalidPaymentMethod  = errors.New("invalid payment method")
	ErrCurrencyConversion    = errors.New("could not process currency conversion")
	ErrPaymentGateway        = errors.New("payment gateway error")
	ErrPaymentMismatch       = errors.New("payment amount mismatch")
	ErrPaymentProcessed      = errors.New("payment already processed")
	ErrCheckoutInProgress    = errors.New("checkout already in progress")
	ErrSessionClaimed        = errors.New("chat session already claimed")
	ErrSessionClaimedByOther = errors.New("chat session claimed by another admin")
	ErrSessionNotFound       = errors.New("chat session not found")
	ErrRateLimited           = errors.New("rate limited")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrEmailExists           = errors.New("email already registered")
	ErrUsernameExists        = errors.New("username already taken")
	ErrInvalidResetToken     = errors.New("invalid or expired token")
	ErrMinecraftNotLinked    = errors.New("minecraft account not linked")
	ErrPluginUnavailable     = errors.New("game server unavailable")
	ErrPluginRejected        = errors.New("game server rejected the request")
	ErrNotConfigured         = errors.New("server configuration error")
)

// Error pairs a sentinel kind with the message shown to the client
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
