package models

import "github.com/shopspring/decimal"

// PaymentLink is a gateway payment awaiting buyer approval
type PaymentLink struct {
	PaymentID   string
	ApprovalURL string
}

// CapturedPayment is the settled amount reported by the gateway
type CapturedPayment struct {
	PaymentID string
	Status    string
	Amount    decimal.Decimal
	Currency  string
}
