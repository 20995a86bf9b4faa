package paypalclient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mcstore/internal/models"
	"mcstore/internal/util"

	"github.com/plutov/paypal/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned when no PayPal credentials are set
var ErrNotConfigured = errors.New("paypal is not configured")

// Client creates and captures PayPal checkout orders
type Client struct {
	api       *paypal.Client
	returnURL string
	cancelURL string
	logger    *zap.Logger
}

// APIBase maps a mode name to the PayPal REST host
func APIBase(mode string) string {
	if strings.EqualFold(mode, "live") {
		return paypal.APIBaseLive
	}
	return paypal.APIBaseSandBox
}

func NewClient(clientID, secret, apiBase, returnURL, cancelURL string) (*Client, error) {
	if clientID == "" || secret == "" {
		return nil, ErrNotConfigured
	}

	api, err := paypal.NewClient(clientID, secret, apiBase)
	if err != nil {
		return nil, fmt.Errorf("failed to create paypal client: %w", err)
	}

	return &Client{
		api:       api,
		returnURL: returnURL,
		cancelURL: cancelURL,
		logger:    util.GetLogger(),
	}, nil
}

// CreatePayment creates a CAPTURE order and returns its buyer approval link
func (c *Client) CreatePayment(ctx context.Context, amount decimal.Decimal, currency, description, orderID string) (*models.PaymentLink, error) {
	ctx, span := util.StartSpan(ctx, "PayPalClient.CreatePayment")
	defer span.End()

	units := []paypal.PurchaseUnitRequest{{
		ReferenceID: orderID,
		Description: description,
		Amount: &paypal.PurchaseUnitAmount{
			Currency: strings.ToUpper(currency),
			Value:    amount.StringFixed(2),
		},
	}}
	appCtx := &paypal.ApplicationContext{
		ReturnURL: c.returnURL,
		CancelURL: c.cancelURL,
	}

	order, err := c.api.CreateOrder(ctx, paypal.OrderIntentCapture, units, nil, appCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to create paypal order: %w", err)
	}

	for _, link := range order.Links {
		if link.Rel == "approve" {
			c.logger.Info("PayPal order created",
				zap.String("order_id", orderID),
				zap.String("payment_id", order.ID))
			return &models.PaymentLink{PaymentID: order.ID, ApprovalURL: link.Href}, nil
		}
	}
	return nil, fmt.Errorf("paypal order %s has no approval link", order.ID)
}

// ExecutePayment captures an approved order and returns the captured total
func (c *Client) ExecutePayment(ctx context.Context, paymentID, payerID string) (*models.CapturedPayment, error) {
	ctx, span := util.StartSpan(ctx, "PayPalClient.ExecutePayment")
	defer span.End()

	resp, err := c.api.CaptureOrder(ctx, paymentID, paypal.CaptureOrderRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to capture paypal order: %w", err)
	}

	captured := &models.CapturedPayment{PaymentID: resp.ID, Status: resp.Status}
	for _, unit := range resp.PurchaseUnits {
		if unit.Payments == nil {
			continue
		}
		for _, capture := range unit.Payments.Captures {
			if capture.Amount == nil {
				continue
			}
			value, err := decimal.NewFromString(capture.Amount.Value)
			if err != nil {
				return nil, fmt.Errorf("invalid captured amount %q: %w", capture.Amount.Value, err)
			}
			captured.Amount = captured.Amount.Add(value)
			captured.Currency = capture.Amount.Currency
		}
	}

	c.logger.Info("PayPal order captured",
		zap.String("payment_id", paymentID),
		zap.String("payer_id", payerID),
		zap.String("status", resp.Status),
		zap.String("amount", captured.Amount.StringFixed(2)))
	return captured, nil
}
