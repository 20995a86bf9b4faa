package service

import (
	"context"
	"fmt"
	"time"

	"mcstore/internal/models"
	"mcstore/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SimulatedResult is the outcome of an in-process payment method
type SimulatedResult struct {
	Success       bool
	Message       string
	TransactionID string
}

// PaymentService fronts PayPal and the simulated payment methods
type PaymentService struct {
	gateway        PayPalGateway
	simulatedDelay time.Duration
	logger         *zap.Logger
}

// NewPaymentService creates a new payment service. gateway may be nil when PayPal is not configured.
func NewPaymentService(gateway PayPalGateway, simulatedDelay time.Duration) *PaymentService {
	return &PaymentService{
		gateway:        gateway,
		simulatedDelay: simulatedDelay,
		logger:         util.GetLogger(),
	}
}

// CreatePayPalPayment creates a remote payment for the processed amount
func (ps *PaymentService) CreatePayPalPayment(ctx context.Context, amount decimal.Decimal, currency, orderID string) (*models.PaymentLink, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreatePayPalPayment")
	defer span.End()

	util.PaymentAttemptsTotal.WithLabelValues(models.PaymentMethodPayPal).Inc()
	start := time.Now()
	defer func() {
		util.PaymentProcessingLatency.WithLabelValues(models.PaymentMethodPayPal).Observe(time.Since(start).Seconds())
	}()

	if ps.gateway == nil {
		return nil, fmt.Errorf("%w: paypal is not configured", ErrPaymentGateway)
	}

	link, err := ps.gateway.CreatePayment(ctx, amount, currency, "Store Purchase", orderID)
	if err != nil {
		ps.logger.Error("PayPal payment creation failed",
			zap.String("order_id", orderID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}
	return link, nil
}

// ExecutePayPalPayment captures an approved PayPal payment
func (ps *PaymentService) ExecutePayPalPayment(ctx context.Context, paymentID, payerID string) (*models.CapturedPayment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ExecutePayPalPayment")
	defer span.End()

	if ps.gateway == nil {
		return nil, fmt.Errorf("%w: paypal is not configured", ErrPaymentGateway)
	}

	captured, err := ps.gateway.ExecutePayment(ctx, paymentID, payerID)
	if err != nil {
		ps.logger.Error("PayPal payment execution failed",
			zap.String("payment_id", paymentID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}
	return captured, nil
}

// ProcessSimulated settles credit-card, bank-transfer and crypto payments in process.
// Credit cards succeed immediately; the other methods wait for the simulated delay.
func (ps *PaymentService) ProcessSimulated(ctx context.Context, method string, amount decimal.Decimal, currency, orderID string) (*SimulatedResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ProcessSimulated")
	defer span.End()

	util.PaymentAttemptsTotal.WithLabelValues(method).Inc()
	start := time.Now()
	defer func() {
		util.PaymentProcessingLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	var message string
	switch method {
	case models.PaymentMethodCreditCard:
		message = "Credit card payment accepted."
	case models.PaymentMethodBankTransfer:
		message = "Bank transfer simulated successfully."
	case models.PaymentMethodCrypto:
		message = "Crypto payment simulated successfully."
	default:
		return nil, ErrInvalidPaymentMethod
	}

	ps.logger.Info("Simulating payment",
		zap.String("method", method),
		zap.String("order_id", orderID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("currency", currency))

	if method != models.PaymentMethodCreditCard && ps.simulatedDelay > 0 {
		timer := time.NewTimer(ps.simulatedDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return &SimulatedResult{
		Success:       true,
		Message:       message,
		TransactionID: fmt.Sprintf("SIM-%s", uuid.New().String()[:8]),
	}, nil
}
