package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"mcstore/internal/models"
	"mcstore/internal/store"
	"mcstore/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const checkoutLockTTL = 30 * time.Second

// OrderService handles order business logic
type OrderService struct {
	store          OrderStore
	payments       *PaymentService
	converter      Converter
	deliverer      Deliverer
	checkouts      Checkouts
	events         EventPublisher
	baseCurrency   string
	idempotencyTTL time.Duration
	logger         *zap.Logger
}

// OrderOptions carries the order flow settings
type OrderOptions struct {
	BaseCurrency   string
	IdempotencyTTL time.Duration
}

// NewOrderService creates a new order service. checkouts may be nil to disable idempotency keys.
func NewOrderService(
	store OrderStore,
	payments *PaymentService,
	converter Converter,
	deliverer Deliverer,
	checkouts Checkouts,
	events EventPublisher,
	opts OrderOptions,
) *OrderService {
	if opts.BaseCurrency == "" {
		opts.BaseCurrency = "USD"
	}
	return &OrderService{
		store:          store,
		payments:       payments,
		converter:      converter,
		deliverer:      deliverer,
		checkouts:      checkouts,
		events:         events,
		baseCurrency:   strings.ToUpper(opts.BaseCurrency),
		idempotencyTTL: opts.IdempotencyTTL,
		logger:         util.GetLogger(),
	}
}

// CreateOrderRequest represents a checkout submission
type CreateOrderRequest struct {
	Products       []OrderLineRequest `json:"products"`
	TotalAmount    decimal.Decimal    `json:"totalAmount"`
	PaymentMethod  string             `json:"paymentMethod"`
	Currency       string             `json:"currency"`
	IdempotencyKey string             `json:"idempotencyKey,omitempty"`
}

// OrderLineRequest represents a cart line
type OrderLineRequest struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// CreateOrderResult is the outcome of a checkout. PaymentURL is set for PayPal orders.
type CreateOrderResult struct {
	Order      *models.Order
	PaymentURL string
	Replayed   bool
}

// OrderPage is one page of a user's orders
type OrderPage struct {
	Count  int            `json:"count"`
	Page   int            `json:"page"`
	Pages  int            `json:"pages"`
	Orders []models.Order `json:"orders"`
}

type checkoutRecord struct {
	OrderID    string `json:"orderId"`
	PaymentURL string `json:"paymentUrl,omitempty"`
}

// CreateOrder validates the cart, converts the total, persists a pending order and
// settles it with the chosen payment method
func (s *OrderService) CreateOrder(ctx context.Context, userID string, req *CreateOrderRequest) (*CreateOrderResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if err := validateOrderRequest(req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" && s.checkouts != nil {
		key := fmt.Sprintf("checkout:%s:%s", userID, req.IdempotencyKey)

		if result, err := s.replayCheckout(ctx, key); err != nil || result != nil {
			return result, err
		}

		locked, err := s.checkouts.AcquireLock(ctx, key, checkoutLockTTL)
		if err != nil {
			s.logger.Warn("Checkout lock unavailable, continuing without it", zap.Error(err))
		} else if !locked {
			return nil, newError(ErrCheckoutInProgress, "This order is already being processed.")
		} else {
			defer func() {
				if err := s.checkouts.ReleaseLock(context.WithoutCancel(ctx), key); err != nil {
					s.logger.Warn("Failed to release checkout lock", zap.Error(err))
				}
			}()
		}

		result, err := s.createOrder(ctx, userID, req)
		if result != nil {
			s.rememberCheckout(ctx, key, result)
		}
		return result, err
	}

	return s.createOrder(ctx, userID, req)
}

func (s *OrderService) createOrder(ctx context.Context, userID string, req *CreateOrderRequest) (*CreateOrderResult, error) {
	lines, err := s.resolveLines(ctx, req.Products)
	if err != nil {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.baseCurrency
	}

	processed := req.TotalAmount
	if currency != s.baseCurrency {
		processed, err = s.converter.Convert(ctx, req.TotalAmount, currency, s.baseCurrency)
		if err != nil {
			util.OrdersFailedTotal.WithLabelValues("currency_conversion").Inc()
			return nil, err
		}
	}
	processed = processed.Round(2)

	order := &models.Order{
		ID:                uuid.New().String(),
		UserID:            userID,
		Products:          lines,
		TotalAmount:       req.TotalAmount,
		Currency:          currency,
		ProcessedAmount:   processed,
		ProcessedCurrency: s.baseCurrency,
		Status:            models.OrderStatusPending,
		PaymentMethod:     req.PaymentMethod,
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.WithLabelValues(order.PaymentMethod).Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("user_id", userID),
		zap.String("payment_method", order.PaymentMethod),
		zap.String("processed_amount", processed.StringFixed(2)))
	s.publish(ctx, models.EventTypeOrderCreated, order, "")

	if order.PaymentMethod == models.PaymentMethodPayPal {
		return s.startPayPal(ctx, order)
	}

	result, err := s.payments.ProcessSimulated(ctx, order.PaymentMethod, processed, s.baseCurrency, order.ID)
	if err != nil {
		s.fail(ctx, order, "Payment was not completed.", "payment_aborted")
		return &CreateOrderResult{Order: order}, fmt.Errorf("simulated payment aborted: %w", err)
	}
	if !result.Success {
		s.fail(ctx, order, result.Message, "payment_declined")
		return &CreateOrderResult{Order: order}, newError(ErrPaymentGateway, "%s", result.Message)
	}

	if err := s.complete(ctx, order); err != nil {
		return &CreateOrderResult{Order: order}, err
	}
	return &CreateOrderResult{Order: order}, nil
}

func (s *OrderService) startPayPal(ctx context.Context, order *models.Order) (*CreateOrderResult, error) {
	link, err := s.payments.CreatePayPalPayment(ctx, order.ProcessedAmount, order.ProcessedCurrency, order.ID)
	if err != nil {
		s.fail(ctx, order, "Payment gateway error.", "gateway_error")
		return &CreateOrderResult{Order: order}, err
	}

	if err := s.store.SetPaymentIntent(ctx, order.ID, link.PaymentID); err != nil {
		return nil, fmt.Errorf("failed to store payment id: %w", err)
	}
	order.PaymentIntentID = &link.PaymentID

	return &CreateOrderResult{Order: order, PaymentURL: link.ApprovalURL}, nil
}

// ExecutePayment captures an approved PayPal payment and fulfils its order
func (s *OrderService) ExecutePayment(ctx context.Context, paymentID, payerID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ExecutePayment")
	defer span.End()

	if paymentID == "" {
		return nil, newError(ErrInvalidInput, "Payment ID is required.")
	}

	order, err := s.store.GetOrderByPaymentIntent(ctx, paymentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(ErrNotFound, "Order not found for this payment.")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	if order.Status != models.OrderStatusPending {
		return order, newError(ErrPaymentProcessed, "Payment already processed.")
	}

	captured, err := s.payments.ExecutePayPalPayment(ctx, paymentID, payerID)
	if err != nil {
		return order, err
	}

	if !captured.Amount.Round(2).Equal(order.ProcessedAmount.Round(2)) {
		s.logger.Warn("Captured amount differs from order",
			zap.String("order_id", order.ID),
			zap.String("captured", captured.Amount.StringFixed(2)),
			zap.String("expected", order.ProcessedAmount.StringFixed(2)))
		s.fail(ctx, order, "Payment amount mismatch.", "amount_mismatch")
		return order, newError(ErrPaymentMismatch, "Payment amount mismatch.")
	}

	if err := s.complete(ctx, order); err != nil {
		return order, err
	}
	return order, nil
}

// CancelOrder cancels a pending order owned by userID
func (s *OrderService) CancelOrder(ctx context.Context, orderID, userID string) error {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder")
	defer span.End()

	if orderID == "" {
		return newError(ErrInvalidInput, "Order ID is required.")
	}

	order, err := s.GetOrder(ctx, orderID, userID)
	if err != nil {
		return err
	}
	if order.Status != models.OrderStatusPending {
		return newError(ErrOrderNotPending, "Only pending orders can be cancelled")
	}

	if err := s.store.CancelOrder(ctx, orderID, userID); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return newError(ErrOrderNotPending, "Only pending orders can be cancelled")
		}
		return fmt.Errorf("failed to cancel order: %w", err)
	}

	order.Status = models.OrderStatusCancelled
	util.OrdersCancelledTotal.Inc()
	s.logger.Info("Order cancelled", zap.String("order_id", orderID))
	s.publish(ctx, models.EventTypeOrderCancelled, order, "")
	return nil
}

// GetOrder returns an order owned by userID
func (s *OrderService) GetOrder(ctx context.Context, orderID, userID string) (*models.Order, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && order.UserID != userID) {
		return nil, newError(ErrNotFound, "Order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	return order, nil
}

// ListUserOrders returns a page of the user's orders, newest first
func (s *OrderService) ListUserOrders(ctx context.Context, userID string, page, limit int) (*OrderPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}

	orders, total, err := s.store.GetOrdersByUserID(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	return &OrderPage{
		Count:  total,
		Page:   page,
		Pages:  int(math.Ceil(float64(total) / float64(limit))),
		Orders: orders,
	}, nil
}

// complete takes stock, marks the order completed and then delivers every line.
// Shortages fail the order with the customer-facing reason.
func (s *OrderService) complete(ctx context.Context, order *models.Order) error {
	fulfilled, err := s.store.FulfillOrder(ctx, order.ID)
	if err != nil {
		var shortage *models.StockShortageError
		switch {
		case errors.As(err, &shortage):
			s.fail(ctx, order, shortage.Reason(), "out_of_stock")
			return newError(ErrOutOfStock, "%s", shortage.Reason())
		case errors.Is(err, store.ErrStatusConflict):
			return newError(ErrOrderNotPending, "Order is no longer pending.")
		default:
			return fmt.Errorf("failed to fulfil order: %w", err)
		}
	}

	order.Status = fulfilled.Status
	util.OrdersCompletedTotal.Inc()
	s.logger.Info("Order completed", zap.String("order_id", order.ID))
	s.publish(ctx, models.EventTypeOrderCompleted, order, "")

	s.deliverAll(context.WithoutCancel(ctx), order)
	return nil
}

func (s *OrderService) deliverAll(ctx context.Context, order *models.Order) {
	for _, line := range order.Products {
		if err := s.deliverer.Deliver(ctx, order.ID, order.UserID, line.ProductID); err != nil {
			util.DeliveryFailuresTotal.Inc()
			s.logger.Error("Delivery failed for completed order",
				zap.String("order_id", order.ID),
				zap.String("product_id", line.ProductID),
				zap.Error(err))
		}
	}
}

// fail moves the order to failed. It runs detached from ctx so a disconnected
// client still leaves a terminal status behind.
func (s *OrderService) fail(ctx context.Context, order *models.Order, reason, metricReason string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.FailOrder(ctx, order.ID, reason); err != nil {
		s.logger.Error("Failed to mark order failed",
			zap.String("order_id", order.ID),
			zap.Error(err))
		return
	}

	order.Status = models.OrderStatusFailed
	order.FailureReason = &reason
	util.OrdersFailedTotal.WithLabelValues(metricReason).Inc()
	s.logger.Warn("Order failed",
		zap.String("order_id", order.ID),
		zap.String("reason", reason))
	s.publish(ctx, models.EventTypeOrderFailed, order, reason)
}

func (s *OrderService) publish(ctx context.Context, eventType string, order *models.Order, reason string) {
	event := &models.OrderEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: time.Now().UTC(),
		},
		OrderID:         order.ID,
		UserID:          order.UserID,
		Status:          order.Status,
		PaymentMethod:   order.PaymentMethod,
		ProcessedAmount: order.ProcessedAmount,
		Currency:        order.ProcessedCurrency,
		Reason:          reason,
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish order event",
			zap.String("type", eventType),
			zap.Error(err))
	}
}

// resolveLines checks every product exists and snapshots its name onto the line
func (s *OrderService) resolveLines(ctx context.Context, items []OrderLineRequest) (models.OrderLines, error) {
	ids := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			ids = append(ids, item.ProductID)
		}
	}

	products, err := s.store.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	byID := make(map[string]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	lines := make(models.OrderLines, 0, len(items))
	for _, item := range items {
		product, ok := byID[item.ProductID]
		if !ok {
			util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
			return nil, newError(ErrNotFound, "Product %s not found", item.ProductID)
		}

		price := item.Price
		if price.IsZero() {
			price = product.Price
		}
		lines = append(lines, models.OrderLine{
			ProductID: product.ID,
			Name:      product.Name,
			Price:     price,
			Quantity:  item.Quantity,
		})
	}
	return lines, nil
}

func (s *OrderService) replayCheckout(ctx context.Context, key string) (*CreateOrderResult, error) {
	raw, found, err := s.checkouts.GetIdempotencyKey(ctx, key)
	if err != nil {
		s.logger.Warn("Idempotency lookup failed", zap.Error(err))
		return nil, nil
	}
	if !found {
		return nil, nil
	}

	var record checkoutRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		s.logger.Warn("Corrupt idempotency record", zap.String("key", key), zap.Error(err))
		return nil, nil
	}

	order, err := s.store.GetOrderByID(ctx, record.OrderID)
	if err != nil {
		s.logger.Warn("Idempotency record points at a missing order",
			zap.String("order_id", record.OrderID),
			zap.Error(err))
		return nil, nil
	}

	s.logger.Info("Duplicate order request detected",
		zap.String("idempotency_key", key),
		zap.String("order_id", order.ID))
	return &CreateOrderResult{Order: order, PaymentURL: record.PaymentURL, Replayed: true}, nil
}

func (s *OrderService) rememberCheckout(ctx context.Context, key string, result *CreateOrderResult) {
	raw, err := json.Marshal(checkoutRecord{OrderID: result.Order.ID, PaymentURL: result.PaymentURL})
	if err != nil {
		return
	}
	if err := s.checkouts.SetIdempotencyKey(context.WithoutCancel(ctx), key, string(raw), s.idempotencyTTL); err != nil {
		s.logger.Warn("Failed to store idempotency key", zap.Error(err))
	}
}

func validateOrderRequest(req *CreateOrderRequest) error {
	if req == nil || len(req.Products) == 0 || req.PaymentMethod == "" {
		return newError(ErrInvalidInput, "Missing required order information.")
	}
	if !req.TotalAmount.IsPositive() {
		return newError(ErrInvalidInput, "Total amount must be greater than zero.")
	}
	for _, item := range req.Products {
		if item.ProductID == "" {
			return newError(ErrInvalidInput, "Every product line needs a productId.")
		}
		if item.Quantity < 1 {
			return newError(ErrInvalidInput, "Quantity must be at least 1.")
		}
		if item.Price.IsNegative() {
			return newError(ErrInvalidInput, "Price cannot be negative.")
		}
	}

	switch req.PaymentMethod {
	case models.PaymentMethodPayPal, models.PaymentMethodCreditCard,
		models.PaymentMethodBankTransfer, models.PaymentMethodCrypto:
		return nil
	default:
		return newError(ErrInvalidPaymentMethod, "Invalid payment method")
	}
}
