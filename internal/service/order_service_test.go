package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"mcstore/internal/models"
	"mcstore/internal/redisclient"
	"mcstore/internal/util"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	util.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

type orderFixture struct {
	store     *memStore
	deliverer *recordingDeliverer
	events    *recordingEvents
	gateway   *fakeGateway
	svc       *OrderService
}

func newOrderFixture(t *testing.T, converter Converter, checkouts Checkouts) *orderFixture {
	t.Helper()
	f := &orderFixture{
		store:     newMemStore(),
		deliverer: &recordingDeliverer{},
		events:    &recordingEvents{},
		gateway: &fakeGateway{
			createFn: func(ctx context.Context, amount decimal.Decimal, currency, description, orderID string) (*models.PaymentLink, error) {
				return &models.PaymentLink{PaymentID: "PP-1", ApprovalURL: "https://paypal.test/approve/PP-1"}, nil
			},
		},
	}
	if converter == nil {
		converter = fixedConverter{rate: decimal.NewFromInt(1)}
	}
	payments := NewPaymentService(f.gateway, 0)
	f.svc = NewOrderService(f.store, payments, converter, f.deliverer, checkouts, f.events,
		OrderOptions{BaseCurrency: "USD", IdempotencyTTL: time.Hour})
	return f
}

func cart(method, total string, lines ...OrderLineRequest) *CreateOrderRequest {
	return &CreateOrderRequest{
		Products:      lines,
		TotalAmount:   decimal.RequireFromString(total),
		PaymentMethod: method,
		Currency:      "USD",
	}
}

func line(productID string, qty int, price string) OrderLineRequest {
	return OrderLineRequest{ProductID: productID, Quantity: qty, Price: decimal.RequireFromString(price)}
}

func TestCreditCardCheckoutCompletesAndDelivers(t *testing.T) {
	f := newOrderFixture(t, nil, nil)
	f.store.addProduct("sword", "Diamond Sword", "5.00", intPtr(5), "give {player} diamond_sword 1")

	result, err := f.svc.CreateOrder(context.Background(), "u1",
		cart(models.PaymentMethodCreditCard, "10.00", line("sword", 2, "5.00")))
	require.NoError(t, err)

	order := f.store.order(result.Order.ID)
	assert.Equal(t, models.OrderStatusCompleted, order.Status)
	assert.Equal(t, "Diamond Sword", order.Products[0].Name)
	assert.True(t, decimal.RequireFromString("10").Equal(order.ProcessedAmount))
	assert.Equal(t, 3, *f.store.stock("sword"))

	require.Len(t, f.deliverer.calls, 1)
	assert.Equal(t, delivery{order.ID, "u1", "sword"}, f.deliverer.calls[0])
	assert.Equal(t, []string{models.EventTypeOrderCreated, models.EventTypeOrderCompleted}, f.events.orderTypes())
}

func TestCheckoutShortageFailsOrderWithoutTouchingStock(t *testing.T) {
	f := newOrderFixture(t, nil, nil)
	f.store.addProduct("apple", "Golden Apple", "1.00", intPtr(5))
	f.store.addProduct("sword", "Diamond Sword", "5.00", intPtr(1))

	result, err := f.svc.CreateOrder(context.Background(), "u1",
		cart(models.PaymentMethodCreditCard, "12.00", line("apple", 2, "1.00"), line("sword", 2, "5.00")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfStock))

	var svcErr *Error
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, "Product Diamond Sword is out of stock.", svcErr.Message)

	order := f.store.order(result.Order.ID)
	assert.Equal(t, models.OrderStatusFailed, order.Status)
	require.NotNil(t, order.FailureReason)
	assert.Equal(t, "Product Diamond Sword is out of stock.", *order.FailureReason)

	assert.Equal(t, 5, *f.store.stock("apple"))
	assert.Equal(t, 1, *f.store.stock("sword"))
	assert.Empty(t, f.deliverer.calls)
}

func TestCheckoutUnlimitedStock(t *testing.T) {
	f := newOrderFixture(t, nil, nil)
	f.store.addProduct("rank", "VIP Rank", "20.00", nil, "lp user {player} parent add vip")

	_, err := f.svc.CreateOrder(context.Background(), "u1",
		cart(models.PaymentMethodCreditCard, "20.00", line("rank", 3, "20.00")))
	require.NoError(t, err)
	assert.Nil(t, f.store.stock("rank"))
}

func TestCheckoutRejectsUnknownProduct(t *testing.T) {
	f := newOrderFixture(t, nil, nil)

	_, err := f.svc.CreateOrder(context.Background(), "u1",
		cart(models.PaymentMethodCreditCard, "5.00", line("ghost", 1, "5.00")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Empty(t, f.store.orders)
}

func TestCheckoutValidation(t *testing.T) {
	f := newOrderFixture(t, nil, nil)
	f.store.addProduct("sword", "Diamond Sword", "5.00", intPtr(5))

	tests := []struct {
		name string
		req  *CreateOrderRequest
		kind error
	}{
		{"no lines", cart(models.PaymentMethodCreditCard, "5.00"), ErrInvalidInput},
		{"zero total", cart(models.PaymentMethodCreditCard, "0", line("sword", 1, "5.00")), ErrInvalidInput},
		{"zero quantity", cart(models.PaymentMethodCreditCard, "5.00", line("sword", 0, "5.00")), ErrInvalidInput},
		{"negative price", cart(models.PaymentMethodCreditCard, "5.00", line("sword", 1, "-1")), ErrInvalidInput},
		{"unknown method", cart("cash", "5.00", line("sword", 1, "5.00")), ErrInvalidPaymentMethod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(context.Background(), "u1", tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
		})
	}
	assert.Empty(t, f.store.orders)
}

func TestCheckoutConvertsCurrency(t *testing.T) {
	f := newOrderFixture(t, fixedConverter{rate: decimal.RequireFromString("1.1")}, nil)
	f.store.addProduct("sword", "Diamond Sword", "10.00", nil)

	req := cart(models.PaymentMethodCreditCard, "10.00", line("sword", 1, "10.00"))
	req.Currency = "eur"
	result, err := f.svc.CreateOrder(context.Background(), "u1", req)
	require.NoError(t, err)

	order := f.store.order(result.Order.ID)
	assert.Equal(t, "EUR", order.Currency)
	assert.Equal(t, "USD", order.ProcessedCurrency)
	assert.Equal(t, "11.00", order.ProcessedAmount.StringFixed(2))
}

func TestCheckoutConversionFailureCreatesNoOrder(t *testing.T) {
	f := newOrderFixture(t, fixedConverter{err: ErrCurrencyConversion}, nil)
	f.store.addProduct("sword", "Diamond Sword", "10.00", nil)

	req := cart(models.PaymentMethodCreditCard, "10.00", line("sword", 1, "10.00"))
	req.Currency = "EUR"
	_, err := f.svc.CreateOrder(context.Background(), "u1", req)
	assert.True(t, errors.Is(err, ErrCurrencyConversion))
	assert.Empty(t, f.store.orders)
}

func TestPayPalCheckoutAndExecute(t *testing.T) {
	f := newOrderFixture(t, nil, nil)
	f.store.addProduct("sword", "Diamond Sword", "5.00", intPtr(5))
	f.gateway.executeFn = func(ctx context.Context, paymentID, payerID string) (*models.CapturedPayment, error) {
		return &models.CapturedPayment{PaymentID: paymentID, Status: "COMPLETED", Amount: decimal.RequireFromString("10.00"), Currency: "USD"}, nil
	}
	ctx := context.Background()

	result, err := f.svc.CreateOrder(ctx, "u1", cart(models.PaymentMethodPayPal, "10.00", line("sword", 2, "5.00")))
	require.NoError(t, err)
	assert.Equal(t, "https://paypal.test/approve/PP-1", result.PaymentURL)

	order := f.store.order(result.Order.ID)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	require.NotNil(t, order.PaymentIntentID)
	assert.Equal(t, "PP-1", *order.PaymentIntentID)
	assert.Equal(t, 5, *f.store.stock("sword"))

	executed, err := f.svc.ExecutePayment(ctx, "PP-1", "PAYER")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, executed.Status)
	assert.Equal(t, 3, *f.store.stock("sword"))
	assert.Len(t, f.deliverer.calls, 1)

	_, err = f.svc.ExecutePayment(ctx, "PP-1", "PAYER")
	assert.True(t, errors.Is(err, ErrPaymentProcessed))
	assert.Equal(t, 3, *f.store.stock("sword"))
}

func TestExecutePaymentAmountMismatch(t *testing.T) {
	f := newOrderFixture(t, nil, nil)
	f.store.addProduct("sword", "Diamond Sword", "5.00", intPtr(5))
	f.gateway.executeFn = func(ctx context.Context, paymentID, payerID string) (*models.CapturedPayment, error) {
		return &models.CapturedPayment{PaymentID: paymentID, Amount: decimal.RequireFromString("9.99"), Currency: "USD"}, nil
	}
	ctx := context.Background()

	result, err := f.svc.CreateOrder(ctx, "u1", cart(models.PaymentMethodPayPal, "10.00", line("sword", 2, "5.00")))
	require.NoError(t, err)

	_, err = f.svc.ExecutePayment(ctx, "PP-1", "PAYER")
	assert.True(t, errors.Is(err, ErrPaymentMismatch))

	order := f.store.order(result.Order.ID)
	assert.Equal(t, models.OrderStatusFailed, order.Status)
	assert.Equal(t, 5, *f.store.stock("sword"))
	assert.Empty(t, f.deliverer.calls)
}

func TestExecutePaymentUnknownPayment(t *testing.T) {
	f := newOrderFixture(t, nil, nil)

	_, err := f.svc.ExecutePayment(context.Background(), "nope", "PAYER")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = f.svc.ExecutePayment(context.Background(), "", "PAYER")
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestPayPalGatewayErrorFailsOrder(t *testing.T) {
	f := newOrderFixture(t, nil, nil)
	f.store.addProduct("sword", "Diamond Sword", "5.00", intPtr(5))
	f.gateway.createFn = func(ctx context.Context, amount decimal.Decimal, currency, description, orderID string) (*models.PaymentLink, error) {
		return nil, errors.New("paypal down")
	}

	result, err := f.svc.CreateOrder(context.Background(), "u1", cart(models.PaymentMethodPayPal, "5.00", line("sword", 1, "5.00")))
	assert.True(t, errors.Is(err, ErrPaymentGateway))

	order := f.store.order(result.Order.ID)
	assert.Equal(t, models.OrderStatusFailed, order.Status)
	assert.Equal(t, "Payment gateway error.", *order.FailureReason)
}

func TestCancelOrder(t *testing.T) {
	f := newOrderFixture(t, nil, nil)
	f.store.addProduct("sword", "Diamond Sword", "5.00", intPtr(5))
	ctx := context.Background()

	result, err := f.svc.CreateOrder(ctx, "u1", cart(models.PaymentMethodPayPal, "5.00", line("sword", 1, "5.00")))
	require.NoError(t, err)
	id := result.Order.ID

	err = f.svc.CancelOrder(ctx, id, "intruder")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, f.svc.CancelOrder(ctx, id, "u1"))
	assert.Equal(t, models.OrderStatusCancelled, f.store.order(id).Status)

	err = f.svc.CancelOrder(ctx, id, "u1")
	assert.True(t, errors.Is(err, ErrOrderNotPending))
}

func TestCancelCompletedOrderIsRejected(t *testing.T) {
	f := newOrderFixture(t, nil, nil)
	f.store.addProduct("sword", "Diamond Sword", "5.00", intPtr(5))
	ctx := context.Background()

	result, err := f.svc.CreateOrder(ctx, "u1", cart(models.PaymentMethodCreditCard, "5.00", line("sword", 1, "5.00")))
	require.NoError(t, err)

	err = f.svc.CancelOrder(ctx, result.Order.ID, "u1")
	assert.True(t, errors.Is(err, ErrOrderNotPending))
	assert.Equal(t, models.OrderStatusCompleted, f.store.order(result.Order.ID).Status)
}

func TestIdempotentCheckoutReplaysOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := redisclient.NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	f := newOrderFixture(t, nil, rc)
	f.store.addProduct("sword", "Diamond Sword", "5.00", intPtr(5))
	ctx := context.Background()

	req := cart(models.PaymentMethodCreditCard, "5.00", line("sword", 1, "5.00"))
	req.IdempotencyKey = "cart-42"

	first, err := f.svc.CreateOrder(ctx, "u1", req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := f.svc.CreateOrder(ctx, "u1", req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)

	assert.Len(t, f.store.orders, 1)
	assert.Equal(t, 4, *f.store.stock("sword"))

	// the key is scoped per user
	other, err := f.svc.CreateOrder(ctx, "u2", req)
	require.NoError(t, err)
	assert.NotEqual(t, first.Order.ID, other.Order.ID)
}

func TestIdempotentCheckoutInProgress(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := redisclient.NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	f := newOrderFixture(t, nil, rc)
	f.store.addProduct("sword", "Diamond Sword", "5.00", intPtr(5))

	locked, err := rc.AcquireLock(context.Background(), "checkout:u1:cart-7", time.Minute)
	require.NoError(t, err)
	require.True(t, locked)

	req := cart(models.PaymentMethodCreditCard, "5.00", line("sword", 1, "5.00"))
	req.IdempotencyKey = "cart-7"
	_, err = f.svc.CreateOrder(context.Background(), "u1", req)
	assert.True(t, errors.Is(err, ErrCheckoutInProgress))
	assert.Empty(t, f.store.orders)
}

func TestConcurrentCheckoutsForLastUnit(t *testing.T) {
	f := newOrderFixture(t, nil, nil)
	f.store.addProduct("egg", "Dragon Egg", "50.00", intPtr(1))

	const buyers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateOrder(context.Background(), "u1",
				cart(models.PaymentMethodCreditCard, "50.00", line("egg", 1, "50.00")))
			if err == nil {
				mu.Lock()
				completed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, completed)
	assert.Equal(t, 0, *f.store.stock("egg"))
}

func TestSimulatedPaymentHonoursCancellation(t *testing.T) {
	f := newOrderFixture(t, nil, nil)
	f.svc.payments = NewPaymentService(nil, time.Hour)
	f.store.addProduct("sword", "Diamond Sword", "5.00", intPtr(5))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result, err := f.svc.CreateOrder(ctx, "u1", cart(models.PaymentMethodBankTransfer, "5.00", line("sword", 1, "5.00")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), 5*time.Second)

	// the order still reaches a terminal state
	assert.Equal(t, models.OrderStatusFailed, f.store.order(result.Order.ID).Status)
	assert.Equal(t, 5, *f.store.stock("sword"))
}

func TestListUserOrdersPaginates(t *testing.T) {
	f := newOrderFixture(t, nil, nil)
	f.store.addProduct("sword", "Diamond Sword", "5.00", nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.CreateOrder(ctx, "u1", cart(models.PaymentMethodCreditCard, "5.00", line("sword", 1, "5.00")))
		require.NoError(t, err)
	}
	_, err := f.svc.CreateOrder(ctx, "u2", cart(models.PaymentMethodCreditCard, "5.00", line("sword", 1, "5.00")))
	require.NoError(t, err)

	page, err := f.svc.ListUserOrders(ctx, "u1", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Count)
	assert.Equal(t, 2, page.Pages)
	assert.Len(t, page.Orders, 1)
}
