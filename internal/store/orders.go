package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"mcstore/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateOrder inserts a new order
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	now := time.Now().UTC()
	order.CreatedAt, order.UpdatedAt = now, now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO orders (id, user_id, products, total_amount, currency, processed_amount, processed_currency,
			status, payment_method, payment_intent_id, failure_reason, created_at, updated_at)
		VALUES (:id, :user_id, :products, :total_amount, :currency, :processed_amount, :processed_currency,
			:status, :payment_method, :payment_intent_id, :failure_reason, :created_at, :updated_at)`, order)
	return err
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	return s.getOrder(ctx, "SELECT * FROM orders WHERE id = $1", id)
}

// GetOrderByPaymentIntent retrieves the order created for an external payment id
func (s *Store) GetOrderByPaymentIntent(ctx context.Context, paymentID string) (*models.Order, error) {
	return s.getOrder(ctx, "SELECT * FROM orders WHERE payment_intent_id = $1", paymentID)
}

func (s *Store) getOrder(ctx context.Context, query string, args ...interface{}) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByUserID retrieves a page of orders for a user, newest first, plus the total count
func (s *Store) GetOrdersByUserID(ctx context.Context, userID string, limit, offset int) ([]models.Order, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM orders WHERE user_id = $1", userID); err != nil {
		return nil, 0, err
	}

	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3",
		userID, limit, offset)
	return orders, total, err
}

// SetPaymentIntent records the external payment id on a pending order
func (s *Store) SetPaymentIntent(ctx context.Context, orderID, paymentID string) error {
	return s.transition(ctx, s.db, `
		UPDATE orders SET payment_intent_id = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'pending'`, paymentID, orderID)
}

// FailOrder moves a pending order to failed with a reason
func (s *Store) FailOrder(ctx context.Context, orderID, reason string) error {
	return s.transition(ctx, s.db, `
		UPDATE orders SET status = 'failed', failure_reason = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'pending'`, reason, orderID)
}

// CancelOrder moves a pending order owned by userID to cancelled
func (s *Store) CancelOrder(ctx context.Context, orderID, userID string) error {
	return s.transition(ctx, s.db, `
		UPDATE orders SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status = 'pending'`, orderID, userID)
}

// FulfillOrder takes stock for every line and marks the order completed in one transaction.
// A line that cannot be served rolls back all decrements and returns *models.StockShortageError.
func (s *Store) FulfillOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusPending {
			return ErrStatusConflict
		}

		for _, line := range order.Products {
			ok, err := decrementStockTx(ctx, tx, line.ProductID, line.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				return &models.StockShortageError{ProductID: line.ProductID, Name: line.Name}
			}
		}

		if err := s.transition(ctx, tx, `
			UPDATE orders SET status = 'completed', updated_at = NOW()
			WHERE id = $1 AND status = 'pending'`, orderID); err != nil {
			return err
		}
		order.Status = models.OrderStatusCompleted
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// CountOrders returns the total number of orders
func (s *Store) CountOrders(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM orders")
	return n, err
}

// CountOrdersByStatus returns order counts keyed by status
func (s *Store) CountOrdersByStatus(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, "SELECT status, COUNT(*) AS count FROM orders GROUP BY status"); err != nil {
		return nil, err
	}

	counts := map[string]int{
		models.OrderStatusPending:   0,
		models.OrderStatusCompleted: 0,
		models.OrderStatusFailed:    0,
		models.OrderStatusCancelled: 0,
	}
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

// transition runs a status-guarded update and reports ErrStatusConflict when no row matched
func (s *Store) transition(ctx context.Context, ex sqlx.ExecerContext, query string, args ...interface{}) error {
	res, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStatusConflict
	}
	return nil
}
