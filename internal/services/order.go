package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/shopkart/storefront-api/internal/db"
	"github.com/shopkart/storefront-api/internal/events"
	"github.com/shopkart/storefront-api/internal/metrics"
	"github.com/shopkart/storefront-api/internal/models"
	"github.com/shopkart/storefront-api/internal/notification"
)

// OrderService handles order reads and status transitions. Order creation
// lives in CheckoutService.
type OrderService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
	mailer  notification.Sender
	events  *events.Producer
}

// NewOrderService creates a new order service. mailer and events may be nil.
func NewOrderService(database *db.DB, appMetrics *metrics.AppMetrics, mailer notification.Sender, producer *events.Producer) *OrderService {
	return &OrderService{
		db:      database,
		metrics: appMetrics,
		mailer:  mailer,
		events:  producer,
	}
}

const orderColumns = "id, user_id, shipping_address_id, billing_address_id, payment_method_id, status, total_amount, created_at, updated_at"

func scanOrder(row interface{ Scan(...any) error }) (models.Order, error) {
	var o models.Order
	err := row.Scan(&o.ID, &o.UserID, &o.ShippingAddressID, &o.BillingAddressID,
		&o.PaymentMethodID, &o.Status, &o.TotalAmount, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// GetOrder returns an order with its items.
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	start := time.Now()
	query := "SELECT " + orderColumns + " FROM orders WHERE id = ?"
	order, err := scanOrder(s.db.QueryRowContext(ctx, query, orderID))
	s.metrics.RecordDBQuery(ctx, "SELECT", "orders", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	start = time.Now()
	itemQuery := "SELECT id, order_id, product_id, quantity, unit_price, subtotal, status, created_at FROM order_items WHERE order_id = ? ORDER BY id"
	rows, err := s.db.QueryContext(ctx, itemQuery, orderID)
	s.metrics.RecordDBQuery(ctx, "SELECT", "order_items", itemQuery, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity,
			&item.UnitPrice, &item.Subtotal, &item.Status, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &order, nil
}

// ListUserOrders returns all orders for a user, newest first, without items.
func (s *OrderService) ListUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	start := time.Now()
	query := "SELECT " + orderColumns + " FROM orders WHERE user_id = ? ORDER BY created_at DESC"
	rows, err := s.db.QueryContext(ctx, query, userID)
	s.metrics.RecordDBQuery(ctx, "SELECT", "orders", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}

	return orders, rows.Err()
}

// UpdateOrderStatus updates the status of an order and notifies the owner.
// The notification and the event are best-effort.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	if !models.ValidOrderStatus(status) {
		return &ValidationError{Fields: []string{"status"}}
	}

	start := time.Now()
	query := "UPDATE orders SET status = ?, updated_at = NOW() WHERE id = ?"
	result, err := s.db.ExecContext(ctx, query, status, orderID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "orders", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrOrderNotFound
	}

	log.Printf("[ORDER] Status updated: order_id=%d, status=%s", orderID, status)

	s.notifyStatusChange(ctx, orderID, status)
	s.publishStatusChange(ctx, orderID, status)
	return nil
}

// UpdateOrderItemStatus updates one line item's status. Items accept the
// order statuses plus "returned".
func (s *OrderService) UpdateOrderItemStatus(ctx context.Context, orderID, itemID int64, status string) error {
	if !models.ValidOrderItemStatus(status) {
		return &ValidationError{Fields: []string{"status"}}
	}

	start := time.Now()
	query := "UPDATE order_items SET status = ? WHERE id = ? AND order_id = ?"
	result, err := s.db.ExecContext(ctx, query, status, itemID, orderID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "order_items", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to update order item status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrOrderItemNotFound
	}

	return nil
}

func (s *OrderService) notifyStatusChange(ctx context.Context, orderID int64, status string) {
	if s.mailer == nil {
		return
	}

	start := time.Now()
	query := "SELECT u.email FROM users u JOIN orders o ON o.user_id = u.id WHERE o.id = ?"
	var email string
	err := s.db.QueryRowContext(ctx, query, orderID).Scan(&email)
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil)
	if err != nil {
		log.Printf("[EMAIL] Could not resolve recipient for order %d: %v", orderID, err)
		return
	}

	body, err := notification.RenderStatusChange(orderID, status)
	if err == nil {
		err = s.mailer.Send(email, fmt.Sprintf("Order #%d update", orderID), body)
	}
	s.metrics.RecordEmail(ctx, "order_status", err == nil)
	if err != nil {
		log.Printf("[EMAIL] Failed to send status email for order %d: %v", orderID, err)
	}
}

func (s *OrderService) publishStatusChange(ctx context.Context, orderID int64, status string) {
	if s.events == nil {
		return
	}
	event := events.OrderStatusChangedEvent{
		OrderID:   orderID,
		Status:    status,
		Timestamp: time.Now(),
	}
	if err := s.events.Publish(ctx, orderID, event); err != nil {
		log.Printf("[EVENTS] Failed to publish status change for order %d: %v", orderID, err)
	}
}
