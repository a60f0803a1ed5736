package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/shopkart/storefront-api/internal/db"
	"github.com/shopkart/storefront-api/internal/events"
	"github.com/shopkart/storefront-api/internal/ident"
	"github.com/shopkart/storefront-api/internal/metrics"
	"github.com/shopkart/storefront-api/internal/models"
	"github.com/shopkart/storefront-api/internal/notification"
)

// taxRate is the flat rate applied once to the pre-tax subtotal.
var taxRate = decimal.RequireFromString("0.13")

// deliveryLeadDays feeds the estimated delivery date in the confirmation.
const deliveryLeadDays = 5

// CheckoutService converts a set of purchase lines into a persisted order
// with decremented inventory. Stock validation, inventory decrement,
// payment-method persistence and order creation happen inside one
// transaction; the confirmation email and the order event are sent after
// commit and never roll it back.
type CheckoutService struct {
	db      *db.DB
	ids     *ident.Generator
	metrics *metrics.AppMetrics
	mailer  notification.Sender
	events  *events.Producer
}

// NewCheckoutService creates a new checkout service. events may be nil to
// disable event publishing.
func NewCheckoutService(database *db.DB, ids *ident.Generator, appMetrics *metrics.AppMetrics, mailer notification.Sender, producer *events.Producer) *CheckoutService {
	return &CheckoutService{
		db:      database,
		ids:     ids,
		metrics: appMetrics,
		mailer:  mailer,
		events:  producer,
	}
}

// CheckoutInput is one checkout request. The same address is used for both
// shipping and billing.
type CheckoutInput struct {
	UserID    int64
	AddressID int64
	Email     string
	Lines     []models.CheckoutLine
	Payment   models.CheckoutPayment
}

// CheckoutResult reports a successful checkout.
type CheckoutResult struct {
	OrderID     int64
	OrderTime   time.Time
	Lines       []models.CheckoutLine
	Subtotal    decimal.Decimal
	Tax         decimal.Decimal
	Total       decimal.Decimal
	EmailStatus string
}

func (in CheckoutInput) validate() error {
	var fields []string
	if len(in.Lines) == 0 {
		fields = append(fields, "products")
	}
	for i, line := range in.Lines {
		if line.ProductID == 0 {
			fields = append(fields, fmt.Sprintf("products[%d].productId", i))
		}
		if line.Quantity <= 0 {
			fields = append(fields, fmt.Sprintf("products[%d].quantity", i))
		}
	}
	if in.UserID == 0 {
		fields = append(fields, "userId")
	}
	if in.AddressID == 0 {
		fields = append(fields, "addressId")
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// computeTotals sums the requested lines and applies the flat tax. Rounding
// happens once at the total; the reported tax is total minus subtotal so
// the parts always add up.
func computeTotals(lines []models.CheckoutLine) (subtotal, tax, total decimal.Decimal) {
	subtotal = decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.BasePrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	total = subtotal.Add(subtotal.Mul(taxRate)).Round(2)
	tax = total.Sub(subtotal)
	return subtotal, tax, total
}

// Checkout runs the whole order-creation workflow. On any failure the
// transaction is rolled back and stock, orders and payment methods are left
// exactly as they were.
func (s *CheckoutService) Checkout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	subtotal, tax, total := computeTotals(in.Lines)
	orderID := s.ids.NextID()
	orderTime := time.Now()

	err := s.db.WithinTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireRow(ctx, tx, "users",
			"SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", ErrUserNotFound, in.UserID); err != nil {
			return err
		}
		if err := s.requireRow(ctx, tx, "user_addresses",
			"SELECT EXISTS(SELECT 1 FROM user_addresses WHERE id = ? AND user_id = ?)", ErrAddressNotFound, in.AddressID, in.UserID); err != nil {
			return err
		}

		paymentMethodID, err := s.resolvePaymentMethod(ctx, tx, in.UserID, in.Payment)
		if err != nil {
			return err
		}

		// Lines are checked in request order so the first failing line is
		// the one reported.
		for _, line := range in.Lines {
			if err := s.decrementStock(ctx, tx, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}

		start := time.Now()
		orderQuery := "INSERT INTO orders (id, user_id, shipping_address_id, billing_address_id, payment_method_id, status, total_amount) VALUES (?, ?, ?, ?, ?, 'pending', ?)"
		_, err = tx.ExecContext(ctx, orderQuery, orderID, in.UserID, in.AddressID, in.AddressID, paymentMethodID, total)
		s.metrics.RecordDBQuery(ctx, "INSERT", "orders", orderQuery, start, err == nil)
		if err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		itemQuery := "INSERT INTO order_items (id, order_id, product_id, quantity, unit_price, subtotal, status) VALUES (?, ?, ?, ?, ?, ?, 'pending')"
		for _, line := range in.Lines {
			lineSubtotal := line.BasePrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
			start = time.Now()
			_, err = tx.ExecContext(ctx, itemQuery, s.ids.NextID(), orderID, line.ProductID, line.Quantity, line.BasePrice, lineSubtotal)
			s.metrics.RecordDBQuery(ctx, "INSERT", "order_items", itemQuery, start, err == nil)
			if err != nil {
				return fmt.Errorf("failed to create order item: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		s.metrics.CheckoutFailures.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
			attribute.String("reason", failureReason(err)),
		})...))
		return nil, err
	}

	s.metrics.OrdersCreated.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("order_status", models.OrderStatusPending),
	})...))
	s.metrics.RevenueTotal.Add(ctx, total.InexactFloat64(), metric.WithAttributes(s.metrics.WithServiceName(nil)...))

	log.Printf("[ORDER] Order created: order_id=%d, total=%s, items=%d", orderID, total.StringFixed(2), len(in.Lines))

	emailStatus := s.sendConfirmation(ctx, in, orderID, orderTime, subtotal, tax, total)
	s.publishCreated(ctx, orderID, in.UserID, total, len(in.Lines), orderTime)

	return &CheckoutResult{
		OrderID:     orderID,
		OrderTime:   orderTime,
		Lines:       in.Lines,
		Subtotal:    subtotal,
		Tax:         tax,
		Total:       total,
		EmailStatus: emailStatus,
	}, nil
}

// decrementStock lowers a product's stock by qty in a single conditional
// update. The WHERE clause keeps the quantity from going negative under
// concurrent checkouts; zero rows affected means the product is missing or
// short on stock.
func (s *CheckoutService) decrementStock(ctx context.Context, tx *sql.Tx, productID int64, qty int) error {
	start := time.Now()
	query := "UPDATE products SET stock_quantity = stock_quantity - ?, updated_at = NOW() WHERE id = ? AND stock_quantity >= ?"
	result, err := tx.ExecContext(ctx, query, qty, productID, qty)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "products", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var exists bool
	existsQuery := "SELECT EXISTS(SELECT 1 FROM products WHERE id = ?)"
	start = time.Now()
	err = tx.QueryRowContext(ctx, existsQuery, productID).Scan(&exists)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", existsQuery, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to check product: %w", err)
	}
	if !exists {
		return &UnknownProductError{ProductID: productID}
	}

	s.metrics.StockRejections.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.Int64("product_id", productID),
	})...))
	return &InsufficientStockError{ProductID: productID}
}

// resolvePaymentMethod returns an existing payment method id owned by the
// user, or persists inline card details under a new id. An unresolvable
// payment method fails the checkout; nothing sentinel is ever recorded.
func (s *CheckoutService) resolvePaymentMethod(ctx context.Context, tx *sql.Tx, userID int64, payment models.CheckoutPayment) (int64, error) {
	if payment.ID != 0 {
		var exists bool
		query := "SELECT EXISTS(SELECT 1 FROM payment_methods WHERE id = ? AND user_id = ?)"
		start := time.Now()
		err := tx.QueryRowContext(ctx, query, payment.ID, userID).Scan(&exists)
		s.metrics.RecordDBQuery(ctx, "SELECT", "payment_methods", query, start, err == nil)
		if err != nil {
			return 0, fmt.Errorf("failed to check payment method: %w", err)
		}
		if !exists {
			return 0, ErrPaymentMethodNotFound
		}
		return payment.ID, nil
	}

	if !payment.Inline() {
		return 0, ErrPaymentMethodUnresolved
	}

	id := s.ids.NextID()
	query := "INSERT INTO payment_methods (id, user_id, card_type, last_four, holder_name, expiry_month, expiry_year, is_default) VALUES (?, ?, ?, ?, ?, ?, ?, FALSE)"
	start := time.Now()
	_, err := tx.ExecContext(ctx, query, id, userID, payment.CardType, payment.LastFour, payment.HolderName, payment.ExpiryMonth, payment.ExpiryYear)
	s.metrics.RecordDBQuery(ctx, "INSERT", "payment_methods", query, start, err == nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create payment method: %w", err)
	}
	return id, nil
}

// requireRow fails with notFound when the EXISTS query comes back false.
func (s *CheckoutService) requireRow(ctx context.Context, tx *sql.Tx, table, query string, notFound error, args ...any) error {
	var exists bool
	start := time.Now()
	err := tx.QueryRowContext(ctx, query, args...).Scan(&exists)
	s.metrics.RecordDBQuery(ctx, "SELECT", table, query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", table, err)
	}
	if !exists {
		return notFound
	}
	return nil
}

// sendConfirmation sends the order confirmation email. Failures are logged
// and recorded but never fail the checkout.
func (s *CheckoutService) sendConfirmation(ctx context.Context, in CheckoutInput, orderID int64, orderTime time.Time, subtotal, tax, total decimal.Decimal) string {
	if s.mailer == nil || in.Email == "" {
		return "skipped"
	}

	lines := make([]notification.ConfirmationLine, 0, len(in.Lines))
	for _, line := range in.Lines {
		lines = append(lines, notification.ConfirmationLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.BasePrice,
			Subtotal:  line.BasePrice.Mul(decimal.NewFromInt(int64(line.Quantity))),
		})
	}

	body, err := notification.RenderOrderConfirmation(notification.OrderConfirmation{
		OrderID:           orderID,
		OrderDate:         orderTime,
		Lines:             lines,
		Subtotal:          subtotal,
		Tax:               tax,
		Total:             total,
		EstimatedDelivery: orderTime.AddDate(0, 0, deliveryLeadDays),
	})
	if err == nil {
		err = s.mailer.Send(in.Email, fmt.Sprintf("Order Confirmation #%d", orderID), body)
	}

	s.metrics.RecordEmail(ctx, "order_confirmation", err == nil)
	if err != nil {
		log.Printf("[EMAIL] Failed to send confirmation for order %d: %v", orderID, err)
		return "failed"
	}
	return "sent"
}

func (s *CheckoutService) publishCreated(ctx context.Context, orderID, userID int64, total decimal.Decimal, itemCount int, at time.Time) {
	if s.events == nil {
		return
	}
	event := events.OrderCreatedEvent{
		OrderID:     orderID,
		UserID:      userID,
		TotalAmount: total,
		ItemCount:   itemCount,
		Timestamp:   at,
	}
	if err := s.events.Publish(ctx, orderID, event); err != nil {
		log.Printf("[EVENTS] Failed to publish order created event for order %d: %v", orderID, err)
	}
}

func failureReason(err error) string {
	var (
		validationErr *ValidationError
		stockErr      *InsufficientStockError
		productErr    *UnknownProductError
	)
	switch {
	case errors.As(err, &validationErr):
		return "validation"
	case errors.As(err, &stockErr):
		return "insufficient_stock"
	case errors.As(err, &productErr),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrAddressNotFound),
		errors.Is(err, ErrPaymentMethodNotFound),
		errors.Is(err, ErrPaymentMethodUnresolved):
		return "conflict"
	default:
		return "internal"
	}
}
