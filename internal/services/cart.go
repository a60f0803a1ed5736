package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/shopkart/storefront-api/internal/db"
	"github.com/shopkart/storefront-api/internal/ident"
	"github.com/shopkart/storefront-api/internal/metrics"
	"github.com/shopkart/storefront-api/internal/models"
)

// CartService handles cart-related operations
type CartService struct {
	db      *db.DB
	ids     *ident.Generator
	metrics *metrics.AppMetrics
}

// NewCartService creates a new cart service
func NewCartService(database *db.DB, ids *ident.Generator, appMetrics *metrics.AppMetrics) *CartService {
	return &CartService{
		db:      database,
		ids:     ids,
		metrics: appMetrics,
	}
}

// GetOrCreateCart gets or creates a cart for a user
func (s *CartService) GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error) {
	start := time.Now()

	query := "SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = ? LIMIT 1"
	var cart models.Cart
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&cart.ID, &cart.UserID, &cart.CreatedAt, &cart.UpdatedAt,
	)
	s.metrics.RecordDBQuery(ctx, "SELECT", "carts", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		id := s.ids.NextID()
		start = time.Now()
		insertQuery := "INSERT INTO carts (id, user_id) VALUES (?, ?)"
		_, err := s.db.ExecContext(ctx, insertQuery, id, userID)
		s.metrics.RecordDBQuery(ctx, "INSERT", "carts", insertQuery, start, err == nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cart: %w", err)
		}

		cart.ID = id
		cart.UserID = userID
		cart.CreatedAt = time.Now()
		cart.UpdatedAt = cart.CreatedAt
	} else if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return &cart, nil
}

// AddToCart adds an item to the cart
func (s *CartService) AddToCart(ctx context.Context, userID, productID int64, quantity int) error {
	if quantity <= 0 {
		return &ValidationError{Fields: []string{"quantity"}}
	}

	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return err
	}

	// Verify product exists
	var exists bool
	checkProductQuery := "SELECT EXISTS(SELECT 1 FROM products WHERE id = ?)"
	start := time.Now()
	err = s.db.QueryRowContext(ctx, checkProductQuery, productID).Scan(&exists)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", checkProductQuery, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to verify product: %w", err)
	}
	if !exists {
		return ErrProductNotFound
	}

	start = time.Now()
	checkQuery := "SELECT id, quantity FROM cart_items WHERE cart_id = ? AND product_id = ?"
	var existingID int64
	var existingQty int
	err = s.db.QueryRowContext(ctx, checkQuery, cart.ID, productID).Scan(&existingID, &existingQty)
	s.metrics.RecordDBQuery(ctx, "SELECT", "cart_items", checkQuery, start, err == nil || err == sql.ErrNoRows)

	switch {
	case err == sql.ErrNoRows:
		start = time.Now()
		insertQuery := "INSERT INTO cart_items (id, cart_id, product_id, quantity) VALUES (?, ?, ?, ?)"
		_, err = s.db.ExecContext(ctx, insertQuery, s.ids.NextID(), cart.ID, productID, quantity)
		s.metrics.RecordDBQuery(ctx, "INSERT", "cart_items", insertQuery, start, err == nil)
		if err != nil {
			return fmt.Errorf("failed to add item to cart: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to check cart item: %w", err)
	default:
		start = time.Now()
		updateQuery := "UPDATE cart_items SET quantity = quantity + ?, updated_at = NOW() WHERE id = ?"
		_, err = s.db.ExecContext(ctx, updateQuery, quantity, existingID)
		s.metrics.RecordDBQuery(ctx, "UPDATE", "cart_items", updateQuery, start, err == nil)
		if err != nil {
			return fmt.Errorf("failed to update cart item: %w", err)
		}
	}

	s.updateCartItemsCount(ctx, cart.ID)
	return nil
}

// RemoveFromCart removes an item from the cart
func (s *CartService) RemoveFromCart(ctx context.Context, userID, productID int64) error {
	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return err
	}

	start := time.Now()
	query := "DELETE FROM cart_items WHERE cart_id = ? AND product_id = ?"
	_, err = s.db.ExecContext(ctx, query, cart.ID, productID)
	s.metrics.RecordDBQuery(ctx, "DELETE", "cart_items", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to remove item from cart: %w", err)
	}

	s.updateCartItemsCount(ctx, cart.ID)
	return nil
}

// GetCart returns the cart with all items
func (s *CartService) GetCart(ctx context.Context, userID int64) (*models.CartResponse, error) {
	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	query := `
		SELECT ci.id, ci.cart_id, ci.product_id, ci.quantity, ci.created_at, ci.updated_at,
		       p.price
		FROM cart_items ci
		JOIN products p ON ci.product_id = p.id
		WHERE ci.cart_id = ?
	`
	rows, err := s.db.QueryContext(ctx, query, cart.ID)
	s.metrics.RecordDBQuery(ctx, "SELECT", "cart_items", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart items: %w", err)
	}
	defer rows.Close()

	var items []models.CartItem
	total := decimal.Zero
	for rows.Next() {
		var item models.CartItem
		var price decimal.Decimal
		if err := rows.Scan(&item.ID, &item.CartID, &item.ProductID, &item.Quantity, &item.CreatedAt, &item.UpdatedAt, &price); err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		items = append(items, item)
		total = total.Add(price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	s.updateCartItemsCount(ctx, cart.ID)

	return &models.CartResponse{
		Cart:  cart,
		Items: items,
		Total: total,
	}, rows.Err()
}

// ClearCart removes every item from the user's cart. Called by the HTTP
// layer after a successful checkout.
func (s *CartService) ClearCart(ctx context.Context, userID int64) error {
	start := time.Now()
	cartIDQuery := "SELECT id FROM carts WHERE user_id = ?"
	var cartID int64
	err := s.db.QueryRowContext(ctx, cartIDQuery, userID).Scan(&cartID)
	s.metrics.RecordDBQuery(ctx, "SELECT", "carts", cartIDQuery, start, err == nil || err == sql.ErrNoRows)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get cart: %w", err)
	}

	start = time.Now()
	deleteQuery := "DELETE FROM cart_items WHERE cart_id = ?"
	_, err = s.db.ExecContext(ctx, deleteQuery, cartID)
	s.metrics.RecordDBQuery(ctx, "DELETE", "cart_items", deleteQuery, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}

	s.updateCartItemsCount(ctx, cartID)
	return nil
}

// updateCartItemsCount updates the cart items count gauge metric
func (s *CartService) updateCartItemsCount(ctx context.Context, cartID int64) {
	start := time.Now()
	query := "SELECT COUNT(*) FROM cart_items WHERE cart_id = ?"
	var count int
	err := s.db.QueryRowContext(ctx, query, cartID).Scan(&count)
	s.metrics.RecordDBQuery(ctx, "SELECT", "cart_items", query, start, err == nil)
	if err == nil {
		s.metrics.CartItemsCount.Record(ctx, int64(count), metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
			attribute.Int64("cart_id", cartID),
		})...))
	}
}
