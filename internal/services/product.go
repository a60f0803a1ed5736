package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/shopkart/storefront-api/internal/db"
	"github.com/shopkart/storefront-api/internal/ident"
	"github.com/shopkart/storefront-api/internal/metrics"
	"github.com/shopkart/storefront-api/internal/models"
)

// ProductCache holds cached products
type ProductCache struct {
	mu    sync.RWMutex
	items map[int64]cachedProduct
}

type cachedProduct struct {
	product models.Product
	expires time.Time
}

// ProductService handles catalog operations
type ProductService struct {
	db      *db.DB
	ids     *ident.Generator
	metrics *metrics.AppMetrics
	cache   ProductCache
}

// NewProductService creates a new product service
func NewProductService(database *db.DB, ids *ident.Generator, appMetrics *metrics.AppMetrics) *ProductService {
	return &ProductService{
		db:      database,
		ids:     ids,
		metrics: appMetrics,
		cache:   ProductCache{items: make(map[int64]cachedProduct)},
	}
}

const productColumns = "id, name, description, price, category_id, sku, stock_quantity, COALESCE(image_path, ''), created_at, updated_at"

func scanProduct(row interface{ Scan(...any) error }) (models.Product, error) {
	var p models.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.CategoryID, &p.SKU,
		&p.StockQuantity, &p.ImagePath, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// ListProducts returns a paginated product listing, optionally filtered by a
// name/description search term and a category.
func (s *ProductService) ListProducts(ctx context.Context, limit, offset int, search string, categoryID int64) ([]models.Product, error) {
	query := "SELECT " + productColumns + " FROM products"
	var conds []string
	var args []any

	if search != "" {
		conds = append(conds, "(name LIKE ? OR description LIKE ?)")
		pattern := "%" + search + "%"
		args = append(args, pattern, pattern)
	}
	if categoryID != 0 {
		conds = append(conds, "category_id = ?")
		args = append(args, categoryID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}

	return products, rows.Err()
}

// GetProduct returns a product by ID
func (s *ProductService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	// Check cache first
	s.cache.mu.RLock()
	if cached, exists := s.cache.items[id]; exists && time.Now().Before(cached.expires) {
		s.cache.mu.RUnlock()
		s.metrics.CacheHits.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName(nil)...))
		s.recordView(ctx, id)
		return &cached.product, nil
	}
	s.cache.mu.RUnlock()

	s.metrics.CacheMisses.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName(nil)...))

	start := time.Now()
	query := "SELECT " + productColumns + " FROM products WHERE id = ?"
	p, err := scanProduct(s.db.QueryRowContext(ctx, query, id))
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	s.cache.mu.Lock()
	s.cache.items[id] = cachedProduct{
		product: p,
		expires: time.Now().Add(5 * time.Minute),
	}
	s.cache.mu.Unlock()

	s.recordView(ctx, id)
	return &p, nil
}

func (s *ProductService) recordView(ctx context.Context, id int64) {
	s.metrics.ProductsViewed.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.Int64("product_id", id),
	})...))
}

// invalidate drops a product from the cache after a write.
func (s *ProductService) invalidate(id int64) {
	s.cache.mu.Lock()
	delete(s.cache.items, id)
	s.cache.mu.Unlock()
}

// ListCategories returns all product categories
func (s *ProductService) ListCategories(ctx context.Context) ([]models.Category, error) {
	start := time.Now()
	query := "SELECT id, name, created_at FROM categories ORDER BY name"
	rows, err := s.db.QueryContext(ctx, query)
	s.metrics.RecordDBQuery(ctx, "SELECT", "categories", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var categories []models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}

	return categories, rows.Err()
}

// CreateProductInput carries the admin product creation payload.
type CreateProductInput struct {
	Name          string
	Description   string
	Price         decimal.Decimal
	CategoryID    int64
	SKU           string
	StockQuantity int
}

// CreateProduct inserts a new product under a generated id.
func (s *ProductService) CreateProduct(ctx context.Context, in CreateProductInput) (*models.Product, error) {
	var exists bool
	catQuery := "SELECT EXISTS(SELECT 1 FROM categories WHERE id = ?)"
	start := time.Now()
	err := s.db.QueryRowContext(ctx, catQuery, in.CategoryID).Scan(&exists)
	s.metrics.RecordDBQuery(ctx, "SELECT", "categories", catQuery, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to check category: %w", err)
	}
	if !exists {
		return nil, ErrCategoryNotFound
	}

	id := s.ids.NextID()
	query := "INSERT INTO products (id, name, description, price, category_id, sku, stock_quantity) VALUES (?, ?, ?, ?, ?, ?, ?)"
	start = time.Now()
	_, err = s.db.ExecContext(ctx, query, id, in.Name, in.Description, in.Price, in.CategoryID, in.SKU, in.StockQuantity)
	s.metrics.RecordDBQuery(ctx, "INSERT", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	return s.GetProduct(ctx, id)
}

// UpdateProduct updates name, description, price and category.
func (s *ProductService) UpdateProduct(ctx context.Context, id int64, in CreateProductInput) (*models.Product, error) {
	query := "UPDATE products SET name = ?, description = ?, price = ?, category_id = ?, updated_at = NOW() WHERE id = ?"
	start := time.Now()
	result, err := s.db.ExecContext(ctx, query, in.Name, in.Description, in.Price, in.CategoryID, id)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrProductNotFound
	}

	s.invalidate(id)
	return s.GetProduct(ctx, id)
}

// AdjustStock changes stock by delta. Negative deltas use the same
// conditional update as checkout so the quantity cannot go below zero.
func (s *ProductService) AdjustStock(ctx context.Context, id int64, delta int) error {
	var query string
	var args []any
	if delta < 0 {
		query = "UPDATE products SET stock_quantity = stock_quantity + ?, updated_at = NOW() WHERE id = ? AND stock_quantity >= ?"
		args = []any{delta, id, -delta}
	} else {
		query = "UPDATE products SET stock_quantity = stock_quantity + ?, updated_at = NOW() WHERE id = ?"
		args = []any{delta, id}
	}

	start := time.Now()
	result, err := s.db.ExecContext(ctx, query, args...)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "products", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to adjust stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if delta < 0 {
			return &InsufficientStockError{ProductID: id}
		}
		return ErrProductNotFound
	}

	s.invalidate(id)
	return nil
}

// SetImagePath records the served path of an uploaded product image.
func (s *ProductService) SetImagePath(ctx context.Context, id int64, path string) error {
	query := "UPDATE products SET image_path = ?, updated_at = NOW() WHERE id = ?"
	start := time.Now()
	result, err := s.db.ExecContext(ctx, query, path, id)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "products", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to set image path: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrProductNotFound
	}

	s.invalidate(id)
	return nil
}
