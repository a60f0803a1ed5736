package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/shopkart/storefront-api/internal/db"
	"github.com/shopkart/storefront-api/internal/ident"
	"github.com/shopkart/storefront-api/internal/metrics"
	"github.com/shopkart/storefront-api/internal/middleware"
	"github.com/shopkart/storefront-api/internal/services"
	"github.com/shopkart/storefront-api/pkg/config"
)

func newTestApp(t *testing.T) (*App, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	database := db.Wrap(sqlDB)
	appMetrics, err := metrics.New(noop.NewMeterProvider().Meter("test"), "test")
	require.NoError(t, err)

	ids, err := ident.New(1)
	require.NoError(t, err)

	cfg := &config.Config{
		UploadDir: t.TempDir(),
		Auth: config.AuthConfig{
			JWTSecret: "test-secret",
			TokenTTL:  time.Hour,
		},
	}

	app := NewApp(cfg, database, appMetrics,
		services.NewProductService(database, ids, appMetrics),
		services.NewCartService(database, ids, appMetrics),
		services.NewCheckoutService(database, ids, appMetrics, nil, nil),
		services.NewOrderService(database, appMetrics, nil, nil),
		services.NewUserService(database, ids, appMetrics),
		services.NewAddressService(database, ids, appMetrics),
		services.NewPaymentMethodService(database, ids, appMetrics))
	return app, mock
}

func authedRequest(method, target string, body []byte, userID int64) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	ctx := middleware.WithUser(req.Context(), userID, false)
	return req.WithContext(ctx)
}

func decodeIssues(t *testing.T, body *bytes.Buffer) []Issue {
	t.Helper()
	var envelope struct {
		Error struct {
			Issues []Issue `json:"issues"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(body).Decode(&envelope))
	return envelope.Error.Issues
}

func existsRow(exists bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"exists"}).AddRow(exists)
}

func checkoutBody() []byte {
	return []byte(`{
		"products": [{"productId": 100, "basePrice": "100.00", "quantity": 5}],
		"paymentMethod": 9,
		"userId": 42,
		"addressId": 7,
		"email": "buyer@example.com"
	}`)
}

func expectCheckoutTx(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)").
		WithArgs(int64(42)).WillReturnRows(existsRow(true))
	mock.ExpectQuery("SELECT EXISTS(SELECT 1 FROM user_addresses WHERE id = ? AND user_id = ?)").
		WithArgs(int64(7), int64(42)).WillReturnRows(existsRow(true))
	mock.ExpectQuery("SELECT EXISTS(SELECT 1 FROM payment_methods WHERE id = ? AND user_id = ?)").
		WithArgs(int64(9), int64(42)).WillReturnRows(existsRow(true))
	mock.ExpectExec("UPDATE products SET stock_quantity = stock_quantity - ?, updated_at = NOW() WHERE id = ? AND stock_quantity >= ?").
		WithArgs(5, int64(100), 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO orders (id, user_id, shipping_address_id, billing_address_id, payment_method_id, status, total_amount) VALUES (?, ?, ?, ?, ?, 'pending', ?)").
		WithArgs(sqlmock.AnyArg(), int64(42), int64(7), int64(7), int64(9), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_items (id, order_id, product_id, quantity, unit_price, subtotal, status) VALUES (?, ?, ?, ?, ?, ?, 'pending')").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), int64(100), 5, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestCheckoutHandlerCreated(t *testing.T) {
	app, mock := newTestApp(t)

	expectCheckoutTx(mock)
	// Cart cleared after a successful checkout.
	mock.ExpectQuery("SELECT id FROM carts WHERE user_id = ?").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(500))
	mock.ExpectExec("DELETE FROM cart_items WHERE cart_id = ?").
		WithArgs(int64(500)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT COUNT(*) FROM cart_items WHERE cart_id = ?").
		WithArgs(int64(500)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	rec := httptest.NewRecorder()
	app.CheckoutHandler(rec, authedRequest(http.MethodPost, "/api/v1/checkout", checkoutBody(), 42))

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		OrderID   int64     `json:"orderId"`
		OrderTime time.Time `json:"orderTime"`
		Email     string    `json:"email"`
		Message   string    `json:"message"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotZero(t, resp.OrderID)
	assert.False(t, resp.OrderTime.IsZero())
	assert.Equal(t, "skipped", resp.Email)
	assert.Equal(t, "Order created successfully", resp.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutHandlerValidation(t *testing.T) {
	app, mock := newTestApp(t)

	body := []byte(`{"products": [], "paymentMethod": 9, "userId": 42, "addressId": 7}`)
	rec := httptest.NewRecorder()
	app.CheckoutHandler(rec, authedRequest(http.MethodPost, "/api/v1/checkout", body, 42))

	require.Equal(t, http.StatusBadRequest, rec.Code)

	issues := decodeIssues(t, rec.Body)
	require.NotEmpty(t, issues)
	assert.Equal(t, "invalid_request", issues[0].Code)
	assert.Contains(t, issues[0].Message, "products")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutHandlerInsufficientStock(t *testing.T) {
	app, mock := newTestApp(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)").
		WithArgs(int64(42)).WillReturnRows(existsRow(true))
	mock.ExpectQuery("SELECT EXISTS(SELECT 1 FROM user_addresses WHERE id = ? AND user_id = ?)").
		WithArgs(int64(7), int64(42)).WillReturnRows(existsRow(true))
	mock.ExpectQuery("SELECT EXISTS(SELECT 1 FROM payment_methods WHERE id = ? AND user_id = ?)").
		WithArgs(int64(9), int64(42)).WillReturnRows(existsRow(true))
	mock.ExpectExec("UPDATE products SET stock_quantity = stock_quantity - ?, updated_at = NOW() WHERE id = ? AND stock_quantity >= ?").
		WithArgs(5, int64(100), 5).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS(SELECT 1 FROM products WHERE id = ?)").
		WithArgs(int64(100)).WillReturnRows(existsRow(true))
	mock.ExpectRollback()

	rec := httptest.NewRecorder()
	app.CheckoutHandler(rec, authedRequest(http.MethodPost, "/api/v1/checkout", checkoutBody(), 42))

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	issues := decodeIssues(t, rec.Body)
	require.Len(t, issues, 1)
	assert.Equal(t, "insufficient_stock", issues[0].Code)
	assert.Equal(t, "Insufficient stock for product ID 100", issues[0].Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutHandlerDefaultsToAuthenticatedUser(t *testing.T) {
	app, mock := newTestApp(t)

	body := []byte(`{
		"products": [{"productId": 100, "basePrice": "100.00", "quantity": 5}],
		"paymentMethod": 9,
		"addressId": 7,
		"email": "buyer@example.com"
	}`)

	expectCheckoutTx(mock)
	mock.ExpectQuery("SELECT id FROM carts WHERE user_id = ?").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rec := httptest.NewRecorder()
	app.CheckoutHandler(rec, authedRequest(http.MethodPost, "/api/v1/checkout", body, 42))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutHandlerBadJSON(t *testing.T) {
	app, _ := newTestApp(t)

	rec := httptest.NewRecorder()
	app.CheckoutHandler(rec, authedRequest(http.MethodPost, "/api/v1/checkout", []byte(`{not json`), 42))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	issues := decodeIssues(t, rec.Body)
	require.Len(t, issues, 1)
	assert.Equal(t, "invalid_request", issues[0].Code)
}

func TestHealthHandler(t *testing.T) {
	app, _ := newTestApp(t)

	rec := httptest.NewRecorder()
	app.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestListProductsHandlerClampsPaging(t *testing.T) {
	const listQuery = "SELECT id, name, description, price, category_id, sku, stock_quantity, COALESCE(image_path, ''), created_at, updated_at FROM products ORDER BY id LIMIT ? OFFSET ?"

	tests := []struct {
		name          string
		target        string
		limit, offset int
	}{
		{"negative values fall back to defaults", "/api/v1/products?limit=-1&offset=-5", 20, 0},
		{"zero limit falls back to default", "/api/v1/products?limit=0", 20, 0},
		{"oversized limit is capped", "/api/v1/products?limit=1000&offset=40", 100, 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, mock := newTestApp(t)
			mock.ExpectQuery(listQuery).
				WithArgs(tt.limit, tt.offset).
				WillReturnRows(sqlmock.NewRows([]string{
					"id", "name", "description", "price", "category_id", "sku",
					"stock_quantity", "image_path", "created_at", "updated_at",
				}))

			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			rec := httptest.NewRecorder()

			router := mux.NewRouter()
			app.SetupRoutes(router)
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGetProductHandlerInvalidID(t *testing.T) {
	app, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/abc", nil)
	rec := httptest.NewRecorder()

	router := mux.NewRouter()
	app.SetupRoutes(router)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
