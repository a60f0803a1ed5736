package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/shopkart/storefront-api/internal/db"
	"github.com/shopkart/storefront-api/internal/ident"
	"github.com/shopkart/storefront-api/internal/metrics"
	"github.com/shopkart/storefront-api/internal/models"
	"github.com/shopkart/storefront-api/internal/notification"
)

type fakeMailer struct {
	sent []string
	err  error
}

func (f *fakeMailer) Send(to, subject, htmlBody string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to)
	return nil
}

func newTestMetrics(t *testing.T) *metrics.AppMetrics {
	t.Helper()
	m, err := metrics.New(noop.NewMeterProvider().Meter("test"), "test")
	require.NoError(t, err)
	return m
}

func newCheckoutService(t *testing.T, mailer *fakeMailer) (*CheckoutService, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	ids, err := ident.New(1)
	require.NoError(t, err)

	var sender notification.Sender
	if mailer != nil {
		sender = mailer
	}
	svc := NewCheckoutService(db.Wrap(sqlDB), ids, newTestMetrics(t), sender, nil)
	return svc, mock
}

func existsRow(exists bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"exists"}).AddRow(exists)
}

func validInput() CheckoutInput {
	return CheckoutInput{
		UserID:    42,
		AddressID: 7,
		Email:     "buyer@example.com",
		Lines: []models.CheckoutLine{
			{ProductID: 100, Quantity: 5, BasePrice: decimal.RequireFromString("100.00")},
		},
		Payment: models.CheckoutPayment{ID: 9},
	}
}

// expectPreamble sets up the checks that run before stock is touched.
func expectPreamble(mock sqlmock.Sqlmock, in CheckoutInput) {
	mock.ExpectQuery("SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)").
		WithArgs(in.UserID).WillReturnRows(existsRow(true))
	mock.ExpectQuery("SELECT EXISTS(SELECT 1 FROM user_addresses WHERE id = ? AND user_id = ?)").
		WithArgs(in.AddressID, in.UserID).WillReturnRows(existsRow(true))
	mock.ExpectQuery("SELECT EXISTS(SELECT 1 FROM payment_methods WHERE id = ? AND user_id = ?)").
		WithArgs(in.Payment.ID, in.UserID).WillReturnRows(existsRow(true))
}

func TestCheckoutSuccess(t *testing.T) {
	mailer := &fakeMailer{}
	svc, mock := newCheckoutService(t, mailer)
	in := validInput()

	mock.ExpectBegin()
	expectPreamble(mock, in)
	mock.ExpectExec("UPDATE products SET stock_quantity = stock_quantity - ?, updated_at = NOW() WHERE id = ? AND stock_quantity >= ?").
		WithArgs(5, int64(100), 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO orders (id, user_id, shipping_address_id, billing_address_id, payment_method_id, status, total_amount) VALUES (?, ?, ?, ?, ?, 'pending', ?)").
		WithArgs(sqlmock.AnyArg(), in.UserID, in.AddressID, in.AddressID, in.Payment.ID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_items (id, order_id, product_id, quantity, unit_price, subtotal, status) VALUES (?, ?, ?, ?, ?, ?, 'pending')").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), int64(100), 5, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := svc.Checkout(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.NotZero(t, result.OrderID)
	assert.Equal(t, "500", result.Subtotal.String())
	assert.Equal(t, "65", result.Tax.String())
	assert.Equal(t, "565.00", result.Total.StringFixed(2))
	assert.Equal(t, "sent", result.EmailStatus)
	assert.Equal(t, []string{"buyer@example.com"}, mailer.sent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutRoundsTotalOnly(t *testing.T) {
	// 3 x 19.99 = 59.97; 59.97 * 1.13 = 67.7661 -> 67.77
	lines := []models.CheckoutLine{
		{ProductID: 1, Quantity: 3, BasePrice: decimal.RequireFromString("19.99")},
	}
	subtotal, tax, total := computeTotals(lines)
	assert.Equal(t, "59.97", subtotal.StringFixed(2))
	assert.Equal(t, "67.77", total.StringFixed(2))
	assert.True(t, subtotal.Add(tax).Equal(total), "subtotal+tax must equal total")
}

func TestComputeTotals(t *testing.T) {
	tests := []struct {
		name  string
		lines []models.CheckoutLine
		total string
	}{
		{
			name: "single line",
			lines: []models.CheckoutLine{
				{ProductID: 1, Quantity: 5, BasePrice: decimal.RequireFromString("100.00")},
			},
			total: "565.00",
		},
		{
			name: "multiple lines",
			lines: []models.CheckoutLine{
				{ProductID: 1, Quantity: 2, BasePrice: decimal.RequireFromString("10.00")},
				{ProductID: 2, Quantity: 1, BasePrice: decimal.RequireFromString("5.50")},
			},
			total: "28.82",
		},
		{
			name: "sub-cent rounding",
			lines: []models.CheckoutLine{
				{ProductID: 1, Quantity: 1, BasePrice: decimal.RequireFromString("0.03")},
			},
			total: "0.03",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, total := computeTotals(tt.lines)
			assert.Equal(t, tt.total, total.StringFixed(2))
		})
	}
}

func TestCheckoutValidation(t *testing.T) {
	svc, mock := newCheckoutService(t, nil)

	tests := []struct {
		name   string
		mutate func(*CheckoutInput)
		field  string
	}{
		{"no products", func(in *CheckoutInput) { in.Lines = nil }, "products"},
		{"zero product id", func(in *CheckoutInput) { in.Lines[0].ProductID = 0 }, "products[0].productId"},
		{"zero quantity", func(in *CheckoutInput) { in.Lines[0].Quantity = 0 }, "products[0].quantity"},
		{"negative quantity", func(in *CheckoutInput) { in.Lines[0].Quantity = -1 }, "products[0].quantity"},
		{"missing user", func(in *CheckoutInput) { in.UserID = 0 }, "userId"},
		{"missing address", func(in *CheckoutInput) { in.AddressID = 0 }, "addressId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)

			result, err := svc.Checkout(context.Background(), in)
			require.Error(t, err)
			assert.Nil(t, result)

			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Contains(t, validationErr.Fields, tt.field)
		})
	}

	// Validation failures must never reach the database.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutInsufficientStock(t *testing.T) {
	mailer := &fakeMailer{}
	svc, mock := newCheckoutService(t, mailer)
	in := validInput()

	mock.ExpectBegin()
	expectPreamble(mock, in)
	mock.ExpectExec("UPDATE products SET stock_quantity = stock_quantity - ?, updated_at = NOW() WHERE id = ? AND stock_quantity >= ?").
		WithArgs(5, int64(100), 5).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS(SELECT 1 FROM products WHERE id = ?)").
		WithArgs(int64(100)).WillReturnRows(existsRow(true))
	mock.ExpectRollback()

	result, err := svc.Checkout(context.Background(), in)
	require.Error(t, err)
	assert.Nil(t, result)

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.EqualError(t, err, "Insufficient stock for product ID 100")
	assert.Empty(t, mailer.sent, "no email on failed checkout")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutUnknownProduct(t *testing.T) {
	svc, mock := newCheckoutService(t, nil)
	in := validInput()

	mock.ExpectBegin()
	expectPreamble(mock, in)
	mock.ExpectExec("UPDATE products SET stock_quantity = stock_quantity - ?, updated_at = NOW() WHERE id = ? AND stock_quantity >= ?").
		WithArgs(5, int64(100), 5).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS(SELECT 1 FROM products WHERE id = ?)").
		WithArgs(int64(100)).WillReturnRows(existsRow(false))
	mock.ExpectRollback()

	_, err := svc.Checkout(context.Background(), in)
	var productErr *UnknownProductError
	require.ErrorAs(t, err, &productErr)
	assert.Equal(t, int64(100), productErr.ProductID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutReportsFirstFailingLine(t *testing.T) {
	svc, mock := newCheckoutService(t, nil)
	in := validInput()
	in.Lines = []models.CheckoutLine{
		{ProductID: 100, Quantity: 2, BasePrice: decimal.RequireFromString("10.00")},
		{ProductID: 200, Quantity: 3, BasePrice: decimal.RequireFromString("20.00")},
	}

	mock.ExpectBegin()
	expectPreamble(mock, in)
	mock.ExpectExec("UPDATE products SET stock_quantity = stock_quantity - ?, updated_at = NOW() WHERE id = ? AND stock_quantity >= ?").
		WithArgs(2, int64(100), 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE products SET stock_quantity = stock_quantity - ?, updated_at = NOW() WHERE id = ? AND stock_quantity >= ?").
		WithArgs(3, int64(200), 3).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS(SELECT 1 FROM products WHERE id = ?)").
		WithArgs(int64(200)).WillReturnRows(existsRow(true))
	mock.ExpectRollback()

	_, err := svc.Checkout(context.Background(), in)
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(200), stockErr.ProductID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutUnknownUserRollsBack(t *testing.T) {
	svc, mock := newCheckoutService(t, nil)
	in := validInput()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)").
		WithArgs(in.UserID).WillReturnRows(existsRow(false))
	mock.ExpectRollback()

	_, err := svc.Checkout(context.Background(), in)
	require.ErrorIs(t, err, ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutUnknownAddressRollsBack(t *testing.T) {
	svc, mock := newCheckoutService(t, nil)
	in := validInput()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)").
		WithArgs(in.UserID).WillReturnRows(existsRow(true))
	mock.ExpectQuery("SELECT EXISTS(SELECT 1 FROM user_addresses WHERE id = ? AND user_id = ?)").
		WithArgs(in.AddressID, in.UserID).WillReturnRows(existsRow(false))
	mock.ExpectRollback()

	_, err := svc.Checkout(context.Background(), in)
	require.ErrorIs(t, err, ErrAddressNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutUnresolvedPayment(t *testing.T) {
	svc, mock := newCheckoutService(t, nil)
	in := validInput()
	in.Payment = models.CheckoutPayment{}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)").
		WithArgs(in.UserID).WillReturnRows(existsRow(true))
	mock.ExpectQuery("SELECT EXISTS(SELECT 1 FROM user_addresses WHERE id = ? AND user_id = ?)").
		WithArgs(in.AddressID, in.UserID).WillReturnRows(existsRow(true))
	mock.ExpectRollback()

	_, err := svc.Checkout(context.Background(), in)
	require.ErrorIs(t, err, ErrPaymentMethodUnresolved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutInlinePaymentPersisted(t *testing.T) {
	svc, mock := newCheckoutService(t, nil)
	in := validInput()
	in.Payment = models.CheckoutPayment{
		CardType:    "visa",
		LastFour:    "4242",
		HolderName:  "Test Buyer",
		ExpiryMonth: 12,
		ExpiryYear:  2030,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)").
		WithArgs(in.UserID).WillReturnRows(existsRow(true))
	mock.ExpectQuery("SELECT EXISTS(SELECT 1 FROM user_addresses WHERE id = ? AND user_id = ?)").
		WithArgs(in.AddressID, in.UserID).WillReturnRows(existsRow(true))
	mock.ExpectExec("INSERT INTO payment_methods (id, user_id, card_type, last_four, holder_name, expiry_month, expiry_year, is_default) VALUES (?, ?, ?, ?, ?, ?, ?, FALSE)").
		WithArgs(sqlmock.AnyArg(), in.UserID, "visa", "4242", "Test Buyer", 12, 2030).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE products SET stock_quantity = stock_quantity - ?, updated_at = NOW() WHERE id = ? AND stock_quantity >= ?").
		WithArgs(5, int64(100), 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO orders (id, user_id, shipping_address_id, billing_address_id, payment_method_id, status, total_amount) VALUES (?, ?, ?, ?, ?, 'pending', ?)").
		WithArgs(sqlmock.AnyArg(), in.UserID, in.AddressID, in.AddressID, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_items (id, order_id, product_id, quantity, unit_price, subtotal, status) VALUES (?, ?, ?, ?, ?, ?, 'pending')").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), int64(100), 5, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := svc.Checkout(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "skipped", result.EmailStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutEmailFailureDoesNotFailOrder(t *testing.T) {
	mailer := &fakeMailer{err: errors.New("smtp unreachable")}
	svc, mock := newCheckoutService(t, mailer)
	in := validInput()

	mock.ExpectBegin()
	expectPreamble(mock, in)
	mock.ExpectExec("UPDATE products SET stock_quantity = stock_quantity - ?, updated_at = NOW() WHERE id = ? AND stock_quantity >= ?").
		WithArgs(5, int64(100), 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO orders (id, user_id, shipping_address_id, billing_address_id, payment_method_id, status, total_amount) VALUES (?, ?, ?, ?, ?, 'pending', ?)").
		WithArgs(sqlmock.AnyArg(), in.UserID, in.AddressID, in.AddressID, in.Payment.ID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_items (id, order_id, product_id, quantity, unit_price, subtotal, status) VALUES (?, ?, ?, ?, ?, ?, 'pending')").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), int64(100), 5, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := svc.Checkout(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "failed", result.EmailStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutInsertFailureRollsBack(t *testing.T) {
	svc, mock := newCheckoutService(t, nil)
	in := validInput()

	mock.ExpectBegin()
	expectPreamble(mock, in)
	mock.ExpectExec("UPDATE products SET stock_quantity = stock_quantity - ?, updated_at = NOW() WHERE id = ? AND stock_quantity >= ?").
		WithArgs(5, int64(100), 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO orders (id, user_id, shipping_address_id, billing_address_id, payment_method_id, status, total_amount) VALUES (?, ?, ?, ?, ?, 'pending', ?)").
		WithArgs(sqlmock.AnyArg(), in.UserID, in.AddressID, in.AddressID, in.Payment.ID, sqlmock.AnyArg()).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	result, err := svc.Checkout(context.Background(), in)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		err    error
		reason string
	}{
		{&ValidationError{Fields: []string{"products"}}, "validation"},
		{&InsufficientStockError{ProductID: 1}, "insufficient_stock"},
		{&UnknownProductError{ProductID: 1}, "conflict"},
		{ErrUserNotFound, "conflict"},
		{ErrAddressNotFound, "conflict"},
		{ErrPaymentMethodNotFound, "conflict"},
		{ErrPaymentMethodUnresolved, "conflict"},
		{fmt.Errorf("failed to create order: %w", sql.ErrConnDone), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.reason, failureReason(tt.err), "reason for %v", tt.err)
	}
}
