package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopkart/storefront-api/internal/db"
	"github.com/shopkart/storefront-api/internal/ident"
	"github.com/shopkart/storefront-api/internal/metrics"
	"github.com/shopkart/storefront-api/internal/models"
)

// PaymentMethodService manages a user's saved payment methods. Only card
// metadata is stored, never full card numbers.
type PaymentMethodService struct {
	db      *db.DB
	ids     *ident.Generator
	metrics *metrics.AppMetrics
}

// NewPaymentMethodService creates a new payment method service.
func NewPaymentMethodService(database *db.DB, ids *ident.Generator, appMetrics *metrics.AppMetrics) *PaymentMethodService {
	return &PaymentMethodService{db: database, ids: ids, metrics: appMetrics}
}

// PaymentMethodInput carries the fields for saving a payment method.
type PaymentMethodInput struct {
	CardType    string `json:"cardType"`
	LastFour    string `json:"lastFour"`
	HolderName  string `json:"holderName"`
	ExpiryMonth int    `json:"expiryMonth"`
	ExpiryYear  int    `json:"expiryYear"`
	IsDefault   bool   `json:"isDefault"`
}

func (in *PaymentMethodInput) validate() error {
	var fields []string
	if in.CardType == "" {
		fields = append(fields, "cardType")
	}
	if len(in.LastFour) != 4 {
		fields = append(fields, "lastFour")
	}
	if in.ExpiryMonth < 1 || in.ExpiryMonth > 12 {
		fields = append(fields, "expiryMonth")
	}
	if in.ExpiryYear < time.Now().Year() {
		fields = append(fields, "expiryYear")
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

const paymentMethodColumns = "id, user_id, card_type, last_four, holder_name, expiry_month, expiry_year, is_default, created_at"

// ListPaymentMethods returns the payment methods owned by the user.
func (s *PaymentMethodService) ListPaymentMethods(ctx context.Context, userID int64) ([]models.PaymentMethod, error) {
	start := time.Now()
	query := "SELECT " + paymentMethodColumns + " FROM payment_methods WHERE user_id = ? ORDER BY created_at DESC"
	rows, err := s.db.QueryContext(ctx, query, userID)
	s.metrics.RecordDBQuery(ctx, "SELECT", "payment_methods", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment methods: %w", err)
	}
	defer rows.Close()

	var methods []models.PaymentMethod
	for rows.Next() {
		var m models.PaymentMethod
		if err := rows.Scan(&m.ID, &m.UserID, &m.CardType, &m.LastFour, &m.HolderName,
			&m.ExpiryMonth, &m.ExpiryYear, &m.IsDefault, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment method: %w", err)
		}
		methods = append(methods, m)
	}

	return methods, rows.Err()
}

// CreatePaymentMethod saves a new payment method for the user.
func (s *PaymentMethodService) CreatePaymentMethod(ctx context.Context, userID int64, input PaymentMethodInput) (*models.PaymentMethod, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	method := &models.PaymentMethod{
		ID:          s.ids.NextID(),
		UserID:      userID,
		CardType:    input.CardType,
		LastFour:    input.LastFour,
		HolderName:  input.HolderName,
		ExpiryMonth: input.ExpiryMonth,
		ExpiryYear:  input.ExpiryYear,
		IsDefault:   input.IsDefault,
	}

	start := time.Now()
	query := "INSERT INTO payment_methods (id, user_id, card_type, last_four, holder_name, expiry_month, expiry_year, is_default) VALUES (?, ?, ?, ?, ?, ?, ?, ?)"
	_, err := s.db.ExecContext(ctx, query, method.ID, userID, method.CardType, method.LastFour,
		method.HolderName, method.ExpiryMonth, method.ExpiryYear, method.IsDefault)
	s.metrics.RecordDBQuery(ctx, "INSERT", "payment_methods", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment method: %w", err)
	}

	return method, nil
}

// DeletePaymentMethod removes a payment method the user owns.
func (s *PaymentMethodService) DeletePaymentMethod(ctx context.Context, userID, methodID int64) error {
	start := time.Now()
	query := "DELETE FROM payment_methods WHERE id = ? AND user_id = ?"
	result, err := s.db.ExecContext(ctx, query, methodID, userID)
	s.metrics.RecordDBQuery(ctx, "DELETE", "payment_methods", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to delete payment method: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrPaymentMethodNotFound
	}
	return nil
}
