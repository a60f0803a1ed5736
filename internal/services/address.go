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

// AddressService manages a user's saved shipping addresses.
type AddressService struct {
	db      *db.DB
	ids     *ident.Generator
	metrics *metrics.AppMetrics
}

// NewAddressService creates a new address service.
func NewAddressService(database *db.DB, ids *ident.Generator, appMetrics *metrics.AppMetrics) *AddressService {
	return &AddressService{db: database, ids: ids, metrics: appMetrics}
}

// AddressInput carries the fields for creating or updating an address.
type AddressInput struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

func (in *AddressInput) validate() error {
	var fields []string
	if in.Line1 == "" {
		fields = append(fields, "line1")
	}
	if in.City == "" {
		fields = append(fields, "city")
	}
	if in.PostalCode == "" {
		fields = append(fields, "postalCode")
	}
	if in.Country == "" {
		fields = append(fields, "country")
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

const addressColumns = "id, user_id, line1, COALESCE(line2, ''), city, state, postal_code, country, created_at"

// ListAddresses returns all addresses owned by the user.
func (s *AddressService) ListAddresses(ctx context.Context, userID int64) ([]models.Address, error) {
	start := time.Now()
	query := "SELECT " + addressColumns + " FROM user_addresses WHERE user_id = ? ORDER BY created_at DESC"
	rows, err := s.db.QueryContext(ctx, query, userID)
	s.metrics.RecordDBQuery(ctx, "SELECT", "user_addresses", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query addresses: %w", err)
	}
	defer rows.Close()

	var addresses []models.Address
	for rows.Next() {
		var a models.Address
		if err := rows.Scan(&a.ID, &a.UserID, &a.Line1, &a.Line2, &a.City, &a.State,
			&a.PostalCode, &a.Country, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan address: %w", err)
		}
		addresses = append(addresses, a)
	}

	return addresses, rows.Err()
}

// CreateAddress saves a new address for the user.
func (s *AddressService) CreateAddress(ctx context.Context, userID int64, input AddressInput) (*models.Address, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	address := &models.Address{
		ID:         s.ids.NextID(),
		UserID:     userID,
		Line1:      input.Line1,
		Line2:      input.Line2,
		City:       input.City,
		State:      input.State,
		PostalCode: input.PostalCode,
		Country:    input.Country,
	}

	start := time.Now()
	query := "INSERT INTO user_addresses (id, user_id, line1, line2, city, state, postal_code, country) VALUES (?, ?, ?, ?, ?, ?, ?, ?)"
	_, err := s.db.ExecContext(ctx, query, address.ID, userID, address.Line1, address.Line2,
		address.City, address.State, address.PostalCode, address.Country)
	s.metrics.RecordDBQuery(ctx, "INSERT", "user_addresses", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create address: %w", err)
	}

	return address, nil
}

// UpdateAddress modifies an address the user owns.
func (s *AddressService) UpdateAddress(ctx context.Context, userID, addressID int64, input AddressInput) error {
	if err := input.validate(); err != nil {
		return err
	}

	start := time.Now()
	query := "UPDATE user_addresses SET line1 = ?, line2 = ?, city = ?, state = ?, postal_code = ?, country = ? WHERE id = ? AND user_id = ?"
	result, err := s.db.ExecContext(ctx, query, input.Line1, input.Line2, input.City,
		input.State, input.PostalCode, input.Country, addressID, userID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "user_addresses", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to update address: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAddressNotFound
	}
	return nil
}

// DeleteAddress removes an address the user owns.
func (s *AddressService) DeleteAddress(ctx context.Context, userID, addressID int64) error {
	start := time.Now()
	query := "DELETE FROM user_addresses WHERE id = ? AND user_id = ?"
	result, err := s.db.ExecContext(ctx, query, addressID, userID)
	s.metrics.RecordDBQuery(ctx, "DELETE", "user_addresses", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to delete address: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAddressNotFound
	}
	return nil
}
