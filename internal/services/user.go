package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/shopkart/storefront-api/internal/db"
	"github.com/shopkart/storefront-api/internal/ident"
	"github.com/shopkart/storefront-api/internal/metrics"
	"github.com/shopkart/storefront-api/internal/models"
)

// UserService handles registration, authentication and profile management.
type UserService struct {
	db      *db.DB
	ids     *ident.Generator
	metrics *metrics.AppMetrics
}

// NewUserService creates a new user service.
func NewUserService(database *db.DB, ids *ident.Generator, appMetrics *metrics.AppMetrics) *UserService {
	return &UserService{db: database, ids: ids, metrics: appMetrics}
}

// RegisterInput carries the fields needed to create an account.
type RegisterInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (in *RegisterInput) validate() error {
	var fields []string
	if !strings.Contains(in.Email, "@") {
		fields = append(fields, "email")
	}
	if len(in.Password) < 8 {
		fields = append(fields, "password")
	}
	if in.FirstName == "" {
		fields = append(fields, "firstName")
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Register creates a new user account with a bcrypt password hash.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:        s.ids.NextID(),
		Email:     strings.ToLower(input.Email),
		FirstName: input.FirstName,
		LastName:  input.LastName,
	}

	start := time.Now()
	query := "INSERT INTO users (id, email, password_hash, first_name, last_name, is_admin) VALUES (?, ?, ?, ?, ?, FALSE)"
	_, err = s.db.ExecContext(ctx, query, user.ID, user.Email, string(hash), user.FirstName, user.LastName)
	s.metrics.RecordDBQuery(ctx, "INSERT", "users", query, start, err == nil)
	if err != nil {
		if strings.Contains(err.Error(), "Duplicate entry") {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	log.Printf("[AUTH] User registered: id=%d, email=%s", user.ID, user.Email)
	return user, nil
}

// Authenticate verifies the credentials and returns the matching user.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	start := time.Now()
	query := "SELECT id, email, password_hash, first_name, last_name, is_admin, created_at FROM users WHERE email = ?"
	var user models.User
	err := s.db.QueryRowContext(ctx, query, strings.ToLower(email)).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.FirstName, &user.LastName, &user.IsAdmin, &user.CreatedAt)
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// GetUser returns a user by id.
func (s *UserService) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	start := time.Now()
	query := "SELECT id, email, first_name, last_name, is_admin, created_at FROM users WHERE id = ?"
	var user models.User
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.ID, &user.Email, &user.FirstName, &user.LastName, &user.IsAdmin, &user.CreatedAt)
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// UpdateProfile changes the user's name fields.
func (s *UserService) UpdateProfile(ctx context.Context, userID int64, firstName, lastName string) error {
	if firstName == "" {
		return &ValidationError{Fields: []string{"firstName"}}
	}

	start := time.Now()
	query := "UPDATE users SET first_name = ?, last_name = ? WHERE id = ?"
	result, err := s.db.ExecContext(ctx, query, firstName, lastName, userID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "users", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
