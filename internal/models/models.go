package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses. Order items accept the same set plus "returned".
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"

	ItemStatusReturned = "returned"
)

// ValidOrderStatus reports whether s is an allowed order status.
func ValidOrderStatus(s string) bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// ValidOrderItemStatus reports whether s is an allowed order item status.
func ValidOrderItemStatus(s string) bool {
	return ValidOrderStatus(s) || s == ItemStatusReturned
}

// Product represents a product in the catalog
type Product struct {
	ID            int64           `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	Description   string          `json:"description" db:"description"`
	Price         decimal.Decimal `json:"price" db:"price"`
	CategoryID    int64           `json:"category_id" db:"category_id"`
	SKU           string          `json:"sku" db:"sku"`
	StockQuantity int             `json:"stock_quantity" db:"stock_quantity"`
	ImagePath     string          `json:"image_path,omitempty" db:"image_path"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Category groups products
type Category struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// User represents a user account
type User struct {
	ID           int64     `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	FirstName    string    `json:"first_name" db:"first_name"`
	LastName     string    `json:"last_name" db:"last_name"`
	PasswordHash string    `json:"-" db:"password_hash"`
	IsAdmin      bool      `json:"is_admin" db:"is_admin"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Cart represents a shopping cart
type Cart struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CartItem represents an item in a cart
type CartItem struct {
	ID        int64     `json:"id" db:"id"`
	CartID    int64     `json:"cart_id" db:"cart_id"`
	ProductID int64     `json:"product_id" db:"product_id"`
	Quantity  int       `json:"quantity" db:"quantity"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Order represents an order
type Order struct {
	ID                int64           `json:"id" db:"id"`
	UserID            int64           `json:"user_id" db:"user_id"`
	ShippingAddressID int64           `json:"shipping_address_id" db:"shipping_address_id"`
	BillingAddressID  int64           `json:"billing_address_id" db:"billing_address_id"`
	PaymentMethodID   int64           `json:"payment_method_id" db:"payment_method_id"`
	Status            string          `json:"status" db:"status"`
	TotalAmount       decimal.Decimal `json:"total_amount" db:"total_amount"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
	Items             []OrderItem     `json:"items,omitempty"`
}

// OrderItem represents an item in an order. Unit price and subtotal are
// snapshots taken at checkout; later product price changes do not touch them.
type OrderItem struct {
	ID        int64           `json:"id" db:"id"`
	OrderID   int64           `json:"order_id" db:"order_id"`
	ProductID int64           `json:"product_id" db:"product_id"`
	Quantity  int             `json:"quantity" db:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price" db:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal" db:"subtotal"`
	Status    string          `json:"status" db:"status"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// PaymentMethod stores card metadata for a user. Card numbers are never
// stored, only the last four digits; nothing here is ever charged.
type PaymentMethod struct {
	ID          int64     `json:"id" db:"id"`
	UserID      int64     `json:"user_id" db:"user_id"`
	CardType    string    `json:"card_type" db:"card_type"`
	LastFour    string    `json:"last_four" db:"last_four"`
	HolderName  string    `json:"holder_name" db:"holder_name"`
	ExpiryMonth int       `json:"expiry_month" db:"expiry_month"`
	ExpiryYear  int       `json:"expiry_year" db:"expiry_year"`
	IsDefault   bool      `json:"is_default" db:"is_default"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Address represents a user shipping/billing address
type Address struct {
	ID         int64     `json:"id" db:"id"`
	UserID     int64     `json:"user_id" db:"user_id"`
	Line1      string    `json:"line1" db:"line1"`
	Line2      string    `json:"line2,omitempty" db:"line2"`
	City       string    `json:"city" db:"city"`
	State      string    `json:"state" db:"state"`
	PostalCode string    `json:"postal_code" db:"postal_code"`
	Country    string    `json:"country" db:"country"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// CheckoutLine is one requested purchase line. The price is the one the
// caller saw at add-to-cart time and is recorded as-is on the order item.
type CheckoutLine struct {
	ProductID int64           `json:"productId"`
	Quantity  int             `json:"quantity"`
	BasePrice decimal.Decimal `json:"basePrice"`
}

// CheckoutPayment is either a reference to an existing payment method or
// inline card details to persist. On the wire it may be a bare id or an
// object.
type CheckoutPayment struct {
	ID          int64  `json:"id,omitempty"`
	CardType    string `json:"card_type,omitempty"`
	LastFour    string `json:"last_four,omitempty"`
	HolderName  string `json:"holder_name,omitempty"`
	ExpiryMonth int    `json:"expiry_month,omitempty"`
	ExpiryYear  int    `json:"expiry_year,omitempty"`
}

// UnmarshalJSON accepts either a numeric payment method id or a full object.
func (p *CheckoutPayment) UnmarshalJSON(data []byte) error {
	var id int64
	if err := json.Unmarshal(data, &id); err == nil {
		*p = CheckoutPayment{ID: id}
		return nil
	}

	type alias CheckoutPayment
	var obj alias
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*p = CheckoutPayment(obj)
	return nil
}

// Inline reports whether the payment carries card details to persist.
func (p CheckoutPayment) Inline() bool {
	return p.ID == 0 && p.CardType != "" && p.LastFour != ""
}

// CartResponse represents a cart with its items
type CartResponse struct {
	Cart  *Cart           `json:"cart"`
	Items []CartItem      `json:"items"`
	Total decimal.Decimal `json:"total"`
}

// AddToCartRequest represents a request to add item to cart
type AddToCartRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}
