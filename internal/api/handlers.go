package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/shopkart/storefront-api/internal/auth"
	"github.com/shopkart/storefront-api/internal/db"
	"github.com/shopkart/storefront-api/internal/metrics"
	"github.com/shopkart/storefront-api/internal/middleware"
	"github.com/shopkart/storefront-api/internal/models"
	"github.com/shopkart/storefront-api/internal/services"
	"github.com/shopkart/storefront-api/pkg/config"
)

// App holds application dependencies
type App struct {
	config          *config.Config
	db              *db.DB
	metrics         *metrics.AppMetrics
	productService  *services.ProductService
	cartService     *services.CartService
	checkoutService *services.CheckoutService
	orderService    *services.OrderService
	userService     *services.UserService
	addressService  *services.AddressService
	paymentService  *services.PaymentMethodService
}

// NewApp creates a new application instance
func NewApp(
	cfg *config.Config,
	database *db.DB,
	m *metrics.AppMetrics,
	ps *services.ProductService,
	cs *services.CartService,
	chs *services.CheckoutService,
	os *services.OrderService,
	us *services.UserService,
	as *services.AddressService,
	pms *services.PaymentMethodService,
) *App {
	return &App{
		config:          cfg,
		db:              database,
		metrics:         m,
		productService:  ps,
		cartService:     cs,
		checkoutService: chs,
		orderService:    os,
		userService:     us,
		addressService:  as,
		paymentService:  pms,
	}
}

// SetupRoutes configures the HTTP routes
func (a *App) SetupRoutes(r *mux.Router) {
	// Middleware
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.CORSMiddleware)
	r.Use(middleware.RecoverMiddleware)
	r.Use(middleware.MetricsMiddleware(a.metrics))

	// API Routes
	api := r.PathPrefix("/api/v1").Subrouter()

	// Public: catalog and auth
	api.HandleFunc("/products", a.ListProductsHandler).Methods("GET")
	api.HandleFunc("/products/{id}", a.GetProductHandler).Methods("GET")
	api.HandleFunc("/categories", a.ListCategoriesHandler).Methods("GET")
	api.HandleFunc("/auth/register", a.RegisterHandler).Methods("POST")
	api.HandleFunc("/auth/login", a.LoginHandler).Methods("POST")

	// Authenticated
	authed := api.NewRoute().Subrouter()
	authed.Use(middleware.AuthMiddleware(a.config.Auth))

	authed.HandleFunc("/cart", a.GetCartHandler).Methods("GET")
	authed.HandleFunc("/cart/add", a.AddToCartHandler).Methods("POST")
	authed.HandleFunc("/cart/remove", a.RemoveFromCartHandler).Methods("POST")

	authed.HandleFunc("/checkout", a.CheckoutHandler).Methods("POST")
	authed.HandleFunc("/orders", a.ListOrdersHandler).Methods("GET")
	authed.HandleFunc("/orders/{id}", a.GetOrderHandler).Methods("GET")

	authed.HandleFunc("/me", a.GetProfileHandler).Methods("GET")
	authed.HandleFunc("/me", a.UpdateProfileHandler).Methods("PUT")

	authed.HandleFunc("/addresses", a.ListAddressesHandler).Methods("GET")
	authed.HandleFunc("/addresses", a.CreateAddressHandler).Methods("POST")
	authed.HandleFunc("/addresses/{id}", a.UpdateAddressHandler).Methods("PUT")
	authed.HandleFunc("/addresses/{id}", a.DeleteAddressHandler).Methods("DELETE")

	authed.HandleFunc("/payment-methods", a.ListPaymentMethodsHandler).Methods("GET")
	authed.HandleFunc("/payment-methods", a.CreatePaymentMethodHandler).Methods("POST")
	authed.HandleFunc("/payment-methods/{id}", a.DeletePaymentMethodHandler).Methods("DELETE")

	// Admin
	admin := authed.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.AdminOnly)

	admin.HandleFunc("/products", a.CreateProductHandler).Methods("POST")
	admin.HandleFunc("/products/{id}", a.UpdateProductHandler).Methods("PUT")
	admin.HandleFunc("/products/{id}/stock", a.AdjustStockHandler).Methods("POST")
	admin.HandleFunc("/products/{id}/image", a.UploadProductImageHandler).Methods("POST")
	admin.HandleFunc("/orders/{id}/status", a.UpdateOrderStatusHandler).Methods("PUT")
	admin.HandleFunc("/orders/{id}/items/{itemId}/status", a.UpdateOrderItemStatusHandler).Methods("PUT")

	// Static product images
	r.PathPrefix("/images/").Handler(
		http.StripPrefix("/images/", http.FileServer(http.Dir(a.config.UploadDir))))

	// Health
	r.HandleFunc("/health", a.HealthHandler).Methods("GET")
}

// HealthHandler handles health check requests
func (a *App) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	return id, err == nil && id > 0
}

// ListProductsHandler handles GET /api/v1/products
func (a *App) ListProductsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 20
	offset := 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 100 {
		limit = 100
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed > 0 {
			offset = parsed
		}
	}

	var categoryID int64
	if c := r.URL.Query().Get("category"); c != "" {
		if parsed, err := strconv.ParseInt(c, 10, 64); err == nil {
			categoryID = parsed
		}
	}
	search := r.URL.Query().Get("q")

	products, err := a.productService.ListProducts(r.Context(), limit, offset, search, categoryID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, products)
}

// GetProductHandler handles GET /api/v1/products/{id}
func (a *App) GetProductHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Invalid product ID"})
		return
	}

	product, err := a.productService.GetProduct(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, product)
}

// ListCategoriesHandler handles GET /api/v1/categories
func (a *App) ListCategoriesHandler(w http.ResponseWriter, r *http.Request) {
	categories, err := a.productService.ListCategories(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

// RegisterHandler handles POST /api/v1/auth/register
func (a *App) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req services.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Invalid request body"})
		return
	}

	user, err := a.userService.Register(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	token, err := auth.NewToken(a.config.Auth, user.ID, user.IsAdmin)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"user": user, "token": token})
}

// LoginHandler handles POST /api/v1/auth/login
func (a *App) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Invalid request body"})
		return
	}

	user, err := a.userService.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	token, err := auth.NewToken(a.config.Auth, user.ID, user.IsAdmin)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": user, "token": token})
}

// GetCartHandler handles GET /api/v1/cart
func (a *App) GetCartHandler(w http.ResponseWriter, r *http.Request) {
	cart, err := a.cartService.GetCart(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

// AddToCartHandler handles POST /api/v1/cart/add
func (a *App) AddToCartHandler(w http.ResponseWriter, r *http.Request) {
	var req models.AddToCartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Invalid request body"})
		return
	}

	if err := a.cartService.AddToCart(r.Context(), middleware.UserID(r.Context()), req.ProductID, req.Quantity); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

// RemoveFromCartHandler handles POST /api/v1/cart/remove
func (a *App) RemoveFromCartHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID int64 `json:"productId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Invalid request body"})
		return
	}

	if err := a.cartService.RemoveFromCart(r.Context(), middleware.UserID(r.Context()), req.ProductID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

type checkoutRequest struct {
	Products      []models.CheckoutLine  `json:"products"`
	PaymentMethod models.CheckoutPayment `json:"paymentMethod"`
	UserID        int64                  `json:"userId"`
	AddressID     int64                  `json:"addressId"`
	Email         string                 `json:"email"`
}

type checkoutResponse struct {
	OrderID   int64                 `json:"orderId"`
	OrderTime time.Time             `json:"orderTime"`
	Products  []models.CheckoutLine `json:"products"`
	Email     string                `json:"email"`
	Message   string                `json:"message"`
}

// CheckoutHandler handles POST /api/v1/checkout. It creates the order
// atomically and clears the user's cart on success.
func (a *App) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Invalid request body"})
		return
	}

	userID := req.UserID
	if userID == 0 {
		userID = middleware.UserID(r.Context())
	}

	result, err := a.checkoutService.Checkout(r.Context(), services.CheckoutInput{
		UserID:    userID,
		AddressID: req.AddressID,
		Email:     req.Email,
		Lines:     req.Products,
		Payment:   req.PaymentMethod,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if err := a.cartService.ClearCart(r.Context(), userID); err != nil {
		log.Printf("[CHECKOUT] Failed to clear cart for user %d: %v", userID, err)
	}

	writeJSON(w, http.StatusCreated, checkoutResponse{
		OrderID:   result.OrderID,
		OrderTime: result.OrderTime,
		Products:  result.Lines,
		Email:     result.EmailStatus,
		Message:   "Order created successfully",
	})
}

// ListOrdersHandler handles GET /api/v1/orders
func (a *App) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	orders, err := a.orderService.ListUserOrders(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetOrderHandler handles GET /api/v1/orders/{id}
func (a *App) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Invalid order ID"})
		return
	}

	order, err := a.orderService.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	// Owners see their own orders; admins see everything.
	if order.UserID != middleware.UserID(r.Context()) && !middleware.IsAdmin(r.Context()) {
		writeError(w, services.ErrOrderNotFound)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// GetProfileHandler handles GET /api/v1/me
func (a *App) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	user, err := a.userService.GetUser(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateProfileHandler handles PUT /api/v1/me
func (a *App) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Invalid request body"})
		return
	}

	if err := a.userService.UpdateProfile(r.Context(), middleware.UserID(r.Context()), req.FirstName, req.LastName); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// ListAddressesHandler handles GET /api/v1/addresses
func (a *App) ListAddressesHandler(w http.ResponseWriter, r *http.Request) {
	addresses, err := a.addressService.ListAddresses(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addresses)
}

// CreateAddressHandler handles POST /api/v1/addresses
func (a *App) CreateAddressHandler(w http.ResponseWriter, r *http.Request) {
	var req services.AddressInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Invalid request body"})
		return
	}

	address, err := a.addressService.CreateAddress(r.Context(), middleware.UserID(r.Context()), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, address)
}

// UpdateAddressHandler handles PUT /api/v1/addresses/{id}
func (a *App) UpdateAddressHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Invalid address ID"})
		return
	}

	var req services.AddressInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Invalid request body"})
		return
	}

	if err := a.addressService.UpdateAddress(r.Context(), middleware.UserID(r.Context()), id, req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// DeleteAddressHandler handles DELETE /api/v1/addresses/{id}
func (a *App) DeleteAddressHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Invalid address ID"})
		return
	}

	if err := a.addressService.DeleteAddress(r.Context(), middleware.UserID(r.Context()), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ListPaymentMethodsHandler handles GET /api/v1/payment-methods
func (a *App) ListPaymentMethodsHandler(w http.ResponseWriter, r *http.Request) {
	methods, err := a.paymentService.ListPaymentMethods(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, methods)
}

// CreatePaymentMethodHandler handles POST /api/v1/payment-methods
func (a *App) CreatePaymentMethodHandler(w http.ResponseWriter, r *http.Request) {
	var req services.PaymentMethodInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Invalid request body"})
		return
	}

	method, err := a.paymentService.CreatePaymentMethod(r.Context(), middleware.UserID(r.Context()), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, method)
}

// DeletePaymentMethodHandler handles DELETE /api/v1/payment-methods/{id}
func (a *App) DeletePaymentMethodHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Invalid payment method ID"})
		return
	}

	if err := a.paymentService.DeletePaymentMethod(r.Context(), middleware.UserID(r.Context()), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// CreateProductHandler handles POST /api/v1/admin/products
func (a *App) CreateProductHandler(w http.ResponseWriter, r *http.Request) {
	var req services.CreateProductInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Invalid request body"})
		return
	}

	product, err := a.productService.CreateProduct(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

// UpdateProductHandler handles PUT /api/v1/admin/products/{id}
func (a *App) UpdateProductHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Invalid product ID"})
		return
	}

	var req services.CreateProductInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Invalid request body"})
		return
	}

	product, err := a.productService.UpdateProduct(r.Context(), id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// AdjustStockHandler handles POST /api/v1/admin/products/{id}/stock
func (a *App) AdjustStockHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Invalid product ID"})
		return
	}

	var req struct {
		Delta int `json:"delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Delta == 0 {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Invalid stock delta"})
		return
	}

	if err := a.productService.AdjustStock(r.Context(), id, req.Delta); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "adjusted"})
}

// UploadProductImageHandler handles POST /api/v1/admin/products/{id}/image.
// Expects a multipart form with an "image" file part.
func (a *App) UploadProductImageHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Invalid product ID"})
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Invalid multipart form"})
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Missing image file"})
		return
	}
	defer file.Close()

	ext := filepath.Ext(header.Filename)
	if ext != ".png" && ext != ".jpg" && ext != ".jpeg" && ext != ".webp" {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Unsupported image type"})
		return
	}

	name := strconv.FormatInt(id, 10) + ext
	dst, err := os.Create(filepath.Join(a.config.UploadDir, name))
	if err != nil {
		writeError(w, err)
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		writeError(w, err)
		return
	}

	path := "/images/" + name
	if err := a.productService.SetImagePath(r.Context(), id, path); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"imagePath": path})
}

// UpdateOrderStatusHandler handles PUT /api/v1/admin/orders/{id}/status
func (a *App) UpdateOrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(r, "id")
	if !ok {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Invalid order ID"})
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Invalid request body"})
		return
	}

	if err := a.orderService.UpdateOrderStatus(r.Context(), orderID, req.Status); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// UpdateOrderItemStatusHandler handles PUT /api/v1/admin/orders/{id}/items/{itemId}/status
func (a *App) UpdateOrderItemStatusHandler(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(r, "id")
	if !ok {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Invalid order ID"})
		return
	}
	itemID, ok := pathID(r, "itemId")
	if !ok {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Invalid order item ID"})
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: "Invalid request body"})
		return
	}

	if err := a.orderService.UpdateOrderItemStatus(r.Context(), orderID, itemID, req.Status); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
