package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/shopkart/storefront-api/internal/services"
)

// Issue is one entry in the structured error envelope.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Issues []Issue `json:"issues"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

func writeIssues(w http.ResponseWriter, status int, issues ...Issue) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Issues: issues}})
}

// writeError maps service errors to HTTP status codes and the issue envelope.
// Validation failures are client errors; stock conflicts and anything
// unexpected surface as 500 with the cause in the message.
func writeError(w http.ResponseWriter, err error) {
	var validationErr *services.ValidationError
	if errors.As(err, &validationErr) {
		issues := make([]Issue, 0, len(validationErr.Fields))
		for _, field := range validationErr.Fields {
			issues = append(issues, Issue{Code: "invalid_request", Message: "Invalid or missing field: " + field})
		}
		writeIssues(w, http.StatusBadRequest, issues...)
		return
	}

	var stockErr *services.InsufficientStockError
	if errors.As(err, &stockErr) {
		writeIssues(w, http.StatusInternalServerError, Issue{Code: "insufficient_stock", Message: stockErr.Error()})
		return
	}

	var unknownErr *services.UnknownProductError
	if errors.As(err, &unknownErr) {
		writeIssues(w, http.StatusInternalServerError, Issue{Code: "unknown_product", Message: unknownErr.Error()})
		return
	}

	switch {
	case errors.Is(err, services.ErrProductNotFound),
		errors.Is(err, services.ErrCategoryNotFound),
		errors.Is(err, services.ErrOrderNotFound),
		errors.Is(err, services.ErrOrderItemNotFound),
		errors.Is(err, services.ErrAddressNotFound),
		errors.Is(err, services.ErrPaymentMethodNotFound),
		errors.Is(err, services.ErrUserNotFound):
		writeIssues(w, http.StatusNotFound, Issue{Code: "not_found", Message: err.Error()})
	case errors.Is(err, services.ErrUserExists):
		writeIssues(w, http.StatusConflict, Issue{Code: "conflict", Message: err.Error()})
	case errors.Is(err, services.ErrInvalidCredentials):
		writeIssues(w, http.StatusUnauthorized, Issue{Code: "unauthorized", Message: err.Error()})
	case errors.Is(err, services.ErrPaymentMethodUnresolved):
		writeIssues(w, http.StatusBadRequest, Issue{Code: "invalid_request", Message: err.Error()})
	default:
		log.Printf("[API] Internal error: %v", err)
		writeIssues(w, http.StatusInternalServerError, Issue{Code: "internal", Message: err.Error()})
	}
}
