package services

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Columns each service references in its SQL. sqlmock matches query strings
// only, so a column missing from the DDL would surface as MySQL error 1054
// at runtime; this keeps the statements and schema.sql honest against each
// other.
var queriedColumns = map[string][]string{
	"users":           {"id", "email", "password_hash", "first_name", "last_name", "is_admin", "created_at"},
	"categories":      {"id", "name", "created_at"},
	"products":        {"id", "name", "description", "price", "category_id", "sku", "stock_quantity", "image_path", "created_at", "updated_at"},
	"carts":           {"id", "user_id", "created_at", "updated_at"},
	"cart_items":      {"id", "cart_id", "product_id", "quantity", "created_at", "updated_at"},
	"user_addresses":  {"id", "user_id", "line1", "line2", "city", "state", "postal_code", "country", "created_at"},
	"payment_methods": {"id", "user_id", "card_type", "last_four", "holder_name", "expiry_month", "expiry_year", "is_default", "created_at"},
	"orders":          {"id", "user_id", "shipping_address_id", "billing_address_id", "payment_method_id", "status", "total_amount", "created_at", "updated_at"},
	"order_items":     {"id", "order_id", "product_id", "quantity", "unit_price", "subtotal", "status", "created_at"},
}

func schemaColumns(t *testing.T) map[string]map[string]bool {
	t.Helper()

	raw, err := os.ReadFile(filepath.Join("..", "..", "schema.sql"))
	require.NoError(t, err)

	tables := make(map[string]map[string]bool)
	var current map[string]bool
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if name, ok := strings.CutPrefix(line, "CREATE TABLE IF NOT EXISTS "); ok {
			name = strings.TrimSuffix(name, " (")
			current = make(map[string]bool)
			tables[name] = current
			continue
		}
		if current == nil || line == "" {
			continue
		}
		if strings.HasPrefix(line, ")") {
			current = nil
			continue
		}
		fields := strings.Fields(line)
		// Column definitions start lowercase; FOREIGN KEY, INDEX, UNIQUE
		// KEY and CONSTRAINT lines do not.
		if len(fields) > 0 && fields[0] == strings.ToLower(fields[0]) {
			current[fields[0]] = true
		}
	}
	return tables
}

func TestSchemaCoversQueriedColumns(t *testing.T) {
	tables := schemaColumns(t)

	for table, cols := range queriedColumns {
		defined, ok := tables[table]
		require.True(t, ok, "schema.sql does not create table %s", table)
		for _, col := range cols {
			require.True(t, defined[col], "table %s has no %s column, but a service references it", table, col)
		}
	}
}
