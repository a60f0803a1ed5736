package notification

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/shopspring/decimal"
)

// OrderConfirmation is the data rendered into the confirmation email.
type OrderConfirmation struct {
	OrderID           int64
	OrderDate         time.Time
	Lines             []ConfirmationLine
	Subtotal          decimal.Decimal
	Tax               decimal.Decimal
	Total             decimal.Decimal
	EstimatedDelivery time.Time
}

// ConfirmationLine is one purchased line in the confirmation email.
type ConfirmationLine struct {
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
}

var confirmationTmpl = template.Must(template.New("order_confirmation").Parse(`<html>
<body>
  <h2>Thank you for your order!</h2>
  <p>Order <strong>#{{.OrderID}}</strong> placed on {{.OrderDate.Format "Jan 2, 2006"}}.</p>
  <table border="1" cellpadding="4" cellspacing="0">
    <tr><th>Product</th><th>Qty</th><th>Unit Price</th><th>Subtotal</th></tr>
    {{range .Lines}}<tr><td>{{.ProductID}}</td><td>{{.Quantity}}</td><td>{{.UnitPrice.StringFixed 2}}</td><td>{{.Subtotal.StringFixed 2}}</td></tr>
    {{end}}
  </table>
  <p>Subtotal: {{.Subtotal.StringFixed 2}}<br>
  Tax: {{.Tax.StringFixed 2}}<br>
  <strong>Total: {{.Total.StringFixed 2}}</strong></p>
  <p>Estimated delivery: {{.EstimatedDelivery.Format "Jan 2, 2006"}}</p>
</body>
</html>`))

var statusChangeTmpl = template.Must(template.New("order_status").Parse(`<html>
<body>
  <p>Your order <strong>#{{.OrderID}}</strong> is now <strong>{{.Status}}</strong>.</p>
</body>
</html>`))

// RenderOrderConfirmation renders the order confirmation email body.
func RenderOrderConfirmation(data OrderConfirmation) (string, error) {
	var buf bytes.Buffer
	if err := confirmationTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render confirmation email: %w", err)
	}
	return buf.String(), nil
}

// RenderStatusChange renders the order status change email body.
func RenderStatusChange(orderID int64, status string) (string, error) {
	var buf bytes.Buffer
	err := statusChangeTmpl.Execute(&buf, struct {
		OrderID int64
		Status  string
	}{orderID, status})
	if err != nil {
		return "", fmt.Errorf("failed to render status email: %w", err)
	}
	return buf.String(), nil
}
