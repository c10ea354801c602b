package notification

import (
	"bytes"
	"context"
	"html/template"
	"strings"

	"github.com/smallbiznis/storefront/internal/order/domain"
	"github.com/smallbiznis/storefront/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(New),
)

var confirmationTemplate = template.Must(template.New("order_confirmation").Parse(`<h2>Thank you for your order, {{.Customer.Name}}</h2>
<p>Order <strong>{{.OrderID}}</strong> has been paid.</p>
<table>
{{- range .Items}}
<tr><td>{{.Name}}</td><td>x{{.Quantity}}</td><td>{{.Price.StringFixed 2}}</td></tr>
{{- end}}
</table>
<p>Total: {{.Currency}} {{.TotalAmount.StringFixed 2}}</p>
`))

type Params struct {
	fx.In

	Log   *zap.Logger
	Email email.Provider
}

type EmailNotifier struct {
	log   *zap.Logger
	email email.Provider
}

func New(p Params) domain.Notifier {
	return &EmailNotifier{
		log:   p.Log.Named("notification"),
		email: p.Email,
	}
}

func Subject(order *domain.Order) string {
	return "Order Confirmation - " + order.OrderID
}

func (n *EmailNotifier) SendOrderConfirmation(ctx context.Context, order *domain.Order) domain.NotificationResult {
	if order == nil || strings.TrimSpace(order.Customer.Email) == "" {
		return domain.NotificationResult{Error: "missing recipient"}
	}

	var body bytes.Buffer
	if err := confirmationTemplate.Execute(&body, order); err != nil {
		n.log.Error("render order confirmation", zap.Error(err))
		return domain.NotificationResult{Error: err.Error()}
	}

	if err := n.email.Send(ctx, []string{order.Customer.Email}, Subject(order), body.String()); err != nil {
		return domain.NotificationResult{Error: err.Error()}
	}
	return domain.NotificationResult{Success: true}
}
