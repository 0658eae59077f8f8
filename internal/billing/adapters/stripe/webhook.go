package stripe

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/linkflow-go/cashier/internal/billing/ports"
	billing "github.com/linkflow-go/cashier/internal/domain/billing"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

var _ ports.WebhookVerifier = (*WebhookVerifier)(nil)

// WebhookVerifier checks Stripe-Signature headers against the endpoint secret.
type WebhookVerifier struct {
	secret string
}

func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret}
}

func (v *WebhookVerifier) VerifyWebhook(payload []byte, signature string) (*billing.GatewayEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if event.Data == nil {
		return nil, nil
	}

	switch string(event.Type) {
	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription event: %w", err)
		}
		rs := toRemoteSubscription(&sub)
		kind := billing.GatewayEventSubscriptionUpdated
		if event.Type == "customer.subscription.deleted" {
			kind = billing.GatewayEventSubscriptionDeleted
		}
		return &billing.GatewayEvent{
			ID:             event.ID,
			Type:           kind,
			CustomerID:     rs.CustomerID,
			SubscriptionID: rs.ID,
			Subscription:   rs,
		}, nil

	case "invoice.payment_failed":
		var in stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &in); err != nil {
			return nil, fmt.Errorf("decode invoice event: %w", err)
		}
		inv := toInvoice(&in)
		return &billing.GatewayEvent{
			ID:             event.ID,
			Type:           billing.GatewayEventInvoicePaymentFailed,
			CustomerID:     inv.CustomerID,
			SubscriptionID: inv.SubscriptionID,
			Invoice:        inv,
		}, nil
	}

	return nil, nil
}
