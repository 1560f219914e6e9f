package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("restock-monitor/internal/messaging")

type AlertKind string

const (
	AlertRestock    AlertKind = "restock"
	AlertOutOfStock AlertKind = "out_of_stock"
)

// Alert is the structured notification handed to the messaging layer, which
// renders it in its own presentation format.
type Alert struct {
	Kind        AlertKind `json:"kind"`
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name"`
	StoreName   string    `json:"store_name"`
	ProductURL  string    `json:"product_url"`
	CheckoutURL string    `json:"checkout_url"`
	DetectedAt  time.Time `json:"detected_at"`
}

// Subject is a one line summary of the alert.
func (a Alert) Subject() string {
	if a.Kind == AlertOutOfStock {
		return fmt.Sprintf("%s is out of stock at %s", a.ProductName, a.StoreName)
	}
	return fmt.Sprintf("%s is back in stock at %s", a.ProductName, a.StoreName)
}

// Text renders the alert as plain text.
func (a Alert) Text() string {
	var sb strings.Builder
	sb.WriteString(a.Subject())
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "Product: %s\n", a.ProductURL)
	if a.CheckoutURL != "" {
		fmt.Fprintf(&sb, "Checkout: %s\n", a.CheckoutURL)
	}
	fmt.Fprintf(&sb, "Detected at: %s\n", a.DetectedAt.Format(time.RFC1123))
	return sb.String()
}

// Sender delivers an alert to one subscriber.
type Sender interface {
	Send(ctx context.Context, subscriberID string, alert Alert) error
}

const mailtoPrefix = "mailto:"

// Router delivers to subscribers with a `mailto:` id by email and to everyone else
// through the webhook.
type Router struct {
	webhook Sender
	email   Sender
}

// NewRouter creates a Router, either sender may be nil if that channel is not configured.
func NewRouter(webhook, email Sender) Router {
	return Router{webhook: webhook, email: email}
}

var ErrNoChannel = errors.New("no messaging channel configured")

func (r Router) Send(ctx context.Context, subscriberID string, alert Alert) error {
	if strings.HasPrefix(subscriberID, mailtoPrefix) {
		if r.email == nil {
			return fmt.Errorf("email to '%s': %w", subscriberID, ErrNoChannel)
		}
		return r.email.Send(ctx, subscriberID, alert)
	}
	if r.webhook == nil {
		return fmt.Errorf("webhook to '%s': %w", subscriberID, ErrNoChannel)
	}
	return r.webhook.Send(ctx, subscriberID, alert)
}
