package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"restock-monitor/internal/assert"
	"restock-monitor/internal/components/chrono"
	"restock-monitor/internal/components/telemetry"
	"restock-monitor/internal/messaging"
	"restock-monitor/internal/registry"
	"restock-monitor/internal/tracker"
)

const (
	report_notifier_list_subscribers = "notifier.list-subscribers"
	report_notifier_claim_delivery   = "notifier.claim-delivery"
	report_notifier_deliver          = "notifier.deliver"
	report_notifier_delivered        = "notifier.delivered"
)

// Subscribers is the part of the registry the notifier reads and writes.
type Subscribers interface {
	ListForProduct(ctx context.Context, productID string) ([]string, error)
	ClaimDelivery(ctx context.Context, subscriberID, productID string, restockAt, now time.Time) (bool, error)
}

type Config struct {
	// DeliveryTimeout bounds a single delivery to a single subscriber.
	DeliveryTimeout time.Duration
	// NotifyOutOfStock also alerts subscribers when a product sells out.
	NotifyOutOfStock bool
}

// DeliveryError is the failure to deliver an alert to one subscriber.
type DeliveryError struct {
	SubscriberID string
	ProductID    string
	Err          error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver '%s' to '%s': %v", e.ProductID, e.SubscriberID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Report summarizes one Notify call.
type Report struct {
	Subscribers int
	Sent        int
	// Skipped counts subscribers that were already alerted for the same event.
	Skipped int
	Failed  []*DeliveryError
}

type Notifier struct {
	subscribers Subscribers
	sender      messaging.Sender
	clock       chrono.TimeAPI
	tel         telemetry.API
	config      Config
}

func New(
	subscribers Subscribers,
	sender messaging.Sender,
	clock chrono.TimeAPI,
	tel telemetry.API,
	config Config,
) Notifier {
	assert.NotNil(subscribers, "subscribers")
	assert.NotNil(sender, "sender")
	assert.NotNil(clock, "clock")
	assert.NotNil(tel, "telemetry")
	assert.Positive(config.DeliveryTimeout, "delivery timeout")

	return Notifier{
		subscribers: subscribers,
		sender:      sender,
		clock:       clock,
		tel:         telemetry.NewScopedAPI("notifier", tel),
		config:      config,
	}
}

// Notify alerts every subscriber of the product, direct or wildcard, about the
// transition. Only restocks alert unless Config.NotifyOutOfStock is set.
//
// Each subscriber is alerted at most once per restock, so calling Notify again for
// the same restock only reaches subscribers that were never reached. A failed
// delivery is reported and never stops delivery to the remaining subscribers.
//
// The returned error is only set when retrying the same restock later could reach
// someone that was missed: the subscribers could not be listed, a delivery could
// not be claimed or ctx ended. Delivery failures are listed in Report.Failed.
func (n Notifier) Notify(ctx context.Context, product registry.Product, transition tracker.Transition) (Report, error) {
	var kind messaging.AlertKind
	switch {
	case transition == tracker.TransitionBecameInStock:
		kind = messaging.AlertRestock
	case transition == tracker.TransitionBecameOutOfStock && n.config.NotifyOutOfStock:
		kind = messaging.AlertOutOfStock
	default:
		return Report{}, nil
	}

	detectedAt := product.LastChecked
	if kind == messaging.AlertRestock && !product.LastRestock.IsZero() {
		detectedAt = product.LastRestock
	}
	if detectedAt.IsZero() {
		detectedAt = n.clock.Now()
	}

	subscribers, err := n.subscribers.ListForProduct(ctx, product.ID)
	if err != nil {
		n.tel.ReportBroken(report_notifier_list_subscribers, err, product.ID)
		return Report{}, err
	}

	alert := messaging.Alert{
		Kind:        kind,
		ProductID:   product.ID,
		ProductName: product.Name,
		StoreName:   product.Store,
		ProductURL:  product.URL,
		CheckoutURL: product.CheckoutURL,
		DetectedAt:  detectedAt,
	}

	report := Report{Subscribers: len(subscribers)}
	var claimErrs []error
	for _, subscriberID := range subscribers {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		if kind == messaging.AlertRestock {
			claimed, err := n.subscribers.ClaimDelivery(ctx, subscriberID, product.ID, detectedAt, n.clock.Now())
			if err != nil {
				n.tel.ReportBroken(report_notifier_claim_delivery, err, product.ID, subscriberID)
				deliveryErr := &DeliveryError{
					SubscriberID: subscriberID,
					ProductID:    product.ID,
					Err:          err,
				}
				report.Failed = append(report.Failed, deliveryErr)
				claimErrs = append(claimErrs, deliveryErr)
				continue
			}
			if !claimed {
				report.Skipped++
				continue
			}
		}

		err := n.deliver(ctx, subscriberID, alert)
		if err != nil {
			deliveryErr := &DeliveryError{
				SubscriberID: subscriberID,
				ProductID:    product.ID,
				Err:          err,
			}
			n.tel.ReportWarning(report_notifier_deliver, deliveryErr)
			report.Failed = append(report.Failed, deliveryErr)
			continue
		}
		report.Sent++
	}

	n.tel.ReportCount(report_notifier_delivered, int64(report.Sent))
	return report, errors.Join(claimErrs...)
}

func (n Notifier) deliver(ctx context.Context, subscriberID string, alert messaging.Alert) error {
	ctx, cancel := context.WithTimeout(ctx, n.config.DeliveryTimeout)
	defer cancel()
	return n.sender.Send(ctx, subscriberID, alert)
}
