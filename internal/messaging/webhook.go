package messaging

import (
	"context"
	"fmt"
	"time"

	"restock-monitor/internal/assert"
	"restock-monitor/internal/components/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type WebhookConfig struct {
	Url string `json:"url"`
	// Token is sent as a bearer token so the receiver can tell the alerts are genuine.
	Token string `json:"token"`
}

type webhookPayload struct {
	SubscriberID string `json:"subscriber_id"`
	Alert        Alert  `json:"alert"`
}

// WebhookSender posts alerts as json to the chat layer, which relays them to the
// channel or conversation named by the subscriber id.
type WebhookSender struct {
	config WebhookConfig
	http   *resty.Client
}

func NewWebhookSender(config WebhookConfig, timeout time.Duration, tel telemetry.API) WebhookSender {
	assert.NotEmptyStr(config.Url, "webhook url")
	assert.NotNil(tel, "telemetry")

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("content-type", "application/json")
	if config.Token != "" {
		client.SetAuthToken(config.Token)
	}
	telemetry.InstrumentResty(client, telemetry.NewScopedAPI("webhook", tel))

	return WebhookSender{config: config, http: client}
}

func (s WebhookSender) Send(ctx context.Context, subscriberID string, alert Alert) error {
	ctx, span := tracer.Start(ctx, "WebhookSender.Send", trace.WithAttributes(
		attribute.String("subscriber_id", subscriberID),
		attribute.String("product_id", alert.ProductID),
	))
	defer span.End()

	res, err := s.http.R().
		SetContext(ctx).
		SetBody(webhookPayload{SubscriberID: subscriberID, Alert: alert}).
		Post(s.config.Url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to post webhook")
		return err
	}
	if !res.IsSuccess() {
		err = fmt.Errorf("webhook responded with %s", res.Status())
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook rejected alert")
		return err
	}
	return nil
}
