package messaging

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type SmtpConfig struct {
	Server       string `json:"server"`
	Port         int    `json:"port"`
	EmailAddress string `json:"email_address"`
	Password     string `json:"password"`
}

// EmailSender mails alerts to subscribers whose id is `mailto:<address>`.
type EmailSender struct {
	config SmtpConfig
	send   func(mail *email.Email) error
}

func NewEmailSender(config SmtpConfig) EmailSender {
	s := EmailSender{config: config}
	s.send = s.sendSmtp
	return s
}

func (s EmailSender) sendSmtp(mail *email.Email) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server, s.config.Port)
	err := mail.Send(
		addr,
		smtp.PlainAuth("", s.config.EmailAddress, s.config.Password, s.config.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		return mail.Send(addr, nil)
	}
	return err
}

func (s EmailSender) Send(ctx context.Context, subscriberID string, alert Alert) error {
	ctx, span := tracer.Start(ctx, "EmailSender.Send", trace.WithAttributes(
		attribute.String("subscriber_id", subscriberID),
		attribute.String("product_id", alert.ProductID),
	))
	defer span.End()

	address := strings.TrimPrefix(subscriberID, mailtoPrefix)
	if address == "" || address == subscriberID {
		return fmt.Errorf("'%s' is not a mailto subscriber", subscriberID)
	}

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Restock Monitor <%s>", s.config.EmailAddress)
	mail.To = []string{address}
	mail.Subject = alert.Subject()
	mail.Text = []byte(alert.Text())

	// smtp sends cannot be canceled, the result is dropped if ctx ends first
	result := make(chan error, 1)
	go func() {
		result <- s.send(mail)
	}()

	select {
	case err := <-result:
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to send email")
			return err
		}
		return nil
	case <-ctx.Done():
		span.SetStatus(codes.Error, "email send timed out")
		return ctx.Err()
	}
}
