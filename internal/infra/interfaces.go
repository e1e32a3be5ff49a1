package infra

import "context"

type PaymentGateway interface {
	CreateIntent(ctx context.Context, amountMinor int64, currency string) (*PaymentIntent, error)
	RetrieveIntent(ctx context.Context, intentID string) (*PaymentIntent, error)
	Refund(ctx context.Context, intentID string) (*RefundResult, error)
}

type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

var (
	_ PaymentGateway = (*PaymentClient)(nil)
	_ EmailSender    = (*EmailClient)(nil)
)
