// Package payment wraps the card processor. Charges happen before any
// booking row is written, refunds after, so a processor failure on either
// side never leaves the database half-mutated.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"studio-booking/internal/logger"
)

var (
	ErrStripeAPIError         = errors.New("stripe API error")
	ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")
)

// Processor is the card gateway seen by the booking service.
type Processor interface {
	// Capture charges the card token and returns the processor's charge
	// reference.
	Capture(ctx context.Context, token string, amount float64, email string, metadata map[string]string) (string, error)
	// Refund returns part of a previous charge and yields the refund
	// reference.
	Refund(ctx context.Context, paymentRef string, amount float64) (string, error)
}

// StripeProcessor implements Processor against the Stripe API.
type StripeProcessor struct {
	client   *client.API
	currency string
	log      *logger.Logger
}

func NewStripeProcessor(secretKey, currency string, log *logger.Logger) (*StripeProcessor, error) {
	if secretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY not set")
		return nil, ErrStripeClientInitFailed
	}

	sc := client.New(secretKey, nil)
	if sc == nil {
		log.Error("STRIPE", "Failed to initialize Stripe client")
		return nil, ErrStripeClientInitFailed
	}

	log.Info("STRIPE", "Stripe client initialized successfully")
	return &StripeProcessor{client: sc, currency: currency, log: log}, nil
}

func (s *StripeProcessor) Capture(ctx context.Context, token string, amount float64, email string, metadata map[string]string) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("invalid payment amount: %.2f", amount)
	}
	if token == "" {
		return "", fmt.Errorf("%w: no payment method provided", ErrStripeAPIError)
	}

	s.log.Info("STRIPE", fmt.Sprintf("Capturing %.2f %s for %s", amount, s.currency, email))

	// Stripe uses the smallest currency unit
	amountInCents := int64(amount * 100)

	piParams := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(amountInCents),
		Currency:           stripe.String(s.currency),
		PaymentMethod:      stripe.String(token),
		ReceiptEmail:       stripe.String(email),
		Metadata:           metadata,
		ConfirmationMethod: stripe.String("manual"),
		Confirm:            stripe.Bool(true),
		PaymentMethodTypes: []*string{stripe.String("card")},
	}
	piParams.Context = ctx

	pi, err := s.client.PaymentIntents.New(piParams)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to create payment intent: %v", err))
		return "", fmt.Errorf("%w: %v", ErrStripeAPIError, err)
	}

	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		s.log.Error("STRIPE", fmt.Sprintf("Payment not completed, status: %s", pi.Status))
		return "", fmt.Errorf("%w: payment intent status %s", ErrStripeAPIError, pi.Status)
	}

	s.log.Info("STRIPE", fmt.Sprintf("Payment intent succeeded: %s", pi.ID))
	return pi.ID, nil
}

func (s *StripeProcessor) Refund(ctx context.Context, paymentRef string, amount float64) (string, error) {
	if paymentRef == "" {
		return "", fmt.Errorf("%w: no charge reference to refund", ErrStripeAPIError)
	}

	s.log.Info("STRIPE", fmt.Sprintf("Refunding %.2f against %s", amount, paymentRef))

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentRef),
		Amount:        stripe.Int64(int64(amount * 100)),
	}
	params.Context = ctx

	refund, err := s.client.Refunds.New(params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Refund failed: %v", err))
		return "", fmt.Errorf("%w: %v", ErrStripeAPIError, err)
	}

	s.log.Info("STRIPE", fmt.Sprintf("Refund created: %s", refund.ID))
	return refund.ID, nil
}
