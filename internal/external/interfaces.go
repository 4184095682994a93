package external

import "context"

// WebhookVerifier checks the authenticity of an inbound payment-provider
// webhook before any of its content is trusted.
type WebhookVerifier interface {
	// Verify validates the payload against the signature header and the
	// signing secret. A non-nil error means the event must be rejected
	// without touching any state.
	Verify(payload []byte, sigHeader string, secret string) error
}

// PaymentIntent is the handle returned when a one-time charge is initiated.
// The client completes it in the browser using ClientSecret; the outcome
// arrives asynchronously via webhook.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	AmountCents  int64
}

// CheckoutSession is the handle for a hosted subscription checkout.
type CheckoutSession struct {
	ID  string
	URL string
}

// BillingService abstracts the synchronous calls to the payment provider.
type BillingService interface {
	// EnsureCustomer returns the provider customer ID for the user,
	// creating one idempotently on first payment interaction.
	EnsureCustomer(ctx context.Context, userID, email string) (string, error)

	// CreatePaymentIntent starts a one-time charge for a single paper's
	// business plan. userID and paperID travel in the intent metadata so
	// the webhook can correlate the outcome with the pending grant.
	CreatePaymentIntent(ctx context.Context, customerID, userID, paperID string, amountCents int64) (*PaymentIntent, error)

	// CreateCheckoutSession starts a hosted subscription checkout for the
	// given price. userID travels as client_reference_id; tier rides the
	// session metadata so the checkout.session.completed webhook can apply
	// the tier change.
	CreateCheckoutSession(ctx context.Context, customerID, userID, tier, priceID, successURL, cancelURL string) (*CheckoutSession, error)

	// CreatePortalSession returns a URL for self-serve subscription
	// management.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}
