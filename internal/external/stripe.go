package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"paperplan/internal/types"
)

// stripeAPIBase is the default Stripe API base URL. Overridable in tests via
// StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // override for testing; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient implements BillingService with direct form-encoded calls to
// the Stripe REST API through BaseClient, so all requests pass through the
// shared resilience layer and can be tested against httptest servers.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

// NewStripeClient creates a StripeClient with a fresh BaseClient.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	base := NewBaseClient(httpClient, "stripe", DefaultRetryPolicy(), "PaperPlan/1.0",
		WithSleepFunc(time.Sleep))
	return newStripeClient(base, cfg)
}

// NewStripeClientWithBase creates a StripeClient over a caller-provided
// BaseClient. Used by tests to control retry and breaker behavior.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	return newStripeClient(base, cfg)
}

func newStripeClient(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// EnsureCustomer creates a Stripe customer carrying the user ID in metadata.
// Callers persist the returned ID on the entitlement record; an already-set
// customer ID is their signal not to call this again.
func (c *StripeClient) EnsureCustomer(ctx context.Context, userID, email string) (string, error) {
	form := url.Values{}
	form.Set("email", email)
	form.Set("metadata[user_id]", userID)

	var out struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/v1/customers", form, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// CreatePaymentIntent starts a one-time charge for a single business plan.
// The intent metadata carries user_id and paper_id so the webhook handler
// can finalize the matching pending grant.
func (c *StripeClient) CreatePaymentIntent(ctx context.Context, customerID, userID, paperID string, amountCents int64) (*PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountCents, 10))
	form.Set("currency", "usd")
	form.Set("customer", customerID)
	form.Set("metadata[user_id]", userID)
	form.Set("metadata[paper_id]", paperID)
	form.Set("automatic_payment_methods[enabled]", "true")

	var out struct {
		ID           string `json:"id"`
		ClientSecret string `json:"client_secret"`
		Amount       int64  `json:"amount"`
	}
	if err := c.post(ctx, "/v1/payment_intents", form, &out); err != nil {
		return nil, err
	}
	return &PaymentIntent{
		ID:           out.ID,
		ClientSecret: out.ClientSecret,
		AmountCents:  out.Amount,
	}, nil
}

// CreateCheckoutSession starts a hosted subscription checkout. The session
// metadata carries the tier so the checkout.session.completed webhook can
// apply the tier change without waiting for the subscription event.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, customerID, userID, tier, priceID, successURL, cancelURL string) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("customer", customerID)
	form.Set("client_reference_id", userID)
	form.Set("line_items[0][price]", priceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", successURL)
	form.Set("cancel_url", cancelURL)
	form.Set("metadata[tier]", tier)
	form.Set("subscription_data[metadata][user_id]", userID)

	var out struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := c.post(ctx, "/v1/checkout/sessions", form, &out); err != nil {
		return nil, err
	}
	return &CheckoutSession{ID: out.ID, URL: out.URL}, nil
}

// CreatePortalSession returns a self-serve billing portal URL.
func (c *StripeClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("return_url", returnURL)

	var out struct {
		URL string `json:"url"`
	}
	if err := c.post(ctx, "/v1/billing_portal/sessions", form, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// post sends a form-encoded request to the Stripe API and decodes the JSON
// response into out. Non-2xx responses are mapped to upstream AppErrors with
// the Stripe error message preserved in the wrapped error, never in the
// client-facing message.
func (c *StripeClient) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build stripe request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe, "failed to read stripe response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var stripeErr struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(body, &stripeErr)
		c.logger.WarnContext(ctx, "stripe request rejected",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("stripe_error_type", stripeErr.Error.Type),
		)
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			"payment provider rejected the request",
			fmt.Errorf("stripe %s: %s", path, stripeErr.Error.Message))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe, "failed to decode stripe response", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Webhook Verification
// ---------------------------------------------------------------------------

// StripeVerifier implements WebhookVerifier using stripe-go's webhook
// signature validation (HMAC-SHA256 with timestamp tolerance).
type StripeVerifier struct{}

// Verify validates a Stripe webhook payload against the Stripe-Signature
// header and signing secret.
func (v *StripeVerifier) Verify(payload []byte, sigHeader string, secret string) error {
	return stripe.ValidatePayload(payload, sigHeader, secret)
}
