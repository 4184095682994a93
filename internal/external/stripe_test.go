package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperplan/internal/types"
)

func testStripeClient(t *testing.T, handler http.HandlerFunc) *StripeClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	base := NewBaseClient(server.Client(), "stripe-test-"+t.Name(), RetryPolicy{
		MaxRetries: 2,
		MinWait:    time.Millisecond,
		MaxWait:    time.Millisecond,
	}, "PaperPlan-Test/1.0", WithSleepFunc(func(time.Duration) {}))

	return NewStripeClientWithBase(base, StripeClientConfig{
		SecretKey: "sk_test_123",
		BaseURL:   server.URL,
	})
}

func TestStripeClient_EnsureCustomer(t *testing.T) {
	var gotPath, gotAuth, gotUserID, gotEmail string
	client := testStripeClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseForm())
		gotUserID = r.PostForm.Get("metadata[user_id]")
		gotEmail = r.PostForm.Get("email")
		w.Write([]byte(`{"id":"cus_123"}`))
	})

	id, err := client.EnsureCustomer(context.Background(), "user_1", "u@example.com")
	require.NoError(t, err)
	assert.Equal(t, "cus_123", id)
	assert.Equal(t, "/v1/customers", gotPath)
	assert.Equal(t, "Bearer sk_test_123", gotAuth)
	assert.Equal(t, "user_1", gotUserID)
	assert.Equal(t, "u@example.com", gotEmail)
}

func TestStripeClient_CreatePaymentIntent_CarriesCorrelationMetadata(t *testing.T) {
	var form map[string][]string
	client := testStripeClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Write([]byte(`{"id":"pi_123","client_secret":"pi_123_secret","amount":499}`))
	})

	intent, err := client.CreatePaymentIntent(context.Background(), "cus_123", "user_1", "2401.00001", 499)
	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.ID)
	assert.Equal(t, "pi_123_secret", intent.ClientSecret)
	assert.Equal(t, int64(499), intent.AmountCents)

	// The webhook handler correlates the outcome through this metadata.
	assert.Equal(t, "user_1", form["metadata[user_id]"][0])
	assert.Equal(t, "2401.00001", form["metadata[paper_id]"][0])
	assert.Equal(t, "499", form["amount"][0])
	assert.Equal(t, "usd", form["currency"][0])
}

func TestStripeClient_CreateCheckoutSession(t *testing.T) {
	var form map[string][]string
	client := testStripeClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Write([]byte(`{"id":"cs_123","url":"https://checkout.stripe.com/cs_123"}`))
	})

	session, err := client.CreateCheckoutSession(context.Background(), "cus_123", "user_1",
		"premium", "price_premium_monthly", "https://app.example.com/ok", "https://app.example.com/no")
	require.NoError(t, err)
	assert.Equal(t, "cs_123", session.ID)
	assert.Equal(t, "https://checkout.stripe.com/cs_123", session.URL)

	assert.Equal(t, "subscription", form["mode"][0])
	assert.Equal(t, "user_1", form["client_reference_id"][0])
	assert.Equal(t, "price_premium_monthly", form["line_items[0][price]"][0])
	// The completion webhook reads the tier out of the session metadata.
	assert.Equal(t, "premium", form["metadata[tier]"][0])
	assert.Equal(t, "user_1", form["subscription_data[metadata][user_id]"][0])
}

func TestStripeClient_RejectionIsOpaqueUpstreamError(t *testing.T) {
	client := testStripeClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":{"type":"card_error","message":"Your card was declined."}}`))
	})

	_, err := client.CreatePaymentIntent(context.Background(), "cus_123", "user_1", "2401.00001", 499)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeUpstreamStripe))

	// The provider's message survives in the wrapped chain for logs but not
	// in the client-facing message.
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.NotContains(t, appErr.Message, "declined")
}

func TestBaseClient_RetriesTransientFailures(t *testing.T) {
	attempts := 0
	client := testStripeClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"id":"cus_eventually"}`))
	})

	id, err := client.EnsureCustomer(context.Background(), "user_1", "u@example.com")
	require.NoError(t, err)
	assert.Equal(t, "cus_eventually", id)
	assert.Equal(t, 3, attempts)
}

func TestBaseClient_ExhaustedRetriesSurfaceUpstreamError(t *testing.T) {
	attempts := 0
	client := testStripeClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.EnsureCustomer(context.Background(), "user_1", "u@example.com")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeUpstreamStripe))
	assert.Equal(t, 3, attempts) // initial try + 2 retries
}

func TestBaseClient_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	client := testStripeClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	// Each call burns three attempts; after two calls the breaker has seen
	// six consecutive failures and trips.
	for i := 0; i < 2; i++ {
		_, err := client.EnsureCustomer(context.Background(), "user_1", "u@example.com")
		require.Error(t, err)
	}

	_, err := client.EnsureCustomer(context.Background(), "user_1", "u@example.com")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeUpstreamRateLimit))
}
