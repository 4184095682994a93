package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"paperplan/internal/core"
	"paperplan/internal/db"
	"paperplan/internal/entitlement"
	"paperplan/internal/external"
	"paperplan/internal/types"
)

// maxWebhookBodySize caps Stripe webhook payloads at 64 KB. Real payloads
// are far smaller; the limit protects against abuse.
const maxWebhookBodySize = 64 * 1024

// StripeWebhookHandler handles asynchronous events from Stripe. It is not
// behind auth middleware; authenticity comes from verifying the
// Stripe-Signature header.
//
// Every state-changing event runs its business mutation and its
// processed-event-ID insert in one transaction. If the mutation fails the
// insert rolls back with it and the handler returns a 5xx, so Stripe
// redelivers and the retry is not mistaken for a duplicate.
type StripeWebhookHandler struct {
	verifier external.WebhookVerifier
	ledger   db.TxRunner
	secret   string
	logger   *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	ledger db.TxRunner,
	secret string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier: verifier,
		ledger:   ledger,
		secret:   secret,
		logger:   logger,
	}
}

// RegisterRoutes mounts the Stripe webhook endpoint. This is registered on
// the public router, not the authenticated one.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle verifies, parses and processes an incoming Stripe event.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"failed to read request body", err))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeWebhookUnverified,
			"missing Stripe-Signature header", nil))
		return
	}
	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(types.ErrCodeWebhookUnverified,
			"webhook signature verification failed", err))
		return
	}

	var event stripeWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"invalid webhook event JSON", err))
		return
	}

	h.logger.InfoContext(r.Context(), "processing stripe webhook event",
		"event_id", event.ID,
		"event_type", event.Type,
	)

	mutate := h.mutationFor(&event)
	if mutate == nil {
		// Nothing to do for this event type; acknowledge without touching
		// the processed-event set.
		core.JSON(w, r, http.StatusOK, core.APIResponse{Data: webhookAck{Status: "ignored"}})
		return
	}

	var duplicate bool
	err = h.ledger.WithTx(r.Context(), func(ops db.Ledger) error {
		claimed, err := ops.MarkEventProcessed(r.Context(), event.ID, event.Type)
		if err != nil {
			return err
		}
		if !claimed {
			duplicate = true
			return nil
		}
		return mutate(r.Context(), ops)
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
		// Non-2xx on purpose: the transaction rolled back, including the
		// processed-event insert, so Stripe's redelivery gets a clean retry.
		core.Error(w, r, err)
		return
	}

	status := "processed"
	if duplicate {
		status = "duplicate"
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: webhookAck{Status: status}})
}

// webhookAck is the body returned to Stripe on acknowledgement.
type webhookAck struct {
	Status string `json:"status"`
}

// mutation is the ledger work a single event implies.
type mutation func(ctx context.Context, ops db.Ledger) error

// mutationFor maps an event to its ledger mutation, or nil for event types
// the service does not react to.
func (h *StripeWebhookHandler) mutationFor(event *stripeWebhookEvent) mutation {
	switch event.Type {
	case external.EventCheckoutCompleted:
		return h.checkoutCompleted(event)
	case external.EventSubCreated, external.EventSubUpdated:
		return h.subscriptionChanged(event)
	case external.EventSubDeleted:
		return h.subscriptionDeleted(event)
	case external.EventPaymentSucceeded:
		return h.paymentFinished(event, types.GrantSucceeded)
	case external.EventPaymentFailed:
		return h.paymentFinished(event, types.GrantFailed)
	default:
		return nil
	}
}

// checkoutCompleted confirms a new subscription after hosted checkout and
// pins the Stripe customer ID to the user on first purchase.
func (h *StripeWebhookHandler) checkoutCompleted(event *stripeWebhookEvent) mutation {
	session, err := event.checkoutSession()
	if err != nil {
		return failing("checkout.session.completed %s: malformed session object: %v", event.ID, err)
	}
	userID := session.userID()
	if userID == "" {
		return failing("checkout.session.completed %s: missing user id", event.ID)
	}
	tier := event.tierFromMetadata(session.Metadata)

	return func(ctx context.Context, ops db.Ledger) error {
		if session.Customer != "" {
			if err := ops.SetStripeCustomerID(ctx, userID, session.Customer); err != nil {
				return err
			}
		}
		if tier == "" {
			// Not a subscription checkout; customer pinning was the only work.
			return nil
		}
		return ops.UpdateTier(ctx, userID, tier, event.eventTimestamp())
	}
}

// subscriptionChanged applies a subscription create/update. Only an active
// or trialing subscription keeps a paid tier; any other status reverts to
// free.
func (h *StripeWebhookHandler) subscriptionChanged(event *stripeWebhookEvent) mutation {
	sub, err := event.subscription()
	if err != nil {
		return failing("%s %s: malformed subscription object: %v", event.Type, event.ID, err)
	}
	userID := sub.Metadata["user_id"]
	if userID == "" {
		return failing("%s %s: missing user id", event.Type, event.ID)
	}

	tier := types.TierFree
	if sub.Status == "active" || sub.Status == "trialing" {
		tier = sub.tier()
	}

	return func(ctx context.Context, ops db.Ledger) error {
		return ops.UpdateTier(ctx, userID, tier, event.eventTimestamp())
	}
}

// subscriptionDeleted reverts the user to the free tier on cancellation.
func (h *StripeWebhookHandler) subscriptionDeleted(event *stripeWebhookEvent) mutation {
	sub, err := event.subscription()
	if err != nil {
		return failing("customer.subscription.deleted %s: malformed subscription object: %v", event.ID, err)
	}
	userID := sub.Metadata["user_id"]
	if userID == "" {
		return failing("customer.subscription.deleted %s: missing user id", event.ID)
	}

	return func(ctx context.Context, ops db.Ledger) error {
		return ops.UpdateTier(ctx, userID, types.TierFree, event.eventTimestamp())
	}
}

// paymentFinished finalizes the pending one-time grant keyed by the payment
// intent ID. On success the paid generation is also counted on the
// entitlement.
func (h *StripeWebhookHandler) paymentFinished(event *stripeWebhookEvent, status types.GrantStatus) mutation {
	intent, err := event.paymentIntent()
	if err != nil {
		return failing("%s %s: malformed payment intent object: %v", event.Type, event.ID, err)
	}
	if intent.ID == "" {
		return failing("%s %s: missing payment intent id", event.Type, event.ID)
	}

	return func(ctx context.Context, ops db.Ledger) error {
		if err := ops.UpdateGrantStatusByRef(ctx, intent.ID, status); err != nil {
			return err
		}
		if status != types.GrantSucceeded {
			return nil
		}

		userID := intent.Metadata["user_id"]
		if userID == "" {
			// Fall back to the grant row the intent created.
			grant, err := ops.GetGrantByRef(ctx, intent.ID)
			if err != nil {
				return err
			}
			userID = grant.UserID
		}
		return ops.RecordPaidGeneration(ctx, userID)
	}
}

// failing returns a mutation that always errors. Used when the event payload
// is missing the fields its mutation needs: the claim insert rolls back and
// the redelivered event gets another look, which matters when the gap is a
// transient parsing bug rather than a truly malformed event.
func failing(format string, args ...any) mutation {
	err := fmt.Errorf(format, args...)
	return func(context.Context, db.Ledger) error {
		return types.NewAppError(types.ErrCodeValidationMissingField, err.Error(), nil)
	}
}

// ---------------------------------------------------------------------------
// Stripe event parsing
// ---------------------------------------------------------------------------

// stripeWebhookEvent is a minimal projection of a Stripe event with just the
// fields routing and processing need. Avoiding the full stripe.Event type
// keeps parsing under our control and testing simple.
type stripeWebhookEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

// stripeCheckoutSessionObj carries the checkout.session.completed fields of
// interest.
type stripeCheckoutSessionObj struct {
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          string            `json:"customer"`
	Metadata          map[string]string `json:"metadata"`
}

// userID prefers client_reference_id, which our CreateCheckoutSession always
// sets, over session metadata.
func (s *stripeCheckoutSessionObj) userID() string {
	if s.ClientReferenceID != "" {
		return s.ClientReferenceID
	}
	return s.Metadata["user_id"]
}

// stripeSubscriptionObj carries the subscription event fields of interest.
type stripeSubscriptionObj struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
	Items    struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// tier maps the subscription's first price ID to a domain tier, falling back
// to free for unknown prices.
func (s *stripeSubscriptionObj) tier() types.Tier {
	if len(s.Items.Data) > 0 {
		if t, ok := entitlement.PriceToTier[s.Items.Data[0].Price.ID]; ok {
			return t
		}
	}
	return types.TierFree
}

// stripePaymentIntentObj carries the payment_intent event fields of
// interest.
type stripePaymentIntentObj struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Metadata map[string]string `json:"metadata"`
}

func (e *stripeWebhookEvent) eventTimestamp() time.Time {
	return time.Unix(e.Created, 0).UTC()
}

func (e *stripeWebhookEvent) checkoutSession() (*stripeCheckoutSessionObj, error) {
	var s stripeCheckoutSessionObj
	if err := json.Unmarshal(e.Data.Object, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (e *stripeWebhookEvent) subscription() (*stripeSubscriptionObj, error) {
	var s stripeSubscriptionObj
	if err := json.Unmarshal(e.Data.Object, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (e *stripeWebhookEvent) paymentIntent() (*stripePaymentIntentObj, error) {
	var p stripePaymentIntentObj
	if err := json.Unmarshal(e.Data.Object, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// tierFromMetadata reads an explicit tier out of checkout session metadata.
// Returns "" when the session carries none (one-time payment checkouts).
func (e *stripeWebhookEvent) tierFromMetadata(metadata map[string]string) types.Tier {
	t := types.Tier(metadata["tier"])
	if t.Valid() {
		return t
	}
	return ""
}
