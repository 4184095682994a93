package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"paperplan/internal/core"
	"paperplan/internal/db"
	"paperplan/internal/entitlement"
	"paperplan/internal/external"
	"paperplan/internal/types"
)

// BillingHandler starts Stripe-hosted flows: subscription checkout and the
// self-service billing portal. Tier changes themselves land through the
// webhook, never here.
type BillingHandler struct {
	entitlements EntitlementReader
	ledger       db.TxRunner
	billing      external.BillingService
	plans        entitlement.PlanRegistry
	tracker      EventTracker
	validator    *core.Validator
	dashboardURL string
	logger       *slog.Logger
}

// NewBillingHandler creates a BillingHandler.
func NewBillingHandler(
	entitlements EntitlementReader,
	ledger db.TxRunner,
	billing external.BillingService,
	plans entitlement.PlanRegistry,
	tracker EventTracker,
	validator *core.Validator,
	dashboardURL string,
	logger *slog.Logger,
) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{
		entitlements: entitlements,
		ledger:       ledger,
		billing:      billing,
		plans:        plans,
		tracker:      tracker,
		validator:    validator,
		dashboardURL: dashboardURL,
		logger:       logger,
	}
}

// RegisterRoutes mounts the billing endpoints on an authenticated router.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/billing/checkout-session", h.CreateCheckoutSession)
	r.Post("/billing/portal-session", h.CreatePortalSession)
}

// CheckoutSessionRequest selects the subscription tier to check out.
type CheckoutSessionRequest struct {
	Tier types.Tier `json:"tier" validate:"required,tier"`
}

// CheckoutSessionResponse carries the hosted checkout URL.
type CheckoutSessionResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// CreateCheckoutSession opens a Stripe Checkout session for a paid tier.
func (h *BillingHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthUnauthenticated, "no authenticated identity", nil))
		return
	}

	var req CheckoutSessionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	plan := h.plans.GetPlan(req.Tier)
	if plan.StripePriceID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidTier,
			"tier is not purchasable", nil))
		return
	}

	ent, err := h.entitlements.GetOrCreate(r.Context(), actor.UserID, actor.Email)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if ent.Tier == req.Tier {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidTier,
			"already subscribed to this tier", nil))
		return
	}

	customerID, err := h.ensureCustomer(r.Context(), actor, ent)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	session, err := h.billing.CreateCheckoutSession(r.Context(), customerID, actor.UserID,
		string(req.Tier), plan.StripePriceID,
		h.dashboardURL+"/billing/success?session_id={CHECKOUT_SESSION_ID}",
		h.dashboardURL+"/billing/cancelled",
	)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.tracker.Record(r.Context(), actor.UserID, types.UsageCheckoutStarted,
		map[string]any{"tier": string(req.Tier), "session_id": session.ID})

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: CheckoutSessionResponse{
		SessionID: session.ID,
		URL:       session.URL,
	}})
}

// PortalSessionResponse carries the hosted billing portal URL.
type PortalSessionResponse struct {
	URL string `json:"url"`
}

// CreatePortalSession opens the Stripe billing portal for an existing
// customer. Users who never paid have no portal to open.
func (h *BillingHandler) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthUnauthenticated, "no authenticated identity", nil))
		return
	}

	ent, err := h.entitlements.GetOrCreate(r.Context(), actor.UserID, actor.Email)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if ent.StripeCustomerID == nil || *ent.StripeCustomerID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundUser,
			"no billing profile exists for this user", nil))
		return
	}

	url, err := h.billing.CreatePortalSession(r.Context(), *ent.StripeCustomerID, h.dashboardURL+"/billing")
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: PortalSessionResponse{URL: url}})
}

func (h *BillingHandler) ensureCustomer(ctx context.Context, actor types.Actor, ent *types.Entitlement) (string, error) {
	if ent.StripeCustomerID != nil && *ent.StripeCustomerID != "" {
		return *ent.StripeCustomerID, nil
	}
	customerID, err := h.billing.EnsureCustomer(ctx, actor.UserID, actor.Email)
	if err != nil {
		return "", err
	}
	err = h.ledger.WithTx(ctx, func(ops db.Ledger) error {
		return ops.SetStripeCustomerID(ctx, actor.UserID, customerID)
	})
	if err != nil {
		h.logger.WarnContext(ctx, "failed to persist stripe customer id",
			slog.String("user_id", actor.UserID),
			slog.String("error", err.Error()),
		)
	}
	return customerID, nil
}
