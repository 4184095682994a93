// Package handlers contains the HTTP handler implementations for the
// PaperPlan entitlement API.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"paperplan/internal/core"
	"paperplan/internal/db"
	"paperplan/internal/entitlement"
	"paperplan/internal/external"
	"paperplan/internal/promo"
	"paperplan/internal/types"
)

// Decider produces an access decision for a (user, paper) pair.
type Decider interface {
	Decide(ctx context.Context, actor types.Actor, paperID string) (types.Decision, *types.Entitlement, error)
}

// EventTracker is the append-only usage log. Its implementation never
// returns errors to callers.
type EventTracker interface {
	Record(ctx context.Context, userID string, eventType types.UsageEventType, metadata map[string]any)
}

// PromoResolver validates and redeems promo codes for the paid path.
type PromoResolver interface {
	Validate(ctx context.Context, code string, tier types.Tier, userID string, priceCents int64) (*types.Discount, error)
	Redeem(ctx context.Context, code string, tier types.Tier, userID string) (*types.Discount, error)
}

// PlanHandler serves the business-plan access endpoints: the decision
// preview and the generate call that acts on a decision.
type PlanHandler struct {
	decider Decider
	ledger  db.TxRunner
	billing external.BillingService
	plans   entitlement.PlanRegistry
	promos  PromoResolver
	tracker EventTracker
	logger  *slog.Logger
}

// NewPlanHandler creates a PlanHandler with the provided dependencies.
func NewPlanHandler(
	decider Decider,
	ledger db.TxRunner,
	billing external.BillingService,
	plans entitlement.PlanRegistry,
	promos PromoResolver,
	tracker EventTracker,
	logger *slog.Logger,
) *PlanHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanHandler{
		decider: decider,
		ledger:  ledger,
		billing: billing,
		plans:   plans,
		promos:  promos,
		tracker: tracker,
		logger:  logger,
	}
}

// RegisterRoutes mounts the plan endpoints on an authenticated router.
func (h *PlanHandler) RegisterRoutes(r chi.Router) {
	r.Post("/papers/{paperID}/plan", h.Generate)
	r.Get("/papers/{paperID}/plan/access", h.Access)
}

// GenerateRequest is the request body for POST /v1/papers/{paperID}/plan.
// PromoCode optionally discounts the one-time price on the paid path.
type GenerateRequest struct {
	PromoCode string `json:"promo_code,omitempty"`
}

// GenerateResponse is the response for both the free and paid paths.
type GenerateResponse struct {
	Decision types.Decision `json:"decision"`

	// Free / included path: the grant that now unlocks the paper.
	GrantID string `json:"grant_id,omitempty"`

	// Paid path: the payment handle the client completes in the browser.
	PaymentIntentID string          `json:"payment_intent_id,omitempty"`
	ClientSecret    string          `json:"client_secret,omitempty"`
	PriceCents      int64           `json:"price_cents,omitempty"`
	Discount        *types.Discount `json:"discount,omitempty"`

	FreeQuotaRemaining int `json:"free_quota_remaining"`
}

// Access returns the evaluation for the pair without side effects.
func (h *PlanHandler) Access(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthUnauthenticated, "no authenticated identity", nil))
		return
	}
	paperID := chi.URLParam(r, "paperID")

	decision, ent, err := h.decider.Decide(r.Context(), actor, paperID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: GenerateResponse{
		Decision:           decision,
		FreeQuotaRemaining: ent.FreeQuotaRemaining,
	}})
}

// Generate evaluates access for the paper and acts on the decision.
//
// The evaluation is optimistic: it reads a snapshot, and the world may move
// before the ledger mutation. The free path therefore runs grant creation
// and quota consumption in one transaction, where the grant unique
// constraint and the conditional decrement are the real arbiters. A loser of
// the quota race gets quota_exhausted (402) here even though the evaluator
// said FreeAllowed moments earlier; it is surfaced as payment required, not
// silently rerouted.
func (h *PlanHandler) Generate(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthUnauthenticated, "no authenticated identity", nil))
		return
	}
	paperID := chi.URLParam(r, "paperID")

	var req GenerateRequest
	if r.ContentLength > 0 {
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
	}

	decision, ent, err := h.decider.Decide(r.Context(), actor, paperID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	switch decision.Kind {
	case types.DecisionAlreadyGranted:
		core.JSON(w, r, http.StatusOK, core.APIResponse{Data: GenerateResponse{
			Decision:           decision,
			FreeQuotaRemaining: ent.FreeQuotaRemaining,
		}})

	case types.DecisionBlocked:
		core.Error(w, r, types.NewAppError(types.ErrCodeFairUseExceeded, "monthly fair-use cap exceeded", nil))

	case types.DecisionFreeAllowed:
		h.handleFreeAllowed(w, r, actor, paperID, ent)

	case types.DecisionPaymentRequired:
		h.handlePaymentRequired(w, r, actor, paperID, ent, decision, req.PromoCode)

	default:
		core.Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected, "unknown access decision", nil))
	}
}

// handleFreeAllowed performs the no-charge path: create the grant and spend
// the quota (or count the included generation) atomically.
func (h *PlanHandler) handleFreeAllowed(w http.ResponseWriter, r *http.Request, actor types.Actor, paperID string, ent *types.Entitlement) {
	included := h.plans.GetPlan(ent.Tier).IncludesGenerations

	grant := &types.AccessGrant{
		ID:           uuid.NewString(),
		UserID:       actor.UserID,
		PaperID:      paperID,
		PurchaseType: types.PurchaseFree,
		Status:       types.GrantSucceeded,
	}
	if included {
		grant.PurchaseType = types.PurchaseSubscription
	}

	h.tracker.Record(r.Context(), actor.UserID, types.UsageGenerationStarted,
		map[string]any{"paper_id": paperID, "purchase_type": string(grant.PurchaseType)})

	err := h.ledger.WithTx(r.Context(), func(ops db.Ledger) error {
		// Grant first: a duplicate aborts before any counter moves, so a
		// concurrent request for the same paper cannot double-spend quota.
		if err := ops.CreateGrant(r.Context(), grant); err != nil {
			return err
		}
		if included {
			return ops.RecordPaidGeneration(r.Context(), actor.UserID)
		}
		return ops.ConsumeFreeQuota(r.Context(), actor.UserID)
	})

	if err != nil {
		// A benign race: someone else created the grant between the
		// snapshot and now. The user has access; report that, not an error.
		if types.IsCode(err, types.ErrCodeDuplicateGrant) {
			core.JSON(w, r, http.StatusOK, core.APIResponse{Data: GenerateResponse{
				Decision:           types.Decision{Kind: types.DecisionAlreadyGranted},
				FreeQuotaRemaining: ent.FreeQuotaRemaining,
			}})
			return
		}
		core.Error(w, r, err)
		return
	}

	remaining := ent.FreeQuotaRemaining
	if !included {
		remaining--
	}

	h.tracker.Record(r.Context(), actor.UserID, types.UsageGenerationCompleted,
		map[string]any{"paper_id": paperID, "grant_id": grant.ID})

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: GenerateResponse{
		Decision:           types.Decision{Kind: types.DecisionFreeAllowed},
		GrantID:            grant.ID,
		FreeQuotaRemaining: remaining,
	}})
}

// handlePaymentRequired starts a one-time charge: resolve an optional promo
// discount, create the payment intent, and record the pending grant keyed by
// the intent ID. The grant unlocks only when the payment webhook finalizes
// it.
func (h *PlanHandler) handlePaymentRequired(
	w http.ResponseWriter,
	r *http.Request,
	actor types.Actor,
	paperID string,
	ent *types.Entitlement,
	decision types.Decision,
	promoCode string,
) {
	price := decision.PriceCents
	var discount *types.Discount

	if promoCode != "" {
		d, err := h.promos.Redeem(r.Context(), promoCode, ent.Tier, actor.UserID)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		discount = d
		price = promo.Apply(d.Type, d.Value, price)
		discount.PriceCents = decision.PriceCents
		discount.DiscountedTo = price

		h.tracker.Record(r.Context(), actor.UserID, types.UsagePromoApplied,
			map[string]any{"code": d.Code, "paper_id": paperID})
	}

	customerID, err := h.ensureCustomer(r.Context(), actor, ent)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	// A 100% discount needs no charge: grant directly.
	if price <= 0 {
		h.grantDiscountedToFree(w, r, actor, paperID, ent, decision, discount)
		return
	}

	intent, err := h.billing.CreatePaymentIntent(r.Context(), customerID, actor.UserID, paperID, price)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	grant := &types.AccessGrant{
		ID:                 uuid.NewString(),
		UserID:             actor.UserID,
		PaperID:            paperID,
		PurchaseType:       types.PurchaseOneTime,
		Status:             types.GrantPending,
		AmountPaidCents:    price,
		ExternalPaymentRef: &intent.ID,
	}
	err = h.ledger.WithTx(r.Context(), func(ops db.Ledger) error {
		err := ops.CreateGrant(r.Context(), grant)
		if types.IsCode(err, types.ErrCodeDuplicateGrant) {
			// A failed earlier purchase still holds the (user, paper) slot;
			// reopen it carrying this attempt's intent so the webhook can
			// finalize it. Pending and succeeded grants keep the duplicate
			// verdict.
			return ops.ReopenFailedGrant(r.Context(), actor.UserID, paperID, intent.ID, price)
		}
		return err
	})
	if err != nil {
		if types.IsCode(err, types.ErrCodeDuplicateGrant) {
			// An earlier attempt already holds the pair. Its payment may
			// still complete; tell the caller instead of double-charging.
			core.Error(w, r, types.NewAppError(types.ErrCodeDuplicateGrant,
				"a purchase for this paper is already in progress", nil))
			return
		}
		core.Error(w, r, err)
		return
	}

	h.tracker.Record(r.Context(), actor.UserID, types.UsageCheckoutStarted,
		map[string]any{"paper_id": paperID, "payment_intent_id": intent.ID, "price_cents": price})

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: GenerateResponse{
		Decision:           decision,
		PaymentIntentID:    intent.ID,
		ClientSecret:       intent.ClientSecret,
		PriceCents:         price,
		Discount:           discount,
		FreeQuotaRemaining: ent.FreeQuotaRemaining,
	}})
}

// grantDiscountedToFree finalizes a fully discounted purchase without
// touching the payment provider.
func (h *PlanHandler) grantDiscountedToFree(
	w http.ResponseWriter,
	r *http.Request,
	actor types.Actor,
	paperID string,
	ent *types.Entitlement,
	decision types.Decision,
	discount *types.Discount,
) {
	grant := &types.AccessGrant{
		ID:           uuid.NewString(),
		UserID:       actor.UserID,
		PaperID:      paperID,
		PurchaseType: types.PurchaseOneTime,
		Status:       types.GrantSucceeded,
	}
	err := h.ledger.WithTx(r.Context(), func(ops db.Ledger) error {
		if err := ops.CreateGrant(r.Context(), grant); err != nil {
			return err
		}
		return ops.RecordPaidGeneration(r.Context(), actor.UserID)
	})
	if err != nil {
		if types.IsCode(err, types.ErrCodeDuplicateGrant) {
			core.JSON(w, r, http.StatusOK, core.APIResponse{Data: GenerateResponse{
				Decision:           types.Decision{Kind: types.DecisionAlreadyGranted},
				FreeQuotaRemaining: ent.FreeQuotaRemaining,
			}})
			return
		}
		core.Error(w, r, err)
		return
	}

	h.tracker.Record(r.Context(), actor.UserID, types.UsageGenerationCompleted,
		map[string]any{"paper_id": paperID, "grant_id": grant.ID, "discounted_to_zero": true})

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: GenerateResponse{
		Decision:           decision,
		GrantID:            grant.ID,
		Discount:           discount,
		FreeQuotaRemaining: ent.FreeQuotaRemaining,
	}})
}

// ensureCustomer returns the Stripe customer ID for the user, creating and
// persisting it on first payment interaction.
func (h *PlanHandler) ensureCustomer(ctx context.Context, actor types.Actor, ent *types.Entitlement) (string, error) {
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
		// The customer exists at Stripe but the reference did not stick;
		// the next attempt recreates it. Log, do not fail the purchase.
		h.logger.WarnContext(ctx, "failed to persist stripe customer id",
			slog.String("user_id", actor.UserID),
			slog.String("error", err.Error()),
		)
	}
	return customerID, nil
}
