package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"paperplan/internal/core"
	"paperplan/internal/entitlement"
	"paperplan/internal/types"
)

// PromoHandler previews promo codes without redeeming them.
type PromoHandler struct {
	entitlements EntitlementReader
	promos       PromoResolver
	plans        entitlement.PlanRegistry
	validator    *core.Validator
}

// NewPromoHandler creates a PromoHandler.
func NewPromoHandler(
	entitlements EntitlementReader,
	promos PromoResolver,
	plans entitlement.PlanRegistry,
	validator *core.Validator,
) *PromoHandler {
	return &PromoHandler{
		entitlements: entitlements,
		promos:       promos,
		plans:        plans,
		validator:    validator,
	}
}

// RegisterRoutes mounts the promo endpoints on an authenticated router.
func (h *PromoHandler) RegisterRoutes(r chi.Router) {
	r.Post("/promo/validate", h.Validate)
}

// ValidatePromoRequest carries the code to check.
type ValidatePromoRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

// Validate checks a promo code against the caller's tier and reports the
// price it would produce on their one-time purchase. Redemption is not
// recorded; that happens only when the code rides a generate call.
func (h *PromoHandler) Validate(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthUnauthenticated, "no authenticated identity", nil))
		return
	}

	var req ValidatePromoRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	ent, err := h.entitlements.GetOrCreate(r.Context(), actor.UserID, actor.Email)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	price := h.plans.GetPlan(ent.Tier).OneTimePriceCents
	discount, err := h.promos.Validate(r.Context(), req.Code, ent.Tier, actor.UserID, price)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: discount})
}
