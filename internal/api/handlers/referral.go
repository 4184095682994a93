package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"paperplan/internal/core"
	"paperplan/internal/types"
)

// ReferralManager is the referral business logic the handler depends on.
type ReferralManager interface {
	EnsureCode(ctx context.Context, userID, email string) (*types.ReferralCode, error)
	CreateReferral(ctx context.Context, code, referredEmail string) (*types.ReferralRecord, error)
	Stats(ctx context.Context, userID string) (*types.ReferralStats, error)
}

// ReferralHandler serves the referral code and invitation endpoints.
type ReferralHandler struct {
	referrals ReferralManager
	tracker   EventTracker
	validator *core.Validator
}

// NewReferralHandler creates a ReferralHandler.
func NewReferralHandler(referrals ReferralManager, tracker EventTracker, validator *core.Validator) *ReferralHandler {
	return &ReferralHandler{referrals: referrals, tracker: tracker, validator: validator}
}

// RegisterRoutes mounts the referral endpoints on an authenticated router.
func (h *ReferralHandler) RegisterRoutes(r chi.Router) {
	r.Get("/referrals", h.Get)
	r.Post("/referrals", h.Create)
}

// ReferralOverview is the caller's own code plus their counters.
type ReferralOverview struct {
	Code  string               `json:"code"`
	Stats *types.ReferralStats `json:"stats"`
}

// Get returns the caller's referral code and stats, minting the code on
// first request.
func (h *ReferralHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthUnauthenticated, "no authenticated identity", nil))
		return
	}

	code, err := h.referrals.EnsureCode(r.Context(), actor.UserID, actor.Email)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	stats, err := h.referrals.Stats(r.Context(), actor.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: ReferralOverview{
		Code:  code.Code,
		Stats: stats,
	}})
}

// CreateReferralRequest records that the caller invited someone using a
// referral code.
type CreateReferralRequest struct {
	Code          string `json:"code" validate:"required,max=64"`
	ReferredEmail string `json:"referred_email" validate:"required,email"`
}

// Create registers a pending referral for the code's owner.
func (h *ReferralHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthUnauthenticated, "no authenticated identity", nil))
		return
	}

	var req CreateReferralRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	rec, err := h.referrals.CreateReferral(r.Context(), req.Code, req.ReferredEmail)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.tracker.Record(r.Context(), actor.UserID, types.UsageReferralCreated,
		map[string]any{"referral_id": rec.ID, "code": req.Code})

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: rec})
}
