package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"paperplan/internal/core"
	"paperplan/internal/types"
)

// EntitlementReader is the read access the /me endpoints need.
type EntitlementReader interface {
	GetOrCreate(ctx context.Context, userID, email string) (*types.Entitlement, error)
}

// EntitlementHandler serves the caller's own entitlement snapshot.
type EntitlementHandler struct {
	entitlements EntitlementReader
}

// NewEntitlementHandler creates an EntitlementHandler.
func NewEntitlementHandler(entitlements EntitlementReader) *EntitlementHandler {
	return &EntitlementHandler{entitlements: entitlements}
}

// RegisterRoutes mounts the /me endpoints on an authenticated router.
func (h *EntitlementHandler) RegisterRoutes(r chi.Router) {
	r.Get("/me/entitlement", h.Get)
}

// Get returns the caller's entitlement record, creating it lazily on first
// contact.
func (h *EntitlementHandler) Get(w http.ResponseWriter, r *http.Request) {
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
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: ent})
}
