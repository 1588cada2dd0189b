package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"iap-reconciler/internal/response"
	"iap-reconciler/internal/sandbox"
	"iap-reconciler/pkg/logging"
)

// AddSandboxProduct creates or replaces a catalog entry
// POST /api/sandbox/products
func (h *Handlers) AddSandboxProduct(c *gin.Context) {
	var spec sandbox.ProductSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	product, err := h.sandbox.AddProduct(c.Request.Context(), spec)
	if err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Failed to save product: "+err.Error())
		return
	}
	response.MessageJSON(c, http.StatusCreated, "Product saved", product)
}

// SandboxPurchases lists native purchases awaiting approval
// GET /api/sandbox/purchases
func (h *Handlers) SandboxPurchases(c *gin.Context) {
	purchases, err := h.sandbox.PendingPurchases(c.Request.Context(), h.session.Platform())
	if err != nil {
		logging.Errorf("Failed to list sandbox purchases: %v", err)
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to list purchases")
		return
	}
	response.SuccessJSON(c, gin.H{"purchases": purchases})
}

// ApproveSandboxPurchase completes a pending purchase
// POST /api/sandbox/purchases/:token/approve
func (h *Handlers) ApproveSandboxPurchase(c *gin.Context) {
	purchase, err := h.sandbox.Approve(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.sandboxFail(c, err)
		return
	}
	response.MessageJSON(c, http.StatusOK, "Purchase approved", purchase)
}

// DeclineSandboxPurchase cancels a pending purchase as the user would
// POST /api/sandbox/purchases/:token/decline
func (h *Handlers) DeclineSandboxPurchase(c *gin.Context) {
	purchase, err := h.sandbox.Decline(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.sandboxFail(c, err)
		return
	}
	response.MessageJSON(c, http.StatusOK, "Purchase declined", purchase)
}

// AvailabilityRequest represents sandbox availability request
type AvailabilityRequest struct {
	Available *bool `json:"available" binding:"required"`
}

// SetSandboxAvailability simulates the store service going away
// POST /api/sandbox/availability
func (h *Handlers) SetSandboxAvailability(c *gin.Context) {
	var req AvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}
	h.sandbox.SetAvailable(*req.Available)
	response.SuccessJSON(c, gin.H{"available": h.sandbox.Available()})
}

// UserChoiceRequest represents sandbox user choice request
type UserChoiceRequest struct {
	PreferAlternative *bool `json:"prefer_alternative" binding:"required"`
}

// SetSandboxUserChoice decides what the simulated user picks when offered
// alternative billing
// POST /api/sandbox/user-choice
func (h *Handlers) SetSandboxUserChoice(c *gin.Context) {
	var req UserChoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}
	h.sandbox.SetPreferAlternative(*req.PreferAlternative)
	response.SuccessJSON(c, gin.H{"prefer_alternative": *req.PreferAlternative})
}

func (h *Handlers) sandboxFail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sandbox.ErrPurchaseNotFound):
		response.ErrorJSON(c, http.StatusNotFound, "Purchase not found")
	case errors.Is(err, sandbox.ErrNotPending):
		response.ErrorJSON(c, http.StatusConflict, err.Error())
	default:
		logging.Errorf("Sandbox purchase update failed: %v", err)
		response.ErrorJSON(c, http.StatusInternalServerError, err.Error())
	}
}
