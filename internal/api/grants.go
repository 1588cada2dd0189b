package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"iap-reconciler/internal/response"
	"iap-reconciler/pkg/logging"
)

const (
	defaultGrantLimit = 50
	maxGrantLimit     = 500
)

// ListGrants returns the most recent fulfillment grants of the session's
// platform
// GET /api/grants?limit=50
func (h *Handlers) ListGrants(c *gin.Context) {
	if h.grants == nil {
		response.ErrorJSON(c, http.StatusNotImplemented, "Grant ledger is not configured")
		return
	}

	limit := defaultGrantLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			response.ErrorJSON(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxGrantLimit {
		limit = maxGrantLimit
	}

	grants, err := h.grants.List(c.Request.Context(), string(h.session.Platform()), limit)
	if err != nil {
		logging.Errorf("Failed to list grants: %v", err)
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to list grants")
		return
	}

	items := make([]gin.H, 0, len(grants))
	for _, g := range grants {
		items = append(items, gin.H{
			"id":               g.ID,
			"transaction_key":  g.TransactionKey,
			"transaction_id":   g.TransactionID,
			"product_ids":      g.Products(),
			"consumable":       g.Consumable,
			"reason":           g.Reason,
			"transaction_date": g.TransactionDate,
			"finalized":        !g.FinalizedAt.IsZero(),
			"created_at":       g.CreatedAt,
		})
	}
	response.SuccessJSON(c, gin.H{"grants": items, "count": len(items)})
}
