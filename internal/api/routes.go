package api

import (
	"github.com/gin-gonic/gin"

	"iap-reconciler/internal/middleware"
)

// SetupRoutes sets up all routes
func SetupRoutes(r *gin.Engine, h *Handlers, apiKey string) {
	api := r.Group("/api")
	api.Use(middleware.APIKeyAuth(apiKey))
	{
		api.POST("/session/configure", h.Configure)

		api.POST("/products/fetch", h.FetchProducts)
		api.GET("/products", h.ListProducts)

		api.POST("/purchases", h.Purchase)
		api.GET("/purchases/pending", h.PendingPurchases)

		transactions := api.Group("/transactions")
		{
			transactions.POST("/finalize", h.Finalize)
			transactions.POST("/flush", h.Flush)
			transactions.POST("/restore", h.Restore)
		}

		api.GET("/receipt", h.Receipt)
		api.GET("/events", h.Events)
		api.GET("/grants", h.ListGrants)

		// Sandbox admin routes, only when the sandbox backs the session
		if h.sandbox != nil {
			sb := api.Group("/sandbox")
			{
				sb.POST("/products", h.AddSandboxProduct)
				sb.GET("/purchases", h.SandboxPurchases)
				sb.POST("/purchases/:token/approve", h.ApproveSandboxPurchase)
				sb.POST("/purchases/:token/decline", h.DeclineSandboxPurchase)
				sb.POST("/availability", h.SetSandboxAvailability)
				sb.POST("/user-choice", h.SetSandboxUserChoice)
			}
		}
	}

	// Health check
	r.GET("/health", h.Health)
}
