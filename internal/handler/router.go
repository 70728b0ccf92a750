package handler

import (
	"github.com/amifistore/cekot-sub000/internal/config"

	"github.com/gin-gonic/gin"
)

// SetupRouter wires the HTTP surface: webhook intake, health, order snapshot
// and the front-end API with its operator-guarded admin group.
func SetupRouter(h *Handler, cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())

	// Provider-facing surface.
	r.POST("/webhook", WebhookAuth(cfg), h.Webhook)
	r.GET("/webhook", WebhookAuth(cfg), h.Webhook)
	r.GET("/health", h.Health)
	r.GET("/order/:provider_ref", h.OrderSnapshot)

	// Front-end surface.
	api := r.Group("/api/v1")
	{
		order := api.Group("/order")
		{
			order.POST("/place", h.PlaceOrder)
			order.GET("/list", h.ListOrders)
		}

		account := api.Group("/account")
		{
			account.GET("/balance", h.GetBalance)
			account.GET("/history", h.WalletHistory)
		}

		topup := api.Group("/topup")
		{
			topup.POST("/request", h.RequestTopup)
		}

		product := api.Group("/product")
		{
			product.GET("/list", h.ListProducts)
		}

		admin := api.Group("/admin", OperatorAuth(cfg))
		{
			admin.POST("/topup/approve", h.ApproveTopup)
			admin.POST("/topup/reject", h.RejectTopup)
			admin.GET("/topup/pending", h.ListPendingTopups)
			admin.POST("/catalog/refresh", h.RefreshCatalog)
			admin.POST("/account/adjust", h.Adjust)
		}
	}

	return r
}
