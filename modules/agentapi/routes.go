package agentapi

import (
	"github.com/gofiber/fiber/v2"
)

func (h *HttpHandler) Mount(router fiber.Router) error {
	router.Get("/ping", h.Ping)
	router.Get("/api/get_balance/:address", h.GetBalance)

	r := router.Group("/api/v1")
	r.Get("/payment_info", h.GetPaymentInfo)
	r.Get("/dashboard_stats", h.GetDashboardStats)
	r.Post("/transactions/broadcast", h.BroadcastTransaction)
	return nil
}
