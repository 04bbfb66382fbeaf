package httphandler

import (
	"github.com/gofiber/fiber/v2"
)

func (h *HttpHandler) Mount(router fiber.Router) error {
	r := router.Group("/api/v1/p2p")

	r.Post("/orders/create", h.CreateOrder)
	r.Get("/orders/list", h.ListOrders)
	r.Post("/orders/:id/accept", h.AcceptOrder)
	r.Post("/orders/:id/confirm", h.ConfirmOrder)
	r.Get("/my_orders", h.MyOrders)
	return nil
}
