package httphandler

import (
	"github.com/gofiber/fiber/v2"
)

func (h *HttpHandler) Mount(router fiber.Router) error {
	router.Post("/heartbeat", h.Heartbeat)

	r := router.Group("/api/v1")
	r.Get("/workers/list_by_type", h.ListWorkersByType)
	r.Post("/websites/add", h.AddWebsite)
	r.Get("/websites/list", h.ListWebsites)
	r.Post("/websites/remove", h.RemoveWebsite)
	r.Get("/websites/get_one", h.GetWebsiteToView)
	r.Post("/views/submit_proof", h.SubmitViewProof)
	return nil
}
