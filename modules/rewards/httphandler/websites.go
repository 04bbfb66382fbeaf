package httphandler

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/poybro/soknode/common/errs"
	"github.com/poybro/soknode/internal/entity"
)

type addWebsiteRequest struct {
	URL            string `json:"url"`
	OwnerPublicKey string `json:"owner_public_key"`
}

func (r *addWebsiteRequest) Validate() error {
	if r.URL == "" || r.OwnerPublicKey == "" {
		return errs.NewPublicError(errs.InvalidArgument, "url and owner_public_key are required")
	}
	return nil
}

type addWebsiteResponse struct {
	Message string         `json:"message"`
	Website entity.Website `json:"website"`
}

func (h *HttpHandler) AddWebsite(ctx *fiber.Ctx) (err error) {
	var req addWebsiteRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errs.WithPublicMessage(errors.Wrap(errs.InvalidArgument, err.Error()), "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return errors.WithStack(err)
	}

	site, err := h.service.AddWebsite(ctx.UserContext(), req.URL, req.OwnerPublicKey)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(ctx.Status(http.StatusCreated).JSON(addWebsiteResponse{
		Message: "Website added. Fund it with SOK to activate.",
		Website: site,
	}))
}

type listWebsitesRequest struct {
	Owner string `query:"owner"`
}

type websiteResult struct {
	URL  string         `json:"url"`
	Info entity.Website `json:"info"`
}

func (h *HttpHandler) ListWebsites(ctx *fiber.Ctx) (err error) {
	var req listWebsitesRequest
	if err := ctx.QueryParser(&req); err != nil {
		return errors.WithStack(err)
	}
	if req.Owner == "" {
		return errs.NewPublicError(errs.InvalidArgument, "owner is required")
	}

	sites := h.service.ListWebsites(req.Owner)
	resp := make([]websiteResult, 0, len(sites))
	for _, site := range sites {
		resp = append(resp, websiteResult{URL: site.URL, Info: site})
	}
	return errors.WithStack(ctx.JSON(resp))
}

type removeWebsiteRequest struct {
	URL          string `json:"url"`
	OwnerAddress string `json:"owner_address"`
}

func (h *HttpHandler) RemoveWebsite(ctx *fiber.Ctx) (err error) {
	var req removeWebsiteRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errs.WithPublicMessage(errors.Wrap(errs.InvalidArgument, err.Error()), "invalid request body")
	}
	if err := h.service.RemoveWebsite(ctx.UserContext(), req.URL, req.OwnerAddress); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(ctx.JSON(messageResponse{Message: "Removed " + req.URL}))
}

func (h *HttpHandler) GetWebsiteToView(ctx *fiber.Ctx) (err error) {
	assignment, err := h.service.PickFundedWebsite()
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(ctx.JSON(assignment))
}

type submitViewProofRequest struct {
	ViewID        string `json:"viewId"`
	WorkerAddress string `json:"worker_address"`
}

func (h *HttpHandler) SubmitViewProof(ctx *fiber.Ctx) (err error) {
	var req submitViewProofRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errs.WithPublicMessage(errors.Wrap(errs.InvalidArgument, err.Error()), "invalid request body")
	}
	if err := h.service.SubmitViewProof(ctx.UserContext(), req.ViewID, req.WorkerAddress); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(ctx.JSON(messageResponse{Message: "View accepted, reward is being processed."}))
}
