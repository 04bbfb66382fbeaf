package httphandler

import (
	"github.com/cockroachdb/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/poybro/soknode/common/errs"
	"github.com/poybro/soknode/modules/staking"
)

type HttpHandler struct {
	ledger *staking.Ledger
}

func New(ledger *staking.Ledger) *HttpHandler {
	return &HttpHandler{
		ledger: ledger,
	}
}

func (h *HttpHandler) Mount(router fiber.Router) error {
	r := router.Group("/api/v1/stake")

	r.Get("/info", h.GetInfo)
	r.Get("/record/:address", h.GetRecord)
	r.Post("/claim", h.Claim)
	return nil
}

func (h *HttpHandler) GetInfo(ctx *fiber.Ctx) (err error) {
	return errors.WithStack(ctx.JSON(h.ledger.Info(ctx.UserContext())))
}

func (h *HttpHandler) GetRecord(ctx *fiber.Ctx) (err error) {
	return errors.WithStack(ctx.JSON(h.ledger.Record(ctx.Params("address"))))
}

type claimRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

type claimResponse struct {
	Message string `json:"message"`
	Amount  string `json:"amount"`
}

func (h *HttpHandler) Claim(ctx *fiber.Ctx) (err error) {
	var req claimRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errs.WithPublicMessage(errors.Wrap(errs.InvalidArgument, err.Error()), "invalid request body")
	}

	amount, err := h.ledger.Claim(ctx.UserContext(), req.Address, req.Signature)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(ctx.JSON(claimResponse{
		Message: "Stake and rewards sent.",
		Amount:  amount.String(),
	}))
}
