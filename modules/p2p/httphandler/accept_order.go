package httphandler

import (
	"github.com/cockroachdb/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/poybro/soknode/common/errs"
	"github.com/poybro/soknode/internal/entity"
)

type acceptOrderRequest struct {
	BuyerAddress string `json:"buyer_address"`
}

type acceptOrderResponse struct {
	Message string          `json:"message"`
	Order   entity.P2POrder `json:"order"`
}

func (h *HttpHandler) AcceptOrder(ctx *fiber.Ctx) (err error) {
	var req acceptOrderRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errs.WithPublicMessage(errors.Wrap(errs.InvalidArgument, err.Error()), "invalid request body")
	}

	order, err := h.book.Accept(ctx.UserContext(), ctx.Params("id"), req.BuyerAddress)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(ctx.JSON(acceptOrderResponse{
		Message: "Order accepted. Pay the seller, then wait for confirmation.",
		Order:   order,
	}))
}

type confirmOrderRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

type confirmOrderResponse struct {
	Message string `json:"message"`
	Payout  string `json:"payout"`
}

func (h *HttpHandler) ConfirmOrder(ctx *fiber.Ctx) (err error) {
	var req confirmOrderRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errs.WithPublicMessage(errors.Wrap(errs.InvalidArgument, err.Error()), "invalid request body")
	}

	payout, err := h.book.Confirm(ctx.UserContext(), ctx.Params("id"), req.Address, req.Signature)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(ctx.JSON(confirmOrderResponse{
		Message: "Payment confirmed, escrow released to the buyer.",
		Payout:  payout.String(),
	}))
}
