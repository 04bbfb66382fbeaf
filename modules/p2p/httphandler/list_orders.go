package httphandler

import (
	"github.com/cockroachdb/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/poybro/soknode/common/errs"
	"github.com/poybro/soknode/internal/entity"
)

func (h *HttpHandler) ListOrders(ctx *fiber.Ctx) (err error) {
	orders := h.book.ListOpen()
	if orders == nil {
		orders = []entity.P2POrder{}
	}
	return errors.WithStack(ctx.JSON(orders))
}

type myOrdersRequest struct {
	Address string `query:"address"`
}

func (h *HttpHandler) MyOrders(ctx *fiber.Ctx) (err error) {
	var req myOrdersRequest
	if err := ctx.QueryParser(&req); err != nil {
		return errors.WithStack(err)
	}
	if req.Address == "" {
		return errs.NewPublicError(errs.InvalidArgument, "address is required")
	}

	orders := h.book.ListMine(req.Address)
	if orders == nil {
		orders = []entity.P2POrder{}
	}
	return errors.WithStack(ctx.JSON(orders))
}
