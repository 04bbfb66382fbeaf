package httphandler

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/poybro/soknode/common/errs"
	"github.com/poybro/soknode/internal/entity"
	"github.com/shopspring/decimal"
)

type createOrderRequest struct {
	SellerAddress string          `json:"seller_address"`
	SokAmount     decimal.Decimal `json:"sok_amount"`
	FiatDetails   json.RawMessage `json:"fiat_details"`
}

type createOrderResponse struct {
	Message       string          `json:"message"`
	Order         entity.P2POrder `json:"order"`
	EscrowAddress string          `json:"escrow_address"`
}

func (h *HttpHandler) CreateOrder(ctx *fiber.Ctx) (err error) {
	var req createOrderRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errs.WithPublicMessage(errors.Wrap(errs.InvalidArgument, err.Error()), "invalid request body")
	}

	result, err := h.book.Create(ctx.UserContext(), req.SellerAddress, req.SokAmount, req.FiatDetails)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(ctx.Status(http.StatusCreated).JSON(createOrderResponse{
		Message:       "Order created. Send " + result.Order.SokAmount.String() + " SOK to the escrow address to open it.",
		Order:         result.Order,
		EscrowAddress: result.EscrowAddress,
	}))
}
