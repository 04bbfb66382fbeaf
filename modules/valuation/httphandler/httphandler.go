package httphandler

import (
	"github.com/cockroachdb/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/poybro/soknode/common/errs"
	"github.com/poybro/soknode/modules/valuation"
)

type HttpHandler struct {
	engine *valuation.Engine
}

func New(engine *valuation.Engine) *HttpHandler {
	return &HttpHandler{
		engine: engine,
	}
}

func (h *HttpHandler) Mount(router fiber.Router) error {
	router.Get("/api/v1/econ_chart_data", h.GetChartData)
	return nil
}

type getChartDataRequest struct {
	Limit int `query:"limit"`
}

func (r getChartDataRequest) Validate() error {
	if r.Limit < 0 || r.Limit > valuation.DefaultChartLimit {
		return errs.NewPublicError(errs.InvalidArgument, "limit must be between 0 and 200")
	}
	return nil
}

func (h *HttpHandler) GetChartData(ctx *fiber.Ctx) (err error) {
	var req getChartDataRequest
	if err := ctx.QueryParser(&req); err != nil {
		return errs.WithPublicMessage(errors.Wrap(errs.InvalidArgument, err.Error()), "invalid query")
	}
	if err := req.Validate(); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(ctx.JSON(h.engine.ChartData(req.Limit)))
}
