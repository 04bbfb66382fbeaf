package httphandler

import (
	"github.com/cockroachdb/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/poybro/soknode/common/errs"
	"github.com/poybro/soknode/internal/entity"
	"github.com/poybro/soknode/modules/rewards"
	"github.com/poybro/soknode/pkg/middleware/requestcontext"
)

type heartbeatRequest struct {
	WorkerAddress string `json:"worker_address"`
	WorkerType    string `json:"worker_type"`
	Status        string `json:"status"`
}

func (r *heartbeatRequest) Validate() error {
	if r.WorkerAddress == "" {
		return errs.NewPublicError(errs.InvalidArgument, "worker_address is required")
	}
	return nil
}

func (h *HttpHandler) Heartbeat(ctx *fiber.Ctx) (err error) {
	var req heartbeatRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errs.WithPublicMessage(errors.Wrap(errs.InvalidArgument, err.Error()), "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return errors.WithStack(err)
	}

	ip := requestcontext.GetClientIP(ctx.UserContext())
	if ip == "" {
		ip = ctx.IP()
	}

	if err := h.service.Heartbeat(ctx.UserContext(), rewards.HeartbeatInput{
		Address: req.WorkerAddress,
		Type:    entity.WorkerType(req.WorkerType),
		Status:  req.Status,
		IP:      ip,
	}); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(ctx.JSON(fiber.Map{"status": "ok"}))
}

type workerResult struct {
	Address  string  `json:"address"`
	LastSeen float64 `json:"last_seen"` // unix seconds
	Status   string  `json:"status"`
	Online   bool    `json:"online"`
}

type listWorkersByTypeResponse map[entity.WorkerType][]workerResult

func (h *HttpHandler) ListWorkersByType(ctx *fiber.Ctx) (err error) {
	groups := h.service.ListByType()
	resp := make(listWorkersByTypeResponse, len(groups))
	for workerType, workers := range groups {
		list := make([]workerResult, 0, len(workers))
		for _, w := range workers {
			list = append(list, workerResult{
				Address:  w.Address,
				LastSeen: float64(w.LastSeen.UnixMilli()) / 1000,
				Status:   w.Status,
				Online:   w.Online,
			})
		}
		resp[workerType] = list
	}
	return errors.WithStack(ctx.JSON(resp))
}
