package errorhandler

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/poybro/soknode/common/errs"
	"github.com/poybro/soknode/pkg/logger"
	"github.com/poybro/soknode/pkg/logger/slogx"
)

var kindStatus = []struct {
	kind   errs.ErrorKind
	status int
}{
	{errs.InvalidArgument, http.StatusBadRequest},
	{errs.Unauthorized, http.StatusUnauthorized},
	{errs.PaymentRequired, http.StatusPaymentRequired},
	{errs.Forbidden, http.StatusForbidden},
	{errs.NotFound, http.StatusNotFound},
	{errs.Conflict, http.StatusConflict},
	{errs.UpstreamRejected, http.StatusBadGateway},
	{errs.UpstreamUnavailable, http.StatusServiceUnavailable},
}

// StatusCode returns the HTTP status for the error kind carried by err.
func StatusCode(err error) int {
	_, status := kindOf(err)
	return status
}

func kindOf(err error) (errs.ErrorKind, int) {
	for _, ks := range kindStatus {
		if errors.Is(err, ks.kind) {
			return ks.kind, ks.status
		}
	}
	return errs.InternalError, http.StatusInternalServerError
}

func NewHTTPErrorHandler() func(ctx *fiber.Ctx, err error) error {
	return func(ctx *fiber.Ctx, err error) error {
		if e := new(errs.PublicError); errors.As(err, &e) {
			return errors.WithStack(ctx.Status(StatusCode(err)).JSON(map[string]any{
				"error": e.Message(),
			}))
		}
		if e := new(fiber.Error); errors.As(err, &e) {
			return errors.WithStack(ctx.Status(e.Code).JSON(map[string]any{
				"error": e.Message,
			}))
		}

		// known kinds without a public message only expose the kind name
		if kind, status := kindOf(err); status != http.StatusInternalServerError {
			logger.WarnContext(ctx.UserContext(), "api error", slogx.Error(err),
				slogx.String("event", "api_error"),
				slogx.Int("status", status),
			)
			return errors.WithStack(ctx.Status(status).JSON(map[string]any{
				"error": kind.Error(),
			}))
		}

		logger.ErrorContext(ctx.UserContext(), "Something went wrong, unhandled api error", err,
			slogx.String("event", "api_unhandled_error"),
		)

		return errors.WithStack(ctx.Status(http.StatusInternalServerError).JSON(map[string]any{
			"error": "Internal Server Error",
		}))
	}
}
