package requestcontext

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/poybro/soknode/pkg/logger"
)

// Option enriches the request context. Returning a rejectError aborts the request with its status.
type Option func(ctx context.Context, c *fiber.Ctx) (context.Context, error)

type rejectError struct {
	status  int
	message string
}

func (r rejectError) Error() string {
	return r.message
}

func New(opts ...Option) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var err error
		ctx := c.UserContext()
		for i, opt := range opts {
			ctx, err = opt(ctx, c)
			if err == nil {
				continue
			}
			var rErr rejectError
			if errors.As(err, &rErr) {
				return c.Status(rErr.status).JSON(fiber.Map{"error": rErr.message})
			}
			logger.ErrorContext(ctx, "failed to extract request context", err,
				slog.String("event", "requestcontext/error"),
				slog.Int("optionIndex", i),
			)
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
		}
		c.SetUserContext(ctx)
		return c.Next()
	}
}
