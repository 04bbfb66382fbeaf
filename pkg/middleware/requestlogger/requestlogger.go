package requestlogger

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/poybro/soknode/pkg/logger"
	"github.com/poybro/soknode/pkg/middleware/requestcontext"
)

type Config struct {
	WithRequestHeader    bool     `mapstructure:"request_header"`
	WithRequestQuery     bool     `mapstructure:"request_query"`
	Disable              bool     `mapstructure:"disable"` // suppress INFO level request logs
	HiddenRequestHeaders []string `mapstructure:"hidden_request_headers"`

	// SkipPaths are not logged on success (e.g. heartbeats and /metrics scrapes).
	SkipPaths []string `mapstructure:"skip_paths"`
}

func New(config Config) fiber.Handler {
	hiddenRequestHeaders := make(map[string]struct{}, len(config.HiddenRequestHeaders))
	for _, header := range config.HiddenRequestHeaders {
		hiddenRequestHeaders[strings.TrimSpace(strings.ToLower(header))] = struct{}{}
	}
	skipPaths := make(map[string]struct{}, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skipPaths[p] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		latency := time.Since(start)
		status := c.Response().StatusCode()

		level := slog.LevelInfo
		baseAttrs := []slog.Attr{
			slog.String("event", "api_request"),
			slog.Int64("latency", latency.Milliseconds()),
			slog.String("latencyHuman", latency.String()),
		}
		if err != nil || status >= http.StatusInternalServerError {
			level = slog.LevelError
			logErr := err
			if logErr == nil {
				logErr = fiber.NewError(status)
			}
			baseAttrs = append(baseAttrs, slog.Any("error", logErr))
		}

		if level == slog.LevelInfo {
			if _, skip := skipPaths[c.Path()]; skip || config.Disable {
				return errors.WithStack(err)
			}
		}

		requestAttrs := []slog.Attr{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("route", c.Route().Path),
			slog.String("ip", requestcontext.GetClientIP(c.UserContext())),
			slog.String("user-agent", string(c.Context().UserAgent())),
			slog.Any("params", c.AllParams()),
			slog.Int("length", len(c.Body())),
		}
		if config.WithRequestQuery {
			requestAttrs = append(requestAttrs, slog.String("query", string(c.Request().URI().QueryString())))
		}
		if config.WithRequestHeader {
			kv := []any{}
			for k, v := range c.GetReqHeaders() {
				if _, hidden := hiddenRequestHeaders[strings.ToLower(k)]; hidden {
					continue
				}
				kv = append(kv, slog.Any(k, v))
			}
			requestAttrs = append(requestAttrs, slog.Group("header", kv...))
		}

		responseAttrs := []slog.Attr{
			slog.Int("status", status),
			slog.Int("length", len(c.Response().Body())),
		}

		logger.LogAttrs(c.UserContext(), level, "Request Completed", append([]slog.Attr{
			{Key: "request", Value: slog.GroupValue(requestAttrs...)},
			{Key: "response", Value: slog.GroupValue(responseAttrs...)},
		}, baseAttrs...)...)

		return errors.WithStack(err)
	}
}
