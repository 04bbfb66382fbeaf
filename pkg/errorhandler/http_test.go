package errorhandler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/poybro/soknode/common/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCode(t *testing.T) {
	testcases := []struct {
		err      error
		expected int
	}{
		{errors.Wrap(errs.InvalidArgument, "bad amount"), http.StatusBadRequest},
		{errors.Wrap(errs.NotFound, "order"), http.StatusNotFound},
		{errors.Wrap(errs.Conflict, "status"), http.StatusConflict},
		{errors.Wrap(errs.Unauthorized, "signature"), http.StatusUnauthorized},
		{errors.Wrap(errs.Forbidden, "self trade"), http.StatusForbidden},
		{errors.Wrap(errs.PaymentRequired, "no credit"), http.StatusPaymentRequired},
		{errors.Wrap(errs.UpstreamUnavailable, "no node"), http.StatusServiceUnavailable},
		{errors.Wrap(errs.UpstreamRejected, "400"), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range testcases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			assert.Equal(t, tc.expected, StatusCode(tc.err))
		})
	}
}

func TestHTTPErrorHandler(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: NewHTTPErrorHandler()})
	app.Get("/public", func(c *fiber.Ctx) error {
		return errs.NewPublicError(errs.Conflict, "order is not available")
	})
	app.Get("/private", func(c *fiber.Ctx) error {
		return errors.New("secret detail")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/public", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode(t, resp.Body)
	assert.Equal(t, "order is not available", body["error"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/private", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body = decode(t, resp.Body)
	assert.Equal(t, "Internal Server Error", body["error"])
}

func decode(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(r).Decode(&out))
	return out
}
