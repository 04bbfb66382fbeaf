package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler(t *testing.T) {
	RecordRewardPaid()
	RecordDeposit("stake")
	RecordValuation(decimal.NewFromInt(10000), decimal.RequireFromString("0.001"), decimal.RequireFromString("0.0011"))

	app := fiber.New()
	app.Get("/metrics", Handler())

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "soknode_rewards_paid_total")
	assert.Contains(t, string(body), `soknode_deposits_classified_total{kind="stake"}`)
	assert.Equal(t, float64(10000), testutil.ToFloat64(treasuryValue))
}
