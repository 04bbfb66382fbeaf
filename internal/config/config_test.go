package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	c := parse(viper.New(), filepath.Join(t.TempDir(), "missing", "config.yaml"))

	assert.Equal(t, 8080, c.HTTPServer.Port)
	assert.Equal(t, "http://localhost:5000", c.ChainNode.DefaultURL)
	assert.Equal(t, 120*time.Second, c.ChainNode.ProbeInterval)
	assert.Equal(t, 500, c.ChainNode.RecoveryWindow)
	assert.Equal(t, "1", c.Economy.PricePer100Views.String())
	assert.Equal(t, "20", c.Economy.PlatformFeePercent.String())
	assert.Equal(t, "0.5", c.Economy.P2PFeePercent.String())
	assert.Equal(t, "15", c.Economy.StakingAPR.String())
	assert.Equal(t, "0.5", c.Economy.MinimumFundingAmount().String())
	assert.Equal(t, "0.01", c.Economy.PricePerView().String())
	assert.Equal(t, 180*time.Second, c.Economy.PaymentCooldown)
	assert.Equal(t, RewardQueueMemory, c.RewardQueue.Backend)
	assert.False(t, c.ChartPublisher.Enabled())
	assert.Contains(t, c.HTTPServer.Logger.SkipPaths, "/heartbeat")
}

func TestParseFileAndEnv(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
http_server:
  port: 9090
economy:
  price_per_100_views: 2.5
  minimum_funding: "0.75"
  payment_cooldown: 30s
chart_publisher:
  bucket: sok-charts
`), 0o600))
	t.Setenv("ECONOMY_STAKING_APR", "12.5")
	t.Setenv("REWARD_QUEUE_BACKEND", "redis")

	c := parse(viper.New(), file)

	assert.Equal(t, 9090, c.HTTPServer.Port)
	assert.Equal(t, "2.5", c.Economy.PricePer100Views.String())
	assert.Equal(t, "0.75", c.Economy.MinimumFundingAmount().String())
	assert.Equal(t, 30*time.Second, c.Economy.PaymentCooldown)
	assert.Equal(t, "12.5", c.Economy.StakingAPR.String())
	assert.Equal(t, RewardQueueRedis, c.RewardQueue.Backend)
	assert.True(t, c.ChartPublisher.Enabled())
}
