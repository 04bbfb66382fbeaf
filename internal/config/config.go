package config

import (
	"context"
	"io/fs"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
	"github.com/poybro/soknode/pkg/logger"
	"github.com/poybro/soknode/pkg/logger/slogx"
	"github.com/poybro/soknode/pkg/middleware/requestcontext"
	"github.com/poybro/soknode/pkg/middleware/requestlogger"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	isInit bool
	mu     sync.Mutex
	config = Config{}
)

type Config struct {
	Logger         logger.Config        `mapstructure:"logger"`
	HTTPServer     HTTPServerConfig     `mapstructure:"http_server"`
	ChainNode      ChainNodeConfig      `mapstructure:"chain_node"`
	Wallets        WalletsConfig        `mapstructure:"wallets"`
	State          StateConfig          `mapstructure:"state"`
	Economy        EconomyConfig        `mapstructure:"economy"`
	RewardQueue    RewardQueueConfig    `mapstructure:"reward_queue"`
	ChartPublisher ChartPublisherConfig `mapstructure:"chart_publisher"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
}

type HTTPServerConfig struct {
	Port      int                                `mapstructure:"port"`
	Logger    requestlogger.Config               `mapstructure:"logger"`
	RequestIP requestcontext.WithClientIPConfig `mapstructure:"requestip"`
}

type ChainNodeConfig struct {
	// DefaultURL is always a candidate, e.g. http://localhost:5000
	DefaultURL     string        `mapstructure:"default_url"`
	LiveNodesFile  string        `mapstructure:"live_nodes_file"`
	BootstrapFile  string        `mapstructure:"bootstrap_file"`
	ProbeInterval  time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	ProbeParallel  int           `mapstructure:"probe_parallel"`
	RecoveryWindow int           `mapstructure:"recovery_window"`
}

type WalletsConfig struct {
	AgentKeyFile       string `mapstructure:"agent_key_file"`
	StakingPoolKeyFile string `mapstructure:"staking_pool_key_file"`
}

type StateConfig struct {
	File         string        `mapstructure:"file"`
	SaveInterval time.Duration `mapstructure:"save_interval"`
}

type EconomyConfig struct {
	PricePer100Views   decimal.Decimal `mapstructure:"price_per_100_views"`
	PlatformFeePercent decimal.Decimal `mapstructure:"platform_fee_percent"`
	P2PFeePercent      decimal.Decimal `mapstructure:"p2p_fee_percent"`
	StakingAPR         decimal.Decimal `mapstructure:"staking_apr"`
	// MinimumFunding defaults to half of PricePer100Views when zero.
	MinimumFunding     decimal.Decimal `mapstructure:"minimum_funding"`
	InitialTreasuryUSD decimal.Decimal `mapstructure:"initial_treasury_usd"`
	TotalSupply        decimal.Decimal `mapstructure:"total_supply"`
	WeightTx           decimal.Decimal `mapstructure:"weight_tx"`
	WeightWorker       decimal.Decimal `mapstructure:"weight_worker"`
	WeightWebsite      decimal.Decimal `mapstructure:"weight_website"`

	StakingInterval   time.Duration `mapstructure:"staking_interval"`
	PaymentCooldown   time.Duration `mapstructure:"payment_cooldown"`
	WorkerTimeout     time.Duration `mapstructure:"worker_timeout"`
	ReaperInterval    time.Duration `mapstructure:"reaper_interval"`
	ScanInterval      time.Duration `mapstructure:"scan_interval"`
	ValuationInterval time.Duration `mapstructure:"valuation_interval"`

	EconHistoryFile string `mapstructure:"econ_history_file"`
	ChartFile       string `mapstructure:"chart_file"`
}

// MinimumFundingAmount is the smallest deposit that funds website views.
func (e EconomyConfig) MinimumFundingAmount() decimal.Decimal {
	if e.MinimumFunding.IsPositive() {
		return e.MinimumFunding
	}
	return e.PricePer100Views.Div(decimal.NewFromInt(2))
}

// PricePerView is the price of a single view.
func (e EconomyConfig) PricePerView() decimal.Decimal {
	return e.PricePer100Views.Div(decimal.NewFromInt(100))
}

type RewardQueueBackend string

const (
	RewardQueueMemory RewardQueueBackend = "memory"
	RewardQueueRedis  RewardQueueBackend = "redis"
)

type RewardQueueConfig struct {
	Backend   RewardQueueBackend `mapstructure:"backend"`
	BlockWait time.Duration      `mapstructure:"block_wait"`
	Redis     RedisConfig        `mapstructure:"redis"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// ChartPublisherConfig uploads chart artifacts to S3. Disabled when Bucket is empty.
type ChartPublisherConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
	Region string `mapstructure:"region"`
}

func (c ChartPublisherConfig) Enabled() bool {
	return c.Bucket != ""
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.output", "TEXT")
	v.SetDefault("logger.debug", false)

	v.SetDefault("http_server.port", 8080)
	v.SetDefault("http_server.logger.skip_paths", []string{"/heartbeat", "/metrics", "/ping"})

	v.SetDefault("chain_node.default_url", "http://localhost:5000")
	v.SetDefault("chain_node.live_nodes_file", "live_network_nodes.json")
	v.SetDefault("chain_node.bootstrap_file", "bootstrap_config.json")
	v.SetDefault("chain_node.probe_interval", 120*time.Second)
	v.SetDefault("chain_node.probe_timeout", 5*time.Second)
	v.SetDefault("chain_node.probe_parallel", 8)
	v.SetDefault("chain_node.recovery_window", 500)

	v.SetDefault("wallets.agent_key_file", "keys/agent.key")
	v.SetDefault("wallets.staking_pool_key_file", "keys/staking_pool.key")

	v.SetDefault("state.file", "agent_state.json")
	v.SetDefault("state.save_interval", 300*time.Second)

	v.SetDefault("economy.price_per_100_views", "1.0")
	v.SetDefault("economy.platform_fee_percent", "20")
	v.SetDefault("economy.p2p_fee_percent", "0.5")
	v.SetDefault("economy.staking_apr", "15")
	v.SetDefault("economy.minimum_funding", "0")
	v.SetDefault("economy.initial_treasury_usd", "10000")
	v.SetDefault("economy.total_supply", "10000000")
	v.SetDefault("economy.weight_tx", "0.5")
	v.SetDefault("economy.weight_worker", "0.3")
	v.SetDefault("economy.weight_website", "0.2")
	v.SetDefault("economy.staking_interval", 3600*time.Second)
	v.SetDefault("economy.payment_cooldown", 180*time.Second)
	v.SetDefault("economy.worker_timeout", 180*time.Second)
	v.SetDefault("economy.reaper_interval", 60*time.Second)
	v.SetDefault("economy.scan_interval", 60*time.Second)
	v.SetDefault("economy.valuation_interval", 300*time.Second)
	v.SetDefault("economy.econ_history_file", "econ_history.json")
	v.SetDefault("economy.chart_file", "econ_chart.html")

	v.SetDefault("reward_queue.backend", string(RewardQueueMemory))
	v.SetDefault("reward_queue.block_wait", 5*time.Second)
	v.SetDefault("reward_queue.redis.address", "localhost:6379")
	v.SetDefault("reward_queue.redis.key", "soknode:reward_queue")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// decimalHook decodes strings and numbers from file, env and flags into decimal.Decimal.
func decimalHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(decimal.Decimal{}) {
		return data, nil
	}
	switch v := data.(type) {
	case decimal.Decimal:
		return v, nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		return d, errors.Wrapf(err, "invalid decimal %q", v)
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case uint64:
		return decimal.NewFromUint64(v), nil
	}
	return data, nil
}

// Parse reads configFile (or ./config.yaml), environment variables and bound flags.
// Environment keys use "_" in place of "." (e.g. ECONOMY_STAKING_APR).
func Parse(configFile string) Config {
	mu.Lock()
	defer mu.Unlock()
	return parse(viper.GetViper(), configFile)
}

func parse(v *viper.Viper, configFile string) Config {
	ctx := logger.WithContext(context.Background(), slog.String("package", "config"))

	setDefaults(v)
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath("./")
		v.SetConfigName("config")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var errNotfound viper.ConfigFileNotFoundError
		if errors.As(err, &errNotfound) || errors.Is(err, fs.ErrNotExist) {
			logger.WarnContext(ctx, "Config file not found, use default config value", slogx.Error(err))
		} else {
			logger.PanicContext(ctx, "Invalid config file", slogx.Error(err))
		}
	}

	var c Config
	if err := v.Unmarshal(&c, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		decimalHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		logger.PanicContext(ctx, "Something went wrong, failed to unmarshal config", slogx.Error(err))
	}

	config = c
	isInit = true
	return config
}

// Load returns the parsed configuration, parsing with defaults on first use.
func Load() Config {
	mu.Lock()
	defer mu.Unlock()
	if !isInit {
		return parse(viper.GetViper(), "")
	}
	return config
}

// BindPFlag binds a viper key to a command line flag.
func BindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		logger.Panic("Something went wrong, failed to bind flag for config", slog.String("package", "config"), slogx.Error(err))
	}
}
