package metrics

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

type Outcome string

const (
	Success Outcome = "success"
	Error   Outcome = "error"
)

func (o Outcome) String() string {
	return string(o)
}

func outcome(failure bool) string {
	if failure {
		return Error.String()
	}
	return Success.String()
}

const namespace = "soknode"

var (
	// Registry holds every Agent collector. It is separate from the default registry
	// so tests can build several apps in one process.
	Registry = prometheus.NewRegistry()

	rewardsPaid = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rewards_paid_total",
		Help:      "Reward transactions accepted by the chain node.",
	})
	rewardsRequeued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rewards_requeued_total",
		Help:      "Reward attempts put back on the queue after a failure.",
	})
	rewardsDroppedCooldown = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rewards_dropped_cooldown_total",
		Help:      "Reward attempts dropped because the worker was paid within the cooldown.",
	})
	scannerBlocks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scanner_blocks_processed_total",
		Help:      "Chain blocks processed by the deposit scanner.",
	})
	depositsClassified = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deposits_classified_total",
		Help:      "Incoming transfers by classification.",
	}, []string{"kind"})
	chainEndpointAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "chain_endpoint_available",
		Help:      "1 when a chain node endpoint is selected.",
	})
	chainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "chain_best_height",
		Help:      "Height reported by the selected chain node.",
	})
	chainRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "chain_request_duration_seconds",
		Help:      "Chain node request durations in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 20},
	}, []string{"method", "status"})
	treasuryValue = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "treasury_value_usd",
		Help:      "Treasury value from the latest valuation cycle.",
	})
	marketPrice = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "market_price_usd",
		Help:      "Market price from the latest valuation cycle.",
	})
	floorPrice = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "floor_price_usd",
		Help:      "Floor price from the latest valuation cycle.",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		rewardsPaid,
		rewardsRequeued,
		rewardsDroppedCooldown,
		scannerBlocks,
		depositsClassified,
		chainEndpointAvailable,
		chainHeight,
		chainRequestDuration,
		treasuryValue,
		marketPrice,
		floorPrice,
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() fiber.Handler {
	h := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
	return func(c *fiber.Ctx) error {
		h(c.Context())
		return nil
	}
}

func RecordRewardPaid() {
	rewardsPaid.Inc()
}

func RecordRewardRequeued() {
	rewardsRequeued.Inc()
}

func RecordRewardDroppedCooldown() {
	rewardsDroppedCooldown.Inc()
}

func RecordBlocksScanned(n int) {
	scannerBlocks.Add(float64(n))
}

func RecordDeposit(kind string) {
	depositsClassified.WithLabelValues(kind).Inc()
}

func RecordChainEndpoint(available bool, height int64) {
	if !available {
		chainEndpointAvailable.Set(0)
		return
	}
	chainEndpointAvailable.Set(1)
	chainHeight.Set(float64(height))
}

func RecordChainRequest(d time.Duration, method string, failure bool) {
	chainRequestDuration.WithLabelValues(method, outcome(failure)).Observe(d.Seconds())
}

func RecordValuation(treasury, floor, market decimal.Decimal) {
	treasuryValue.Set(treasury.InexactFloat64())
	floorPrice.Set(floor.InexactFloat64())
	marketPrice.Set(market.InexactFloat64())
}
