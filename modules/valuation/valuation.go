package valuation

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/poybro/soknode/internal/entity"
	"github.com/poybro/soknode/internal/metrics"
	"github.com/poybro/soknode/internal/poller"
	"github.com/poybro/soknode/internal/state"
	"github.com/poybro/soknode/pkg/decimals"
	"github.com/poybro/soknode/pkg/logger"
	"github.com/poybro/soknode/pkg/logger/slogx"
	"github.com/shopspring/decimal"
)

const (
	DefaultInterval   = 5 * time.Minute
	DefaultChartLimit = 200
)

type ChainReader interface {
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)
	GetHeight(ctx context.Context) (int64, error)
}

// Publisher stores rendered artifacts somewhere outside the process.
type Publisher interface {
	Publish(ctx context.Context, name, contentType string, body []byte) error
}

type Weights struct {
	Tx      decimal.Decimal
	Worker  decimal.Decimal
	Website decimal.Decimal
}

type Config struct {
	Interval           time.Duration
	TotalSupply        decimal.Decimal
	PlatformFeePercent decimal.Decimal
	P2PFeePercent      decimal.Decimal
	Weights            Weights
	HistoryFile        string
	ChartFile          string
}

// Engine values the token from the treasury and the growth of network activity.
type Engine struct {
	store       *state.Store
	chain       ChainReader
	poolAddress string
	publisher   Publisher
	config      Config
	now         func() time.Time

	mu      sync.RWMutex
	history []entity.EconSnapshot
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithPublisher uploads the chart and history after every cycle.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

func New(store *state.Store, chainReader ChainReader, poolAddress string, conf Config, opts ...Option) *Engine {
	if conf.Interval <= 0 {
		conf.Interval = DefaultInterval
	}
	e := &Engine{
		store:       store,
		chain:       chainReader,
		poolAddress: poolAddress,
		config:      conf,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// averageFee is the mean of the platform and P2P fees as a fraction.
func (e *Engine) averageFee() decimal.Decimal {
	return decimals.Percent(e.config.PlatformFeePercent.Add(e.config.P2PFeePercent).Div(decimal.NewFromInt(2)))
}

// growth is (cur-prev)/prev with a zero prev treated as one.
func growth(cur, prev decimal.Decimal) decimal.Decimal {
	denominator := prev
	if denominator.IsZero() {
		denominator = decimals.One
	}
	return cur.Sub(prev).Div(denominator)
}

// smoothed is ln(1+max(0,g)).
func smoothed(g decimal.Decimal) decimal.Decimal {
	return decimals.Log1p(decimal.Max(decimal.Zero, g))
}

type observation struct {
	workers  int
	websites int
	staked   decimal.Decimal
	escrow   decimal.Decimal
	height   int64
}

func (e *Engine) observe(ctx context.Context, prev *entity.EconSnapshot) observation {
	var obs observation
	e.store.View(func(st *state.State) {
		obs.workers = len(st.Workers)
		obs.websites = len(st.Websites)
		obs.escrow = decimal.Zero
		for _, o := range st.Orders {
			if o.Status == entity.OrderStatusOpen {
				obs.escrow = obs.escrow.Add(o.SokAmount)
			}
		}
	})

	staked, err := e.chain.GetBalance(ctx, e.poolAddress)
	if err != nil {
		logger.WarnContext(ctx, "Failed to read staking pool balance", slogx.Error(err))
		staked = decimal.Zero
	}
	obs.staked = staked

	height, err := e.chain.GetHeight(ctx)
	if err != nil {
		logger.WarnContext(ctx, "Failed to read chain height, keeping the previous one", slogx.Error(err))
		if prev != nil {
			height = prev.ChainHeight
		}
	}
	obs.height = height
	return obs
}

// Cycle records one snapshot, accruing fee revenue since the previous one into the treasury.
func (e *Engine) Cycle(ctx context.Context) (entity.EconSnapshot, error) {
	prev, hasPrev := e.Latest()
	var prevPtr *entity.EconSnapshot
	if hasPrev {
		prevPtr = &prev
	}
	obs := e.observe(ctx, prevPtr)

	var treasury decimal.Decimal
	_ = e.store.Update(func(st *state.State) error {
		if hasPrev {
			newTransactions := decimal.NewFromInt(max(0, obs.height-prev.ChainHeight))
			revenue := newTransactions.Mul(e.averageFee()).Mul(prev.MarketPriceUSD)
			st.Treasury = st.Treasury.Add(revenue)
		}
		treasury = st.Treasury
		return nil
	})

	floor := decimal.Zero
	if e.config.TotalSupply.IsPositive() {
		floor = treasury.Div(e.config.TotalSupply)
	}

	multiplier := decimal.Zero
	if hasPrev {
		w := e.config.Weights
		multiplier = w.Tx.Mul(smoothed(growth(decimal.NewFromInt(obs.height), decimal.NewFromInt(prev.ChainHeight)))).
			Add(w.Worker.Mul(smoothed(growth(decimal.NewFromInt(int64(obs.workers)), decimal.NewFromInt(int64(prev.WorkerCount)))))).
			Add(w.Website.Mul(smoothed(growth(decimal.NewFromInt(int64(obs.websites)), decimal.NewFromInt(int64(prev.WebsiteCount))))))
	}

	snapshot := entity.EconSnapshot{
		Timestamp:          e.now(),
		WorkerCount:        obs.workers,
		WebsiteCount:       obs.websites,
		StakedBalance:      obs.staked,
		OpenEscrowTotal:    obs.escrow,
		ChainHeight:        obs.height,
		FloorPriceUSD:      floor,
		MarketPriceUSD:     floor.Mul(decimals.One.Add(multiplier)),
		ActivityMultiplier: multiplier,
		TreasuryValueUSD:   treasury,
	}

	e.mu.Lock()
	e.history = append(e.history, snapshot)
	history := append([]entity.EconSnapshot(nil), e.history...)
	e.mu.Unlock()

	metrics.RecordValuation(snapshot.TreasuryValueUSD, snapshot.FloorPriceUSD, snapshot.MarketPriceUSD)
	logger.InfoContext(ctx, "Valuation cycle done",
		slogx.String("treasury_usd", snapshot.TreasuryValueUSD.StringFixed(2)),
		slogx.String("floor_price_usd", snapshot.FloorPriceUSD.StringFixed(8)),
		slogx.String("market_price_usd", snapshot.MarketPriceUSD.StringFixed(8)),
	)

	if err := e.persist(ctx, history); err != nil {
		return snapshot, errors.WithStack(err)
	}
	return snapshot, nil
}

func (e *Engine) persist(ctx context.Context, history []entity.EconSnapshot) error {
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal econ history")
	}
	if e.config.HistoryFile != "" {
		if err := state.WriteFileAtomic(e.config.HistoryFile, data); err != nil {
			return errors.Wrap(err, "save econ history")
		}
	}

	var chart []byte
	if len(history) >= 2 {
		chart, err = RenderChart(history)
		if err != nil {
			return errors.Wrap(err, "render chart")
		}
		if e.config.ChartFile != "" {
			if err := state.WriteFileAtomic(e.config.ChartFile, chart); err != nil {
				return errors.Wrap(err, "save chart")
			}
		}
	}

	if e.publisher == nil {
		return nil
	}
	if err := e.publisher.Publish(ctx, "econ_history.json", "application/json", data); err != nil {
		return errors.Wrap(err, "publish econ history")
	}
	archive, err := EncodeArchive(history)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := e.publisher.Publish(ctx, "econ_history.parquet", "application/vnd.apache.parquet", archive); err != nil {
		return errors.Wrap(err, "publish econ archive")
	}
	if chart != nil {
		if err := e.publisher.Publish(ctx, "econ_chart.html", "text/html; charset=utf-8", chart); err != nil {
			return errors.Wrap(err, "publish chart")
		}
	}
	return nil
}

// LoadHistory reads the history file. A missing or malformed file leaves the history empty.
func (e *Engine) LoadHistory(ctx context.Context) {
	if e.config.HistoryFile == "" {
		return
	}
	ctx = logger.WithContext(ctx, slogx.String("file", e.config.HistoryFile))

	data, err := os.ReadFile(e.config.HistoryFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.ErrorContext(ctx, "Failed to read econ history", err)
		}
		return
	}
	var history []entity.EconSnapshot
	if err := json.Unmarshal(data, &history); err != nil {
		logger.ErrorContext(ctx, "Malformed econ history, starting empty", err)
		return
	}

	e.mu.Lock()
	e.history = history
	e.mu.Unlock()
	logger.InfoContext(ctx, "Loaded econ history", slogx.Int("points", len(history)))
}

// Latest returns the most recent snapshot.
func (e *Engine) Latest() (entity.EconSnapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.history) == 0 {
		return entity.EconSnapshot{}, false
	}
	return e.history[len(e.history)-1], true
}

type ChartData struct {
	Timestamps     []time.Time       `json:"timestamps"`
	MarketPrices   []decimal.Decimal `json:"market_prices"`
	FloorPrices    []decimal.Decimal `json:"floor_prices"`
	TreasuryValues []decimal.Decimal `json:"treasury_values"`
}

// ChartData returns the series of the last limit snapshots.
func (e *Engine) ChartData(limit int) ChartData {
	if limit <= 0 {
		limit = DefaultChartLimit
	}
	e.mu.RLock()
	points := e.history[max(0, len(e.history)-limit):]
	out := ChartData{
		Timestamps:     make([]time.Time, 0, len(points)),
		MarketPrices:   make([]decimal.Decimal, 0, len(points)),
		FloorPrices:    make([]decimal.Decimal, 0, len(points)),
		TreasuryValues: make([]decimal.Decimal, 0, len(points)),
	}
	for _, p := range points {
		out.Timestamps = append(out.Timestamps, p.Timestamp)
		out.MarketPrices = append(out.MarketPrices, p.MarketPriceUSD)
		out.FloorPrices = append(out.FloorPrices, p.FloorPriceUSD)
		out.TreasuryValues = append(out.TreasuryValues, p.TreasuryValueUSD)
	}
	e.mu.RUnlock()
	return out
}

func (e *Engine) Poller() *poller.Poller {
	return poller.New("valuation_engine", e.config.Interval, func(ctx context.Context) error {
		_, err := e.Cycle(ctx)
		return errors.WithStack(err)
	}).Immediately()
}
