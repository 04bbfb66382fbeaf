package rewards

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/poybro/soknode/core/chain"
	"github.com/poybro/soknode/internal/config"
	"github.com/poybro/soknode/internal/metrics"
	"github.com/poybro/soknode/internal/poller"
	"github.com/poybro/soknode/internal/rewardqueue"
	"github.com/poybro/soknode/internal/state"
	"github.com/poybro/soknode/pkg/logger"
	"github.com/poybro/soknode/pkg/logger/slogx"
	"github.com/shopspring/decimal"
)

const (
	DefaultBlockWait          = time.Second
	DefaultUnavailableBackoff = 10 * time.Second
	DefaultRejectedBackoff    = 5 * time.Second
	DefaultErrorBackoff       = 10 * time.Second
)

// Broadcaster sends signed transactions to the chain node.
type Broadcaster interface {
	Available() bool
	BroadcastTransaction(ctx context.Context, tx any) error
}

type Backoff struct {
	Unavailable time.Duration
	Rejected    time.Duration
	Error       time.Duration
}

// Dispatcher pays queued workers from the treasury wallet, one at a time.
// A worker paid within the cooldown is skipped and the attempt is dropped.
type Dispatcher struct {
	store       *state.Store
	queue       rewardqueue.Queue
	broadcaster Broadcaster
	treasury    chain.Signer

	amount    decimal.Decimal
	cooldown  time.Duration
	blockWait time.Duration
	backoff   Backoff
	now       func() time.Time
}

type DispatcherOption func(*Dispatcher)

func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

func WithBackoff(backoff Backoff) DispatcherOption {
	return func(d *Dispatcher) {
		d.backoff = backoff
	}
}

func NewDispatcher(store *state.Store, queue rewardqueue.Queue, broadcaster Broadcaster, treasury chain.Signer, economy config.EconomyConfig, blockWait time.Duration, opts ...DispatcherOption) *Dispatcher {
	if blockWait <= 0 {
		blockWait = DefaultBlockWait
	}
	d := &Dispatcher{
		store:       store,
		queue:       queue,
		broadcaster: broadcaster,
		treasury:    treasury,
		amount:      RewardAmount(economy),
		cooldown:    economy.PaymentCooldown,
		blockWait:   blockWait,
		backoff: Backoff{
			Unavailable: DefaultUnavailableBackoff,
			Rejected:    DefaultRejectedBackoff,
			Error:       DefaultErrorBackoff,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Amount is the reward paid per accepted view.
func (d *Dispatcher) Amount() decimal.Decimal {
	return d.amount
}

// Run consumes the queue until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	ctx = logger.WithContext(ctx, slogx.String("task", "reward_dispatcher"))
	logger.InfoContext(ctx, "Starting reward dispatcher", slogx.Decimal("amount", d.amount))

	for {
		if ctx.Err() != nil {
			logger.InfoContext(ctx, "Reward dispatcher stopped")
			return nil
		}

		address, ok, err := d.queue.Dequeue(ctx, d.blockWait)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.ErrorContext(ctx, "Failed to dequeue reward", err)
			sleep(ctx, d.backoff.Error)
			continue
		}
		if !ok {
			continue
		}

		var wait time.Duration
		if err := poller.Safe(ctx, func(ctx context.Context) error {
			wait = d.Process(ctx, address)
			return nil
		}); err != nil {
			d.requeue(ctx, address)
			wait = d.backoff.Error
		}
		sleep(ctx, wait)
	}
}

// Process makes one payment attempt for address and returns how long the
// caller should wait before the next attempt.
func (d *Dispatcher) Process(ctx context.Context, address string) time.Duration {
	ctx = logger.WithContext(ctx, slogx.String("worker", address))
	now := d.now()

	var (
		lastPaid time.Time
		paid     bool
	)
	d.store.View(func(st *state.State) {
		lastPaid, paid = st.LastRewardTimes[address]
	})
	if paid && now.Sub(lastPaid) < d.cooldown {
		logger.DebugContext(ctx, "Worker paid within cooldown, dropping reward", slogx.Duration("since_last_payment", now.Sub(lastPaid)))
		metrics.RecordRewardDroppedCooldown()
		return 0
	}

	if !d.broadcaster.Available() {
		d.requeue(ctx, address)
		return d.backoff.Unavailable
	}

	tx, err := chain.NewSignedTransaction(d.treasury, address, d.amount, now)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to build reward transaction", err)
		d.requeue(ctx, address)
		return d.backoff.Error
	}
	if err := d.broadcaster.BroadcastTransaction(ctx, tx); err != nil {
		logger.WarnContext(ctx, "Reward broadcast failed, requeued", slogx.Error(err))
		d.requeue(ctx, address)
		return d.backoff.Rejected
	}

	_ = d.store.Update(func(st *state.State) error {
		st.LastRewardTimes[address] = now
		return nil
	})
	metrics.RecordRewardPaid()
	logger.InfoContext(ctx, "Reward sent", slogx.Decimal("amount", d.amount), slogx.String("tx_hash", tx.TxHash))
	return 0
}

func (d *Dispatcher) requeue(ctx context.Context, address string) {
	metrics.RecordRewardRequeued()
	// the loop may be stopping, keep the address anyway
	if err := d.queue.Enqueue(context.WithoutCancel(ctx), address); err != nil {
		logger.ErrorContext(ctx, "Failed to requeue reward, reward lost", errors.WithStack(err))
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
