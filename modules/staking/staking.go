package staking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/poybro/soknode/common/errs"
	"github.com/poybro/soknode/core/chain"
	"github.com/poybro/soknode/internal/entity"
	"github.com/poybro/soknode/internal/poller"
	"github.com/poybro/soknode/internal/state"
	"github.com/poybro/soknode/pkg/decimals"
	"github.com/poybro/soknode/pkg/logger"
	"github.com/poybro/soknode/pkg/logger/slogx"
	"github.com/shopspring/decimal"
)

const (
	DefaultTickInterval = time.Hour

	secondsPerYear = 365 * 24 * 60 * 60
)

// ClaimMessage is the message a staker signs to withdraw a stake.
func ClaimMessage(address string) string {
	return "claim_stake_" + address
}

type Chain interface {
	RecoverPublicKey(ctx context.Context, address string) (string, error)
	BroadcastTransaction(ctx context.Context, tx any) error
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)
}

type SignatureVerifier interface {
	Verify(pubKeyHex, message, sigHex string) (bool, error)
}

type Config struct {
	// APR is the annual rate in percent.
	APR          decimal.Decimal
	TickInterval time.Duration
}

// Ledger accrues simple interest on stakes deposited to the pool wallet and
// pays principal plus interest back on claim.
type Ledger struct {
	store    *state.Store
	chain    Chain
	verifier SignatureVerifier
	pool     chain.Signer

	// claiming holds stakers whose claim payout is in flight. Guarded by the store lock.
	claiming map[string]struct{}

	apr           decimal.Decimal
	ratePerSecond decimal.Decimal
	interval      time.Duration
	now           func() time.Time
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

func New(store *state.Store, chainBridge Chain, verifier SignatureVerifier, pool chain.Signer, conf Config, opts ...Option) *Ledger {
	if conf.TickInterval <= 0 {
		conf.TickInterval = DefaultTickInterval
	}
	l := &Ledger{
		store:         store,
		chain:         chainBridge,
		verifier:      verifier,
		pool:          pool,
		claiming:      make(map[string]struct{}),
		apr:           conf.APR,
		ratePerSecond: decimals.Percent(conf.APR).Div(decimal.NewFromInt(secondsPerYear)),
		interval:      conf.TickInterval,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// PoolAddress is where stakes are deposited.
func (l *Ledger) PoolAddress() string {
	return l.pool.Address()
}

// accrued is the interest earned by record between its last update and now.
func (l *Ledger) accrued(record *entity.StakingRecord, now time.Time) decimal.Decimal {
	elapsed := now.Sub(record.LastUpdate)
	if elapsed <= 0 {
		return decimal.Zero
	}
	seconds := decimal.New(elapsed.Microseconds(), -6)
	return record.Principal.Mul(l.ratePerSecond).Mul(seconds)
}

// ApplyDeposit folds pending interest and adds amount to the stake of address.
// It must be called inside a Store.Update closure.
func (l *Ledger) ApplyDeposit(st *state.State, address string, amount decimal.Decimal) {
	now := l.now()
	record, ok := st.StakingRecords[address]
	if !ok {
		st.StakingRecords[address] = &entity.StakingRecord{
			Principal:  amount,
			Reward:     decimal.Zero,
			LastUpdate: now,
		}
		return
	}
	record.Reward = record.Reward.Add(l.accrued(record, now))
	record.Principal = record.Principal.Add(amount)
	record.LastUpdate = now
}

// Tick folds accrued interest into every record.
func (l *Ledger) Tick(ctx context.Context) error {
	now := l.now()
	var n int
	_ = l.store.Update(func(st *state.State) error {
		for _, record := range st.StakingRecords {
			record.Reward = record.Reward.Add(l.accrued(record, now))
			record.LastUpdate = now
		}
		n = len(st.StakingRecords)
		return nil
	})
	if n > 0 {
		logger.InfoContext(ctx, "Staking interest accrued", slogx.Int("records", n))
	}
	return nil
}

func (l *Ledger) Poller() *poller.Poller {
	return poller.New("staking_ledger", l.interval, l.Tick)
}

type Record struct {
	Principal decimal.Decimal `json:"principal"`
	Reward    decimal.Decimal `json:"reward"`
}

// Record returns the stake of address with interest up to now, without
// changing stored state. Unknown addresses return zeros.
func (l *Ledger) Record(address string) Record {
	now := l.now()
	out := Record{Principal: decimal.Zero, Reward: decimal.Zero}
	l.store.View(func(st *state.State) {
		record, ok := st.StakingRecords[address]
		if !ok {
			return
		}
		out.Principal = record.Principal
		out.Reward = record.Reward.Add(l.accrued(record, now))
	})
	return out
}

type Info struct {
	APR         decimal.Decimal `json:"apr"`
	PoolAddress string          `json:"staking_pool_address"`
	TotalStaked decimal.Decimal `json:"total_staked"`
}

// Info reports the pool balance on chain. An unreachable chain reports zero.
func (l *Ledger) Info(ctx context.Context) Info {
	info := Info{
		APR:         l.apr,
		PoolAddress: l.pool.Address(),
		TotalStaked: decimal.Zero,
	}
	balance, err := l.chain.GetBalance(ctx, info.PoolAddress)
	if err != nil {
		logger.WarnContext(ctx, "Failed to read staking pool balance", slogx.Error(err))
		return info
	}
	info.TotalStaked = balance
	return info
}

// StakerCount returns the number of staking records.
func (l *Ledger) StakerCount() int {
	var n int
	l.store.View(func(st *state.State) {
		n = len(st.StakingRecords)
	})
	return n
}

// Claim pays the whole stake of address with interest to now and removes the record.
func (l *Ledger) Claim(ctx context.Context, address, signature string) (decimal.Decimal, error) {
	if address == "" || signature == "" {
		return decimal.Zero, errs.NewPublicError(errs.InvalidArgument, "address and signature are required")
	}
	ctx = logger.WithContext(ctx, slogx.String("staker", address))

	now := l.now()
	var (
		principal decimal.Decimal
		total     decimal.Decimal
	)
	err := l.store.Update(func(st *state.State) error {
		record, ok := st.StakingRecords[address]
		if !ok {
			return errs.NewPublicError(errs.NotFound, "no stake found")
		}
		if _, busy := l.claiming[address]; busy {
			return errs.NewPublicError(errs.Conflict, "claim already in progress")
		}
		l.claiming[address] = struct{}{}
		principal = record.Principal
		total = record.Principal.Add(record.Reward).Add(l.accrued(record, now))
		return nil
	})
	if err != nil {
		return decimal.Zero, errors.WithStack(err)
	}
	defer func() {
		_ = l.store.Update(func(*state.State) error {
			delete(l.claiming, address)
			return nil
		})
	}()

	pubKey, err := l.chain.RecoverPublicKey(ctx, address)
	if err != nil {
		return decimal.Zero, errs.WithPublicMessage(err, "public key unavailable")
	}
	ok, err := l.verifier.Verify(pubKey, ClaimMessage(address), signature)
	if err != nil || !ok {
		return decimal.Zero, errs.NewPublicError(errs.Unauthorized, "invalid signature")
	}

	tx, err := chain.NewSignedTransaction(l.pool, address, total, now)
	if err != nil {
		return decimal.Zero, errors.WithStack(err)
	}
	if err := l.chain.BroadcastTransaction(ctx, tx); err != nil {
		return decimal.Zero, errs.WithPublicMessage(err, "failed to send claim transaction")
	}

	_ = l.store.Update(func(st *state.State) error {
		record, ok := st.StakingRecords[address]
		if !ok {
			return nil
		}
		// a deposit folded in while the claim was in flight stays staked
		if extra := record.Principal.Sub(principal); extra.IsPositive() {
			record.Principal = extra
			record.Reward = decimal.Zero
			record.LastUpdate = now
			return nil
		}
		delete(st.StakingRecords, address)
		return nil
	})
	logger.InfoContext(ctx, "Stake claimed", slogx.Decimal("amount", total), slogx.String("tx_hash", tx.TxHash))
	return total, nil
}
