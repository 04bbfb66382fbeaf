package staking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/poybro/soknode/common/errs"
	"github.com/poybro/soknode/core/chain"
	"github.com/poybro/soknode/internal/state"
	"github.com/poybro/soknode/pkg/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	mu         sync.Mutex
	publicKeys map[string]string
	balance    decimal.Decimal
	balanceErr error
	reject     bool
	delay      time.Duration
	sent       []chain.Transaction
}

func (f *fakeChain) RecoverPublicKey(_ context.Context, address string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pk, ok := f.publicKeys[address]; ok {
		return pk, nil
	}
	return "", errors.Wrap(errs.NotFound, "public key unavailable")
}

func (f *fakeChain) BroadcastTransaction(_ context.Context, tx any) error {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return errors.Wrap(errs.UpstreamRejected, "rejected")
	}
	f.sent = append(f.sent, tx.(chain.Transaction))
	return nil
}

func (f *fakeChain) GetBalance(context.Context, string) (decimal.Decimal, error) {
	return f.balance, f.balanceErr
}

type fixture struct {
	now    time.Time
	store  *state.Store
	chain  *fakeChain
	staker *crypto.Wallet
	pool   *crypto.Wallet
	ledger *Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	staker, err := crypto.Generate()
	require.NoError(t, err)
	pool, err := crypto.Generate()
	require.NoError(t, err)

	f := &fixture{
		now:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		store:  state.New("", decimal.Zero),
		chain:  &fakeChain{publicKeys: map[string]string{staker.Address(): staker.PublicKey()}},
		staker: staker,
		pool:   pool,
	}
	f.ledger = New(f.store, f.chain, crypto.NewVerifier(), pool, Config{APR: decimal.NewFromInt(15)},
		WithClock(func() time.Time { return f.now }),
	)
	return f
}

func (f *fixture) deposit(address string, amount decimal.Decimal) {
	_ = f.store.Update(func(st *state.State) error {
		f.ledger.ApplyDeposit(st, address, amount)
		return nil
	})
}

func TestInterestAccrual(t *testing.T) {
	f := newFixture(t)
	principal := decimal.NewFromInt(1000)
	f.deposit(f.staker.Address(), principal)

	f.now = f.now.Add(24 * time.Hour)
	dayInterest := principal.Mul(f.ledger.ratePerSecond).Mul(decimal.NewFromInt(86400))
	assert.Equal(t, "0.41095890", dayInterest.StringFixed(8))

	record := f.ledger.Record(f.staker.Address())
	assert.True(t, record.Principal.Equal(principal))
	assert.True(t, record.Reward.Equal(dayInterest))

	// Record does not fold interest
	f.store.View(func(st *state.State) {
		assert.True(t, st.StakingRecords[f.staker.Address()].Reward.IsZero())
	})

	require.NoError(t, f.ledger.Tick(context.Background()))
	f.store.View(func(st *state.State) {
		r := st.StakingRecords[f.staker.Address()]
		assert.True(t, r.Reward.Equal(dayInterest))
		assert.Equal(t, f.now, r.LastUpdate)
	})

	// second deposit folds pending interest first
	f.now = f.now.Add(24 * time.Hour)
	f.deposit(f.staker.Address(), decimal.NewFromInt(500))
	record = f.ledger.Record(f.staker.Address())
	assert.Equal(t, "1500", record.Principal.String())
	assert.True(t, record.Reward.Equal(dayInterest.Mul(decimal.NewFromInt(2))))

	unknown := f.ledger.Record("nobody")
	assert.Equal(t, "0", unknown.Principal.String())
	assert.Equal(t, "0", unknown.Reward.String())
}

func TestClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	addr := f.staker.Address()
	principal := decimal.NewFromInt(1000)
	f.deposit(addr, principal)
	f.now = f.now.Add(time.Hour)

	_, err := f.ledger.Claim(ctx, addr, f.staker.Sign("claim_stake_someone"))
	assert.ErrorIs(t, err, errs.Unauthorized)

	other, err := crypto.Generate()
	require.NoError(t, err)
	_, err = f.ledger.Claim(ctx, addr, other.Sign(ClaimMessage(addr)))
	assert.ErrorIs(t, err, errs.Unauthorized)

	f.chain.reject = true
	_, err = f.ledger.Claim(ctx, addr, f.staker.Sign(ClaimMessage(addr)))
	assert.ErrorIs(t, err, errs.UpstreamRejected)
	assert.Equal(t, 1, f.ledger.StakerCount(), "failed broadcast keeps the stake")

	f.chain.reject = false
	total, err := f.ledger.Claim(ctx, addr, f.staker.Sign(ClaimMessage(addr)))
	require.NoError(t, err)
	expected := principal.Add(principal.Mul(f.ledger.ratePerSecond).Mul(decimal.NewFromInt(3600)))
	assert.True(t, total.Equal(expected), "got %s want %s", total, expected)

	require.Len(t, f.chain.sent, 1)
	tx := f.chain.sent[0]
	assert.Equal(t, f.pool.Address(), tx.SenderAddress)
	assert.Equal(t, addr, tx.RecipientAddress)
	assert.True(t, tx.Amount.Equal(expected))

	assert.Zero(t, f.ledger.StakerCount())
	_, err = f.ledger.Claim(ctx, addr, f.staker.Sign(ClaimMessage(addr)))
	assert.ErrorIs(t, err, errs.NotFound)
}

func TestClaimConcurrentPaysOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	addr := f.staker.Address()
	f.deposit(addr, decimal.NewFromInt(1000))
	f.chain.delay = 100 * time.Millisecond
	sig := f.staker.Sign(ClaimMessage(addr))

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = f.ledger.Claim(ctx, addr, sig)
		}()
	}
	wg.Wait()

	var succeeded int
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, errs.Conflict)
	}
	assert.Equal(t, 1, succeeded)
	require.Len(t, f.chain.sent, 1)
	assert.Equal(t, "1000", f.chain.sent[0].Amount.String())
	assert.Zero(t, f.ledger.StakerCount())
	assert.Empty(t, f.ledger.claiming)
}

func TestClaimFailureReleasesReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	addr := f.staker.Address()
	f.deposit(addr, decimal.NewFromInt(5))

	_, err := f.ledger.Claim(ctx, addr, "00")
	assert.ErrorIs(t, err, errs.Unauthorized)
	assert.Empty(t, f.ledger.claiming)

	total, err := f.ledger.Claim(ctx, addr, f.staker.Sign(ClaimMessage(addr)))
	require.NoError(t, err)
	assert.Equal(t, "5", total.String())
}

func TestClaimWithoutPublicKey(t *testing.T) {
	f := newFixture(t)
	stranger, err := crypto.Generate()
	require.NoError(t, err)
	f.deposit(stranger.Address(), decimal.NewFromInt(1))

	_, err = f.ledger.Claim(context.Background(), stranger.Address(), stranger.Sign(ClaimMessage(stranger.Address())))
	assert.ErrorIs(t, err, errs.NotFound)
	assert.Equal(t, 1, f.ledger.StakerCount())
}

func TestInfo(t *testing.T) {
	f := newFixture(t)
	f.chain.balance = decimal.NewFromInt(42)

	info := f.ledger.Info(context.Background())
	assert.Equal(t, "15", info.APR.String())
	assert.Equal(t, f.pool.Address(), info.PoolAddress)
	assert.Equal(t, "42", info.TotalStaked.String())

	f.chain.balanceErr = errs.UpstreamUnavailable
	info = f.ledger.Info(context.Background())
	assert.True(t, info.TotalStaked.IsZero())
}
