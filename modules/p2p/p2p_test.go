package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/poybro/soknode/common/errs"
	"github.com/poybro/soknode/core/chain"
	"github.com/poybro/soknode/internal/entity"
	"github.com/poybro/soknode/internal/state"
	"github.com/poybro/soknode/pkg/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	mu         sync.Mutex
	publicKeys map[string]string
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

type fixture struct {
	store  *state.Store
	chain  *fakeChain
	seller *crypto.Wallet
	escrow *crypto.Wallet
	book   *Book
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	seller, err := crypto.Generate()
	require.NoError(t, err)
	escrow, err := crypto.Generate()
	require.NoError(t, err)

	f := &fixture{
		store:  state.New("", decimal.Zero),
		chain:  &fakeChain{publicKeys: map[string]string{seller.Address(): seller.PublicKey()}},
		seller: seller,
		escrow: escrow,
		now:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	var seq int
	f.book = New(f.store, f.chain, crypto.NewVerifier(), escrow, decimal.RequireFromString("0.5"),
		WithClock(func() time.Time {
			f.now = f.now.Add(time.Second)
			return f.now
		}),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("order-%d", seq)
		}),
	)
	return f
}

func (f *fixture) order(id string) entity.P2POrder {
	var o entity.P2POrder
	f.store.View(func(st *state.State) {
		o = *st.Orders[id]
	})
	return o
}

func (f *fixture) setStatus(id string, status entity.OrderStatus) {
	_ = f.store.Update(func(st *state.State) error {
		st.Orders[id].Status = status
		return nil
	})
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.book.Create(ctx, f.seller.Address(), decimal.NewFromInt(100), json.RawMessage(`{"bank":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, "order-1", res.Order.ID)
	assert.Equal(t, entity.OrderStatusAwaitingDeposit, res.Order.Status)
	assert.Equal(t, f.escrow.Address(), res.EscrowAddress)

	for _, amount := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-1)} {
		_, err = f.book.Create(ctx, f.seller.Address(), amount, nil)
		assert.ErrorIs(t, err, errs.InvalidArgument)
	}
	_, err = f.book.Create(ctx, " ", decimal.NewFromInt(1), nil)
	assert.ErrorIs(t, err, errs.InvalidArgument)
}

func TestMatchDepositExactAmount(t *testing.T) {
	f := newFixture(t)
	res, err := f.book.Create(context.Background(), f.seller.Address(), decimal.NewFromInt(100), nil)
	require.NoError(t, err)

	var ok bool
	_ = f.store.Update(func(st *state.State) error {
		_, ok = f.book.MatchDeposit(st, f.seller.Address(), decimal.RequireFromString("99.999"), "tx0")
		return nil
	})
	assert.False(t, ok)
	_ = f.store.Update(func(st *state.State) error {
		_, ok = f.book.MatchDeposit(st, "someone", decimal.NewFromInt(100), "tx0")
		return nil
	})
	assert.False(t, ok)

	var id string
	_ = f.store.Update(func(st *state.State) error {
		id, ok = f.book.MatchDeposit(st, f.seller.Address(), decimal.RequireFromString("100.00"), "tx1")
		return nil
	})
	require.True(t, ok)
	assert.Equal(t, res.Order.ID, id)
	o := f.order(id)
	assert.Equal(t, entity.OrderStatusOpen, o.Status)
	assert.Equal(t, "tx1", o.TxHashProof)
}

func TestAcceptPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.book.Create(ctx, f.seller.Address(), decimal.NewFromInt(10), nil)
	require.NoError(t, err)
	id := res.Order.ID

	_, err = f.book.Accept(ctx, "missing", "buyer")
	assert.ErrorIs(t, err, errs.NotFound)

	_, err = f.book.Accept(ctx, id, "buyer")
	assert.ErrorIs(t, err, errs.Conflict)
	assert.Equal(t, entity.OrderStatusAwaitingDeposit, f.order(id).Status)

	f.setStatus(id, entity.OrderStatusOpen)
	_, err = f.book.Accept(ctx, id, f.seller.Address())
	assert.ErrorIs(t, err, errs.Forbidden)
	assert.Empty(t, f.order(id).BuyerAddress)

	accepted, err := f.book.Accept(ctx, id, "buyer")
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusPendingPayment, accepted.Status)
	assert.Equal(t, "buyer", accepted.BuyerAddress)

	_, err = f.book.Accept(ctx, id, "buyer2")
	assert.ErrorIs(t, err, errs.Conflict)
	assert.Equal(t, "buyer", f.order(id).BuyerAddress)
}

func TestConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.book.Create(ctx, f.seller.Address(), decimal.NewFromInt(100), nil)
	require.NoError(t, err)
	id := res.Order.ID
	validSig := f.seller.Sign(ConfirmMessage(id))

	_, err = f.book.Confirm(ctx, id, f.seller.Address(), validSig)
	assert.ErrorIs(t, err, errs.Conflict, "not yet pending payment")

	f.setStatus(id, entity.OrderStatusOpen)
	_, err = f.book.Accept(ctx, id, "buyer")
	require.NoError(t, err)

	testCases := []struct {
		name   string
		id     string
		seller string
		sig    string
		kind   errs.ErrorKind
	}{
		{"unknown order", "missing", f.seller.Address(), validSig, errs.NotFound},
		{"wrong seller", id, "buyer", validSig, errs.Forbidden},
		{"wrong message", id, f.seller.Address(), f.seller.Sign(ConfirmMessage("other")), errs.Unauthorized},
		{"garbage signature", id, f.seller.Address(), "zz", errs.Unauthorized},
		{"missing signature", id, f.seller.Address(), "", errs.InvalidArgument},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.book.Confirm(ctx, tc.id, tc.seller, tc.sig)
			assert.ErrorIs(t, err, tc.kind)
			assert.Equal(t, entity.OrderStatusPendingPayment, f.order(id).Status)
		})
	}

	f.chain.reject = true
	_, err = f.book.Confirm(ctx, id, f.seller.Address(), validSig)
	assert.ErrorIs(t, err, errs.UpstreamRejected)
	assert.Equal(t, entity.OrderStatusPendingPayment, f.order(id).Status)

	f.chain.reject = false
	payout, err := f.book.Confirm(ctx, id, f.seller.Address(), validSig)
	require.NoError(t, err)
	assert.Equal(t, "99.5", payout.String())
	assert.Equal(t, entity.OrderStatusCompleted, f.order(id).Status)

	require.Len(t, f.chain.sent, 1)
	assert.Equal(t, "buyer", f.chain.sent[0].RecipientAddress)
	assert.Equal(t, f.escrow.Address(), f.chain.sent[0].SenderAddress)

	_, err = f.book.Confirm(ctx, id, f.seller.Address(), validSig)
	assert.ErrorIs(t, err, errs.Conflict)
	assert.Len(t, f.chain.sent, 1)
}

func TestConfirmConcurrentReleasesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.book.Create(ctx, f.seller.Address(), decimal.NewFromInt(100), nil)
	require.NoError(t, err)
	id := res.Order.ID
	f.setStatus(id, entity.OrderStatusOpen)
	_, err = f.book.Accept(ctx, id, "buyer")
	require.NoError(t, err)

	f.chain.delay = 100 * time.Millisecond
	sig := f.seller.Sign(ConfirmMessage(id))

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = f.book.Confirm(ctx, id, f.seller.Address(), sig)
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
	assert.Len(t, f.chain.sent, 1)
	assert.Equal(t, entity.OrderStatusCompleted, f.order(id).Status)
	assert.Empty(t, f.book.releasing)
}

func TestConfirmFailureReleasesReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.book.Create(ctx, f.seller.Address(), decimal.NewFromInt(10), nil)
	require.NoError(t, err)
	id := res.Order.ID
	f.setStatus(id, entity.OrderStatusOpen)
	_, err = f.book.Accept(ctx, id, "buyer")
	require.NoError(t, err)
	sig := f.seller.Sign(ConfirmMessage(id))

	_, err = f.book.Confirm(ctx, id, f.seller.Address(), "00")
	assert.ErrorIs(t, err, errs.Unauthorized)
	assert.Empty(t, f.book.releasing)

	f.chain.reject = true
	_, err = f.book.Confirm(ctx, id, f.seller.Address(), sig)
	assert.ErrorIs(t, err, errs.UpstreamRejected)
	assert.Empty(t, f.book.releasing)

	f.chain.reject = false
	_, err = f.book.Confirm(ctx, id, f.seller.Address(), sig)
	require.NoError(t, err)
	assert.Len(t, f.chain.sent, 1)
}

func TestListings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		res, err := f.book.Create(ctx, f.seller.Address(), decimal.NewFromInt(int64(10*(i+1))), nil)
		require.NoError(t, err)
		ids = append(ids, res.Order.ID)
	}
	f.setStatus(ids[0], entity.OrderStatusOpen)
	f.setStatus(ids[2], entity.OrderStatusOpen)
	_, err := f.book.Accept(ctx, ids[2], "buyer")
	require.NoError(t, err)

	open := f.book.ListOpen()
	require.Len(t, open, 1)
	assert.Equal(t, ids[0], open[0].ID)

	mine := f.book.ListMine(f.seller.Address())
	require.Len(t, mine, 3)
	assert.Equal(t, ids[2], mine[0].ID)
	assert.Equal(t, ids[0], mine[2].ID)

	bought := f.book.ListMine("buyer")
	require.Len(t, bought, 1)
	assert.Empty(t, f.book.ListMine(""))

	count, escrow := f.book.OpenSummary()
	assert.Equal(t, 1, count)
	assert.Equal(t, "10", escrow.String())
}
