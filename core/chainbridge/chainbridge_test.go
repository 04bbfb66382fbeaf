package chainbridge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/poybro/soknode/common/errs"
	"github.com/poybro/soknode/core/chain"
	"github.com/poybro/soknode/internal/state"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSelector struct {
	mu       sync.Mutex
	endpoint string
	cleared  int
}

func (f *fakeSelector) Current() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endpoint, f.endpoint != ""
}

func (f *fakeSelector) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endpoint = ""
	f.cleared++
}

func block(index int64, txs ...chain.Transaction) chain.Block {
	return chain.Block{Index: index, Transactions: txs}
}

func newChainServer(t *testing.T, blocks []chain.Block, broadcastStatus int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var broadcasts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/chain/stats":
			_ = json.NewEncoder(w).Encode(chain.Stats{BlockHeight: int64(len(blocks))})
		case "/chain":
			start, _ := strconv.Atoi(r.URL.Query().Get("start"))
			if start > len(blocks) {
				start = len(blocks)
			}
			_ = json.NewEncoder(w).Encode(chain.ChainResponse{Length: int64(len(blocks)), Chain: blocks[start:]})
		case "/balance/addr1":
			_, _ = w.Write([]byte(`{"address":"addr1","balance":12.5}`))
		case "/transactions/new":
			broadcasts.Add(1)
			_, _ = io.ReadAll(r.Body)
			w.WriteHeader(broadcastStatus)
			_, _ = w.Write([]byte(`{"message":"ok"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &broadcasts
}

func TestNoEndpoint(t *testing.T) {
	b := New(&fakeSelector{}, state.New("", decimal.Zero), 0)

	_, err := b.GetBalance(context.Background(), "addr1")
	assert.ErrorIs(t, err, errs.UpstreamUnavailable)

	err = b.BroadcastTransaction(context.Background(), chain.Transaction{})
	assert.ErrorIs(t, err, errs.UpstreamUnavailable)
}

func TestGetBalance(t *testing.T) {
	srv, _ := newChainServer(t, nil, http.StatusCreated)
	b := New(&fakeSelector{endpoint: srv.URL}, state.New("", decimal.Zero), 0)

	balance, err := b.GetBalance(context.Background(), "addr1")
	require.NoError(t, err)
	assert.Equal(t, "12.5", balance.String())
}

func TestNetworkFailureClearsSelection(t *testing.T) {
	sel := &fakeSelector{endpoint: "http://127.0.0.1:1"}
	b := New(sel, state.New("", decimal.Zero), 0)

	_, err := b.GetChain(context.Background())
	assert.ErrorIs(t, err, errs.UpstreamUnavailable)
	assert.Equal(t, 1, sel.cleared)
	_, ok := sel.Current()
	assert.False(t, ok)
}

func TestBroadcast(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		srv, broadcasts := newChainServer(t, nil, http.StatusCreated)
		b := New(&fakeSelector{endpoint: srv.URL}, state.New("", decimal.Zero), 0)
		require.NoError(t, b.BroadcastTransaction(context.Background(), chain.Transaction{Amount: decimal.NewFromInt(1)}))
		assert.Equal(t, int32(1), broadcasts.Load())
	})
	t.Run("rejected", func(t *testing.T) {
		srv, _ := newChainServer(t, nil, http.StatusBadRequest)
		sel := &fakeSelector{endpoint: srv.URL}
		b := New(sel, state.New("", decimal.Zero), 0)
		err := b.BroadcastTransaction(context.Background(), chain.Transaction{})
		assert.ErrorIs(t, err, errs.UpstreamRejected)
		assert.Zero(t, sel.cleared, "a rejection is not a network failure")
	})
}

func TestRecoverPublicKey(t *testing.T) {
	blocks := []chain.Block{
		block(0, chain.Transaction{SenderAddress: "0", RecipientAddress: "alice"}),
		block(1, chain.Transaction{SenderAddress: "alice", SenderPublicKey: "old-key"}),
		block(2, chain.Transaction{SenderAddress: "bob", SenderPublicKey: "bob-key"}),
		block(3, chain.Transaction{SenderAddress: "alice", SenderPublicKey: "new-key"}, chain.Transaction{SenderAddress: "carol", SenderPublicKey: "carol-key"}),
	}
	srv, _ := newChainServer(t, blocks, http.StatusCreated)
	store := state.New("", decimal.Zero)

	t.Run("newest_first", func(t *testing.T) {
		b := New(&fakeSelector{endpoint: srv.URL}, store, 0)
		key, err := b.RecoverPublicKey(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, "new-key", key)

		store.View(func(st *state.State) {
			assert.Equal(t, "new-key", st.PublicKeys["alice"])
		})
	})

	t.Run("cache_hit_without_endpoint", func(t *testing.T) {
		b := New(&fakeSelector{}, store, 0)
		key, err := b.RecoverPublicKey(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, "new-key", key)
	})

	t.Run("outside_window", func(t *testing.T) {
		b := New(&fakeSelector{endpoint: srv.URL}, store, 1)
		_, err := b.RecoverPublicKey(context.Background(), "bob")
		assert.ErrorIs(t, err, errs.NotFound)
	})

	t.Run("unknown", func(t *testing.T) {
		b := New(&fakeSelector{endpoint: srv.URL}, store, 0)
		_, err := b.RecoverPublicKey(context.Background(), "dave")
		assert.ErrorIs(t, err, errs.NotFound)
	})
}
