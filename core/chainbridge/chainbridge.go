package chainbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/poybro/soknode/common/errs"
	"github.com/poybro/soknode/core/chain"
	"github.com/poybro/soknode/internal/metrics"
	"github.com/poybro/soknode/internal/state"
	"github.com/poybro/soknode/pkg/httpclient"
	"github.com/poybro/soknode/pkg/logger"
	"github.com/poybro/soknode/pkg/logger/slogx"
	"github.com/shopspring/decimal"
)

const (
	BalanceTimeout   = 5 * time.Second
	ChainTimeout     = 20 * time.Second
	StatsTimeout     = 3 * time.Second
	BroadcastTimeout = 10 * time.Second

	// DefaultRecoveryWindow is how many recent blocks RecoverPublicKey scans.
	DefaultRecoveryWindow = 500
)

// EndpointSelector supplies the chain node endpoint to talk to.
type EndpointSelector interface {
	Current() (string, bool)
	Clear()
}

// Bridge wraps the chain node HTTP API around the selected endpoint.
// A network failure clears the selection.
type Bridge struct {
	selector       EndpointSelector
	store          *state.Store
	recoveryWindow int64
}

func New(selector EndpointSelector, store *state.Store, recoveryWindow int) *Bridge {
	if recoveryWindow <= 0 {
		recoveryWindow = DefaultRecoveryWindow
	}
	return &Bridge{
		selector:       selector,
		store:          store,
		recoveryWindow: int64(recoveryWindow),
	}
}

// Available reports whether a chain node endpoint is currently selected.
func (b *Bridge) Available() bool {
	_, ok := b.selector.Current()
	return ok
}

func (b *Bridge) client() (*httpclient.Client, error) {
	endpoint, ok := b.selector.Current()
	if !ok {
		return nil, errors.Wrap(errs.UpstreamUnavailable, "no chain node endpoint selected")
	}
	client, err := httpclient.New(endpoint)
	if err != nil {
		return nil, errors.Wrap(errs.UpstreamUnavailable, err.Error())
	}
	return client, nil
}

func (b *Bridge) get(ctx context.Context, method, path string, query url.Values, timeout time.Duration, out any) error {
	client, err := b.client()
	if err != nil {
		return errors.WithStack(err)
	}

	start := time.Now()
	resp, err := client.Get(ctx, path, httpclient.RequestOptions{Query: query, Timeout: timeout})
	metrics.RecordChainRequest(time.Since(start), method, err != nil)
	if err != nil {
		b.selector.Clear()
		logger.WarnContext(ctx, "Chain node request failed, clearing endpoint", slogx.String("path", path), slogx.Error(err))
		return errors.Mark(errors.Wrapf(err, "chain node %s", path), errs.UpstreamUnavailable)
	}
	if resp.StatusCode() != http.StatusOK {
		return errors.Wrapf(errs.UpstreamRejected, "chain node %s answered %d: %s", path, resp.StatusCode(), string(resp.Body()))
	}
	if err := resp.UnmarshalBody(out); err != nil {
		return errors.Mark(errors.WithStack(err), errs.UpstreamRejected)
	}
	return nil
}

func (b *Bridge) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	var balance chain.Balance
	if err := b.get(ctx, "balance", "/balance/"+url.PathEscape(address), nil, BalanceTimeout, &balance); err != nil {
		return decimal.Zero, errors.WithStack(err)
	}
	return balance.Balance, nil
}

// GetBalanceRaw returns the chain node balance document unchanged.
func (b *Bridge) GetBalanceRaw(ctx context.Context, address string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := b.get(ctx, "balance", "/balance/"+url.PathEscape(address), nil, BalanceTimeout, &raw); err != nil {
		return nil, errors.WithStack(err)
	}
	return raw, nil
}

func (b *Bridge) GetChain(ctx context.Context) (chain.ChainResponse, error) {
	var resp chain.ChainResponse
	if err := b.get(ctx, "chain", "/chain", nil, ChainTimeout, &resp); err != nil {
		return chain.ChainResponse{}, errors.WithStack(err)
	}
	return resp, nil
}

// GetChainFrom fetches blocks starting at index start.
func (b *Bridge) GetChainFrom(ctx context.Context, start int64) (chain.ChainResponse, error) {
	var resp chain.ChainResponse
	query := url.Values{"start": []string{strconv.FormatInt(start, 10)}}
	if err := b.get(ctx, "chain_from", "/chain", query, ChainTimeout, &resp); err != nil {
		return chain.ChainResponse{}, errors.WithStack(err)
	}
	return resp, nil
}

func (b *Bridge) GetStats(ctx context.Context) (chain.Stats, error) {
	var stats chain.Stats
	if err := b.get(ctx, "stats", "/chain/stats", nil, StatsTimeout, &stats); err != nil {
		return chain.Stats{}, errors.WithStack(err)
	}
	return stats, nil
}

// GetHeight reads the chain height from stats, falling back to the chain length.
func (b *Bridge) GetHeight(ctx context.Context) (int64, error) {
	stats, err := b.GetStats(ctx)
	if err == nil {
		return stats.BlockHeight, nil
	}
	if !errors.Is(err, errs.UpstreamRejected) {
		return 0, errors.WithStack(err)
	}
	full, err := b.GetChain(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return full.Length, nil
}

// BroadcastTransaction posts tx to the chain node. Only 201 Created counts as accepted.
func (b *Bridge) BroadcastTransaction(ctx context.Context, tx any) error {
	client, err := b.client()
	if err != nil {
		return errors.WithStack(err)
	}
	body, err := json.Marshal(tx)
	if err != nil {
		return errors.Wrap(err, "marshal transaction")
	}

	start := time.Now()
	resp, err := client.Post(ctx, "/transactions/new", httpclient.RequestOptions{Body: body, Timeout: BroadcastTimeout})
	metrics.RecordChainRequest(time.Since(start), "broadcast", err != nil)
	if err != nil {
		b.selector.Clear()
		logger.WarnContext(ctx, "Broadcast failed, clearing endpoint", slogx.Error(err))
		return errors.Mark(errors.Wrap(err, "broadcast transaction"), errs.UpstreamUnavailable)
	}
	if resp.StatusCode() != http.StatusCreated {
		return errors.Wrapf(errs.UpstreamRejected, "chain node rejected transaction (%d): %s", resp.StatusCode(), string(resp.Body()))
	}
	return nil
}

// RecoverPublicKey returns the public key address last signed with, looking in
// the cache first and then in the most recent blocks.
func (b *Bridge) RecoverPublicKey(ctx context.Context, address string) (string, error) {
	var cached string
	b.store.View(func(st *state.State) {
		cached = st.PublicKeys[address]
	})
	if cached != "" {
		return cached, nil
	}

	logger.InfoContext(ctx, "Public key not cached, scanning recent blocks", slogx.String("address", address))

	height, err := b.GetHeight(ctx)
	if err != nil {
		return "", errors.WithStack(err)
	}
	recent, err := b.GetChainFrom(ctx, max(0, height-b.recoveryWindow))
	if err != nil {
		return "", errors.WithStack(err)
	}

	for i := len(recent.Chain) - 1; i >= 0; i-- {
		txs := recent.Chain[i].Transactions
		for j := len(txs) - 1; j >= 0; j-- {
			tx := txs[j]
			if tx.SenderAddress != address || tx.SenderPublicKey == "" {
				continue
			}
			_ = b.store.Update(func(st *state.State) error {
				st.CachePublicKey(address, tx.SenderPublicKey)
				return nil
			})
			return tx.SenderPublicKey, nil
		}
	}
	return "", errors.Wrapf(errs.NotFound, "public key unavailable for %s", address)
}
