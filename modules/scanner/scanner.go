package scanner

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/poybro/soknode/common/errs"
	"github.com/poybro/soknode/core/chain"
	"github.com/poybro/soknode/internal/metrics"
	"github.com/poybro/soknode/internal/poller"
	"github.com/poybro/soknode/internal/state"
	"github.com/poybro/soknode/pkg/logger"
	"github.com/poybro/soknode/pkg/logger/slogx"
	"github.com/shopspring/decimal"
)

const DefaultInterval = time.Minute

// Deposit kinds reported to metrics.
const (
	KindStake   = "stake"
	KindEscrow  = "p2p_escrow"
	KindFunding = "website_funding"
	KindIgnored = "ignored"
)

type ChainReader interface {
	Available() bool
	GetChain(ctx context.Context) (chain.ChainResponse, error)
}

type StakeLedger interface {
	PoolAddress() string
	ApplyDeposit(st *state.State, address string, amount decimal.Decimal)
}

type EscrowBook interface {
	EscrowAddress() string
	MatchDeposit(st *state.State, sender string, amount decimal.Decimal, txHash string) (string, bool)
}

type ViewFunder interface {
	CreditViews(st *state.State, owner string, amount decimal.Decimal) (string, decimal.Decimal, bool)
}

type Config struct {
	Interval       time.Duration
	MinimumFunding decimal.Decimal
}

// Scanner reads new blocks and routes transfers into the staking pool, the
// escrow order book or website funding.
type Scanner struct {
	store   *state.Store
	chain   ChainReader
	staking StakeLedger
	escrow  EscrowBook
	funder  ViewFunder
	config  Config
}

func New(store *state.Store, chainReader ChainReader, staking StakeLedger, escrow EscrowBook, funder ViewFunder, conf Config) *Scanner {
	if conf.Interval <= 0 {
		conf.Interval = DefaultInterval
	}
	return &Scanner{
		store:   store,
		chain:   chainReader,
		staking: staking,
		escrow:  escrow,
		funder:  funder,
		config:  conf,
	}
}

type classified struct {
	kind   string
	sender string
	amount decimal.Decimal
	detail string
}

// ScanOnce processes every block above the scan cursor and returns how many
// blocks it processed. Blocks at or below the cursor are never processed again.
func (s *Scanner) ScanOnce(ctx context.Context) (int, error) {
	if !s.chain.Available() {
		return 0, errors.Wrap(errs.UpstreamUnavailable, "no chain node endpoint selected")
	}
	resp, err := s.chain.GetChain(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "fetch chain")
	}

	stakingPool := s.staking.PoolAddress()
	escrowAddress := s.escrow.EscrowAddress()

	var (
		processed int
		cursor    int64
		events    []classified
		skipped   []chain.MalformedBlock
	)
	_ = s.store.Update(func(st *state.State) error {
		last := st.LastScannedBlock
		cursor = last
		for _, block := range resp.Chain {
			if block.Index <= last {
				continue
			}
			processed++
			cursor = max(cursor, block.Index)

			for _, tx := range block.Transactions {
				if tx.IsCoinbase() {
					continue
				}
				st.CachePublicKey(tx.SenderAddress, tx.SenderPublicKey)

				switch tx.RecipientAddress {
				case stakingPool:
					s.staking.ApplyDeposit(st, tx.SenderAddress, tx.Amount)
					events = append(events, classified{kind: KindStake, sender: tx.SenderAddress, amount: tx.Amount})
				case escrowAddress:
					if id, ok := s.escrow.MatchDeposit(st, tx.SenderAddress, tx.Amount, tx.TxHash); ok {
						events = append(events, classified{kind: KindEscrow, sender: tx.SenderAddress, amount: tx.Amount, detail: id})
						continue
					}
					if tx.Amount.LessThan(s.config.MinimumFunding) {
						events = append(events, classified{kind: KindIgnored, sender: tx.SenderAddress, amount: tx.Amount})
						continue
					}
					url, views, ok := s.funder.CreditViews(st, tx.SenderAddress, tx.Amount)
					if !ok {
						events = append(events, classified{kind: KindIgnored, sender: tx.SenderAddress, amount: tx.Amount, detail: "no website awaiting funding"})
						continue
					}
					events = append(events, classified{kind: KindFunding, sender: tx.SenderAddress, amount: tx.Amount, detail: url + " +" + views.String() + " views"})
				}
			}
		}
		for _, bad := range resp.Malformed {
			switch {
			case bad.Index < 0:
				skipped = append(skipped, bad)
			case bad.Index > last:
				skipped = append(skipped, bad)
				cursor = max(cursor, bad.Index)
			}
		}
		st.LastScannedBlock = cursor
		return nil
	})

	for _, bad := range skipped {
		logger.ErrorContext(ctx, "Skipped block the chain node served malformed", bad.Err, slogx.Int64("index", bad.Index))
	}

	for _, e := range events {
		metrics.RecordDeposit(e.kind)
		logger.InfoContext(ctx, "Deposit observed",
			slogx.String("kind", e.kind),
			slogx.String("sender", e.sender),
			slogx.Decimal("amount", e.amount),
			slogx.String("detail", e.detail),
		)
	}
	if processed > 0 {
		metrics.RecordBlocksScanned(processed)
		logger.DebugContext(ctx, "Scanned blocks", slogx.Int("blocks", processed), slogx.Int64("cursor", cursor))
	}
	return processed, nil
}

func (s *Scanner) Poller() *poller.Poller {
	return poller.New("deposit_scanner", s.config.Interval, func(ctx context.Context) error {
		_, err := s.ScanOnce(ctx)
		if errors.Is(err, errs.UpstreamUnavailable) {
			logger.WarnContext(ctx, "Deposit scan skipped, chain node unavailable", slogx.Error(err))
			return nil
		}
		return errors.WithStack(err)
	}).Immediately()
}
