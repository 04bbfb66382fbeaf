package p2p

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/poybro/soknode/common/errs"
	"github.com/poybro/soknode/core/chain"
	"github.com/poybro/soknode/internal/entity"
	"github.com/poybro/soknode/internal/state"
	"github.com/poybro/soknode/pkg/decimals"
	"github.com/poybro/soknode/pkg/logger"
	"github.com/poybro/soknode/pkg/logger/slogx"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// ConfirmMessage is the message a seller signs to release the escrow of orderID.
func ConfirmMessage(orderID string) string {
	return "confirm_p2p_" + orderID
}

type Chain interface {
	RecoverPublicKey(ctx context.Context, address string) (string, error)
	BroadcastTransaction(ctx context.Context, tx any) error
}

type SignatureVerifier interface {
	Verify(pubKeyHex, message, sigHex string) (bool, error)
}

// Book is the escrow order book. Sellers fund the escrow wallet, buyers pay in
// fiat off chain and the seller's signed confirmation releases the tokens.
type Book struct {
	store    *state.Store
	chain    Chain
	verifier SignatureVerifier
	escrow   chain.Signer
	feePct   decimal.Decimal

	// releasing holds orders whose release transaction is in flight. Guarded by the store lock.
	releasing map[string]struct{}

	now   func() time.Time
	newID func() string
}

type Option func(*Book)

func WithClock(now func() time.Time) Option {
	return func(b *Book) {
		b.now = now
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(b *Book) {
		b.newID = newID
	}
}

func New(store *state.Store, chainBridge Chain, verifier SignatureVerifier, escrow chain.Signer, feePercent decimal.Decimal, opts ...Option) *Book {
	b := &Book{
		store:    store,
		chain:    chainBridge,
		verifier: verifier,
		escrow:   escrow,
		feePct:   feePercent,

		releasing: make(map[string]struct{}),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Book) EscrowAddress() string {
	return b.escrow.Address()
}

type CreateResult struct {
	Order         entity.P2POrder `json:"order"`
	EscrowAddress string          `json:"escrow_address"`
}

// Create opens an order waiting for the seller's escrow deposit.
func (b *Book) Create(ctx context.Context, seller string, amount decimal.Decimal, fiatDetails json.RawMessage) (CreateResult, error) {
	seller = strings.TrimSpace(seller)
	if seller == "" {
		return CreateResult{}, errs.NewPublicError(errs.InvalidArgument, "seller_address is required")
	}
	if !amount.IsPositive() {
		return CreateResult{}, errs.NewPublicError(errs.InvalidArgument, "sok_amount must be greater than 0")
	}

	order := entity.P2POrder{
		ID:            b.newID(),
		SellerAddress: seller,
		SokAmount:     amount,
		FiatDetails:   fiatDetails,
		Status:        entity.OrderStatusAwaitingDeposit,
		CreatedAt:     b.now(),
	}
	err := b.store.Update(func(st *state.State) error {
		if _, ok := st.Orders[order.ID]; ok {
			return errors.Wrapf(errs.Conflict, "order id %s already used", order.ID)
		}
		stored := order
		st.Orders[order.ID] = &stored
		return nil
	})
	if err != nil {
		return CreateResult{}, errors.WithStack(err)
	}

	logger.InfoContext(ctx, "P2P order created, awaiting deposit",
		slogx.String("order_id", order.ID),
		slogx.String("seller", seller),
		slogx.Decimal("amount", amount),
	)
	return CreateResult{Order: order, EscrowAddress: b.escrow.Address()}, nil
}

// Accept reserves an open order for buyer.
func (b *Book) Accept(ctx context.Context, orderID, buyer string) (entity.P2POrder, error) {
	buyer = strings.TrimSpace(buyer)
	if buyer == "" {
		return entity.P2POrder{}, errs.NewPublicError(errs.InvalidArgument, "buyer_address is required")
	}

	var accepted entity.P2POrder
	err := b.store.Update(func(st *state.State) error {
		order, ok := st.Orders[orderID]
		if !ok {
			return errs.NewPublicError(errs.NotFound, "order not found")
		}
		if !order.Status.CanTransitionTo(entity.OrderStatusPendingPayment) {
			return errs.NewPublicError(errs.Conflict, "order is not open")
		}
		if order.SellerAddress == buyer {
			return errs.NewPublicError(errs.Forbidden, "cannot buy your own order")
		}
		order.BuyerAddress = buyer
		order.Status = entity.OrderStatusPendingPayment
		accepted = *order
		return nil
	})
	if err != nil {
		return entity.P2POrder{}, errors.WithStack(err)
	}

	logger.InfoContext(ctx, "P2P order accepted", slogx.String("order_id", orderID), slogx.String("buyer", buyer))
	return accepted, nil
}

// Payout is what the buyer receives for amount after the P2P fee.
func (b *Book) Payout(amount decimal.Decimal) decimal.Decimal {
	return decimals.AfterFee(amount, b.feePct)
}

// Confirm releases the escrow of orderID to its buyer once the seller has
// signed ConfirmMessage(orderID). The fee stays in the escrow wallet.
func (b *Book) Confirm(ctx context.Context, orderID, seller, signature string) (decimal.Decimal, error) {
	if seller == "" || signature == "" {
		return decimal.Zero, errs.NewPublicError(errs.InvalidArgument, "address and signature are required")
	}
	ctx = logger.WithContext(ctx, slogx.String("order_id", orderID))

	var order entity.P2POrder
	err := b.store.Update(func(st *state.State) error {
		o, ok := st.Orders[orderID]
		if !ok {
			return errs.NewPublicError(errs.NotFound, "order not found")
		}
		if o.SellerAddress != seller {
			return errs.NewPublicError(errs.Forbidden, "address does not match the seller")
		}
		if !o.Status.CanTransitionTo(entity.OrderStatusCompleted) {
			return errs.NewPublicError(errs.Conflict, "order is not awaiting payment confirmation")
		}
		if _, busy := b.releasing[orderID]; busy {
			return errs.NewPublicError(errs.Conflict, "order release already in progress")
		}
		b.releasing[orderID] = struct{}{}
		order = *o
		return nil
	})
	if err != nil {
		return decimal.Zero, errors.WithStack(err)
	}
	defer func() {
		_ = b.store.Update(func(*state.State) error {
			delete(b.releasing, orderID)
			return nil
		})
	}()

	pubKey, err := b.chain.RecoverPublicKey(ctx, seller)
	if err != nil {
		return decimal.Zero, errs.WithPublicMessage(err, "public key unavailable")
	}
	ok, err := b.verifier.Verify(pubKey, ConfirmMessage(orderID), signature)
	if err != nil || !ok {
		return decimal.Zero, errs.NewPublicError(errs.Unauthorized, "invalid signature")
	}

	payout := b.Payout(order.SokAmount)
	tx, err := chain.NewSignedTransaction(b.escrow, order.BuyerAddress, payout, b.now())
	if err != nil {
		return decimal.Zero, errors.WithStack(err)
	}
	if err := b.chain.BroadcastTransaction(ctx, tx); err != nil {
		return decimal.Zero, errs.WithPublicMessage(err, "failed to send release transaction")
	}

	err = b.store.Update(func(st *state.State) error {
		o, ok := st.Orders[orderID]
		if !ok || !o.Status.CanTransitionTo(entity.OrderStatusCompleted) {
			return errs.NewPublicError(errs.Conflict, "order changed while releasing escrow")
		}
		o.Status = entity.OrderStatusCompleted
		return nil
	})
	if err != nil {
		logger.ErrorContext(ctx, "Escrow released but order could not be completed", err, slogx.String("tx_hash", tx.TxHash))
		return decimal.Zero, errors.WithStack(err)
	}

	logger.InfoContext(ctx, "P2P order completed",
		slogx.String("buyer", order.BuyerAddress),
		slogx.Decimal("payout", payout),
		slogx.String("tx_hash", tx.TxHash),
	)
	return payout, nil
}

// MatchDeposit opens the oldest order of sender awaiting a deposit of exactly
// amount. It must be called inside a Store.Update closure.
func (b *Book) MatchDeposit(st *state.State, sender string, amount decimal.Decimal, txHash string) (string, bool) {
	candidates := lo.Filter(lo.Values(st.Orders), func(o *entity.P2POrder, _ int) bool {
		return o.Status == entity.OrderStatusAwaitingDeposit && o.SellerAddress == sender && o.SokAmount.Equal(amount)
	})
	if len(candidates) == 0 {
		return "", false
	}
	order := lo.MinBy(candidates, func(x, y *entity.P2POrder) bool {
		return x.CreatedAt.Before(y.CreatedAt) || (x.CreatedAt.Equal(y.CreatedAt) && x.ID < y.ID)
	})
	order.Status = entity.OrderStatusOpen
	order.TxHashProof = txHash
	return order.ID, true
}

func (b *Book) snapshot(keep func(o *entity.P2POrder) bool) []entity.P2POrder {
	var orders []entity.P2POrder
	b.store.View(func(st *state.State) {
		for _, o := range st.Orders {
			if keep(o) {
				orders = append(orders, *o)
			}
		}
	})
	return orders
}

// ListOpen returns orders buyers can accept, oldest first.
func (b *Book) ListOpen() []entity.P2POrder {
	orders := b.snapshot(func(o *entity.P2POrder) bool {
		return o.Status == entity.OrderStatusOpen
	})
	slices.SortFunc(orders, func(x, y entity.P2POrder) int {
		return x.CreatedAt.Compare(y.CreatedAt)
	})
	return orders
}

// ListMine returns orders where address is seller or buyer, newest first.
func (b *Book) ListMine(address string) []entity.P2POrder {
	if address == "" {
		return nil
	}
	orders := b.snapshot(func(o *entity.P2POrder) bool {
		return o.SellerAddress == address || o.BuyerAddress == address
	})
	slices.SortFunc(orders, func(x, y entity.P2POrder) int {
		return y.CreatedAt.Compare(x.CreatedAt)
	})
	return orders
}

// OpenSummary returns the number of open orders and the tokens they hold in escrow.
func (b *Book) OpenSummary() (int, decimal.Decimal) {
	open := b.ListOpen()
	total := lo.Reduce(open, func(sum decimal.Decimal, o entity.P2POrder, _ int) decimal.Decimal {
		return sum.Add(o.SokAmount)
	}, decimal.Zero)
	return len(open), total
}
