package agentapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/poybro/soknode/common/errs"
	"github.com/poybro/soknode/core/chain"
	"github.com/poybro/soknode/pkg/logger"
	"github.com/poybro/soknode/pkg/logger/slogx"
	"github.com/shopspring/decimal"
)

func (h *HttpHandler) GetBalance(ctx *fiber.Ctx) (err error) {
	address := ctx.Params("address")
	if address == "" {
		return errs.NewPublicError(errs.InvalidArgument, "address is required")
	}
	raw, err := h.Chain.GetBalanceRaw(ctx.UserContext(), address)
	if err != nil {
		return errs.WithPublicMessage(err, "cannot reach the blockchain node")
	}
	ctx.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return errors.WithStack(ctx.Send(raw))
}

type broadcastRequest struct {
	SenderAddress    string           `json:"sender_address"`
	RecipientAddress string           `json:"recipient_address"`
	Amount           *decimal.Decimal `json:"amount"`
	Timestamp        string           `json:"timestamp"`
	TxHash           string           `json:"tx_hash"`
	Signature        string           `json:"signature"`
}

func (r *broadcastRequest) Validate() error {
	if r.SenderAddress == "" || r.RecipientAddress == "" || r.Amount == nil ||
		r.Timestamp == "" || r.TxHash == "" || r.Signature == "" {
		return errs.NewPublicError(errs.InvalidArgument, "incomplete transaction")
	}
	if !r.Amount.IsPositive() {
		return errs.NewPublicError(errs.InvalidArgument, "amount must be greater than 0")
	}
	if _, err := decimal.NewFromString(r.Timestamp); err != nil {
		return errs.NewPublicError(errs.InvalidArgument, "timestamp must be a number")
	}
	return nil
}

// UnmarshalJSON accepts the timestamp as either a JSON number or a numeric string.
func (r *broadcastRequest) UnmarshalJSON(data []byte) error {
	type alias broadcastRequest
	aux := struct {
		*alias
		Timestamp json.RawMessage `json:"timestamp"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return errors.WithStack(err)
	}
	r.Timestamp = strings.Trim(string(aux.Timestamp), `"`)
	if r.Timestamp == "null" {
		r.Timestamp = ""
	}
	return nil
}

type broadcastResponse struct {
	Message string `json:"message"`
	TxHash  string `json:"tx_hash"`
}

// BroadcastTransaction forwards a client signed transaction after re-deriving its
// hash and checking the signature against the sender's on-chain public key.
func (h *HttpHandler) BroadcastTransaction(ctx *fiber.Ctx) (err error) {
	var req broadcastRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errs.WithPublicMessage(errors.Wrap(errs.InvalidArgument, err.Error()), "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return errors.WithStack(err)
	}

	pubKey, err := h.Chain.RecoverPublicKey(ctx.UserContext(), req.SenderAddress)
	if err != nil {
		if errors.Is(err, errs.NotFound) {
			return errs.NewPublicError(errs.InvalidArgument, "cannot verify the sender, it needs at least one transaction on the network")
		}
		return errs.WithPublicMessage(err, "cannot reach the blockchain node")
	}

	tx := chain.Transaction{
		SenderPublicKey:  pubKey,
		SenderAddress:    req.SenderAddress,
		RecipientAddress: req.RecipientAddress,
		Amount:           *req.Amount,
		Timestamp:        json.Number(req.Timestamp),
		TxHash:           req.TxHash,
		Signature:        req.Signature,
	}
	hash, err := tx.ComputeHash()
	if err != nil {
		return errors.WithStack(err)
	}
	if hash != req.TxHash {
		return errs.NewPublicError(errs.InvalidArgument, "invalid transaction hash")
	}
	ok, err := h.Verifier.Verify(pubKey, hash, req.Signature)
	if err != nil || !ok {
		logger.WarnContext(ctx.UserContext(), "Rejected broadcast with invalid signature",
			slogx.String("sender", req.SenderAddress),
		)
		return errs.NewPublicError(errs.Unauthorized, "invalid transaction signature")
	}

	if err := h.Chain.BroadcastTransaction(ctx.UserContext(), tx); err != nil {
		return errs.WithPublicMessage(err, "failed to send transaction to the blockchain node")
	}
	logger.InfoContext(ctx.UserContext(), "Forwarded signed transaction",
		slogx.String("sender", req.SenderAddress),
		slogx.String("tx_hash", hash),
	)
	return errors.WithStack(ctx.Status(http.StatusCreated).JSON(broadcastResponse{
		Message: "Transaction sent.",
		TxHash:  hash,
	}))
}
