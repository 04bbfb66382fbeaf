package chain

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/poybro/soknode/pkg/crypto"
	"github.com/shopspring/decimal"
)

// CoinbaseSender is the sender address of minted transactions.
const CoinbaseSender = "0"

// Signer signs messages on behalf of one address.
type Signer interface {
	Address() string
	PublicKey() string
	Sign(message string) string
}

type Transaction struct {
	SenderPublicKey  string          `json:"sender_public_key"`
	SenderAddress    string          `json:"sender_address"`
	RecipientAddress string          `json:"recipient_address"`
	Amount           decimal.Decimal `json:"amount"`
	Timestamp        json.Number     `json:"timestamp"`
	TxHash           string          `json:"tx_hash"`
	Signature        string          `json:"signature"`
}

// payload is the hashed part of a transaction. Keys are in lexical order.
type payload struct {
	Amount           json.Number `json:"amount"`
	RecipientAddress string      `json:"recipient_address"`
	SenderAddress    string      `json:"sender_address"`
	Timestamp        json.Number `json:"timestamp"`
}

// NewSignedTransaction builds a transfer from signer to recipient, hashes and signs it.
func NewSignedTransaction(signer Signer, recipient string, amount decimal.Decimal, now time.Time) (Transaction, error) {
	tx := Transaction{
		SenderPublicKey:  signer.PublicKey(),
		SenderAddress:    signer.Address(),
		RecipientAddress: recipient,
		Amount:           amount,
		Timestamp:        FormatTimestamp(now),
	}
	hash, err := tx.ComputeHash()
	if err != nil {
		return Transaction{}, errors.WithStack(err)
	}
	tx.TxHash = hash
	tx.Signature = signer.Sign(hash)
	return tx, nil
}

// FormatTimestamp renders t as fractional unix seconds.
func FormatTimestamp(t time.Time) json.Number {
	return json.Number(decimal.New(t.UnixMicro(), -6).String())
}

// CanonicalPayload is the byte string the transaction hash is computed over.
func (tx Transaction) CanonicalPayload() ([]byte, error) {
	data, err := json.Marshal(payload{
		Amount:           json.Number(tx.Amount.String()),
		RecipientAddress: tx.RecipientAddress,
		SenderAddress:    tx.SenderAddress,
		Timestamp:        tx.Timestamp,
	})
	return data, errors.Wrap(err, "marshal transaction payload")
}

func (tx Transaction) ComputeHash() (string, error) {
	data, err := tx.CanonicalPayload()
	if err != nil {
		return "", errors.WithStack(err)
	}
	return crypto.HashHex(data), nil
}

func (tx Transaction) IsCoinbase() bool {
	return tx.SenderAddress == "" || tx.SenderAddress == CoinbaseSender
}

// MarshalJSON sends the amount as a JSON number, which is what the chain node accepts.
func (tx Transaction) MarshalJSON() ([]byte, error) {
	type alias Transaction
	data, err := json.Marshal(struct {
		alias
		Amount json.Number `json:"amount"`
	}{
		alias:  alias(tx),
		Amount: json.Number(tx.Amount.String()),
	})
	return data, errors.WithStack(err)
}
