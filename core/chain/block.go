package chain

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

type Block struct {
	Index        int64           `json:"index"`
	Hash         string          `json:"hash"`
	PreviousHash string          `json:"previous_hash"`
	Timestamp    json.Number     `json:"timestamp"`
	Nonce        json.Number     `json:"nonce"`
	Transactions TransactionList `json:"transactions"`
}

// TransactionList decodes either an embedded list or a JSON encoded string holding one.
type TransactionList []Transaction

func (l *TransactionList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}

	if data[0] == '"' {
		var encoded string
		if err := json.Unmarshal(data, &encoded); err != nil {
			return errors.Wrap(err, "decode transactions string")
		}
		if encoded == "" {
			*l = nil
			return nil
		}
		data = []byte(encoded)
	}

	var txs []Transaction
	if err := json.Unmarshal(data, &txs); err != nil {
		return errors.Wrap(err, "decode transactions")
	}
	*l = txs
	return nil
}

type ChainResponse struct {
	Length int64   `json:"length"`
	Chain  []Block `json:"chain"`

	// Malformed lists blocks that failed to decode. They are left out of Chain.
	Malformed []MalformedBlock `json:"-"`
}

// MalformedBlock is a block the chain node served in a shape we can't decode.
// Index is -1 when even the index is unreadable.
type MalformedBlock struct {
	Index int64
	Err   error
}

// UnmarshalJSON decodes blocks one at a time so a single bad block doesn't hide the rest.
func (r *ChainResponse) UnmarshalJSON(data []byte) error {
	var raw struct {
		Length int64             `json:"length"`
		Chain  []json.RawMessage `json:"chain"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "decode chain")
	}

	r.Length = raw.Length
	r.Chain = make([]Block, 0, len(raw.Chain))
	r.Malformed = nil
	for _, msg := range raw.Chain {
		var block Block
		if err := json.Unmarshal(msg, &block); err != nil {
			r.Malformed = append(r.Malformed, MalformedBlock{Index: blockIndex(msg), Err: err})
			continue
		}
		r.Chain = append(r.Chain, block)
	}
	return nil
}

func blockIndex(msg json.RawMessage) int64 {
	var header struct {
		Index *int64 `json:"index"`
	}
	if err := json.Unmarshal(msg, &header); err != nil || header.Index == nil {
		return -1
	}
	return *header.Index
}

type Stats struct {
	BlockHeight    int64       `json:"block_height"`
	TotalSupply    json.Number `json:"total_supply"`
	PendingTxCount int64       `json:"pending_tx_count"`
	PeerCount      int64       `json:"peer_count"`
}

type Balance struct {
	Address string          `json:"address"`
	Balance decimal.Decimal `json:"balance"`
}
