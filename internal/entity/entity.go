package entity

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type WorkerType string

const (
	WorkerTypeView     WorkerType = "view_worker"
	WorkerTypeBacklink WorkerType = "backlink_service"
)

func (t WorkerType) IsValid() bool {
	return t == WorkerTypeView || t == WorkerTypeBacklink
}

type Worker struct {
	Address  string     `json:"address"`
	LastSeen time.Time  `json:"last_seen"`
	IP       string     `json:"ip"`
	Type     WorkerType `json:"type"`
	Status   string     `json:"status"`
}

type Website struct {
	URL            string          `json:"url"`
	Owner          string          `json:"owner"`
	ViewsFunded    decimal.Decimal `json:"views_funded"`
	ViewsCompleted decimal.Decimal `json:"views_completed"`
}

type P2POrder struct {
	ID            string          `json:"id"`
	SellerAddress string          `json:"seller_address"`
	BuyerAddress  string          `json:"buyer_address,omitempty"`
	SokAmount     decimal.Decimal `json:"sok_amount"`
	FiatDetails   json.RawMessage `json:"fiat_details,omitempty"`
	Status        OrderStatus     `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	TxHashProof   string          `json:"tx_hash_proof,omitempty"`
}

type StakingRecord struct {
	Principal  decimal.Decimal `json:"principal"`
	Reward     decimal.Decimal `json:"reward"`
	LastUpdate time.Time       `json:"last_update"`
}

type EconSnapshot struct {
	Timestamp          time.Time       `json:"timestamp"`
	WorkerCount        int             `json:"total_workers"`
	WebsiteCount       int             `json:"total_websites"`
	StakedBalance      decimal.Decimal `json:"total_staked_sok"`
	OpenEscrowTotal    decimal.Decimal `json:"total_p2p_escrow_sok"`
	ChainHeight        int64           `json:"total_transactions"`
	FloorPriceUSD      decimal.Decimal `json:"floor_price_usd"`
	MarketPriceUSD     decimal.Decimal `json:"market_price_usd"`
	ActivityMultiplier decimal.Decimal `json:"activity_multiplier"`
	TreasuryValueUSD   decimal.Decimal `json:"treasury_value_usd"`
}
