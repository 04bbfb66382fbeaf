package state

import (
	"slices"
	"time"

	"github.com/poybro/soknode/internal/entity"
	"github.com/shopspring/decimal"
)

// State is every mutable collection the Agent owns. It is only reachable through Store.
type State struct {
	Workers          map[string]*entity.Worker        `json:"active_workers"`
	LastRewardTimes  map[string]time.Time             `json:"last_reward_times"`
	Websites         map[string]*entity.Website       `json:"websites_db"`
	Orders           map[string]*entity.P2POrder      `json:"p2p_orders"`
	StakingRecords   map[string]*entity.StakingRecord `json:"staking_records"`
	PublicKeys       map[string]string                `json:"public_key_cache"`
	LastScannedBlock int64                            `json:"last_scanned_block"`
	Treasury         decimal.Decimal                  `json:"treasury_value_usd"`
	PendingRewards   []string                         `json:"pending_rewards,omitempty"`

	// ViewsCompletedSession counts accepted view proofs since start.
	ViewsCompletedSession int64 `json:"-"`
}

func newState(initialTreasury decimal.Decimal) *State {
	s := &State{
		LastScannedBlock: -1,
		Treasury:         initialTreasury,
	}
	s.normalize()
	return s
}

// normalize fills missing collections and drops orders with an unknown status,
// returning their ids.
func (s *State) normalize() (dropped []string) {
	if s.Workers == nil {
		s.Workers = make(map[string]*entity.Worker)
	}
	if s.LastRewardTimes == nil {
		s.LastRewardTimes = make(map[string]time.Time)
	}
	if s.Websites == nil {
		s.Websites = make(map[string]*entity.Website)
	}
	if s.Orders == nil {
		s.Orders = make(map[string]*entity.P2POrder)
	}
	if s.StakingRecords == nil {
		s.StakingRecords = make(map[string]*entity.StakingRecord)
	}
	if s.PublicKeys == nil {
		s.PublicKeys = make(map[string]string)
	}
	for url, w := range s.Websites {
		if w.URL == "" {
			w.URL = url
		}
	}
	for id, o := range s.Orders {
		if o == nil || !o.Status.IsValid() {
			delete(s.Orders, id)
			dropped = append(dropped, id)
		}
	}
	slices.Sort(dropped)
	return dropped
}

// CachePublicKey records the key of address unless one is already known.
func (s *State) CachePublicKey(address, publicKey string) {
	if address == "" || publicKey == "" {
		return
	}
	if _, ok := s.PublicKeys[address]; !ok {
		s.PublicKeys[address] = publicKey
	}
}
