package rewards

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/poybro/soknode/internal/config"
	"github.com/poybro/soknode/internal/poller"
	"github.com/poybro/soknode/internal/rewardqueue"
	"github.com/poybro/soknode/internal/state"
	"github.com/poybro/soknode/pkg/decimals"
	"github.com/shopspring/decimal"
)

// AddressResolver derives the address owning a public key.
type AddressResolver interface {
	AddressFromPublicKey(pubKeyHex string) (string, error)
}

// Service owns worker presence and website funding. Accepted view proofs are
// handed to the reward queue consumed by Dispatcher.
type Service struct {
	store    *state.Store
	queue    rewardqueue.Queue
	resolver AddressResolver
	config   config.EconomyConfig

	now    func() time.Time
	random func(n int) int
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithRandom replaces the source used to pick a funded website.
func WithRandom(random func(n int) int) Option {
	return func(s *Service) {
		s.random = random
	}
}

func New(store *state.Store, queue rewardqueue.Queue, resolver AddressResolver, conf config.EconomyConfig, opts ...Option) *Service {
	s := &Service{
		store:    store,
		queue:    queue,
		resolver: resolver,
		config:   conf,
		now:      time.Now,
		random:   rand.IntN,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RewardAmount is what a worker earns for one accepted view, after the platform fee.
func RewardAmount(conf config.EconomyConfig) decimal.Decimal {
	return decimals.AfterFee(conf.PricePerView(), conf.PlatformFeePercent)
}

// ReaperPoller removes stale workers every reaper interval.
func (s *Service) ReaperPoller() *poller.Poller {
	interval := s.config.ReaperInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return poller.New("worker_reaper", interval, func(ctx context.Context) error {
		s.ReapWorkers(ctx)
		return nil
	})
}
