package nodeselector

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	cstream "github.com/planxnx/concurrent-stream"
	"github.com/poybro/soknode/core/chain"
	"github.com/poybro/soknode/internal/config"
	"github.com/poybro/soknode/internal/metrics"
	"github.com/poybro/soknode/internal/poller"
	"github.com/poybro/soknode/pkg/httpclient"
	"github.com/poybro/soknode/pkg/logger"
	"github.com/poybro/soknode/pkg/logger/slogx"
	"github.com/samber/lo"
)

const (
	defaultProbeTimeout  = 5 * time.Second
	defaultProbeInterval = 120 * time.Second
	defaultProbeParallel = 8
)

// Selector keeps the chain node endpoint with the greatest reported height.
type Selector struct {
	config config.ChainNodeConfig

	mu      sync.RWMutex
	current string
	height  int64
}

func New(conf config.ChainNodeConfig) *Selector {
	if conf.ProbeTimeout <= 0 {
		conf.ProbeTimeout = defaultProbeTimeout
	}
	if conf.ProbeInterval <= 0 {
		conf.ProbeInterval = defaultProbeInterval
	}
	if conf.ProbeParallel <= 0 {
		conf.ProbeParallel = defaultProbeParallel
	}
	return &Selector{config: conf}
}

// Current returns the selected endpoint. ok is false when no endpoint is healthy.
func (s *Selector) Current() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.current != ""
}

// Height returns the height reported by the selected endpoint at the last probe.
func (s *Selector) Height() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height
}

// Clear drops the selection so callers see the chain as unavailable until the next probe.
func (s *Selector) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = ""
	s.height = 0
	metrics.RecordChainEndpoint(false, 0)
}

type probeResult struct {
	url    string
	height int64
	err    error
}

// Refresh probes every candidate in parallel and selects the highest one.
func (s *Selector) Refresh(ctx context.Context) error {
	candidates := s.Candidates(ctx)
	results := s.probeAll(ctx, candidates)

	healthy := lo.Filter(results, func(r probeResult, _ int) bool { return r.err == nil })
	for _, r := range results {
		if r.err != nil {
			logger.DebugContext(ctx, "Chain node probe failed", slogx.String("url", r.url), slogx.Error(r.err))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(healthy) == 0 {
		if s.current != "" {
			logger.ErrorContext(ctx, "Lost connection to all chain nodes", nil, slogx.Int("candidates", len(candidates)))
		}
		s.current = ""
		s.height = 0
		metrics.RecordChainEndpoint(false, 0)
		return nil
	}

	best := lo.MaxBy(healthy, func(a, b probeResult) bool { return a.height > b.height })
	if best.url != s.current {
		logger.InfoContext(ctx, "Selected new best chain node", slogx.String("url", best.url), slogx.Int64("height", best.height))
	}
	s.current = best.url
	s.height = best.height
	metrics.RecordChainEndpoint(true, best.height)
	return nil
}

func (s *Selector) probeAll(ctx context.Context, urls []string) []probeResult {
	out := make(chan probeResult)
	stream := cstream.NewStream(ctx, s.config.ProbeParallel, out)

	go func() {
		defer close(out)
		_ = stream.Wait()
	}()

	go func() {
		defer stream.Close()
		for _, url := range urls {
			url := url
			stream.Go(func() probeResult {
				height, err := s.probe(ctx, url)
				return probeResult{url: url, height: height, err: err}
			})
		}
	}()

	results := make([]probeResult, 0, len(urls))
	for r := range out {
		results = append(results, r)
	}
	return results
}

// probe reads the height from /chain/stats, falling back to the /chain length
// for nodes that don't serve stats.
func (s *Selector) probe(ctx context.Context, url string) (int64, error) {
	client, err := httpclient.New(url, httpclient.Config{Timeout: s.config.ProbeTimeout})
	if err != nil {
		return 0, errors.WithStack(err)
	}

	start := time.Now()
	resp, err := client.Get(ctx, "/chain/stats", httpclient.RequestOptions{})
	metrics.RecordChainRequest(time.Since(start), "probe_stats", err != nil)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		var stats chain.Stats
		if err := resp.UnmarshalBody(&stats); err != nil {
			return 0, errors.WithStack(err)
		}
		return stats.BlockHeight, nil
	case http.StatusNotFound:
	default:
		return 0, errors.Errorf("chain stats answered %d", resp.StatusCode())
	}

	resp, err = client.Get(ctx, "/chain", httpclient.RequestOptions{})
	if err != nil {
		return 0, errors.WithStack(err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, errors.Errorf("chain answered %d", resp.StatusCode())
	}
	var full chain.ChainResponse
	if err := resp.UnmarshalBody(&full); err != nil {
		return 0, errors.WithStack(err)
	}
	return full.Length, nil
}

// Poller refreshes the selection now and then every probe interval.
func (s *Selector) Poller() *poller.Poller {
	return poller.New("node_selector", s.config.ProbeInterval, s.Refresh).Immediately()
}
