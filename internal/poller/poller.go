package poller

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/poybro/soknode/pkg/logger"
	"github.com/poybro/soknode/pkg/logger/slogx"
)

// Poller calls a poll method on a fixed interval until its context is done.
// An error or panic in one poll is logged and the next tick runs normally.
type Poller struct {
	name       string
	interval   time.Duration
	immediate  bool
	pollMethod func(ctx context.Context) error
}

func New(name string, interval time.Duration, pollMethod func(ctx context.Context) error) *Poller {
	return &Poller{
		name:       name,
		interval:   interval,
		pollMethod: pollMethod,
	}
}

// Immediately makes Start poll once before waiting for the first tick.
func (p *Poller) Immediately() *Poller {
	p.immediate = true
	return p
}

func (p *Poller) Name() string {
	return p.name
}

// Start blocks until ctx is done. It always returns nil.
func (p *Poller) Start(ctx context.Context) error {
	ctx = logger.WithContext(ctx, slogx.String("task", p.name))
	logger.InfoContext(ctx, "Starting poller", slogx.Duration("interval", p.interval))

	if p.immediate {
		p.poll(ctx)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.poll(ctx)
		case <-ctx.Done():
			logger.InfoContext(ctx, "Poller stopped")
			return nil
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	if err := Safe(ctx, p.pollMethod); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
		logger.ErrorContext(ctx, "Error polling", err)
	}
}

// Safe runs fn and turns a panic into an error.
func Safe(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 2048)
			buf = buf[:runtime.Stack(buf, false)]
			logger.ErrorContext(ctx, "Recovered from panic", nil, slogx.Any("panic", r), slog.String("stacktrace", string(buf)))
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
