package poller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestPollerSurvivesErrorsAndPanics(t *testing.T) {
	var calls atomic.Int32
	p := New("test", 5*time.Millisecond, func(ctx context.Context) error {
		switch calls.Add(1) {
		case 1:
			panic("boom")
		case 2:
			return errors.New("failed")
		}
		return nil
	}).Immediately()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()

	assert.Eventually(t, func() bool { return calls.Load() >= 4 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestSafe(t *testing.T) {
	err := Safe(context.Background(), func(context.Context) error { panic("x") })
	assert.ErrorContains(t, err, "panic: x")

	sentinel := errors.New("sentinel")
	err = Safe(context.Background(), func(context.Context) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
}
