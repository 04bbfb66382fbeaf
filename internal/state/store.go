package state

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/poybro/soknode/common/errs"
	"github.com/poybro/soknode/pkg/logger"
	"github.com/poybro/soknode/pkg/logger/slogx"
	"github.com/shopspring/decimal"
)

// Store guards State with one mutex. Closures passed to View and Update must not
// block on network I/O or call back into the Store.
type Store struct {
	mu              sync.Mutex
	state           *State
	file            string
	initialTreasury decimal.Decimal
	pending         func() []string
}

func New(file string, initialTreasury decimal.Decimal) *Store {
	return &Store{
		state:           newState(initialTreasury),
		file:            file,
		initialTreasury: initialTreasury,
	}
}

func (s *Store) View(fn func(st *State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
}

// Update runs fn under the lock. fn must leave the state untouched when it returns an error.
func (s *Store) Update(fn func(st *State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

// TrackPending registers the source of not yet paid rewards written into each snapshot.
func (s *Store) TrackPending(fn func() []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = fn
}

// TakePendingRewards returns and forgets the pending rewards loaded by Restore.
func (s *Store) TakePendingRewards() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.state.PendingRewards
	s.state.PendingRewards = nil
	return pending
}

// Snapshot atomically replaces the state file with the current state.
func (s *Store) Snapshot(ctx context.Context) error {
	if s.file == "" {
		return nil
	}

	s.mu.Lock()
	pendingFn := s.pending
	s.mu.Unlock()

	var pending []string
	if pendingFn != nil {
		pending = pendingFn()
	}

	s.mu.Lock()
	s.state.PendingRewards = pending
	data, err := json.MarshalIndent(s.state, "", "  ")
	s.state.PendingRewards = nil
	s.mu.Unlock()
	if err != nil {
		return errors.Mark(errors.Wrap(err, "marshal state"), errs.PersistenceFailed)
	}

	if err := WriteFileAtomic(s.file, data); err != nil {
		return errors.Mark(errors.WithStack(err), errs.PersistenceFailed)
	}
	logger.DebugContext(ctx, "Saved state snapshot", slogx.String("file", s.file), slogx.Int("bytes", len(data)))
	return nil
}

// Restore loads the state file. A missing or unreadable file leaves an empty state.
func (s *Store) Restore(ctx context.Context) {
	ctx = logger.WithContext(ctx, slogx.String("file", s.file))

	data, err := os.ReadFile(s.file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.InfoContext(ctx, "No state snapshot found, starting with empty state")
		} else {
			logger.ErrorContext(ctx, "Failed to read state snapshot, starting with empty state", err)
		}
		return
	}

	restored := newState(s.initialTreasury)
	if err := json.Unmarshal(data, restored); err != nil {
		logger.ErrorContext(ctx, "Malformed state snapshot, starting with empty state", err)
		return
	}
	for _, id := range restored.normalize() {
		logger.WarnContext(ctx, "Dropped order with unknown status from state snapshot", slogx.String("order_id", id))
	}

	s.mu.Lock()
	s.state = restored
	s.mu.Unlock()

	logger.InfoContext(ctx, "Restored state snapshot",
		slog.Int("workers", len(restored.Workers)),
		slog.Int("websites", len(restored.Websites)),
		slog.Int("orders", len(restored.Orders)),
		slog.Int("stakers", len(restored.StakingRecords)),
		slog.Int64("last_scanned_block", restored.LastScannedBlock),
		slog.String("treasury", restored.Treasury.String()),
	)
}

// Save snapshots and logs failures. The next call retries.
func (s *Store) Save(ctx context.Context) {
	start := time.Now()
	if err := s.Snapshot(ctx); err != nil {
		logger.ErrorContext(ctx, "Failed to save state snapshot", err)
		return
	}
	logger.InfoContext(ctx, "State saved", slogx.Duration("duration", time.Since(start)))
}

// WriteFileAtomic replaces path with data through a synced temporary file.
func WriteFileAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create directory %q", dir)
		}
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open %q", tmp)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "write %q", tmp)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "sync %q", tmp)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close %q", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "rename %q", tmp)
	}
	return nil
}
