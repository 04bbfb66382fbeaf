package rewards

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/poybro/soknode/common/errs"
	"github.com/poybro/soknode/internal/entity"
	"github.com/poybro/soknode/internal/state"
	"github.com/poybro/soknode/pkg/logger"
	"github.com/poybro/soknode/pkg/logger/slogx"
)

const DefaultWorkerStatus = "AVAILABLE"

type HeartbeatInput struct {
	Address string
	Type    entity.WorkerType
	Status  string
	IP      string
}

// Heartbeat creates or refreshes a worker.
func (s *Service) Heartbeat(ctx context.Context, in HeartbeatInput) error {
	address := strings.TrimSpace(in.Address)
	if address == "" {
		return errs.NewPublicError(errs.InvalidArgument, "worker_address is required")
	}
	workerType := in.Type
	if workerType == "" {
		workerType = entity.WorkerTypeView
	}
	if !workerType.IsValid() {
		return errs.NewPublicError(errs.InvalidArgument, "unknown worker_type "+string(workerType))
	}
	status := in.Status
	if status == "" {
		status = DefaultWorkerStatus
	}

	now := s.now()
	var isNew bool
	_ = s.store.Update(func(st *state.State) error {
		_, exists := st.Workers[address]
		isNew = !exists
		st.Workers[address] = &entity.Worker{
			Address:  address,
			LastSeen: now,
			IP:       in.IP,
			Type:     workerType,
			Status:   status,
		}
		return nil
	})
	if isNew {
		logger.InfoContext(ctx, "Worker online", slogx.String("worker", address), slogx.String("type", string(workerType)))
	}
	return nil
}

// ReapWorkers deletes workers without a heartbeat for longer than the worker timeout.
func (s *Service) ReapWorkers(ctx context.Context) int {
	cutoff := s.now().Add(-s.config.WorkerTimeout)
	var removed []string
	_ = s.store.Update(func(st *state.State) error {
		for address, w := range st.Workers {
			if w.LastSeen.Before(cutoff) {
				delete(st.Workers, address)
				removed = append(removed, address)
			}
		}
		return nil
	})
	for _, address := range removed {
		logger.WarnContext(ctx, "Worker went offline, removed", slogx.String("worker", address))
	}
	return len(removed)
}

type WorkerSummary struct {
	Address  string    `json:"address"`
	LastSeen time.Time `json:"last_seen"`
	Status   string    `json:"status"`
	Online   bool      `json:"online"`
}

// ListByType groups workers by type. Within a group online workers come first.
func (s *Service) ListByType() map[entity.WorkerType][]WorkerSummary {
	now := s.now()
	groups := map[entity.WorkerType][]WorkerSummary{
		entity.WorkerTypeBacklink: {},
		entity.WorkerTypeView:     {},
	}
	s.store.View(func(st *state.State) {
		for address, w := range st.Workers {
			group := entity.WorkerTypeView
			if w.Type == entity.WorkerTypeBacklink {
				group = entity.WorkerTypeBacklink
			}
			groups[group] = append(groups[group], WorkerSummary{
				Address:  address,
				LastSeen: w.LastSeen,
				Status:   w.Status,
				Online:   now.Sub(w.LastSeen) <= s.config.WorkerTimeout,
			})
		}
	})
	for _, list := range groups {
		slices.SortFunc(list, func(a, b WorkerSummary) int {
			if a.Online != b.Online {
				if a.Online {
					return -1
				}
				return 1
			}
			return strings.Compare(a.Address, b.Address)
		})
	}
	return groups
}

// ActiveWorkers returns the number of known workers.
func (s *Service) ActiveWorkers() int {
	var n int
	s.store.View(func(st *state.State) {
		n = len(st.Workers)
	})
	return n
}
