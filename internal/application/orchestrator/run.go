package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aescanero/procflow/internal/application/state"
	"github.com/aescanero/procflow/pkg/domain"
)

// run holds the state of one process instance. mu serializes every event of the run.
type run struct {
	id          string
	graph       *domain.Graph
	store       *state.Store
	windows     map[string]*joinWindow
	status      domain.RunStatus
	err         error
	startedAt   time.Time
	updatedAt   time.Time
	completedAt *time.Time
	finished    bool
	cancel      context.CancelFunc
	mu          sync.Mutex
}

func (r *run) window(group *domain.EdgeGroup) *joinWindow {
	w, ok := r.windows[group.ID]
	if !ok {
		w = newJoinWindow(group)
		r.windows[group.ID] = w
	}
	return w
}

func (r *run) terminate(status domain.RunStatus, err error) {
	now := time.Now()
	r.status = status
	r.err = err
	r.completedAt = &now
	r.updatedAt = now
}

func (r *run) snapshot() *domain.RunSnapshot {
	snap := &domain.RunSnapshot{
		RunID:       r.id,
		GraphID:     r.graph.ID,
		Status:      r.status,
		State:       r.store.Snapshot(),
		StartedAt:   r.startedAt,
		UpdatedAt:   r.updatedAt,
		CompletedAt: r.completedAt,
	}
	if r.err != nil {
		snap.Error = r.err.Error()
	}
	if len(r.windows) > 0 {
		ids := make([]string, 0, len(r.windows))
		for id := range r.windows {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		snap.Windows = make(map[string]domain.WindowSnapshot, len(ids))
		for _, id := range ids {
			snap.Windows[id] = r.windows[id].snapshot()
		}
	}
	return snap
}
