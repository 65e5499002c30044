package orchestrator

import (
	"time"

	"github.com/aescanero/procflow/pkg/domain"
)

// joinWindow tracks one group's observations for the current round
type joinWindow struct {
	group    *domain.EdgeGroup
	state    domain.WindowState
	round    int
	observed map[domain.EventKey]domain.Event
	order    []domain.EventKey
	timer    *time.Timer
}

func newJoinWindow(group *domain.EdgeGroup) *joinWindow {
	return &joinWindow{
		group:    group,
		state:    domain.WindowIdle,
		observed: make(map[domain.EventKey]domain.Event),
	}
}

// observe records a member event and reports whether the window became ready.
// Repeated sources within a round and events for a faulted window are ignored.
func (w *joinWindow) observe(event domain.Event) bool {
	if w.state == domain.WindowFaulted {
		return false
	}
	key := event.Key()
	if !w.group.Requires(key) {
		return false
	}
	if _, dup := w.observed[key]; dup {
		return false
	}
	if w.state == domain.WindowIdle {
		w.state = domain.WindowAccumulating
	}
	w.observed[key] = event
	w.order = append(w.order, key)

	if len(w.observed) == len(w.group.RequiredSources) {
		w.state = domain.WindowReady
		return true
	}
	return false
}

// payload aggregates the observed payloads keyed by "node.event"
func (w *joinWindow) payload() map[string]any {
	out := make(map[string]any, len(w.observed))
	for key, event := range w.observed {
		out[key.String()] = event.Payload
	}
	return out
}

func (w *joinWindow) missing() []domain.EventKey {
	var keys []domain.EventKey
	for _, key := range w.group.RequiredSources {
		if _, ok := w.observed[key]; !ok {
			keys = append(keys, key)
		}
	}
	return keys
}

// reset clears the observations and re-arms the window for the next round
func (w *joinWindow) reset() {
	w.stopTimer()
	w.observed = make(map[domain.EventKey]domain.Event)
	w.order = nil
	w.state = domain.WindowIdle
	w.round++
}

// fault drops the observations and leaves the window faulted
func (w *joinWindow) fault() {
	w.stopTimer()
	w.observed = make(map[domain.EventKey]domain.Event)
	w.order = nil
	w.state = domain.WindowFaulted
}

// discard drops observations that have not been dispatched
func (w *joinWindow) discard() {
	if w.state == domain.WindowAccumulating || w.state == domain.WindowReady {
		w.reset()
		return
	}
	w.stopTimer()
}

func (w *joinWindow) stopTimer() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *joinWindow) snapshot() domain.WindowSnapshot {
	return domain.WindowSnapshot{
		GroupID:  w.group.ID,
		State:    w.state,
		Round:    w.round,
		Observed: append([]domain.EventKey(nil), w.order...),
	}
}
