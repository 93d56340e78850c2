package engine

import (
	"sync"
	"time"
)

// Event is one observable run transition.
type Event struct {
	RunID      string     `json:"run_id"`
	Status     RunStatus  `json:"status"`
	Step       string     `json:"step,omitempty"`
	StepStatus StepStatus `json:"step_status,omitempty"`
	At         time.Time  `json:"at"`
}

// hub fans run events out to subscribers. Delivery is best-effort: a slow
// subscriber drops events rather than stalling the engine.
type hub struct {
	mu   sync.Mutex
	subs map[string]map[int]chan Event
	next int
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[int]chan Event)}
}

func (h *hub) subscribe(runID string) (chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[int]chan Event)
	}
	ch := make(chan Event, 16)
	h.subs[runID][id] = ch
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[runID]; ok {
			if c, ok := set[id]; ok {
				delete(set, id)
				close(c)
			}
			if len(set) == 0 {
				delete(h.subs, runID)
			}
		}
	}
	return ch, cancel
}

func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[ev.RunID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
