package dashboard

import (
	"encoding/json"
	"sync"
)

// Event is the discriminated envelope pushed over /api/events (spec §6).
// Type selects the shape of Fields; every event's JSON encoding is a flat
// object — {type, runId, ...Fields} — not Fields nested under a "data"
// key, so a subscriber reads e.g. a task:ended event's "result" as a
// top-level field rather than "data.result".
type Event struct {
	Type   string
	RunID  string
	Fields map[string]interface{}
}

// MarshalJSON flattens Type, RunID, and Fields into one JSON object.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(e.Fields)+2)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["type"] = e.Type
	out["runId"] = e.RunID
	return json.Marshal(out)
}

// Event type constants (spec §6).
const (
	EventRunStarted   = "run:started"
	EventStepThinking = "step:thinking"
	EventStepStarted  = "step:started"
	EventTaskStarted  = "task:started"
	EventTaskChunk    = "task:chunk"
	EventTaskEnded    = "task:ended"
	EventStepEnded    = "step:ended"
	EventRunComplete  = "run:complete"
	EventRunError     = "run:error"
	EventRunDeleted   = "run:deleted"
)

// Broadcaster fans one published Event out to every current subscriber.
// A slow or disconnected subscriber never blocks Publish: its channel is
// buffered, and a full channel simply drops the event for that
// subscriber rather than stalling the run.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewBroadcaster builds an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new listener and returns its channel plus a
// cancel func that unregisters and closes it.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish fans e out to every current subscriber without blocking.
func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
