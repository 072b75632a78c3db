package eval

import "sync"

// Event names emitted over the run's progress surface.
const (
	EventStaticStarted    = "static:started"
	EventStaticCompleted  = "static:completed"
	EventCheckRunning     = "check:running"
	EventCheckCompleted   = "check:completed"
	EventPhaseStarted     = "phase:started"
	EventPhaseCompleted   = "phase:completed"
	EventProbeCompleted   = "probe:completed"
	EventRuntimeCompleted = "runtime:completed"
	EventRuntimeError     = "runtime:error"
)

type Event struct {
	Name      string         `json:"name"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Publisher is a synchronous fan-out of progress events. It carries no
// business logic and no buffering; it only decouples the orchestrator and
// static runner from whatever is listening. Safe for concurrent
// subscribe/unsubscribe/emit. A nil *Publisher is valid and drops events.
type Publisher struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
}

func NewPublisher() *Publisher {
	return &Publisher{subs: map[int]func(Event){}}
}

// Subscribe registers fn and returns a token for Unsubscribe.
func (p *Publisher) Subscribe(fn func(Event)) int {
	if p == nil || fn == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.subs[p.nextID] = fn
	return p.nextID
}

// Unsubscribe removes a subscription. Unknown or already-removed tokens are
// ignored.
func (p *Publisher) Unsubscribe(id int) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subs, id)
}

// Emit delivers the event synchronously to every current subscriber.
func (p *Publisher) Emit(name string, data map[string]any) {
	if p == nil {
		return
	}
	event := Event{Name: name, Timestamp: nowRFC3339(), Data: data}
	p.mu.RLock()
	fns := make([]func(Event), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.RUnlock()
	for _, fn := range fns {
		fn(event)
	}
}
