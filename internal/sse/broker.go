// Package sse implements a Server-Sent Events broker that tells serve-mode
// clients when recipe files change and when the recipe set is reloaded.
//
// Load announcements are stateful: the broker remembers the last one and
// replays it to every new subscriber, and a load that repeats the previous
// one (same key) within the coalesce window is not broadcast again. A single
// remote fetch followed by the watcher's reload of the freshly written cache
// therefore reaches clients as one event.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event represents an SSE event to broadcast. Key identifies the state a
// recipes.loaded event describes; it is not sent to clients.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
	Key  string `json:"-"`
}

// Event types.
const (
	EventFilesChanged  = "files.changed"
	EventRecipesLoaded = "recipes.loaded"
)

// DefaultCoalesceWindow is how long an identical load announcement is
// suppressed after the previous one.
const DefaultCoalesceWindow = 5 * time.Second

const clientBuffer = 64

// Broker fans events out to connected clients. One goroutine owns the
// client set and the last load; public methods reach it through channels.
type Broker struct {
	join   chan chan []byte
	leave  chan chan []byte
	events chan Event
	count  chan chan int

	window time.Duration
	now    func() time.Time

	stop    chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithCoalesceWindow overrides DefaultCoalesceWindow. A non-positive window
// broadcasts every load.
func WithCoalesceWindow(d time.Duration) Option {
	return func(b *Broker) { b.window = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// NewBroker creates a broker and starts its loop.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		join:    make(chan chan []byte),
		leave:   make(chan chan []byte),
		events:  make(chan Event, 256),
		count:   make(chan chan int),
		window:  DefaultCoalesceWindow,
		now:     time.Now,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	go b.run()
	return b
}

// hub is the state owned by the broker loop.
type hub struct {
	clients map[chan []byte]struct{}

	lastLoad    []byte
	lastLoadKey string
	lastLoadAt  time.Time
}

func (b *Broker) run() {
	defer close(b.stopped)

	h := &hub{clients: make(map[chan []byte]struct{})}
	for {
		select {
		case <-b.stop:
			for ch := range h.clients {
				close(ch)
			}
			return
		case ch := <-b.join:
			h.clients[ch] = struct{}{}
			if h.lastLoad != nil {
				send(ch, h.lastLoad)
			}
		case ch := <-b.leave:
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
			}
		case ev := <-b.events:
			b.dispatch(h, ev)
		case resp := <-b.count:
			resp <- len(h.clients)
		}
	}
}

func (b *Broker) dispatch(h *hub, ev Event) {
	now := b.now()
	if ev.Type == EventRecipesLoaded && b.repeats(h, ev.Key, now) {
		return
	}
	frame, err := encode(ev)
	if err != nil {
		return
	}
	if ev.Type == EventRecipesLoaded {
		h.lastLoad, h.lastLoadKey, h.lastLoadAt = frame, ev.Key, now
	}
	for ch := range h.clients {
		send(ch, frame)
	}
}

// repeats reports whether a load keyed key would only restate the last one.
func (b *Broker) repeats(h *hub, key string, now time.Time) bool {
	if b.window <= 0 || key == "" || h.lastLoad == nil {
		return false
	}
	return key == h.lastLoadKey && now.Sub(h.lastLoadAt) < b.window
}

func encode(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Type, payload)), nil
}

// send never blocks: a slow client misses the frame.
func send(ch chan []byte, frame []byte) {
	select {
	case ch <- frame:
	default:
	}
}

// Close stops the loop and closes every client channel. It is idempotent.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stop)
	}
	<-b.stopped
}

// Subscribe registers a client. The returned channel receives the last load
// announcement, if any, followed by new events.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.join <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.leave <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.count <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish queues ev for every connected client.
func (b *Broker) Publish(ev Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.events <- ev:
	case <-b.stopped:
	}
}

// PublishChange announces recipe or cache files that changed on disk.
func (b *Broker) PublishChange(paths []string) {
	b.Publish(Event{Type: EventFilesChanged, Data: map[string][]string{"paths": paths}})
}

// PublishLoaded announces a completed load. key identifies the resulting
// state (tier and counts); data is typically the load summary.
func (b *Broker) PublishLoaded(key string, data any) {
	b.Publish(Event{Type: EventRecipesLoaded, Data: data, Key: key})
}

// ServeHTTP streams events to one client (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(frame)
			flusher.Flush()
		}
	}
}
