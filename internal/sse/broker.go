// Package sse implements a Server-Sent Events broker that tells the
// presentation layer when notes change.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync/atomic"
	"time"
)

// Event types sent to clients.
const (
	TypeNoteCreated    = "note.created"
	TypeNoteUpdated    = "note.updated"
	TypeNoteDeleted    = "note.deleted"
	TypeNotesChanged   = "notes.changed"
	TypeNotesRefreshed = "notes.refreshed"
)

// Change kinds accepted by PublishNoteEvent.
const (
	KindCreated = "created"
	KindUpdated = "updated"
	KindDeleted = "deleted"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// change is a note change, or a refresh when refresh is set.
type change struct {
	kind    string
	id      int64
	refresh bool
}

// Broker fans note changes out to SSE clients.
//
// Changes are collected per note id and flushed once per window: a note
// edited many times while a user types produces one event. Every flush that
// carries at least one change also sends notes.changed with the affected ids.
// A single loop owns the client set and the pending changes.
type Broker struct {
	window time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	changeCh      chan change
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that flushes note changes every window.
func NewBroker(window time.Duration) *Broker {
	if window <= 0 {
		window = time.Second
	}

	b := &Broker{
		window:        window,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		changeCh:      make(chan change, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	ticker := time.NewTicker(b.window)
	defer ticker.Stop()

	clients := make(map[chan []byte]struct{})
	pending := make(map[int64]string)
	var seq uint64

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		seq++
		raw := []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, payload))

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Slow client; drop rather than block the loop.
			}
		}
	}

	flush := func() {
		if len(pending) == 0 {
			return
		}
		ids := make([]int64, 0, len(pending))
		for id := range pending {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			broadcast(Event{Type: eventType(pending[id]), Data: map[string]int64{"id": id}})
		}
		broadcast(Event{Type: TypeNotesChanged, Data: map[string][]int64{"ids": ids}})
		clear(pending)
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case c := <-b.changeCh:
			if c.refresh {
				// Clients re-read every note, which covers anything pending.
				clear(pending)
				broadcast(Event{Type: TypeNotesRefreshed, Data: map[string]string{}})
				continue
			}
			if kind, keep := coalesce(pending[c.id], c.kind); keep {
				pending[c.id] = kind
			} else {
				delete(pending, c.id)
			}

		case <-ticker.C:
			flush()

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// coalesce folds next into the change already pending for a note. It
// reports false when the two cancel out.
func coalesce(prev, next string) (string, bool) {
	switch {
	case prev == "":
		return next, true
	case prev == KindCreated && next == KindDeleted:
		return "", false
	case prev == KindCreated:
		return KindCreated, true
	case prev == KindDeleted && next != KindDeleted:
		return KindUpdated, true
	default:
		if next == KindDeleted {
			return KindDeleted, true
		}
		return prev, true
	}
}

func eventType(kind string) string {
	switch kind {
	case KindCreated:
		return TypeNoteCreated
	case KindDeleted:
		return TypeNoteDeleted
	default:
		return TypeNoteUpdated
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
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
	case b.unsubscribeCh <- ch:
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
	case b.countReqCh <- resp:
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

// Publish sends an event to all connected clients immediately.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishNoteEvent queues a local change to note id. Unknown kinds are
// ignored. It is the note service's notifier.
func (b *Broker) PublishNoteEvent(kind string, id int64) {
	switch kind {
	case KindCreated, KindUpdated, KindDeleted:
	default:
		return
	}
	b.send(change{kind: kind, id: id})
}

// Refreshed tells clients that a sync pass rewrote local notes and open
// notes must be re-read. Changes queued before it are dropped. It is the
// sync engine's refresh callback.
func (b *Broker) Refreshed() {
	b.send(change{refresh: true})
}

func (b *Broker) send(c change) {
	if b.closed.Load() {
		return
	}
	select {
	case b.changeCh <- c:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
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

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
