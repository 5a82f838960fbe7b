package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: TypeNoteCreated, Data: map[string]int64{"id": 7}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: note.created") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"id":7`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

// collect reads messages from ch until one of type last arrives.
func collect(t *testing.T, ch chan []byte, last string) []string {
	t.Helper()
	var msgs []string
	for {
		select {
		case msg := <-ch:
			msgs = append(msgs, string(msg))
			if strings.Contains(string(msg), "event: "+last+"\n") {
				return msgs
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for %s, got %q", last, msgs)
		}
	}
}

func TestNoteEventsCoalescePerNote(t *testing.T) {
	b := NewBroker(200 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishNoteEvent(KindCreated, 1)
	b.PublishNoteEvent(KindUpdated, 1)
	b.PublishNoteEvent(KindUpdated, 2)
	b.PublishNoteEvent(KindUpdated, 2)
	b.PublishNoteEvent(KindCreated, 3)
	b.PublishNoteEvent(KindDeleted, 3)
	b.PublishNoteEvent("opened", 4)

	msgs := collect(t, ch, TypeNotesChanged)
	if len(msgs) != 3 {
		t.Fatalf("messages = %q, want 3", msgs)
	}
	if !strings.Contains(msgs[0], "event: note.created\ndata: {\"id\":1}") {
		t.Errorf("first = %q", msgs[0])
	}
	if !strings.Contains(msgs[1], "event: note.updated\ndata: {\"id\":2}") {
		t.Errorf("second = %q", msgs[1])
	}
	if !strings.Contains(msgs[2], `{"ids":[1,2]}`) {
		t.Errorf("changed = %q", msgs[2])
	}
}

func TestCoalesce(t *testing.T) {
	tests := []struct {
		prev, next string
		want       string
		keep       bool
	}{
		{"", KindUpdated, KindUpdated, true},
		{KindCreated, KindUpdated, KindCreated, true},
		{KindCreated, KindDeleted, "", false},
		{KindUpdated, KindUpdated, KindUpdated, true},
		{KindUpdated, KindDeleted, KindDeleted, true},
		{KindDeleted, KindCreated, KindUpdated, true},
		{KindDeleted, KindDeleted, KindDeleted, true},
	}
	for _, tt := range tests {
		got, keep := coalesce(tt.prev, tt.next)
		if got != tt.want || keep != tt.keep {
			t.Errorf("coalesce(%q, %q) = %q, %v; want %q, %v", tt.prev, tt.next, got, keep, tt.want, tt.keep)
		}
	}
}

func TestRefreshedDropsPendingChanges(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishNoteEvent(KindUpdated, 1)
	b.Refreshed()

	select {
	case msg := <-ch:
		if !strings.Contains(string(msg), "event: notes.refreshed") {
			t.Fatalf("unexpected message %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for refresh event")
	}

	select {
	case msg := <-ch:
		t.Errorf("pending change survived refresh: %q", msg)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestEventIDsIncrease(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Refreshed()
	b.Refreshed()

	for _, want := range []string{"id: 1\n", "id: 2\n"} {
		select {
		case msg := <-ch:
			if !strings.HasPrefix(string(msg), want) {
				t.Errorf("message %q does not start with %q", msg, want)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for refresh event")
		}
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(Event{Type: TypeNoteUpdated, Data: map[string]int64{"id": 1}})
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: note.updated") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Refreshed()
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: TypeNoteUpdated, Data: map[string]int64{"id": 1}})
	b.PublishNoteEvent(KindUpdated, 1)
	b.Refreshed()
}
