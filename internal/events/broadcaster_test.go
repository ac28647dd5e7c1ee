package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	b := NewBroadcaster(time.Hour, func() any { return map[string]int{"frames": 3} })
	id1, ch1 := b.Subscribe()
	_, ch2 := b.Subscribe()

	b.Publish()
	for _, ch := range []<-chan []byte{ch1, ch2} {
		select {
		case data := <-ch:
			if string(data) != `{"frames":3}` {
				t.Fatalf("event = %s", data)
			}
		default:
			t.Fatal("no event delivered")
		}
	}

	b.Unsubscribe(id1)
	if _, ok := <-ch1; ok {
		t.Fatal("channel still open after unsubscribe")
	}
	if b.Clients() != 1 {
		t.Fatalf("clients = %d", b.Clients())
	}
}

func TestPublishDropsForSlowClient(t *testing.T) {
	b := NewBroadcaster(time.Hour, func() any { return 1 })
	_, ch := b.Subscribe()
	for i := 0; i < 5; i++ {
		b.Publish()
	}
	if len(ch) != cap(ch) {
		t.Fatalf("queued %d events, want %d", len(ch), cap(ch))
	}
}

func TestServeHTTPStreamsEvents(t *testing.T) {
	b := NewBroadcaster(10*time.Millisecond, func() any { return map[string]bool{"ok": true} })
	b.Start()
	defer b.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	b.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), `data: {"ok":true}`) {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if b.Clients() != 0 {
		t.Fatal("client still subscribed after disconnect")
	}
}

func TestStopEndsStreams(t *testing.T) {
	b := NewBroadcaster(time.Hour, func() any { return nil })
	done := make(chan struct{})
	go func() {
		b.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/events", nil))
		close(done)
	}()

	b.Stop()
	b.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not end after Stop")
	}
}
