package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestNotifyPostsEventPayload(t *testing.T) {
	var mu sync.Mutex
	var got eventPayload
	received := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&got)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		close(received)
	}))
	defer srv.Close()

	n := New(srv.URL, nil)
	if err := n.Notify(context.Background(), "appr1"); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never received a request")
	}

	mu.Lock()
	defer mu.Unlock()
	if got.Event != "approval.created" || got.ApprovalRequestID != "appr1" {
		t.Fatalf("got %+v", got)
	}
}

func TestUpdatePostsResolvedEvent(t *testing.T) {
	received := make(chan eventPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p eventPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		received <- p
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, nil)
	if err := n.Update(context.Background(), "appr1", "approved", "human1"); err != nil {
		t.Fatalf("Update: %v", err)
	}

	select {
	case p := <-received:
		if p.Event != "approval.resolved" || p.Status != "approved" || p.Actor != "human1" {
			t.Fatalf("got %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never received a request")
	}
}

func TestNotifyNeverFailsOnUnreachableURL(t *testing.T) {
	n := New("http://127.0.0.1:1/unreachable", nil)
	if err := n.Notify(context.Background(), "appr1"); err != nil {
		t.Fatalf("Notify must never return an error: %v", err)
	}
}
