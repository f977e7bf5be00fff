package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookNotifierPostsAlert(t *testing.T) {
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	err := n.Notify(context.Background(), Alert{
		ConversationID: "c1", MessageID: 42, CustomerName: "Ann", Content: "anyone?",
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.ConversationID != "c1" || got.MessageID != 42 {
		t.Fatalf("unexpected alert: %+v", got)
	}
}

func TestWebhookNotifierRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	if err := n.Notify(context.Background(), Alert{ConversationID: "c1"}); err == nil {
		t.Fatalf("expected error on 502")
	}
}

func TestRegistryRoutesByName(t *testing.T) {
	reg := NewRegistry()
	reg.Register("log", func(ctx context.Context) (Notifier, error) {
		return LogNotifier{}, nil
	})

	if _, err := reg.Get(context.Background(), " LOG "); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := reg.Get(context.Background(), "pager"); err == nil {
		t.Fatalf("expected error for unknown notifier")
	}
}
