package botclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"bananastore/pkg/domain"
)

func TestReplySendsInventoryAndKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/bot/chat" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("x-api-key"); got != "k" {
			t.Errorf("expected api key header, got %q", got)
		}
		var body chatRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Message != "cheapest?" || len(body.Products) != 1 {
			t.Errorf("unexpected body: %+v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "reply": "Try the 30 day key."})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, APIKey: "k"})
	reply, err := client.Reply(context.Background(), "cheapest?", []domain.Product{{ID: "p-1"}})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply != "Try the 30 day key." {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestReplyFallsBackWhenEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	reply, err := NewClient(Config{BaseURL: srv.URL}).Reply(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply != DefaultReply {
		t.Fatalf("expected default reply, got %q", reply)
	}
}

func TestSendOrderReportsBridgeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("bot offline"))
	}))
	defer srv.Close()

	err := NewClient(Config{BaseURL: srv.URL}).SendOrder(context.Background(), domain.Order{ID: "ord-1"}, nil, domain.PaymentCard)
	var bridgeErr *BridgeError
	if !errors.As(err, &bridgeErr) {
		t.Fatalf("expected BridgeError, got %v", err)
	}
	if bridgeErr.Error() != "Bridge request failed (503): bot offline" {
		t.Fatalf("unexpected error text %q", bridgeErr.Error())
	}
}
