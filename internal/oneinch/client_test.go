package oneinch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestQuote(t *testing.T) {
	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Query().Get("src") == "" || r.URL.Query().Get("amount") == "" {
			t.Error("expected src and amount query params")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"dstAmount":"123456"}`))
	}))
	defer server.Close()

	c := New("test-key", 1, WithBaseURL(server.URL))

	raw, err := c.Quote(context.Background(), "0xaaa", "0xbbb", "1000000000000000000")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if gotPath != "/1/quote" {
		t.Errorf("path = %s, want /1/quote", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q, want bearer key", gotAuth)
	}

	// The payload is passed through untouched.
	var payload map[string]string
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("unmarshal passthrough payload: %v", err)
	}
	if payload["dstAmount"] != "123456" {
		t.Errorf("dstAmount = %s, want 123456", payload["dstAmount"])
	}
}

func TestSwapTx_ErrorStatusSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"insufficient liquidity"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	c := New("test-key", 1, WithBaseURL(server.URL))

	_, err := c.SwapTx(context.Background(), "0xaaa", "0xbbb", "1000", "0xccc", "1")
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestQuote_NoKeySendsNoAuthHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("expected no auth header without an api key")
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := New("", 1, WithBaseURL(server.URL))
	if _, err := c.Quote(context.Background(), "0xaaa", "0xbbb", "1"); err != nil {
		t.Fatalf("quote: %v", err)
	}
}
