package sandbox

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWarmPoolClaim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/claim/env-1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		fmt.Fprint(w, `{"sandbox_id":"warm-1"}`)
	}))
	defer srv.Close()

	pool := NewWarmPool(srv.URL, nil)
	id, ok := pool.Claim(context.Background(), "env-1")
	if !ok || id != "warm-1" {
		t.Fatalf("claim = (%q, %v), want (warm-1, true)", id, ok)
	}
}

func TestWarmPoolClaimPlainBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `"warm-2"`)
	}))
	defer srv.Close()

	pool := NewWarmPool(srv.URL, nil)
	id, ok := pool.Claim(context.Background(), "env-1")
	if !ok || id != "warm-2" {
		t.Fatalf("claim = (%q, %v), want (warm-2, true)", id, ok)
	}
}

func TestWarmPoolEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	pool := NewWarmPool(srv.URL, nil)
	if _, ok := pool.Claim(context.Background(), "env-1"); ok {
		t.Fatal("expected miss on 404")
	}
}

func TestWarmPoolUnreachable(t *testing.T) {
	pool := NewWarmPool("http://127.0.0.1:1", nil)
	if _, ok := pool.Claim(context.Background(), "env-1"); ok {
		t.Fatal("expected miss on connection error")
	}
}

func TestWarmPoolDisabled(t *testing.T) {
	var pool *WarmPool
	if _, ok := pool.Claim(context.Background(), "env-1"); ok {
		t.Fatal("nil pool must report miss")
	}
	if _, ok := NewWarmPool("", nil).Claim(context.Background(), "env-1"); ok {
		t.Fatal("empty base url must report miss")
	}
}
