package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestIdempotencyReplaysCachedResponse(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Minute)
	defer store.Stop()

	var calls int32
	handler := Idempotency(store, "Idempotency-Key")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"b1"}}`))
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", nil)
		req.Header.Set("Idempotency-Key", "key-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201, got %d", i, rec.Code)
		}
		if rec.Body.String() != `{"data":{"id":"b1"}}` {
			t.Fatalf("attempt %d: unexpected body %q", i, rec.Body.String())
		}
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("handler should run once, ran %d times", got)
	}
}

func TestIdempotencyDoesNotCacheFailures(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Minute)
	defer store.Stop()

	var calls int32
	handler := Idempotency(store, "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", nil)
		req.Header.Set("Idempotency-Key", "key-2")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("failed responses must not be replayed, handler ran %d times", got)
	}
}

func TestIdempotencyWithoutKeyPassesThrough(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Minute)
	defer store.Stop()

	var calls int32
	handler := Idempotency(store, "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/x", nil))
	}

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("requests without keys must not be deduplicated, got %d calls", got)
	}
}

func TestIdempotencyStoreEvictsWhenFull(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Minute)
	defer store.Stop()
	store.maxEntries = 2

	store.Set("a", &CachedResponse{StatusCode: 200})
	time.Sleep(2 * time.Millisecond)
	store.Set("b", &CachedResponse{StatusCode: 200})
	time.Sleep(2 * time.Millisecond)
	store.Set("c", &CachedResponse{StatusCode: 200})

	if _, found := store.Get("a"); found {
		t.Error("oldest entry should have been evicted")
	}
	if _, found := store.Get("c"); !found {
		t.Error("newest entry must survive eviction")
	}
}
