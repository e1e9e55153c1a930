package middleware

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tutordesk/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: logger.ERROR, Service: "test"})
}

func TestActorRateLimiterEnforcesLimit(t *testing.T) {
	limiter := NewActorRateLimiter(3, time.Minute, nil, testLogger())
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		if !limiter.Allow("tutor-1") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if limiter.Allow("tutor-1") {
		t.Error("fourth request inside the window should be rejected")
	}
	if !limiter.Allow("tutor-2") {
		t.Error("a different actor must have its own budget")
	}
}

func TestActorRateLimiterEmptyActorBypasses(t *testing.T) {
	limiter := NewActorRateLimiter(1, time.Minute, nil, testLogger())
	defer limiter.Stop()

	for i := 0; i < 10; i++ {
		if !limiter.Allow("") {
			t.Fatal("empty actor key must never be limited")
		}
	}
}

func TestActorRateLimiterConcurrentCallersNeverExceedLimit(t *testing.T) {
	const limit = 5
	limiter := NewActorRateLimiter(limit, time.Minute, nil, testLogger())
	defer limiter.Stop()

	var allowed int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow("student-1") {
				atomic.AddInt32(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&allowed); got != limit {
		t.Errorf("expected exactly %d allowed under race, got %d", limit, got)
	}
}
