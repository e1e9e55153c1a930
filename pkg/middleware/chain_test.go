package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// clearDeadlineBehind reports whether a handler behind the given
// middleware stack can still reach the connection through
// http.ResponseController.
func clearDeadlineBehind(t *testing.T, wrap func(http.Handler) http.Handler, request func(url string) *http.Request) error {
	t.Helper()

	result := make(chan error, 1)
	handler := wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result <- http.NewResponseController(w).SetWriteDeadline(time.Time{})
		w.WriteHeader(http.StatusOK)
	}))

	server := httptest.NewServer(handler)
	defer server.Close()

	resp, err := http.DefaultClient.Do(request(server.URL))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	select {
	case err := <-result:
		return err
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
		return nil
	}
}

func plainGet(path string) func(url string) *http.Request {
	return func(url string) *http.Request {
		req, _ := http.NewRequest(http.MethodGet, url+path, nil)
		return req
	}
}

// A subscription stream clears the server write deadline from inside the
// full application middleware chain; every wrapping writer must expose
// the underlying one or the stream dies at WriteTimeout.
func TestWriteDeadlineReachableThroughAppChain(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Minute)
	defer store.Stop()
	limiter := NewActorRateLimiter(100, time.Minute, DefaultActorExtractor, testLogger())
	defer limiter.Stop()

	wrap := func(next http.Handler) http.Handler {
		h := next
		h = Idempotency(store, "Idempotency-Key")(h)
		h = RequestTimeout(50*time.Millisecond, "/stream")(h)
		h = ActorRateLimit(limiter)(h)
		h = ContentTypeValidation(testLogger())(h)
		h = MaxRequestSize(1 << 20)(h)
		h = RequestLogging(testLogger())(h)
		h = Recovery(testLogger())(h)
		return h
	}

	if err := clearDeadlineBehind(t, wrap, plainGet("/stream")); err != nil {
		t.Fatalf("SetWriteDeadline through the app chain: %v", err)
	}
}

func TestWriteDeadlineReachableThroughEachWrapper(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Minute)
	defer store.Stop()

	tests := []struct {
		name    string
		wrap    func(http.Handler) http.Handler
		request func(url string) *http.Request
	}{
		{
			name:    "request logging writer",
			wrap:    RequestLogging(testLogger()),
			request: plainGet("/"),
		},
		{
			name:    "timeout writer",
			wrap:    RequestTimeout(time.Second),
			request: plainGet("/"),
		},
		{
			name: "idempotency capture writer",
			wrap: Idempotency(store, "Idempotency-Key"),
			request: func(url string) *http.Request {
				req, _ := http.NewRequest(http.MethodPost, url+"/", nil)
				req.Header.Set("Idempotency-Key", "deadline-check")
				return req
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := clearDeadlineBehind(t, tt.wrap, tt.request); err != nil {
				t.Fatalf("SetWriteDeadline: %v", err)
			}
		})
	}
}
