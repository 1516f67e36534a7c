package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

func newTestClient(url string, sleeps *[]time.Duration) *Client {
	return NewClient(ClientConfig{
		BaseURL:    url,
		Token:      "secret-token",
		MaxRetries: 3,
		Sleep: func(_ context.Context, d time.Duration) error {
			if sleeps != nil {
				*sleeps = append(*sleeps, d)
			}
			return nil
		},
	})
}

func TestClientSendsBearerTokenAndParams(t *testing.T) {
	var gotAuth, gotQuery, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.Query().Get("status")
		gotPath = r.URL.Path
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL+"/api/v1/", nil)
	body, err := c.Do(context.Background(), Request{Endpoint: "bookings/mine", Params: map[string]string{"status": "active"}})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if string(body) != `{"data":[]}` {
		t.Errorf("unexpected body %q", body)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Expected bearer token, got %q", gotAuth)
	}
	if gotPath != "/api/v1/bookings/mine" {
		t.Errorf("Expected path /api/v1/bookings/mine, got %q", gotPath)
	}
	if gotQuery != "active" {
		t.Errorf("Expected status=active, got %q", gotQuery)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	var sleeps []time.Duration
	c := newTestClient(srv.URL, &sleeps)
	if _, err := c.Do(context.Background(), Request{Endpoint: "services"}); err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("Expected 3 attempts, got %d", n)
	}
	if len(sleeps) != 2 || sleeps[0] != time.Second || sleeps[1] != 2*time.Second {
		t.Errorf("Expected back-off of 1s then 2s, got %v", sleeps)
	}
}

func TestClientHonoursRetryAfter(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	var sleeps []time.Duration
	c := newTestClient(srv.URL, &sleeps)
	if _, err := c.Do(context.Background(), Request{Endpoint: "services"}); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if len(sleeps) != 1 || sleeps[0] != 7*time.Second {
		t.Errorf("Expected a single 7s wait, got %v", sleeps)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not_found","message":"booking bk-9 not found"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)
	_, err := c.Do(context.Background(), Request{Endpoint: "bookings/bk-9"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "booking bk-9 not found" {
		t.Errorf("Unexpected APIError %+v", apiErr)
	}
	if !IsStatus(err, http.StatusNotFound) {
		t.Error("IsStatus should match 404")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("Expected 1 attempt, got %d", n)
	}
}

func TestClientRetriesWritesOnlyWithIdempotencyKey(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)

	c.Do(context.Background(), Request{Method: http.MethodPost, Endpoint: "bookings/bk-1/attendance", Body: []byte(`{}`)})
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("Expected a bare POST to be tried once, got %d", n)
	}

	atomic.StoreInt32(&calls, 0)
	c.Do(context.Background(), Request{
		Method:   http.MethodPost,
		Endpoint: "bookings/bk-1/attendance",
		Body:     []byte(`{}`),
		Headers:  map[string]string{"Idempotency-Key": "k-1"},
	})
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("Expected an idempotent POST to be retried, got %d attempts", n)
	}
}

func TestClientCircuitBreakerOpens(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, MaxRetries: 1})

	for i := 0; i < 5; i++ {
		c.Do(context.Background(), Request{Endpoint: "services"})
	}
	if c.BreakerState() != gobreaker.StateOpen {
		t.Fatalf("Expected breaker to be open, got %s", c.BreakerState())
	}

	_, err := c.Do(context.Background(), Request{Endpoint: "services"})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("Expected ErrOpenState, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 5 {
		t.Errorf("Expected open breaker to shed the request, got %d calls", n)
	}
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, MaxRetries: 1})
	for i := 0; i < 10; i++ {
		c.Do(context.Background(), Request{Endpoint: "services"})
	}
	if c.BreakerState() != gobreaker.StateClosed {
		t.Errorf("Expected breaker to stay closed on 409s, got %s", c.BreakerState())
	}
}
