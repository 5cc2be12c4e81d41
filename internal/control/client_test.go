package control

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestClientAgainstRouter(t *testing.T) {
	m := newMock()
	srv := httptest.NewServer(NewRouter(m, discard()))
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()

	st, err := c.State(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.RunID != "r-1" || len(st.Steps) != 1 {
		t.Errorf("state = %+v", st)
	}

	st, err = c.Pause(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Paused {
		t.Error("expected paused state in response")
	}
	if st, err = c.Resume(ctx); err != nil || st.Paused {
		t.Errorf("resume = %+v, %v", st, err)
	}
	if _, err := c.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	_, err = c.Pause(ctx)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 APIError, got %v", err)
	}
	if apiErr.Message != "run is not active" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestClientAddsScheme(t *testing.T) {
	c := NewClient("127.0.0.1:7070/")
	if c.baseURL != "http://127.0.0.1:7070" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
}

func TestClientRetries5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"run_id":"r-9","running":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithClientBackoff(time.Millisecond))
	st, err := c.State(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.RunID != "r-9" || calls.Load() != 3 {
		t.Errorf("state = %+v after %d calls", st, calls.Load())
	}
}

func TestClientGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithClientBackoff(time.Millisecond))
	_, err := c.State(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != maxRetries+1 {
		t.Errorf("calls = %d, want %d", calls.Load(), maxRetries+1)
	}
}

func TestClientContextCancelDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	c := NewClient(srv.URL, WithClientBackoff(time.Second))
	if _, err := c.State(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}
