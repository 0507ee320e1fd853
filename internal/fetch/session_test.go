package fetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxRetries:  attempts,
		BackoffBase: 2,
		Scale:       time.Millisecond,
		BackoffCap:  10 * time.Millisecond,
		MinWait:     time.Millisecond,
	}
}

func newTestSession(t *testing.T, attempts int) *Session {
	t.Helper()
	return NewSession(SessionConfig{
		Timeout: 5 * time.Second,
		Policy:  fastPolicy(attempts),
	}, nil)
}

func TestPolicy_Wait(t *testing.T) {
	p := Policy{
		MaxRetries:  6,
		BackoffBase: 1.8,
		Scale:       time.Second,
		BackoffCap:  60 * time.Second,
		MinWait:     200 * time.Millisecond,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 1800 * time.Millisecond},
		{2, 3240 * time.Millisecond},
		{20, 60 * time.Second}, // capped
	}
	for _, tt := range tests {
		got := p.Wait(tt.attempt)
		if got != tt.want {
			t.Errorf("Wait(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestPolicy_WaitFloor(t *testing.T) {
	p := Policy{MaxRetries: 3, BackoffBase: 1.8, Scale: time.Nanosecond, MinWait: 200 * time.Millisecond}
	if got := p.Wait(0); got != 200*time.Millisecond {
		t.Errorf("expected floor 200ms, got %v", got)
	}
}

func TestPolicy_WaitJitterBounds(t *testing.T) {
	p := Policy{MaxRetries: 6, BackoffBase: 2, Scale: time.Second, Jitter: 400 * time.Millisecond, MinWait: 200 * time.Millisecond}
	for i := 0; i < 50; i++ {
		got := p.Wait(1)
		if got < 1600*time.Millisecond || got > 2400*time.Millisecond {
			t.Fatalf("Wait(1) = %v outside jitter band", got)
		}
	}
}

func TestSession_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := newTestSession(t, 6)
	var out struct {
		OK bool `json:"ok"`
	}
	err := s.GetJSON(context.Background(), srv.URL, nil, &out)
	require.NoError(t, err)
	require.True(t, out.OK)
	require.EqualValues(t, 3, calls.Load())
}

func TestSession_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "always down", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := newTestSession(t, 3)
	_, err := s.GetBytes(context.Background(), srv.URL, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "max retries exceeded")
	require.EqualValues(t, 3, calls.Load())
}

func TestSession_ClientErrorIsFatal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such table", http.StatusNotFound)
	}))
	defer srv.Close()

	s := newTestSession(t, 6)
	_, err := s.GetBytes(context.Background(), srv.URL, nil)
	require.Error(t, err)
	require.True(t, IsStatus(err, http.StatusNotFound))
	require.EqualValues(t, 1, calls.Load(), "4xx must not retry")
}

func TestSession_RespectsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	s := newTestSession(t, 3)
	start := time.Now()
	data, err := s.GetBytes(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	require.Equal(t, "ok", string(data))
	require.GreaterOrEqual(t, time.Since(start), time.Second, "Retry-After hint should outrank the fast policy")
}

func TestSession_ReplaysPostBody(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Query string `json:"query"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		require.Equal(t, "hello", in.Query)
		if calls.Add(1) == 1 {
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"done":true}`))
	}))
	defer srv.Close()

	s := newTestSession(t, 3)
	var out struct {
		Done bool `json:"done"`
	}
	err := s.PostJSON(context.Background(), srv.URL, map[string]string{"query": "hello"}, &out)
	require.NoError(t, err)
	require.True(t, out.Done)
	require.EqualValues(t, 2, calls.Load())
}

func TestSession_ContextCancelDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewSession(SessionConfig{
		Timeout: 5 * time.Second,
		Policy: Policy{
			MaxRetries:  5,
			BackoffBase: 2,
			Scale:       10 * time.Second, // long waits so cancellation hits mid-backoff
			MinWait:     10 * time.Second,
		},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := s.GetBytes(ctx, srv.URL, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestSession_QueryParams(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	s := newTestSession(t, 1)
	params := url.Values{}
	params.Set("date", "2020-01-01")
	params.Set("targetClassificationId", "128")
	var out map[string]any
	require.NoError(t, s.GetJSON(context.Background(), srv.URL, params, &out))
	require.Equal(t, "2020-01-01", gotQuery.Get("date"))
	require.Equal(t, "128", gotQuery.Get("targetClassificationId"))
}

func TestSession_RedactsConfiguredParam(t *testing.T) {
	s := NewSession(SessionConfig{
		Timeout:     time.Second,
		Policy:      fastPolicy(1),
		RedactParam: "securityToken",
	}, nil)

	in := "https://example.org/api?documentType=A65&securityToken=abc123"
	got := s.redact(in)
	require.NotContains(t, got, "abc123")
	require.Contains(t, got, "securityToken=REDACTED")
	require.Contains(t, got, "documentType=A65")

	// Without the parameter the URL passes through untouched.
	plain := "https://example.org/api?documentType=A65"
	require.Equal(t, plain, s.redact(plain))

	// Without configuration nothing is touched.
	bare := newTestSession(t, 1)
	require.Equal(t, in, bare.redact(in))
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"7", 7 * time.Second},
		{"-3", 0},
		{"junk", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	at := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	got := parseRetryAfter(at)
	if got < 25*time.Second || got > 30*time.Second {
		t.Errorf("parseRetryAfter(date) = %v, want about 30s", got)
	}
}
