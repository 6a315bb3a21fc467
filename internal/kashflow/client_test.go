package kashflow

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kamar-Folarin/kashflow-sync/internal/config"
	"github.com/Kamar-Folarin/kashflow-sync/internal/errors"
)

// fakeKashFlow serves the session token exchange plus a configurable API handler
type fakeKashFlow struct {
	t        *testing.T
	server   *httptest.Server
	logins   int32
	api      http.HandlerFunc
	putBody  map[string]any
	sessions int32
}

func newFakeKashFlow(t *testing.T) *fakeKashFlow {
	f := &fakeKashFlow{t: t}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeKashFlow) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/sessiontoken" {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		require.NoError(f.t, json.Unmarshal(body, &payload))

		switch r.Method {
		case http.MethodPost:
			atomic.AddInt32(&f.logins, 1)
			assert.Equal(f.t, "user", payload["username"])
			assert.Equal(f.t, "secret", payload["password"])
			w.Write([]byte(`{"TemporaryToken":"temp-1","MemorableWordList":[1,{"Position":3},{"pos":7}]}`))
		case http.MethodPut:
			f.putBody = payload
			n := atomic.AddInt32(&f.sessions, 1)
			json.NewEncoder(w).Encode(map[string]string{"SessionToken": "session-" + string(rune('0'+n))})
		}
		return
	}
	f.api(w, r)
}

func testKashFlowConfig(baseURL string) *config.KashFlowConfig {
	cfg := config.DefaultKashFlowConfig()
	cfg.APIBaseURL = baseURL
	cfg.Username = "user"
	cfg.Password = "secret"
	cfg.MemorableWord = "lettuces"
	cfg.Timeout = 5 * time.Second
	cfg.RateLimit = config.RateLimitConfig{
		MaxRetries:      3,
		InitialBackoff:  time.Millisecond,
		MaxBackoff:      5 * time.Millisecond,
		RetryMultiplier: 2,
		MinRetryAfter:   time.Millisecond,
	}
	return cfg
}

func newTestClient(t *testing.T, f *fakeKashFlow, opts ...ClientOption) *Client {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewClient(testKashFlowConfig(f.server.URL), logger, opts...)
}

func TestClientAuthenticatesWithSessionToken(t *testing.T) {
	f := newFakeKashFlow(t)
	f.api = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "KfToken session-1", r.Header.Get("Authorization"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		w.Write([]byte(`{"Data":[{"Code":"A"}],"MetaData":{"TotalRecords":1}}`))
	}
	client := newTestClient(t, f)

	for i := 0; i < 3; i++ {
		raw, err := client.Get(context.Background(), "/customers", url.Values{"page": {"2"}})
		require.NoError(t, err)
		assert.NotNil(t, raw)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.logins), "token is cached")

	chars := f.putBody["MemorableWordList"].([]any)
	require.Len(t, chars, 3)
	assert.Equal(t, map[string]any{"Position": float64(1), "Value": "l"}, chars[0])
	assert.Equal(t, map[string]any{"Position": float64(3), "Value": "t"}, chars[1])
	assert.Equal(t, map[string]any{"Position": float64(7), "Value": "e"}, chars[2])
	assert.Equal(t, "temp-1", f.putBody["TemporaryToken"])
}

func TestClientTokenExpires(t *testing.T) {
	f := newFakeKashFlow(t)
	var seen []string
	f.api = func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		w.Write([]byte(`[]`))
	}
	clk := testclock.NewClock(time.Now())
	client := newTestClient(t, f, WithClock(clk))

	_, err := client.Get(context.Background(), "/projects", nil)
	require.NoError(t, err)
	clk.Advance(44 * time.Minute)
	_, err = client.Get(context.Background(), "/projects", nil)
	require.NoError(t, err)
	clk.Advance(2 * time.Minute)
	_, err = client.Get(context.Background(), "/projects", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"KfToken session-1", "KfToken session-1", "KfToken session-2"}, seen)
}

func TestClientInvalidatesTokenOn401(t *testing.T) {
	f := newFakeKashFlow(t)
	var calls int32
	f.api = func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "KfToken session-2", r.Header.Get("Authorization"))
		w.Write([]byte(`{"Data":[]}`))
	}
	client := newTestClient(t, f)

	_, err := client.Get(context.Background(), "/invoices", nil)
	require.Error(t, err)
	assert.False(t, errors.IsRetriable(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "401 is not retried")

	_, err = client.Get(context.Background(), "/invoices", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&f.logins))
}

func TestClientRetryClassification(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		wantCalls int32
		wantErr   bool
		retriable bool
	}{
		{name: "server error then success", statuses: []int{500, 502, 200}, wantCalls: 3},
		{name: "rate limited then success", statuses: []int{429, 200}, wantCalls: 2},
		{name: "not found is fatal", statuses: []int{404}, wantCalls: 1, wantErr: true},
		{name: "bad request is fatal", statuses: []int{400}, wantCalls: 1, wantErr: true},
		{name: "retries exhausted", statuses: []int{503, 503, 503, 503, 503}, wantCalls: 4, wantErr: true, retriable: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeKashFlow(t)
			var calls int32
			f.api = func(w http.ResponseWriter, r *http.Request) {
				n := atomic.AddInt32(&calls, 1)
				status := tt.statuses[min(int(n), len(tt.statuses))-1]
				if status == http.StatusTooManyRequests {
					w.Header().Set("Retry-After", "0")
				}
				w.WriteHeader(status)
				if status == http.StatusOK {
					w.Write([]byte(`{"Data":[{"Number":1}]}`))
				}
			}
			client := newTestClient(t, f)

			raw, err := client.Get(context.Background(), "/quotes", nil)
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&calls))
			if !tt.wantErr {
				require.NoError(t, err)
				assert.NotNil(t, raw)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.retriable, errors.IsRetriable(err))
		})
	}
}

func TestClientStopsOnCancelledContext(t *testing.T) {
	f := newFakeKashFlow(t)
	f.api = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	client := newTestClient(t, f, WithRetryConfig(config.RateLimitConfig{
		MaxRetries:      10,
		InitialBackoff:  time.Hour,
		MaxBackoff:      time.Hour,
		RetryMultiplier: 2,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Get(ctx, "/purchases", nil)
	require.Error(t, err)
}

func TestLoginRejectsOutOfRangePosition(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"TemporaryToken":"t","MemorableWordList":[{"Position":42}]}`))
	}))
	defer server.Close()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	client := NewClient(testKashFlowConfig(server.URL), logger)

	_, err := client.Get(context.Background(), "/customers", nil)
	require.Error(t, err)
	assert.False(t, errors.IsRetriable(err))
	assert.Contains(t, err.Error(), "out of range")
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	floor := 2 * time.Second

	assert.Equal(t, floor, parseRetryAfter("", now, floor))
	assert.Equal(t, floor, parseRetryAfter("1", now, floor))
	assert.Equal(t, 30*time.Second, parseRetryAfter("30", now, floor))
	assert.Equal(t, 90*time.Second, parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now, floor))
	assert.Equal(t, floor, parseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now, floor))
	assert.Equal(t, floor, parseRetryAfter("soon", now, floor))
}

func TestParsePositions(t *testing.T) {
	got := parsePositions([]any{float64(2), map[string]any{"position": float64(4)}, map[string]any{"Other": 1}, "x"})
	assert.Equal(t, []int{2, 4}, got)
}
