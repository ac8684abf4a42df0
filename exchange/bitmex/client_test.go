package bitmex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xyths/cryptoexchange/exchange"
	"github.com/xyths/cryptoexchange/signer"
	"go.uber.org/zap/zaptest"
)

const (
	testKey    = "LAqUlngMIQkIUjXMUreyu3qn"
	testSecret = "chNOOS4KvNXR_Xq4k4c9qsfoKWvnDecLATCRlcBwyKDYnWgO"
)

// recorder captures every envelope sent and answers with reply.
type recorder struct {
	mu    sync.Mutex
	envs  []*exchange.Envelope
	reply func(n int, env *exchange.Envelope) (*exchange.Response, error)
}

func (r *recorder) Send(_ context.Context, env *exchange.Envelope) (*exchange.Response, error) {
	r.mu.Lock()
	r.envs = append(r.envs, env)
	n := len(r.envs)
	r.mu.Unlock()
	return r.reply(n, env)
}

func (r *recorder) sent() []*exchange.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*exchange.Envelope(nil), r.envs...)
}

type sleeps struct {
	mu sync.Mutex
	d  []time.Duration
}

func (s *sleeps) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.d = append(s.d, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleeps) all() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.d...)
}

func status(code int, body string) (*exchange.Response, error) {
	return &exchange.Response{StatusCode: code, Body: []byte(body)}, nil
}

func newTestClient(t *testing.T, cfg Config, tr exchange.Transport) (*Client, *sleeps) {
	if cfg.Host == "" {
		cfg.Host = TestnetHost
	}
	c, err := New(cfg, tr, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	c.now = func() time.Time { return time.Unix(1518064231, 0) }
	s := &sleeps{}
	c.sleep = s.sleep
	return c, s
}

func keyConfig() Config {
	return Config{Key: testKey, Secret: testSecret}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, nil, nil)
	assert.Equal(t, exchange.KindConfiguration, exchange.KindOf(err))

	_, err = New(Config{Host: TestnetHost, Key: testKey}, nil, nil)
	assert.Equal(t, exchange.KindConfiguration, exchange.KindOf(err))

	_, err = New(Config{Host: TestnetHost, OrderIDPrefix: "fourteen_chars"}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, exchange.KindConfiguration, exchange.KindOf(err))

	c, err := New(Config{Host: TestnetHost, OrderIDPrefix: "thirteen_char"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "thirteen_char", c.OrderIDPrefix())

	c, err = New(Config{Host: TestnetHost + "/"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultOrderIDPrefix, c.OrderIDPrefix())
	assert.Equal(t, TestnetHost, c.Host())
	assert.Equal(t, DefaultTimeout, c.timeout)
	assert.Equal(t, DefaultRetryConfig(), c.retry)
	assert.False(t, c.Authenticated())
}

func TestExecute_SignedOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expires, _ := strconv.ParseInt(r.Header.Get(HeaderAPIExpires), 10, 64)
		assert.Equal(t, int64(1518064236), expires)
		assert.Equal(t, testKey, r.Header.Get(HeaderAPIKey))
		want, _ := signer.Sign(testSecret, exchange.Verb(r.Method), r.URL.RequestURI(), nil, expires, nil)
		if r.Header.Get(HeaderAPISignature) != want {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`[{"symbol":"XBTUSD","currentQty":100,"avgEntryPrice":6500.5,"isOpen":true}]`))
	}))
	defer srv.Close()

	cfg := keyConfig()
	cfg.Host = srv.URL
	c, _ := newTestClient(t, cfg, nil)

	raw, err := c.Execute(context.Background(), &exchange.Request{
		Path:  "/position",
		Query: exchange.Params{}.Add("filter", `{"symbol": "XBTUSD"}`),
	})
	require.NoError(t, err)
	assert.Contains(t, string(raw), "XBTUSD")

	positions, err := c.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(100), positions[0].CurrentQty)
	assert.Equal(t, "6500.5", positions[0].AvgEntryPrice.String())
}

func TestExecute_ResignsEveryAttempt(t *testing.T) {
	tr := &recorder{reply: func(n int, env *exchange.Envelope) (*exchange.Response, error) {
		if n < 3 {
			return status(http.StatusServiceUnavailable, `{"error":{"message":"overloaded"}}`)
		}
		return status(http.StatusOK, `{}`)
	}}
	c, s := newTestClient(t, keyConfig(), tr)
	clock := time.Unix(1518064231, 0)
	c.now = func() time.Time {
		clock = clock.Add(10 * time.Second)
		return clock
	}

	_, err := c.Execute(context.Background(), &exchange.Request{Path: "/order", Body: map[string]string{"symbol": "XBTUSD"}})
	require.NoError(t, err)

	envs := tr.sent()
	require.Len(t, envs, 3)
	seen := map[string]bool{}
	for _, env := range envs {
		assert.Equal(t, "POST", env.Method)
		assert.Equal(t, `{"symbol":"XBTUSD"}`, string(env.Body))
		expires, err := strconv.ParseInt(env.Header.Get(HeaderAPIExpires), 10, 64)
		require.NoError(t, err)
		want, err := signer.Sign(testSecret, exchange.POST, "/api/v1/order", nil, expires, env.Body)
		require.NoError(t, err)
		assert.Equal(t, want, env.Header.Get(HeaderAPISignature))
		seen[want] = true
	}
	assert.Len(t, seen, 3)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, s.all())
}

func TestExecute_RateLimitedIsBounded(t *testing.T) {
	tr := &recorder{reply: func(int, *exchange.Envelope) (*exchange.Response, error) {
		return status(http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`)
	}}
	c, s := newTestClient(t, keyConfig(), tr)

	_, err := c.Execute(context.Background(), &exchange.Request{Path: "/position"})
	require.Error(t, err)
	assert.Equal(t, exchange.KindRateLimited, exchange.KindOf(err))

	var e *exchange.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 5, e.Attempts)
	assert.Equal(t, http.StatusTooManyRequests, e.StatusCode)
	assert.Contains(t, e.Body, "slow down")
	assert.Len(t, tr.sent(), 5)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, s.all())
}

func TestExecute_ServiceUnavailableKeepsKind(t *testing.T) {
	tr := &recorder{reply: func(int, *exchange.Envelope) (*exchange.Response, error) {
		return status(http.StatusServiceUnavailable, "")
	}}
	cfg := keyConfig()
	cfg.Retry = RetryConfig{MaxAttempts: 3, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 150 * time.Millisecond}
	c, s := newTestClient(t, cfg, tr)

	_, err := c.Execute(context.Background(), &exchange.Request{Path: "/position"})
	assert.Equal(t, exchange.KindServiceUnavailable, exchange.KindOf(err))
	assert.True(t, exchange.IsRetryable(err))
	assert.Len(t, tr.sent(), 3)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 150 * time.Millisecond}, s.all())
}

func TestExecute_TimeoutRetriesWithoutDelay(t *testing.T) {
	tr := &recorder{reply: func(n int, env *exchange.Envelope) (*exchange.Response, error) {
		if n == 1 {
			return nil, exchange.TransportError(context.DeadlineExceeded, true)
		}
		return status(http.StatusOK, `[]`)
	}}
	c, s := newTestClient(t, keyConfig(), tr)

	raw, err := c.Execute(context.Background(), &exchange.Request{Path: "/position"})
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(raw))
	assert.Equal(t, []time.Duration{0}, s.all())
}

func TestExecute_ConnectionErrorExhausts(t *testing.T) {
	tr := &recorder{reply: func(int, *exchange.Envelope) (*exchange.Response, error) {
		return nil, exchange.TransportError(errors.New("connection refused"), false)
	}}
	c, _ := newTestClient(t, keyConfig(), tr)

	_, err := c.Execute(context.Background(), &exchange.Request{Path: "/position"})
	require.Error(t, err)
	assert.Equal(t, exchange.KindTransport, exchange.KindOf(err))
	assert.False(t, exchange.IsTimeout(err))
	assert.Contains(t, err.Error(), "connection refused")
	assert.Len(t, tr.sent(), 5)
}

func TestExecute_NotFound(t *testing.T) {
	tr := &recorder{reply: func(int, *exchange.Envelope) (*exchange.Response, error) {
		return status(http.StatusNotFound, `{"error":{"message":"Not Found"}}`)
	}}
	c, _ := newTestClient(t, keyConfig(), tr)

	raw, err := c.Execute(context.Background(), &exchange.Request{Verb: exchange.DELETE, Path: "/order", Body: map[string]string{"orderID": "x"}})
	require.NoError(t, err)
	assert.Nil(t, raw)

	_, err = c.Execute(context.Background(), &exchange.Request{Path: "/order"})
	require.Error(t, err)
	assert.Equal(t, exchange.KindRequest, exchange.KindOf(err))
	assert.Len(t, tr.sent(), 2)
}

func TestExecute_UnhandledStatus(t *testing.T) {
	tr := &recorder{reply: func(int, *exchange.Envelope) (*exchange.Response, error) {
		return status(http.StatusBadRequest, `{"error":{"message":"Invalid ordStatus"}}`)
	}}
	c, s := newTestClient(t, keyConfig(), tr)

	_, err := c.Execute(context.Background(), &exchange.Request{Path: "/order", Body: map[string]string{"symbol": "XBTUSD"}})
	require.Error(t, err)
	assert.Equal(t, exchange.KindUnhandled, exchange.KindOf(err))
	assert.Contains(t, err.Error(), `payload: {"symbol":"XBTUSD"}`)
	assert.Contains(t, err.Error(), "Invalid ordStatus")
	assert.Empty(t, s.all())
}

func TestExecute_UnauthorizedWithKeyIsTerminal(t *testing.T) {
	tr := &recorder{reply: func(int, *exchange.Envelope) (*exchange.Response, error) {
		return status(http.StatusUnauthorized, `{"error":{"message":"Invalid API Key."}}`)
	}}
	c, s := newTestClient(t, keyConfig(), tr)

	_, err := c.Execute(context.Background(), &exchange.Request{Path: "/position"})
	assert.Equal(t, exchange.KindAuthentication, exchange.KindOf(err))
	assert.Len(t, tr.sent(), 1)
	assert.Empty(t, s.all())
}

func TestExecute_UnauthorizedWithoutTokenIsTerminal(t *testing.T) {
	tr := &recorder{reply: func(int, *exchange.Envelope) (*exchange.Response, error) {
		return status(http.StatusUnauthorized, "")
	}}
	c, _ := newTestClient(t, Config{Login: "a@b.c", Password: "pw"}, tr)

	_, err := c.Execute(context.Background(), &exchange.Request{Path: "/position"})
	assert.Equal(t, exchange.KindAuthentication, exchange.KindOf(err))
	envs := tr.sent()
	require.Len(t, envs, 1)
	assert.Empty(t, envs[0].Header.Get(HeaderAccessToken))
}

// sessionServer issues tok-1, tok-2, ... on login and accepts only the
// tokens in valid.
type sessionServer struct {
	logins int32
	valid  func(token string) bool
}

func (s *sessionServer) reply(_ int, env *exchange.Envelope) (*exchange.Response, error) {
	u, _ := url.Parse(env.URL)
	if u.Path == APIPrefix+pathLogin {
		n := atomic.AddInt32(&s.logins, 1)
		return status(http.StatusOK, `{"id":"tok-`+strconv.Itoa(int(n))+`","ttl":1209600}`)
	}
	if !s.valid(env.Header.Get(HeaderAccessToken)) {
		return status(http.StatusUnauthorized, `{"error":{"message":"Token expired"}}`)
	}
	return status(http.StatusOK, `[]`)
}

func TestAuthenticate_LoginRequest(t *testing.T) {
	srv := &sessionServer{valid: func(string) bool { return true }}
	tr := &recorder{reply: srv.reply}
	c, _ := newTestClient(t, Config{Login: "a@b.c", Password: "secret-pw", OTPToken: "123456"}, tr)

	require.NoError(t, c.Authenticate(context.Background()))
	assert.Equal(t, "tok-1", c.Token())
	assert.True(t, c.Authenticated())

	envs := tr.sent()
	require.Len(t, envs, 1)
	assert.Equal(t, "POST", envs[0].Method)
	assert.Empty(t, envs[0].Header.Get(HeaderAccessToken))
	assert.Empty(t, envs[0].Header.Get(HeaderAPISignature))
	var body map[string]string
	require.NoError(t, json.Unmarshal(envs[0].Body, &body))
	assert.Equal(t, map[string]string{"email": "a@b.c", "password": "secret-pw", "token": "123456"}, body)

	// later requests carry the session token
	_, err := c.Positions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tr.sent()[1].Header.Get(HeaderAccessToken))
}

func TestAuthenticate_FailureRedactsPayload(t *testing.T) {
	tr := &recorder{reply: func(int, *exchange.Envelope) (*exchange.Response, error) {
		return status(http.StatusUnauthorized, `{"error":{"message":"Invalid login"}}`)
	}}
	c, s := newTestClient(t, Config{Login: "a@b.c", Password: "secret-pw"}, tr)

	err := c.Authenticate(context.Background())
	require.Error(t, err)
	assert.Equal(t, exchange.KindAuthentication, exchange.KindOf(err))
	assert.NotContains(t, err.Error(), "secret-pw")
	assert.Empty(t, s.all())
	assert.Empty(t, c.Token())
}

func TestAuthenticate_NeedsCredentials(t *testing.T) {
	c, _ := newTestClient(t, Config{}, &recorder{})
	err := c.Authenticate(context.Background())
	assert.Equal(t, exchange.KindAuthentication, exchange.KindOf(err))

	// nothing to do with an api key
	c, _ = newTestClient(t, keyConfig(), &recorder{})
	assert.NoError(t, c.Authenticate(context.Background()))
}

func TestExecute_ReauthenticatesOnce(t *testing.T) {
	srv := &sessionServer{valid: func(token string) bool { return token == "tok-2" }}
	tr := &recorder{reply: srv.reply}
	c, s := newTestClient(t, Config{Login: "a@b.c", Password: "pw"}, tr)
	require.NoError(t, c.Authenticate(context.Background()))

	positions, err := c.Positions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
	assert.Equal(t, "tok-2", c.Token())
	assert.Equal(t, int32(2), atomic.LoadInt32(&srv.logins))
	assert.Equal(t, []time.Duration{time.Second}, s.all())

	envs := tr.sent()
	require.Len(t, envs, 4) // login, 401, login, retry
	assert.Equal(t, "tok-1", envs[1].Header.Get(HeaderAccessToken))
	assert.Equal(t, "tok-2", envs[3].Header.Get(HeaderAccessToken))
}

func TestExecute_SecondUnauthorizedIsTerminal(t *testing.T) {
	srv := &sessionServer{valid: func(string) bool { return false }}
	tr := &recorder{reply: srv.reply}
	c, _ := newTestClient(t, Config{Login: "a@b.c", Password: "pw"}, tr)
	require.NoError(t, c.Authenticate(context.Background()))

	_, err := c.Positions(context.Background())
	require.Error(t, err)
	assert.Equal(t, exchange.KindAuthentication, exchange.KindOf(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&srv.logins))
	assert.Len(t, tr.sent(), 4)
}

func TestExecute_ConcurrentReauthLogsInOnce(t *testing.T) {
	srv := &sessionServer{valid: func(token string) bool { return token != "tok-1" }}
	tr := &recorder{reply: srv.reply}
	c, _ := newTestClient(t, Config{Login: "a@b.c", Password: "pw"}, tr)
	require.NoError(t, c.Authenticate(context.Background()))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Positions(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&srv.logins))
	assert.Equal(t, "tok-2", c.Token())
}

func TestExecute_ContextCancelStopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := &recorder{reply: func(int, *exchange.Envelope) (*exchange.Response, error) {
		cancel()
		return status(http.StatusServiceUnavailable, "")
	}}
	c, _ := newTestClient(t, keyConfig(), tr)
	c.sleep = sleepContext

	_, err := c.Execute(ctx, &exchange.Request{Path: "/position"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Len(t, tr.sent(), 1)
}

func TestExecute_RateLimiterThrottles(t *testing.T) {
	tr := &recorder{reply: func(int, *exchange.Envelope) (*exchange.Response, error) {
		return status(http.StatusOK, `[]`)
	}}
	cfg := keyConfig()
	cfg.RequestsPerSecond = 20
	c, _ := newTestClient(t, cfg, tr)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Execute(context.Background(), &exchange.Request{Path: "/position"})
		require.NoError(t, err)
	}
	// burst of one, then one send every 50ms
	assert.GreaterOrEqual(t, int64(time.Since(start)), int64(90*time.Millisecond))
}

func TestExecute_InvalidJSONResponse(t *testing.T) {
	tr := &recorder{reply: func(int, *exchange.Envelope) (*exchange.Response, error) {
		return status(http.StatusOK, `<html>`)
	}}
	c, _ := newTestClient(t, keyConfig(), tr)
	_, err := c.Execute(context.Background(), &exchange.Request{Path: "/position"})
	assert.Equal(t, exchange.KindUnhandled, exchange.KindOf(err))
}

func TestRetryConfig_Defaults(t *testing.T) {
	r := RetryConfig{MaxAttempts: 2, MaxBackoff: time.Millisecond}.withDefaults()
	assert.Equal(t, 2, r.MaxAttempts)
	assert.Equal(t, time.Second, r.InitialBackoff)
	assert.Equal(t, time.Second, r.MaxBackoff)
	assert.Equal(t, 2.0, r.BackoffMultiple)
	assert.Equal(t, time.Second, r.ReauthDelay)
}

func TestRetryConfig_UnsetMaxBackoff(t *testing.T) {
	r := RetryConfig{MaxAttempts: 6}.withDefaults()
	assert.Equal(t, 8*time.Second, r.MaxBackoff)

	s := newRetryState(r)
	var got []time.Duration
	for i := 0; i < 6; i++ {
		got = append(got, s.backoff())
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second, 8 * time.Second}, got)

	r = RetryConfig{InitialBackoff: 10 * time.Second}.withDefaults()
	assert.Equal(t, 10*time.Second, r.MaxBackoff)
}
