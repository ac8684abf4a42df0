// Package bitmex is an authenticated REST client for BitMEX with automatic
// signing, session reauthentication and bounded retries.
package bitmex

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/xyths/cryptoexchange/exchange"
	"github.com/xyths/cryptoexchange/signer"
	"github.com/xyths/cryptoexchange/transport"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Config struct {
	Host string // scheme and host, e.g. https://testnet.bitmex.com

	Key    string
	Secret string

	// session login, used when no api key is configured
	Login    string
	Password string
	OTPToken string

	OrderIDPrefix string
	Timeout       time.Duration
	Retry         RetryConfig

	// RequestsPerSecond throttles sends, 0 means unlimited.
	RequestsPerSecond float64
	UserAgent         string
}

// Client is safe for concurrent use.
type Client struct {
	Sugar *zap.SugaredLogger

	host      string
	base      string
	creds     exchange.Credentials
	login     string
	password  string
	otp       string
	prefix    string
	timeout   time.Duration
	userAgent string
	retry     RetryConfig

	transport exchange.Transport
	limiter   *rate.Limiter

	mu    sync.RWMutex
	token string

	// serializes logins so concurrent 401s trigger a single reauthentication
	authMu sync.Mutex

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New validates cfg and builds a client. A nil transport uses net/http, a nil
// logger discards.
func New(cfg Config, t exchange.Transport, sugar *zap.SugaredLogger) (*Client, error) {
	if cfg.Host == "" {
		return nil, exchange.ConfigurationError("host is required")
	}
	if (cfg.Key == "") != (cfg.Secret == "") {
		return nil, exchange.ConfigurationError("api key and api secret must be set together")
	}
	prefix := cfg.OrderIDPrefix
	if prefix == "" {
		prefix = DefaultOrderIDPrefix
	}
	if len(prefix) > MaxOrderIDPrefixLen {
		return nil, exchange.ConfigurationError("order id prefix %q must be at most %d characters long", prefix, MaxOrderIDPrefixLen)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "cryptoexchange-bitmex-" + Version
	}
	if t == nil {
		t = transport.New(nil)
	}
	if sugar == nil {
		sugar = zap.NewNop().Sugar()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	host := strings.TrimRight(cfg.Host, "/")
	return &Client{
		Sugar:     sugar,
		host:      host,
		base:      APIPrefix,
		creds:     exchange.Credentials{APIKey: cfg.Key, APISecret: cfg.Secret},
		login:     cfg.Login,
		password:  cfg.Password,
		otp:       cfg.OTPToken,
		prefix:    prefix,
		timeout:   cfg.Timeout,
		userAgent: cfg.UserAgent,
		retry:     cfg.Retry.withDefaults(),
		transport: t,
		limiter:   rate.NewLimiter(limit, 1),
		now:       time.Now,
		sleep:     sleepContext,
	}, nil
}

func (c *Client) Host() string { return c.host }

func (c *Client) OrderIDPrefix() string { return c.prefix }

// Token returns the current session token, empty if none.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Authenticated reports whether requests carry an api key or a session token.
func (c *Client) Authenticated() bool {
	return c.creds.APIKey != "" || c.Token() != ""
}

func (c *Client) requireAuth() error {
	if !c.Authenticated() {
		return exchange.AuthenticationError("you must be authenticated to use this method")
	}
	return nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Token    string `json:"token,omitempty"`
}

// Authenticate logs in with login/password and stores the session token.
// With an api key configured there is nothing to do.
func (c *Client) Authenticate(ctx context.Context) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	return c.authenticate(ctx)
}

func (c *Client) authenticate(ctx context.Context) error {
	if c.creds.APIKey != "" {
		return nil
	}
	if c.login == "" || c.password == "" {
		return exchange.AuthenticationError("login and password are required without an api key")
	}
	req := &exchange.Request{
		Verb:      exchange.POST,
		Path:      pathLogin,
		Body:      loginRequest{Email: c.login, Password: c.password, Token: c.otp},
		Sensitive: true,
	}
	raw, err := c.execute(ctx, req, callOptions{anonymous: true})
	if err != nil {
		return err
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return errors.Wrap(err, "decode login response")
	}
	if resp.ID == "" {
		return exchange.AuthenticationError("login response carries no token")
	}
	c.setToken(resp.ID)
	c.Sugar.Infow("authenticated", "login", c.login)
	return nil
}

// reauthenticate replaces stale. If another caller already did, it does nothing.
func (c *Client) reauthenticate(ctx context.Context, stale string) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	if cur := c.Token(); cur != "" && cur != stale {
		return nil
	}
	return c.authenticate(ctx)
}

// Execute sends req and returns the raw JSON of a 2xx response. A DELETE
// answered with 404 returns (nil, nil).
func (c *Client) Execute(ctx context.Context, req *exchange.Request) (json.RawMessage, error) {
	return c.execute(ctx, req, callOptions{reauth: true})
}

type callOptions struct {
	reauth    bool // reauthenticate once on 401 with a session token
	anonymous bool // attach neither key nor token
}

type call struct {
	verb     exchange.Verb
	path     string
	endpoint string
	req      *exchange.Request
	body     []byte
}

func (c *call) payload() string {
	if c.req.Sensitive {
		return ""
	}
	return string(c.body)
}

func (c *call) fail(kind exchange.Kind, msg string, resp *exchange.Response) *exchange.Error {
	e := &exchange.Error{
		Kind:     kind,
		Message:  msg,
		Verb:     c.verb,
		Endpoint: c.endpoint,
		Payload:  c.payload(),
	}
	if resp != nil {
		e.StatusCode = resp.StatusCode
		e.Body = string(resp.Body)
	}
	return e
}

func (c *Client) execute(ctx context.Context, req *exchange.Request, opts callOptions) (json.RawMessage, error) {
	body, err := signer.EncodeBody(req.Body)
	if err != nil {
		return nil, err
	}
	path := c.base + req.Path
	cl := &call{
		verb:     req.ResolveVerb(),
		path:     path,
		endpoint: signer.CanonicalPath(path, req.Query),
		req:      req,
		body:     body,
	}
	log := c.Sugar.With("verb", cl.verb, "endpoint", cl.endpoint)

	st := newRetryState(c.retry)
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "rate limiter")
		}
		env, token, err := c.envelope(cl, opts)
		if err != nil {
			return nil, err
		}
		st.attempts++
		resp, err := c.transport.Send(ctx, env)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if exchange.KindOf(err) != exchange.KindTransport {
				return nil, err
			}
			last := cl.fail(exchange.KindTransport, "", nil)
			last.Timeout = exchange.IsTimeout(err)
			last.Err = errors.Cause(err)
			if last.Timeout {
				last.Message = "timed out"
				log.Warnw("timed out, retrying", "attempt", st.attempts)
				err = st.retry(ctx, c.sleep, 0, last)
			} else {
				last.Message = "connection error"
				log.Warnw("unable to contact the BitMEX API, please check the URL, retrying", "attempt", st.attempts, "error", err)
				err = st.retry(ctx, c.sleep, st.backoff(), last)
			}
			if err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case resp.OK():
			return decodeBody(cl, resp)

		case resp.StatusCode == http.StatusUnauthorized:
			if token == "" || !opts.reauth || st.reauthenticated {
				log.Errorw("login information or api key incorrect, please check and restart", "status", resp.StatusCode, "payload", cl.payload())
				e := cl.fail(exchange.KindAuthentication, "unauthorized", resp)
				e.Attempts = st.attempts
				return nil, e
			}
			log.Warn("token expired, reauthenticating")
			st.reauthenticated = true
			if err := c.sleep(ctx, c.retry.ReauthDelay); err != nil {
				return nil, err
			}
			if err := c.reauthenticate(ctx, token); err != nil {
				e := cl.fail(exchange.KindAuthentication, "reauthentication failed", resp)
				e.Attempts = st.attempts
				e.Err = err
				return nil, e
			}

		case resp.StatusCode == http.StatusNotFound:
			if cl.verb == exchange.DELETE {
				log.Warnw("not found", "payload", cl.payload())
				return nil, nil
			}
			log.Errorw("unable to contact the BitMEX API (404)", "payload", cl.payload(), "response", string(resp.Body))
			e := cl.fail(exchange.KindRequest, "not found", resp)
			e.Attempts = st.attempts
			return nil, e

		case resp.StatusCode == http.StatusTooManyRequests:
			log.Warnw("ratelimited, retrying", "attempt", st.attempts)
			if err := st.retry(ctx, c.sleep, st.backoff(), cl.fail(exchange.KindRateLimited, "too many requests", resp)); err != nil {
				return nil, err
			}

		case resp.StatusCode == http.StatusServiceUnavailable:
			log.Warnw("unable to contact the BitMEX API (503), retrying", "attempt", st.attempts, "payload", cl.payload())
			if err := st.retry(ctx, c.sleep, st.backoff(), cl.fail(exchange.KindServiceUnavailable, "service unavailable", resp)); err != nil {
				return nil, err
			}

		default:
			log.Errorw("unhandled error", "status", resp.StatusCode, "payload", cl.payload(), "response", string(resp.Body))
			e := cl.fail(exchange.KindUnhandled, "unexpected status", resp)
			e.Attempts = st.attempts
			return nil, e
		}
	}
}

// envelope signs one attempt. Each attempt gets a fresh expiry and signature.
func (c *Client) envelope(cl *call, opts callOptions) (*exchange.Envelope, string, error) {
	header := make(http.Header)
	header.Set("User-Agent", c.userAgent)
	header.Set("Accept", "application/json")
	if len(cl.body) > 0 {
		header.Set("Content-Type", "application/json")
	}

	var token string
	switch {
	case opts.anonymous:
	case c.creds.APIKey != "":
		expires := signer.Expires(c.now())
		sig, err := signer.Sign(c.creds.APISecret, cl.verb, cl.endpoint, nil, expires, cl.body)
		if err != nil {
			return nil, "", err
		}
		header.Set(HeaderAPIExpires, strconv.FormatInt(expires, 10))
		header.Set(HeaderAPIKey, c.creds.APIKey)
		header.Set(HeaderAPISignature, sig)
	default:
		if token = c.Token(); token != "" {
			header.Set(HeaderAccessToken, token)
		}
	}

	return &exchange.Envelope{
		Method:  string(cl.verb),
		URL:     c.host + cl.endpoint,
		Header:  header,
		Body:    cl.body,
		Timeout: c.timeout,
	}, token, nil
}

func decodeBody(cl *call, resp *exchange.Response) (json.RawMessage, error) {
	if len(resp.Body) == 0 {
		return nil, nil
	}
	if !json.Valid(resp.Body) {
		return nil, cl.fail(exchange.KindUnhandled, "invalid json in response", resp)
	}
	return json.RawMessage(resp.Body), nil
}
