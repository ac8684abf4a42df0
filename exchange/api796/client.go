// Package api796 gets OAuth access tokens from the 796 exchange.
package api796

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/xyths/cryptoexchange/exchange"
	"github.com/xyths/cryptoexchange/signer"
	"github.com/xyths/cryptoexchange/transport"
	"go.uber.org/zap"
)

const (
	DefaultHost    = "https://796.com"
	DefaultTimeout = 20 * time.Second

	pathToken    = "/oauth/token"
	pathUserInfo = "/v1/user/get_info"

	errnoOK            = "0"
	errnoTokenRepealed = "-102"
)

type Config struct {
	Host      string
	AppID     string
	APIKey    string
	SecretKey string
	Timeout   time.Duration
}

type Client struct {
	Sugar *zap.SugaredLogger

	host      string
	appID     string
	apiKey    string
	secretKey string
	timeout   time.Duration
	transport exchange.Transport
	now       func() time.Time
}

func New(cfg Config, t exchange.Transport, sugar *zap.SugaredLogger) (*Client, error) {
	if cfg.AppID == "" {
		return nil, exchange.ConfigurationError("appid is required")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, exchange.ConfigurationError("apikey and secretkey are required")
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if t == nil {
		t = transport.New(nil)
	}
	if sugar == nil {
		sugar = zap.NewNop().Sugar()
	}
	return &Client{
		Sugar:     sugar,
		host:      strings.TrimRight(cfg.Host, "/"),
		appID:     cfg.AppID,
		apiKey:    cfg.APIKey,
		secretKey: cfg.SecretKey,
		timeout:   cfg.Timeout,
		transport: t,
		now:       time.Now,
	}, nil
}

func (c *Client) Host() string { return c.host }

// reply is the common 796 envelope: {"errno":"0","msg":"...","data":{...}}.
type reply struct {
	Errno json.Number     `json:"errno"`
	Msg   string          `json:"msg"`
	Data  json.RawMessage `json:"data"`
}

// TokenParams returns the signed query of a token request at timestamp.
func (c *Client) TokenParams(timestamp int64) (exchange.Params, error) {
	ts := strconv.FormatInt(timestamp, 10)
	sig, err := signer.SignLegacy(c.secretKey, exchange.Params{}.
		Add("apikey", c.apiKey).
		Add("appid", c.appID).
		Add("secretkey", c.secretKey).
		Add("timestamp", ts))
	if err != nil {
		return nil, err
	}
	return exchange.Params{}.
		Add("appid", c.appID).
		Add("apikey", c.apiKey).
		Add("timestamp", ts).
		Add("sig", sig), nil
}

// Token requests a new access token.
func (c *Client) Token(ctx context.Context) (string, error) {
	query, err := c.TokenParams(c.now().Unix())
	if err != nil {
		return "", err
	}
	data, err := c.get(ctx, pathToken, query)
	if err != nil {
		return "", err
	}
	var token struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(data, &token); err != nil {
		return "", errors.Wrap(err, "decode token")
	}
	if token.AccessToken == "" {
		return "", exchange.AuthenticationError("796 returned no access token")
	}
	return token.AccessToken, nil
}

// UserInfo returns the raw user info of the token's account.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (json.RawMessage, error) {
	return c.get(ctx, pathUserInfo, exchange.Params{}.Add("access_token", accessToken))
}

func (c *Client) get(ctx context.Context, path string, query exchange.Params) (json.RawMessage, error) {
	endpoint := path + "?" + query.Encode()
	resp, err := c.transport.Send(ctx, &exchange.Envelope{
		Method:  http.MethodGet,
		URL:     c.host + endpoint,
		Header:  http.Header{"Accept": []string{"application/json"}},
		Timeout: c.timeout,
	})
	if err != nil {
		return nil, err
	}
	fail := func(kind exchange.Kind, msg string) *exchange.Error {
		return &exchange.Error{
			Kind:       kind,
			Message:    msg,
			Verb:       exchange.GET,
			Endpoint:   path,
			StatusCode: resp.StatusCode,
			Body:       string(resp.Body),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fail(exchange.KindRequest, "unexpected status")
	}
	var r reply
	if err := json.Unmarshal(resp.Body, &r); err != nil {
		return nil, fail(exchange.KindUnhandled, "invalid json in response")
	}
	switch r.Errno.String() {
	case errnoOK:
		return r.Data, nil
	case errnoTokenRepealed:
		c.Sugar.Warnw("access token repealed", "msg", r.Msg)
		return nil, fail(exchange.KindAuthentication, r.Msg)
	default:
		c.Sugar.Errorw("796 request failed", "path", path, "errno", r.Errno, "msg", r.Msg)
		return nil, fail(exchange.KindRequest, "errno "+r.Errno.String()+": "+r.Msg)
	}
}
