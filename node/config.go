package node

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/xyths/cryptoexchange/exchange/api796"
	"github.com/xyths/cryptoexchange/exchange/bitmex"
	"github.com/xyths/hs"
)

// environment overrides of the bitmex api key
const (
	EnvAPIKey    = "API_KEY"
	EnvAPISecret = "API_SECRET"
)

type MongoConf struct {
	URI         string `json:"uri"`
	Database    string `json:"database"`
	Collection  string `json:"collection"`
	MaxPoolSize uint64 `json:"maxPoolSize"`
	MinPoolSize uint64 `json:"minPoolSize"`
	AppName     string `json:"appName"`
}

type RedisConf struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Channel  string `json:"channel"`
}

type MySQLConf struct {
	URI string `json:"uri"`
}

// RetryConf durations are Go duration strings, e.g. "1s".
type RetryConf struct {
	MaxAttempts     int     `json:"maxAttempts"`
	InitialBackoff  string  `json:"initialBackoff"`
	MaxBackoff      string  `json:"maxBackoff"`
	BackoffMultiple float64 `json:"backoffMultiple"`
	ReauthDelay     string  `json:"reauthDelay"`
}

type BitmexConf struct {
	hs.ExchangeConf

	Login    string `json:"login"`
	Password string `json:"password"`
	OTPToken string `json:"otpToken"`

	OrderIDPrefix string    `json:"orderIdPrefix"`
	Timeout       string    `json:"timeout"`
	Retry         RetryConf `json:"retry"`
	RateLimit     float64   `json:"rateLimit"` // requests per second, 0 unlimited
	Realtime      string    `json:"realtime"`  // websocket url
}

type Conf796 struct {
	Host      string `json:"host"`
	AppID     string `json:"appid"`
	APIKey    string `json:"apikey"`
	SecretKey string `json:"secretkey"`
	Timeout   string `json:"timeout"`
}

type Config struct {
	Bitmex BitmexConf `json:"bitmex"`
	API796 Conf796    `json:"796"`
	Mongo  MongoConf  `json:"mongo"`
	Redis  RedisConf  `json:"redis"`
	MySQL  MySQLConf  `json:"mysql"`
	Log    hs.LogConf `json:"log"`
}

// ApplyEnv lets API_KEY and API_SECRET replace the configured key pair.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Bitmex.Key = v
	}
	if v := os.Getenv(EnvAPISecret); v != "" {
		c.Bitmex.Secret = v
	}
}

func (c BitmexConf) ClientConfig() (bitmex.Config, error) {
	timeout, err := parseDuration("timeout", c.Timeout)
	if err != nil {
		return bitmex.Config{}, err
	}
	retry, err := c.Retry.retryConfig()
	if err != nil {
		return bitmex.Config{}, err
	}
	host := c.Host
	if host == "" {
		host = bitmex.TestnetHost
	}
	return bitmex.Config{
		Host:              host,
		Key:               c.Key,
		Secret:            c.Secret,
		Login:             c.Login,
		Password:          c.Password,
		OTPToken:          c.OTPToken,
		OrderIDPrefix:     c.OrderIDPrefix,
		Timeout:           timeout,
		Retry:             retry,
		RequestsPerSecond: c.RateLimit,
	}, nil
}

// RealtimeURL defaults to the realtime endpoint matching the REST host.
func (c BitmexConf) RealtimeURL() string {
	switch {
	case c.Realtime != "":
		return c.Realtime
	case c.Host == bitmex.MainnetHost:
		return bitmex.MainnetRealtime
	default:
		return bitmex.TestnetRealtime
	}
}

func (r RetryConf) retryConfig() (bitmex.RetryConfig, error) {
	initial, err := parseDuration("retry.initialBackoff", r.InitialBackoff)
	if err != nil {
		return bitmex.RetryConfig{}, err
	}
	max, err := parseDuration("retry.maxBackoff", r.MaxBackoff)
	if err != nil {
		return bitmex.RetryConfig{}, err
	}
	reauth, err := parseDuration("retry.reauthDelay", r.ReauthDelay)
	if err != nil {
		return bitmex.RetryConfig{}, err
	}
	return bitmex.RetryConfig{
		MaxAttempts:     r.MaxAttempts,
		InitialBackoff:  initial,
		MaxBackoff:      max,
		BackoffMultiple: r.BackoffMultiple,
		ReauthDelay:     reauth,
	}, nil
}

func (c Conf796) ClientConfig() (api796.Config, error) {
	timeout, err := parseDuration("796.timeout", c.Timeout)
	if err != nil {
		return api796.Config{}, err
	}
	return api796.Config{
		Host:      c.Host,
		AppID:     c.AppID,
		APIKey:    c.APIKey,
		SecretKey: c.SecretKey,
		Timeout:   timeout,
	}, nil
}

// parseDuration maps "" to 0, which the clients turn into their defaults.
func parseDuration(name, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "bad %s", name)
	}
	return d, nil
}
