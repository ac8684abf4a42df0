package bitmex

import (
	"encoding/json"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/xyths/cryptoexchange/exchange"
	"github.com/xyths/cryptoexchange/signer"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"
)

// Command is a realtime request, e.g. {"op":"subscribe","args":["order"]}.
type Command struct {
	Op   string        `json:"op"`
	Args []interface{} `json:"args,omitempty"`
}

// AuthKeyCommand signs "GET/realtime" + nonce for the authKey op.
func AuthKeyCommand(creds exchange.Credentials, nonce int64) (*Command, error) {
	if creds.APIKey == "" {
		return nil, exchange.ConfigurationError("api key is required")
	}
	sig, err := signer.Sign(creds.APISecret, exchange.GET, RealtimePath, nil, nonce, nil)
	if err != nil {
		return nil, err
	}
	return &Command{Op: "authKey", Args: []interface{}{creds.APIKey, nonce, sig}}, nil
}

// AuthQueryURL appends api-nonce, api-signature and api-key to a realtime
// URL, authenticating the connection at handshake.
func AuthQueryURL(wsURL string, creds exchange.Credentials, nonce int64) (string, error) {
	if creds.APIKey == "" {
		return "", exchange.ConfigurationError("api key is required")
	}
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", exchange.ConfigurationError("bad realtime url %q: %s", wsURL, err)
	}
	path := u.EscapedPath()
	if path == "" {
		path = RealtimePath
	}
	sig, err := signer.Sign(creds.APISecret, exchange.GET, path, nil, nonce, nil)
	if err != nil {
		return "", err
	}
	u.RawQuery = exchange.Params{}.
		Add("api-nonce", strconv.FormatInt(nonce, 10)).
		Add("api-signature", sig).
		Add("api-key", creds.APIKey).
		Encode()
	return u.String(), nil
}

// Realtime is a websocket connection to /realtime.
type Realtime struct {
	Sugar *zap.SugaredLogger
	// AuthTimeout bounds the wait for the authKey reply.
	AuthTimeout time.Duration

	conn   *websocket.Conn
	creds  exchange.Credentials
	nonces *signer.NonceSource
}

// DialRealtime connects to wsURL. The server greets with a welcome message,
// read it with Receive.
func DialRealtime(wsURL string, creds exchange.Credentials, nonces *signer.NonceSource, sugar *zap.SugaredLogger) (*Realtime, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, exchange.ConfigurationError("bad realtime url %q: %s", wsURL, err)
	}
	origin := url.URL{Scheme: "http", Host: u.Host, Path: "/"}
	if u.Scheme == "wss" {
		origin.Scheme = "https"
	}
	conn, err := websocket.Dial(wsURL, "", origin.String())
	if err != nil {
		return nil, exchange.TransportError(err, false)
	}
	if nonces == nil {
		nonces = signer.NewNonceSource(nil)
	}
	if sugar == nil {
		sugar = zap.NewNop().Sugar()
	}
	return &Realtime{Sugar: sugar, AuthTimeout: DefaultAuthTimeout, conn: conn, creds: creds, nonces: nonces}, nil
}

// Authenticate sends authKey and waits for the server's answer.
func (r *Realtime) Authenticate() (json.RawMessage, error) {
	cmd, err := AuthKeyCommand(r.creds, r.nonces.Next())
	if err != nil {
		return nil, err
	}
	if err := r.Send(cmd); err != nil {
		return nil, err
	}
	timeout := r.AuthTimeout
	if timeout <= 0 {
		timeout = DefaultAuthTimeout
	}
	if err := r.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, exchange.TransportError(err, false)
	}
	defer r.conn.SetReadDeadline(time.Time{})
	for {
		msg, err := r.Receive()
		if err != nil {
			return nil, err
		}
		var reply struct {
			Success *bool           `json:"success"`
			Error   string          `json:"error"`
			Request json.RawMessage `json:"request"`
		}
		if err := json.Unmarshal(msg, &reply); err != nil {
			return nil, errors.Wrap(err, "decode realtime reply")
		}
		switch {
		case reply.Error != "":
			return msg, exchange.AuthenticationError("realtime: %s", reply.Error)
		case reply.Success != nil && *reply.Success:
			r.Sugar.Infow("realtime authenticated", "key", r.creds.APIKey)
			return msg, nil
		}
		// welcome or table data, keep waiting
		r.Sugar.Debugw("realtime message before auth reply", "message", string(msg))
	}
}

func (r *Realtime) Send(cmd *Command) error {
	if err := websocket.JSON.Send(r.conn, cmd); err != nil {
		return exchange.TransportError(err, false)
	}
	return nil
}

func (r *Realtime) Receive() (json.RawMessage, error) {
	var msg string
	if err := websocket.Message.Receive(r.conn, &msg); err != nil {
		var ne net.Error
		return nil, exchange.TransportError(err, errors.As(err, &ne) && ne.Timeout())
	}
	return json.RawMessage(msg), nil
}

func (r *Realtime) Close() error {
	return r.conn.Close()
}
