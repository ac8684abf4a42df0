package transport

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"

	"github.com/pkg/errors"
	"github.com/xyths/cryptoexchange/exchange"
)

// HTTP is the net/http backed exchange.Transport. Every envelope gets its
// own deadline from Envelope.Timeout.
type HTTP struct {
	client *http.Client
}

func New(client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTP{client: client}
}

func (t *HTTP) Send(ctx context.Context, env *exchange.Envelope) (*exchange.Response, error) {
	if env.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, env.Timeout)
		defer cancel()
	}
	var body io.Reader
	if len(env.Body) > 0 {
		body = bytes.NewReader(env.Body)
	}
	req, err := http.NewRequestWithContext(ctx, env.Method, env.URL, body)
	if err != nil {
		return nil, exchange.ConfigurationError("bad request %s %s: %s", env.Method, env.URL, err)
	}
	for k, v := range env.Header {
		req.Header[k] = append([]string(nil), v...)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, exchange.TransportError(err, isTimeout(err))
	}
	defer func() {
		if resp != nil {
			_ = resp.Body.Close()
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, exchange.TransportError(errors.Wrap(err, "read body"), isTimeout(err))
	}
	return &exchange.Response{StatusCode: resp.StatusCode, Body: data}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
