package exchange

import "context"

// Transport sends one envelope. A non-nil error is always a transport failure
// (*Error with KindTransport); any HTTP status, including 4xx and 5xx, comes
// back as a Response.
type Transport interface {
	Send(ctx context.Context, env *Envelope) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, env *Envelope) (*Response, error)

func (f TransportFunc) Send(ctx context.Context, env *Envelope) (*Response, error) {
	return f(ctx, env)
}
