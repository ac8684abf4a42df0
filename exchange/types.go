package exchange

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

type Verb string

const (
	GET    Verb = "GET"
	POST   Verb = "POST"
	PUT    Verb = "PUT"
	DELETE Verb = "DELETE"
)

// Credentials is an API key pair. The secret must never be logged.
type Credentials struct {
	APIKey    string
	APISecret string
}

type Param struct {
	Key   string
	Value string
}

// Params is an ordered query. Encode keeps insertion order, use Sorted when
// the exchange signs params in ascending key order.
type Params []Param

func (p Params) Add(key, value string) Params {
	return append(p, Param{Key: key, Value: value})
}

func (p Params) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

func (p Params) Sorted() Params {
	s := make(Params, len(p))
	copy(s, p)
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].Key < s[j].Key
	})
	return s
}

// Encode renders key=value pairs joined by '&' with form escaping (space as '+').
func (p Params) Encode() string {
	if len(p) == 0 {
		return ""
	}
	var b strings.Builder
	for i, kv := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.Value))
	}
	return b.String()
}

// Request is a logical, not yet signed request. Path is relative to the API
// base and carries no query string.
type Request struct {
	Verb  Verb
	Path  string
	Query Params
	// Body is nil, raw JSON (string, []byte, json.RawMessage) or any value
	// that marshals to a JSON object.
	Body interface{}
	// Sensitive keeps the body out of logs and errors (login payloads).
	Sensitive bool
}

// ResolveVerb returns the explicit verb, else POST when a body is attached, else GET.
func (r *Request) ResolveVerb() Verb {
	if r.Verb != "" {
		return Verb(strings.ToUpper(string(r.Verb)))
	}
	if r.Body != nil {
		return POST
	}
	return GET
}

// Envelope is one signed attempt of a Request, ready for the wire.
type Envelope struct {
	Method  string
	URL     string
	Header  http.Header
	Body    []byte
	Timeout time.Duration
}

type Response struct {
	StatusCode int
	Body       []byte
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
