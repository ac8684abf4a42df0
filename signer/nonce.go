package signer

import (
	"sync"
	"time"
)

// ExpiresGrace is added to the clock for expiry signatures, to absorb clock
// skew between client and server.
const ExpiresGrace = 5 * time.Second

// Expires returns the api-expires value for a request signed at now.
func Expires(now time.Time) int64 {
	return now.Add(ExpiresGrace).Unix()
}

// NonceSource hands out strictly increasing millisecond nonces, even when
// the clock stalls or steps back.
type NonceSource struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewNonceSource(now func() time.Time) *NonceSource {
	if now == nil {
		now = time.Now
	}
	return &NonceSource{now: now}
}

func (s *NonceSource) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.now().UnixNano() / int64(time.Millisecond)
	if n <= s.last {
		n = s.last + 1
	}
	s.last = n
	return n
}
