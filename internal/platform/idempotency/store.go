package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a publish key is remembered.
const DefaultTTL = 24 * time.Hour

// Outcome is the result of claiming a key.
type Outcome int

const (
	// OutcomeFresh means the caller owns the key and should run the handler.
	OutcomeFresh Outcome = iota
	// OutcomeReplay means a finished reply exists and must be served as-is.
	OutcomeReplay
	// OutcomeInFlight means another request holds the key and has not finished.
	OutcomeInFlight
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFresh:
		return "fresh"
	case OutcomeReplay:
		return "replay"
	case OutcomeInFlight:
		return "in_flight"
	default:
		return "unknown"
	}
}

// Reply is the captured HTTP response stored against a key.
type Reply struct {
	Status int
	Header http.Header
	Body   []byte
}

// Entry is one stored key.
type Entry struct {
	Key         string
	Fingerprint string
	Completed   bool
	Reply       Reply
	ExpiresAt   time.Time
}

func (e Entry) live(now time.Time) bool {
	return e.ExpiresAt.IsZero() || now.Before(e.ExpiresAt)
}

// Claim pairs the outcome of a claim with the entry it resolved to.
type Claim struct {
	Outcome Outcome
	Entry   Entry
}

// Store keeps publish keys and their replies.
type Store interface {
	Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error)
	Complete(ctx context.Context, key, fingerprint string, reply Reply, now time.Time, ttl time.Duration) error
	Abandon(ctx context.Context, key string) error
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrKeyReused is returned when a key comes back with a different request behind it.
var ErrKeyReused = errors.New("idempotency: key already used for a different request")

func hashKey(key string) string {
	return digest([]byte(strings.TrimSpace(key)))
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var transientHeaders = map[string]struct{}{
	"Connection":          {},
	"Content-Length":      {},
	"Date":                {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailers":            {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// replayable drops headers that describe the original connection rather than the reply.
func replayable(header http.Header) http.Header {
	out := http.Header{}
	for name, values := range header {
		name = http.CanonicalHeaderKey(name)
		if _, skip := transientHeaders[name]; skip {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}
