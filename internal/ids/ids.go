package ids

import (
	"fmt"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewToken returns a lexicographically sortable identifier used for session
// tokens and storage keys. Tokens are opaque to callers.
func NewToken() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Code renders a human-readable entity code such as "TR00007" from a
// monotonically chosen sequence number.
func Code(prefix string, seq int64) string {
	return fmt.Sprintf("%s%05d", prefix, seq)
}
