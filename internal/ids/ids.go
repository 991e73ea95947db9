// Package ids mints lexicographically sortable identifiers for append-only rows.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a ULID stamped with the current time.
func New() string {
	return At(time.Now())
}

// At returns a ULID stamped with t. Identifiers minted within the same
// millisecond still sort in creation order.
func At(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
