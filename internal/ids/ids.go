// Package ids mints the sortable identifiers used as primary keys for
// accounts and tokens. ULIDs keep insert order roughly matching key
// order, which suits created_at-sorted listings.
package ids

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// generator serializes access to the monotonic entropy source so ids
// minted within the same millisecond still sort in mint order.
type generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func (g *generator) next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}

var defaultGenerator = &generator{
	entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
}

// New returns a fresh ULID string.
func New() string {
	return defaultGenerator.next()
}
