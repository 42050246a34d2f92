package idgen

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ProvisionalPrefix marks client-generated message ids.
const ProvisionalPrefix = "tmp_"

var (
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
)

func init() {
	source := rand.NewSource(time.Now().UnixNano())
	entropy = ulid.Monotonic(rand.New(source), 0)
}

// NewProvisionalID returns a monotonic tmp_* ULID for the given instant.
// Ids generated within the same millisecond still sort in creation order.
func NewProvisionalID(at time.Time) string {
	mu.Lock()
	defer mu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(at), entropy)
	return ProvisionalPrefix + strings.ToLower(id.String())
}

// IsProvisional reports whether id was produced by NewProvisionalID.
func IsProvisional(id string) bool {
	if !strings.HasPrefix(id, ProvisionalPrefix) {
		return false
	}
	_, err := ulid.ParseStrict(strings.ToUpper(strings.TrimPrefix(id, ProvisionalPrefix)))
	return err == nil
}
