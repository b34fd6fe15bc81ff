package idgen

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// entropy is a package-level crypto/rand-backed ULID entropy source.
// ulid.ULID generation is not safe for concurrent use across goroutines
// sharing one entropy reader without serialization; the store serializes
// all id allocation behind its single-writer discipline (spec.md §5), so
// a single shared source is sufficient here.
var entropy = ulid.Monotonic(rand.Reader, 0)

// Sortable returns a 26-char Crockford base32 lexicographically
// sortable id (spec.md §6) for the given instant. Ids generated at
// increasing timestamps sort in the same order, and ids generated
// within the same millisecond are made monotonic by ulid.Monotonic's
// incrementing entropy.
func Sortable(now time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(now), entropy)
	return id.String()
}
