package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Fingerprint identifies one complete cache snapshot. It digests the
// Oracle version, the target schema, and the catalog generation marker;
// any of the three changing yields a different cache file on disk.
type Fingerprint [32]byte

// NewFingerprint derives the digest for a (version, schema, generation)
// triple. Generation is the MAX(LAST_DDL_TIME) aggregate truncated to
// seconds, so repeated computation over an unchanged catalog is stable.
func NewFingerprint(version, targetSchema string, generation time.Time) Fingerprint {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d", version, strings.ToUpper(targetSchema), generation.Unix())
	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}

// Hex returns the lowercase hex form used as the cache file basename.
func (f Fingerprint) Hex() string { return hex.EncodeToString(f[:]) }

// IsZero reports whether the fingerprint is unset.
func (f Fingerprint) IsZero() bool { return f == Fingerprint{} }
