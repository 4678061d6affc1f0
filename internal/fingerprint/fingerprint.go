// Package fingerprint derives stable SHA-256 identities for header layouts
// and contact sub-entities.
//
// Inputs are encoded as a JSON array before hashing. Ordering is preserved,
// and an absent field is encoded as null, which keeps ("a", absent) distinct
// from (absent, "a"). Entity treats an empty string as absent, so ("", "a")
// and (absent, "a") hash the same.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/JonMunkholm/contacthub/internal/normalize"
)

// Algorithm identifies the header hash scheme recorded on each mapping.
const Algorithm = "sha256/v1"

// Supported reports whether alg names a header hash scheme this build can verify.
// An empty algorithm is read as the current one.
func Supported(alg string) bool {
	return alg == "" || alg == Algorithm
}

// NormalizeHeaders returns the normalized form of each raw header, in order.
func NormalizeHeaders(raw []string) []string {
	out := make([]string, len(raw))
	for i, h := range raw {
		out[i] = normalize.Header(h)
	}
	return out
}

// Headers hashes an ordered, already normalized header list.
// Swapping two columns changes the result.
func Headers(normalized []string) string {
	return sum(normalized)
}

// Entity hashes a fixed-order tuple of normalized identity fields.
// Empty fields are absent and encode as null.
func Entity(fields ...string) string {
	tuple := make([]*string, len(fields))
	for i := range fields {
		if fields[i] != "" {
			tuple[i] = &fields[i]
		}
	}
	return sum(tuple)
}

func sum(v any) string {
	// Marshal of []string and []*string cannot fail.
	b, _ := json.Marshal(v)
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
