// Package queryexec implements the query executor and bounded result
// cache: parameterised reads over an acquired pool handle, a
// fingerprint-keyed cache with TTL and insertion-order eviction, and a
// slow-query warning side channel.
package queryexec

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint is the canonical cache key: a stable hash of the query
// template plus its parameter tuple, unless an explicit key is
// supplied.
type Fingerprint string

// ComputeFingerprint derives a Fingerprint from template and params.
// Unmarshalable params (e.g. func values) fall back to fmt.Sprintf,
// trading cache-key precision for never failing the caller's query.
func ComputeFingerprint(template string, params ...any) Fingerprint {
	h := sha256.New()
	h.Write([]byte(template))
	for _, p := range params {
		h.Write([]byte{0})
		if b, err := json.Marshal(p); err == nil {
			h.Write(b)
		} else {
			h.Write([]byte(fmt.Sprintf("%v", p)))
		}
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}
