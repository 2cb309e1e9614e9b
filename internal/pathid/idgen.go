package pathid

import (
	"crypto/sha256"
	"math/big"
	"strings"
	"time"
)

// base36 gives better information density than hex for short opaque IDs.
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// IDLength is the number of base36 characters in a generated task ID
// body (after the type prefix).
const IDLength = 8

// encodeBase36 converts data to a base36 string of exactly length
// characters, truncating to the least-significant digits or
// zero-padding on the left as needed.
func encodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)
	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}
	for i, j := 0, len(chars)-1; i < j; i, j = i+1, j-1 {
		chars[i], chars[j] = chars[j], chars[i]
	}
	str := string(chars)
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}

// GenerateID creates an opaque, URL-safe, unique task ID from content
// that is stable for a given (name, parentPath, timestamp, nonce)
// tuple, disambiguated by nonce on collision. IDs take a "prefix-hash"
// shape, e.g. "task-9wt4w4z2".
func GenerateID(prefix, name, parentPath string, timestamp time.Time, nonce int) string {
	content := name + "|" + parentPath + "|" + timestamp.UTC().Format(time.RFC3339Nano)
	if nonce > 0 {
		content += "|" + encodeBase36([]byte{byte(nonce)}, 2)
	}
	hash := sha256.Sum256([]byte(content))
	body := encodeBase36(hash[:5], IDLength)
	if prefix == "" {
		return body
	}
	return prefix + "-" + body
}
