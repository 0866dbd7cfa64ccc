package compare

import (
	"crypto/sha256"
	"encoding/hex"
)

// RowHash computes a deterministic digest over the ordered logical column
// values of a row. Values are canonicalized first, so representations that
// compare equal ("18.20" vs 18.2, midnight timestamps vs dates) hash equal,
// and the digest is stable across runs and engines for the same content.
func RowHash(columns []string, values map[string]any) string {
	h := sha256.New()
	for _, col := range columns {
		v, ok := values[col]
		if !ok || v == nil {
			h.Write([]byte{0x00})
		} else {
			h.Write([]byte(CanonicalString(v)))
		}
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}
