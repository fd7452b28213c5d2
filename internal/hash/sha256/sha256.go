// Package sha256 fingerprints reviews and digests handoff exports.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Digest implements handoff.Hasher.
type Digest struct{}

// New returns a Digest.
func New() *Digest {
	return &Digest{}
}

// Hash returns the hex digest of an export body.
func (*Digest) Hash(body []byte) (string, error) {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

// Fingerprint identifies a review by its uniqueness key. Two records that
// survive dedup in separate harvests share a fingerprint exactly when they
// would have been collapsed in a single one, so consumers can merge exports.
// Surrounding whitespace of the text is not significant.
func (*Digest) Fingerprint(subjectID, text string) string {
	h := sha256.New()
	h.Write([]byte(subjectID))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(h.Sum(nil))
}
