package token

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Fingerprinter hashes scan tokens with an optional secret key.
type Fingerprinter struct {
	key []byte
}

// NewFingerprinter returns a Fingerprinter keyed with key (trimmed).
// An empty key selects unkeyed hashing.
func NewFingerprinter(key string) (*Fingerprinter, error) {
	k := []byte(strings.TrimSpace(key))
	if len(k) > blake2b.Size {
		return nil, ErrKeyTooLong
	}
	return &Fingerprinter{key: k}, nil
}

// Keyed reports whether fingerprints are derived with a secret key.
func (f *Fingerprinter) Keyed() bool {
	return f != nil && len(f.key) > 0
}

// Fingerprint returns the hex BLAKE2b-256 digest of s.
func (f *Fingerprinter) Fingerprint(s string) string {
	var key []byte
	if f != nil {
		key = f.key
	}
	h, err := blake2b.New256(key)
	if err != nil {
		// Only reachable with an oversized key, which NewFingerprinter rejects.
		sum := blake2b.Sum256([]byte(s))
		return hex.EncodeToString(sum[:])
	}
	_, _ = h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}

// Short returns the first 12 hex chars of the fingerprint, for log lines.
func (f *Fingerprinter) Short(s string) string {
	return f.Fingerprint(s)[:12]
}
