// Package hashkey derives the deterministic SHA-256 keys that make the
// pipeline idempotent across runs and process restarts.
package hashkey

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// Keyer implements pipeline.Hasher. Keys are pure functions of their
// normalized inputs: no salt, no randomization, stable across processes.
type Keyer struct{}

// New returns a Keyer.
func New() *Keyer {
	return &Keyer{}
}

// Key hashes an ordered sequence of string parts into a hex digest.
// Parts are normalized first so cosmetic differences never produce
// different keys for logically identical inputs. A unit separator joins
// the parts so ("ab","c") and ("a","bc") cannot collide.
func (k *Keyer) Key(parts ...string) string {
	h := sha256.New()
	for i, part := range parts {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		h.Write([]byte(Normalize(part)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Sum hashes raw bytes into a hex digest. Used for content checksums,
// where the bytes are already normalized plaintext.
func (k *Keyer) Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Normalize canonicalizes a key part. Whitespace is trimmed and inner runs
// collapsed; values that parse as absolute URLs get a lower-cased scheme
// and host and lose any trailing slash on the path.
func Normalize(part string) string {
	part = strings.Join(strings.Fields(part), " ")
	if !strings.Contains(part, "://") {
		return part
	}
	u, err := url.Parse(part)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return part
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	return u.String()
}
