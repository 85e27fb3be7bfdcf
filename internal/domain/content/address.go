// Package content derives content digests and storage keys for generated documents.
package content

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ErrDigestMismatch is returned when stored bytes no longer hash to the recorded digest.
var ErrDigestMismatch = errors.New("content digest mismatch")

// keyTimestampLayout sorts lexicographically in time order.
const keyTimestampLayout = "20060102T150405.000000000Z"

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Digest returns the lowercase hex SHA-256 of b.
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the digest of b and compares it with expected.
func Verify(b []byte, expected string) error {
	if got := Digest(b); got != strings.ToLower(expected) {
		return fmt.Errorf("%w: expected %s, got %s", ErrDigestMismatch, expected, got)
	}
	return nil
}

// KeyGenerator issues storage keys of the form {customer}/{taxYear}/{docType}/{timestamp}.
// Timestamps are strictly increasing within one generator, so two generations of the
// same logical document never share a key.
type KeyGenerator struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewKeyGenerator creates a generator using the wall clock.
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{now: time.Now}
}

// NewKeyGeneratorWithClock creates a generator with an injected clock.
func NewKeyGeneratorWithClock(now func() time.Time) *KeyGenerator {
	return &KeyGenerator{now: now}
}

// Next returns a fresh storage key.
func (g *KeyGenerator) Next(customerID string, taxYear int, docType string) string {
	g.mu.Lock()
	ts := g.now().UTC()
	if !ts.After(g.last) {
		ts = g.last.Add(time.Nanosecond)
	}
	g.last = ts
	g.mu.Unlock()

	return fmt.Sprintf("%s/%d/%s/%s",
		SanitizeComponent(customerID), taxYear, SanitizeComponent(docType), ts.Format(keyTimestampLayout))
}

// SanitizeComponent replaces characters that are unsafe in an object key path segment.
func SanitizeComponent(s string) string {
	s = strings.TrimSpace(s)
	s = unsafeKeyChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, ".")
	if s == "" {
		return "_"
	}
	return s
}
