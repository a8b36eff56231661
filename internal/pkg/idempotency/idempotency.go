// Package idempotency normalises caller-supplied idempotency keys. Keys are
// opaque strings chosen by the caller, not derived from the operation's
// contents, so normalisation is limited to making equivalent keys compare
// equal — trimming incidental whitespace and canonicalising case.
package idempotency

import "strings"

// Normalize trims surrounding whitespace and upper-cases key so that
// "abc-123", " abc-123 " and "ABC-123" all collide on the same ledger row.
// An empty result after trimming means "no key supplied".
func Normalize(key string) *string {
	trimmed := strings.ToUpper(strings.TrimSpace(key))
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
