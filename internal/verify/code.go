package verify

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// codeAlphabet excludes I and O, which read ambiguously in-game. Its
// length divides 256, so byte-modulo indexing is unbiased. 32^6 ≈ 1.07e9
// codes keeps guess collision negligible within one TTL window.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewCode draws a fresh verification code from a cryptographically
// strong source.
func NewCode() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("verify: read random: %w", err)
	}
	out := make([]byte, CodeLength)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}

// NormalizeCode folds a submitted code to the canonical form used on
// both write and read, making lookup case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
