package pairing

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// codeLength is the number of characters in a pairing code.
const codeLength = 6

// codeAlphabet omits characters that read ambiguously when a person has to
// type the code off a screen: no I, L, O, 0 or 1.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// randomCode draws a new pairing code using crypto/rand.
func randomCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	var sb strings.Builder
	sb.Grow(codeLength)
	for _, b := range buf {
		sb.WriteByte(codeAlphabet[int(b)%len(codeAlphabet)])
	}
	return sb.String(), nil
}

// NormalizeCode upper-cases and trims a user-supplied pairing code so that
// redemption is case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
