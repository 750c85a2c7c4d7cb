// Package id generates random identifiers for server-side resources.
package id

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
)

const idBytes = 16

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a 26-character lowercase base32 identifier backed by
// 16 bytes of cryptographically secure randomness.
func NewID() (string, error) {
	buf := make([]byte, idBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return strings.ToLower(encoding.EncodeToString(buf)), nil
}
