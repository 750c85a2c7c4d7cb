// Package packet frames and encrypts binary response envelopes.
//
// Wire layout: [magic][24-byte nonce][ciphertext || 16-byte tag]. The key is
// SHA-256 of the API key's HMAC secret, so clients manage a single
// credential for signing and decryption.
package packet

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/louisbranch/entityd/internal/platform/errors"
)

// DefaultMagic prefixes encoded packets when no magic is configured.
const DefaultMagic = "EPK1"

// Codec encodes and decodes encrypted response packets.
type Codec struct {
	magic []byte
}

// NewCodec constructs a codec with the given magic prefix.
func NewCodec(magic []byte) (*Codec, error) {
	if len(magic) == 0 {
		magic = []byte(DefaultMagic)
	}
	return &Codec{magic: append([]byte(nil), magic...)}, nil
}

// MagicLen returns the configured magic prefix length.
func (c *Codec) MagicLen() int {
	return len(c.magic)
}

// Key derives the packet key from an HMAC secret.
func Key(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// Encode seals plaintext into a packet using a fresh random nonce.
func (c *Codec) Encode(plaintext []byte, secret string) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(Key(secret))
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, len(c.magic)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, c.magic...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

// Decode opens a packet and returns the plaintext. The magic bytes are
// treated as an opaque skip-length; verification failure never exposes
// partial plaintext.
func (c *Codec) Decode(data []byte, secret string) ([]byte, error) {
	header := len(c.magic) + chacha20poly1305.NonceSizeX
	if len(data) < header+chacha20poly1305.Overhead {
		return nil, errors.New(errors.CodePacketTruncated, "packet is shorter than its header")
	}

	aead, err := chacha20poly1305.NewX(Key(secret))
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}

	nonce := data[len(c.magic):header]
	ciphertext := data[header:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(errors.CodePacketAuthTagMismatch, "packet failed authentication", err)
	}
	return plaintext, nil
}
