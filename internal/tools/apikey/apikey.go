// Package apikey generates API key credentials for the entity server keyring.
package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/louisbranch/entityd/internal/platform/id"
)

// Config holds configuration for API key generation.
type Config struct {
	// ID is the key identifier. Empty generates a random one.
	ID string
	// Bytes is the secret length before hex encoding.
	Bytes int
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Bytes: 32}
	fs.StringVar(&cfg.ID, "id", cfg.ID, "key identifier (default: random)")
	fs.IntVar(&cfg.Bytes, "bytes", cfg.Bytes, "number of random secret bytes (default: 32)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run generates the credential and writes it to out in keyring env format.
func Run(cfg Config, out io.Writer, reader io.Reader) error {
	if cfg.Bytes <= 0 {
		return errors.New("bytes must be greater than zero")
	}
	if out == nil {
		return errors.New("output is required")
	}
	if reader == nil {
		reader = rand.Reader
	}

	keyID := strings.TrimSpace(cfg.ID)
	if keyID == "" {
		generated, err := id.NewID()
		if err != nil {
			return fmt.Errorf("generate key id: %w", err)
		}
		keyID = generated
	}

	buf := make([]byte, cfg.Bytes)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return fmt.Errorf("generate random bytes: %w", err)
	}
	_, err := fmt.Fprintf(out, "ENTITYD_API_KEYS=%s=%s\n", keyID, hex.EncodeToString(buf))
	return err
}
