// Package auth verifies signed inbound requests against the API keyring.
package auth

import (
	"fmt"
	"strings"
)

// Keyring holds API key ids and their HMAC signing secrets.
type Keyring struct {
	secrets map[string]string
}

// NewKeyring constructs a keyring for request signature verification.
func NewKeyring(secrets map[string]string) (*Keyring, error) {
	if len(secrets) == 0 {
		return nil, fmt.Errorf("api keys are required")
	}
	cleaned := make(map[string]string, len(secrets))
	for id, secret := range secrets {
		id = strings.TrimSpace(id)
		secret = strings.TrimSpace(secret)
		if id == "" || secret == "" {
			return nil, fmt.Errorf("api key entries require an id and a secret")
		}
		cleaned[id] = secret
	}
	return &Keyring{secrets: cleaned}, nil
}

// Secret returns the signing secret for an API key id.
func (k *Keyring) Secret(apiKey string) (string, bool) {
	if k == nil {
		return "", false
	}
	secret, ok := k.secrets[strings.TrimSpace(apiKey)]
	return secret, ok
}
