package auth

import (
	"fmt"
	"os"
	"strings"
)

const (
	envAPIKeys   = "ENTITYD_API_KEYS"
	envAPIKey    = "ENTITYD_API_KEY"
	envAPISecret = "ENTITYD_API_SECRET"
)

// KeyringFromEnv loads the API keyring configuration from environment variables.
//
// ENTITYD_API_KEYS holds comma-separated "id=secret" entries. When unset,
// ENTITYD_API_KEY and ENTITYD_API_SECRET configure a single credential.
func KeyringFromEnv() (*Keyring, error) {
	keySpec := strings.TrimSpace(os.Getenv(envAPIKeys))
	if keySpec == "" {
		id := strings.TrimSpace(os.Getenv(envAPIKey))
		secret := strings.TrimSpace(os.Getenv(envAPISecret))
		if id == "" || secret == "" {
			return nil, fmt.Errorf("%s or %s/%s is required", envAPIKeys, envAPIKey, envAPISecret)
		}
		return NewKeyring(map[string]string{id: secret})
	}

	secrets := make(map[string]string)
	for _, entry := range strings.Split(keySpec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid %s entry", envAPIKeys)
		}
		id := strings.TrimSpace(parts[0])
		secret := strings.TrimSpace(parts[1])
		if id == "" || secret == "" {
			return nil, fmt.Errorf("invalid %s entry", envAPIKeys)
		}
		secrets[id] = secret
	}
	return NewKeyring(secrets)
}
