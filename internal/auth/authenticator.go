package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/entityd/internal/platform/errors"
)

// DefaultSkew is the allowed clock drift for request timestamps.
const DefaultSkew = 300 * time.Second

// Request carries the signed parts of one inbound call. Path includes the
// query string exactly as the client sent it.
type Request struct {
	Method    string
	Path      string
	APIKey    string
	Timestamp string
	Nonce     string
	Signature string
	Body      []byte
}

// Authenticator verifies request signatures and guards the replay window.
// The nonce set is the only shared mutable state and is safe for concurrent
// verification of distinct requests.
type Authenticator struct {
	keyring *Keyring
	skew    time.Duration
	now     func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewAuthenticator constructs an authenticator over the given keyring.
// A non-positive skew falls back to DefaultSkew.
func NewAuthenticator(keyring *Keyring, skew time.Duration) *Authenticator {
	if skew <= 0 {
		skew = DefaultSkew
	}
	return &Authenticator{
		keyring: keyring,
		skew:    skew,
		now:     time.Now,
		seen:    make(map[string]time.Time),
	}
}

// SignaturePayload renders the canonical string covered by the signature.
func SignaturePayload(method, path, timestamp, nonce string, body []byte) string {
	return strings.Join([]string{method, path, timestamp, nonce, string(body)}, "|")
}

// Sign computes the hex HMAC-SHA256 signature for the canonical payload.
func Sign(secret, method, path, timestamp, nonce string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(SignaturePayload(method, path, timestamp, nonce, body)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the request signature, timestamp window and nonce freshness.
// On success it returns the signing secret (the packet codec reuses it) and
// records the nonce; the nonce is recorded only on full success.
func (a *Authenticator) Verify(ctx context.Context, r Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(r.APIKey) == "" || strings.TrimSpace(r.Timestamp) == "" ||
		strings.TrimSpace(r.Nonce) == "" || strings.TrimSpace(r.Signature) == "" {
		return "", errors.New(errors.CodeAuthMissingHeader, "authentication headers are incomplete")
	}

	secret, ok := a.keyring.Secret(r.APIKey)
	if !ok {
		return "", errors.WithMetadata(errors.CodeAuthUnknownKey, "api key is not configured",
			map[string]string{"api_key": r.APIKey})
	}

	sent, err := strconv.ParseInt(strings.TrimSpace(r.Timestamp), 10, 64)
	if err != nil {
		return "", errors.Wrap(errors.CodeAuthStaleTimestamp, "timestamp is not a unix value", err)
	}
	now := a.now()
	drift := now.Sub(time.Unix(sent, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > a.skew {
		return "", errors.WithMetadata(errors.CodeAuthStaleTimestamp, "timestamp is outside the skew window",
			map[string]string{"timestamp": r.Timestamp})
	}

	expected := Sign(secret, r.Method, r.Path, r.Timestamp, r.Nonce, r.Body)
	if !hmac.Equal([]byte(expected), []byte(r.Signature)) {
		return "", errors.New(errors.CodeAuthBadSignature, "request signature mismatch")
	}

	// Check-and-record must be atomic so two copies of the same request
	// cannot both pass.
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pruneLocked(now)
	if _, replayed := a.seen[r.Nonce]; replayed {
		return "", errors.New(errors.CodeAuthReplayedNonce, "nonce was already accepted")
	}
	a.seen[r.Nonce] = now
	return secret, nil
}

// StartSweep prunes expired nonces on an interval until the context ends.
func (a *Authenticator) StartSweep(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.mu.Lock()
				a.pruneLocked(a.now())
				a.mu.Unlock()
			}
		}
	}()
}

func (a *Authenticator) pruneLocked(now time.Time) {
	for nonce, seenAt := range a.seen {
		if now.Sub(seenAt) > a.skew {
			delete(a.seen, nonce)
		}
	}
}
