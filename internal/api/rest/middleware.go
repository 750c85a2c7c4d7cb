package rest

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"

	"github.com/louisbranch/entityd/internal/auth"
	"github.com/louisbranch/entityd/internal/platform/errors"
	"github.com/louisbranch/entityd/internal/platform/id"
)

// Signed request headers.
const (
	HeaderAPIKey        = "X-API-Key"
	HeaderTimestamp     = "X-Timestamp"
	HeaderNonce         = "X-Nonce"
	HeaderSignature     = "X-Signature"
	HeaderTransactionID = "X-Transaction-ID"
	HeaderPacketMode    = "X-Packet-Mode"
	HeaderRequestID     = "X-Request-ID"
)

// maxBodyBytes caps request bodies before signature verification.
const maxBodyBytes = 1 << 20

type secretContextKey struct{}

func secretFrom(ctx context.Context) (string, bool) {
	secret, ok := ctx.Value(secretContextKey{}).(string)
	return secret, ok
}

// authenticate verifies the request signature over the exact bytes the client
// sent, then re-installs the body for the route handlers.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			h.respondError(w, r, errors.Wrap(errors.CodeEntityInvalidPayload, "request body unreadable", err))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		secret, err := h.verifier.Verify(r.Context(), auth.Request{
			Method:    r.Method,
			Path:      r.URL.RequestURI(),
			APIKey:    r.Header.Get(HeaderAPIKey),
			Timestamp: r.Header.Get(HeaderTimestamp),
			Nonce:     r.Header.Get(HeaderNonce),
			Signature: r.Header.Get(HeaderSignature),
			Body:      body,
		})
		if err != nil {
			h.respondError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), secretContextKey{}, secret)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestID tags every response with an identifier for log correlation.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get(HeaderRequestID)
		if rid == "" {
			if generated, err := id.NewID(); err == nil {
				rid = generated
			}
		}
		if rid != "" {
			w.Header().Set(HeaderRequestID, rid)
		}
		next.ServeHTTP(w, r)
	})
}

// recoverPanic converts handler panics into a plain 500 envelope.
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"ok":false,"code":"UNKNOWN","message":"internal error"}`))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
