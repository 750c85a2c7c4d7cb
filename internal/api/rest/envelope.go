package rest

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/louisbranch/entityd/internal/platform/errors"
	"github.com/louisbranch/entityd/internal/platform/errors/i18n"
)

// respond writes the envelope as JSON, or as an encrypted packet when the
// request negotiated packet mode and authentication produced a secret.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, body map[string]any) {
	encoded, err := json.Marshal(body)
	if err != nil {
		log.Printf("encode response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	secret, authed := secretFrom(r.Context())
	if r.Header.Get(HeaderPacketMode) == "1" && authed {
		packed, err := h.codec.Encode(encoded, secret)
		if err != nil {
			log.Printf("encode packet: %v", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(status)
		_, _ = w.Write(packed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(encoded)
}

// respondError maps the error to its status and localized message.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeOf(err)
	status := code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	h.respond(w, r, status, map[string]any{
		"ok":      false,
		"code":    string(code),
		"message": i18n.Lookup(r.Header.Get("Accept-Language"), string(code)),
	})
}
