// Package rest exposes the entity server over signed HTTP endpoints.
package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/louisbranch/entityd/internal/auth"
	"github.com/louisbranch/entityd/internal/entity"
	"github.com/louisbranch/entityd/internal/packet"
	"github.com/louisbranch/entityd/internal/payload"
	"github.com/louisbranch/entityd/internal/platform/errors"
	"github.com/louisbranch/entityd/internal/storage"
	"github.com/louisbranch/entityd/internal/transaction"
)

// Handler serves the versioned entity API.
type Handler struct {
	gateway  *entity.Gateway
	engine   *transaction.Engine
	verifier *auth.Authenticator
	codec    *packet.Codec
}

// New wires the route table behind the signing middleware and returns the
// root handler.
func New(gateway *entity.Gateway, engine *transaction.Engine, verifier *auth.Authenticator, codec *packet.Codec) http.Handler {
	h := &Handler{
		gateway:  gateway,
		engine:   engine,
		verifier: verifier,
		codec:    codec,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/transaction/start", h.startTransaction)
	mux.HandleFunc("POST /v1/transaction/commit/{id}", h.commitTransaction)
	mux.HandleFunc("POST /v1/transaction/rollback/{id}", h.rollbackTransaction)
	mux.HandleFunc("GET /v1/entity/{entity}/list", h.listRecords)
	mux.HandleFunc("GET /v1/entity/{entity}/count", h.countRecords)
	mux.HandleFunc("POST /v1/entity/{entity}/query", h.queryRecords)
	mux.HandleFunc("POST /v1/entity/{entity}/submit", h.submitRecord)
	mux.HandleFunc("DELETE /v1/entity/{entity}/delete/{seq}", h.deleteRecord)
	mux.HandleFunc("GET /v1/entity/{entity}/history/{seq}", h.recordHistory)
	mux.HandleFunc("POST /v1/entity/{entity}/rollback/{historySeq}", h.rollbackRecord)
	mux.HandleFunc("GET /v1/entity/{entity}/{seq}", h.getRecord)

	chain := h.authenticate(mux)
	chain = requestID(chain)
	chain = recoverPanic(chain)
	return otelhttp.NewHandler(chain, "entityd.rest")
}

func (h *Handler) startTransaction(w http.ResponseWriter, r *http.Request) {
	txID, err := h.engine.Start(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, map[string]any{"ok": true, "transaction_id": txID})
}

func (h *Handler) commitTransaction(w http.ResponseWriter, r *http.Request) {
	results, err := h.engine.Commit(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, map[string]any{"ok": true, "results": results})
}

func (h *Handler) rollbackTransaction(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Rollback(r.PathValue("id")); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	seq, err := pathSeq(r, "seq")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	record, err := h.gateway.Get(r.Context(), r.PathValue("entity"), seq)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, map[string]any{"ok": true, "data": recordJSON(record)})
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	page, limit, err := pagingParams(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	records, err := h.gateway.List(r.Context(), r.PathValue("entity"), page, limit, r.URL.Query().Get("order_by"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, map[string]any{"ok": true, "data": recordsJSON(records)})
}

func (h *Handler) countRecords(w http.ResponseWriter, r *http.Request) {
	count, err := h.gateway.Count(r.Context(), r.PathValue("entity"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, map[string]any{"ok": true, "count": count})
}

type filterParam struct {
	Field string        `json:"field"`
	Op    string        `json:"op"`
	Value payload.Value `json:"value"`
}

func (h *Handler) queryRecords(w http.ResponseWriter, r *http.Request) {
	page, limit, err := pagingParams(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var params []filterParam
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		h.respondError(w, r, errors.Wrap(errors.CodeEntityInvalidFilter, "filter body is not a JSON array", err))
		return
	}
	filters := make([]storage.Filter, len(params))
	for i, param := range params {
		filters[i] = storage.Filter{Field: param.Field, Op: param.Op, Value: param.Value}
	}

	records, err := h.gateway.Query(r.Context(), r.PathValue("entity"), filters, page, limit, r.URL.Query().Get("order_by"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, map[string]any{"ok": true, "data": recordsJSON(records)})
}

func (h *Handler) submitRecord(w http.ResponseWriter, r *http.Request) {
	entityName := r.PathValue("entity")

	var data payload.Map
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		h.respondError(w, r, errors.Wrap(errors.CodeEntityInvalidPayload, "payload is not a JSON object", err))
		return
	}

	if txID := r.Header.Get(HeaderTransactionID); txID != "" {
		if err := entity.ValidateStatement(entityName, storage.OpSubmit, data); err != nil {
			h.respondError(w, r, err)
			return
		}
		index, err := h.engine.Enqueue(txID, transaction.Statement{
			Entity: entityName,
			Op:     storage.OpSubmit,
			Data:   data,
		})
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		h.respond(w, r, http.StatusAccepted, map[string]any{"ok": true, "seq": payload.Ref(index)})
		return
	}

	seq, err := h.gateway.Submit(r.Context(), entityName, data)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, map[string]any{"ok": true, "seq": seq})
}

func (h *Handler) deleteRecord(w http.ResponseWriter, r *http.Request) {
	entityName := r.PathValue("entity")
	hard := boolParam(r, "hard")
	rawSeq := r.PathValue("seq")

	if txID := r.Header.Get(HeaderTransactionID); txID != "" {
		var seqValue payload.Value
		if _, isRef := payload.ParseRef(rawSeq); isRef {
			seqValue = payload.String(rawSeq)
		} else {
			seq, err := pathSeq(r, "seq")
			if err != nil {
				h.respondError(w, r, err)
				return
			}
			seqValue = payload.Int(seq)
		}
		if err := entity.ValidateStatement(entityName, storage.OpDelete, nil); err != nil {
			h.respondError(w, r, err)
			return
		}
		index, err := h.engine.Enqueue(txID, transaction.Statement{
			Entity: entityName,
			Op:     storage.OpDelete,
			Seq:    seqValue,
			Hard:   hard,
		})
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		h.respond(w, r, http.StatusAccepted, map[string]any{"ok": true, "seq": payload.Ref(index)})
		return
	}

	seq, err := pathSeq(r, "seq")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.gateway.Delete(r.Context(), entityName, seq, hard); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) recordHistory(w http.ResponseWriter, r *http.Request) {
	seq, err := pathSeq(r, "seq")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	page, limit, err := pagingParams(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	entries, err := h.gateway.History(r.Context(), r.PathValue("entity"), seq, page, limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	data := make([]map[string]any, len(entries))
	for i, entry := range entries {
		data[i] = historyJSON(entry)
	}
	h.respond(w, r, http.StatusOK, map[string]any{"ok": true, "data": data})
}

func (h *Handler) rollbackRecord(w http.ResponseWriter, r *http.Request) {
	historySeq, err := pathSeq(r, "historySeq")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.gateway.RollbackHistory(r.Context(), r.PathValue("entity"), historySeq); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, map[string]any{"ok": true})
}

func pathSeq(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.New(errors.CodeEntityInvalidPayload, fmt.Sprintf("%s %q is not an integer", name, raw))
	}
	return seq, nil
}

func pagingParams(r *http.Request) (int, int, error) {
	page, err := intParam(r, "page")
	if err != nil {
		return 0, 0, err
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		return 0, 0, err
	}
	return page, limit, nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(errors.CodeEntityInvalidPaging, fmt.Sprintf("%s %q is not an integer", name, raw))
	}
	return value, nil
}

func boolParam(r *http.Request, name string) bool {
	switch r.URL.Query().Get(name) {
	case "1", "true":
		return true
	}
	return false
}

func recordJSON(record storage.Record) map[string]any {
	out := make(map[string]any, len(record.Data)+3)
	for field, value := range record.Data {
		out[field] = value
	}
	out["seq"] = record.Seq
	out["created_at"] = record.CreatedAt.Format(time.RFC3339)
	out["updated_at"] = record.UpdatedAt.Format(time.RFC3339)
	return out
}

func recordsJSON(records []storage.Record) []map[string]any {
	out := make([]map[string]any, len(records))
	for i, record := range records {
		out[i] = recordJSON(record)
	}
	return out
}

func historyJSON(entry storage.HistoryEntry) map[string]any {
	out := map[string]any{
		"history_seq": entry.HistorySeq,
		"entity":      entry.Entity,
		"seq":         entry.Seq,
		"op":          entry.Operation,
		"changed_at":  entry.ChangedAt.Format(time.RFC3339),
	}
	if entry.Prior != nil {
		out["prior"] = entry.Prior
	}
	return out
}
