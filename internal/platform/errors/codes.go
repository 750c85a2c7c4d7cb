package errors

import (
	stderrors "errors"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Request authentication errors
	CodeAuthMissingHeader  Code = "AUTH_MISSING_HEADER"
	CodeAuthUnknownKey     Code = "AUTH_UNKNOWN_KEY"
	CodeAuthBadSignature   Code = "AUTH_BAD_SIGNATURE"
	CodeAuthStaleTimestamp Code = "AUTH_STALE_TIMESTAMP"
	CodeAuthReplayedNonce  Code = "AUTH_REPLAYED_NONCE"

	// Transaction queue errors
	CodeTxNotFound            Code = "TX_NOT_FOUND"
	CodeTxNotOpen             Code = "TX_NOT_OPEN"
	CodeTxUnresolvedReference Code = "TX_UNRESOLVED_REFERENCE"
	CodeTxCommitFailed        Code = "TX_COMMIT_FAILED"

	// Packet codec errors
	CodePacketTruncated       Code = "PACKET_TRUNCATED"
	CodePacketAuthTagMismatch Code = "PACKET_AUTH_TAG_MISMATCH"

	// Entity validation errors
	CodeEntityInvalidName    Code = "ENTITY_INVALID_NAME"
	CodeEntityInvalidField   Code = "ENTITY_INVALID_FIELD"
	CodeEntityInvalidFilter  Code = "ENTITY_INVALID_FILTER"
	CodeEntityInvalidPaging  Code = "ENTITY_INVALID_PAGING"
	CodeEntityInvalidPayload Code = "ENTITY_INVALID_PAYLOAD"

	// Storage errors
	CodeNotFound       Code = "NOT_FOUND"
	CodeStorageFailure Code = "STORAGE_FAILURE"
)

// HTTPStatus maps the code to the HTTP status the REST layer responds with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeAuthMissingHeader, CodeAuthUnknownKey, CodeAuthBadSignature,
		CodeAuthStaleTimestamp, CodeAuthReplayedNonce:
		return http.StatusUnauthorized
	case CodeTxNotFound, CodeNotFound:
		return http.StatusNotFound
	case CodeTxNotOpen:
		return http.StatusConflict
	case CodeTxUnresolvedReference:
		return http.StatusUnprocessableEntity
	case CodeTxCommitFailed:
		return http.StatusConflict
	case CodePacketTruncated, CodePacketAuthTagMismatch,
		CodeEntityInvalidName, CodeEntityInvalidField, CodeEntityInvalidFilter,
		CodeEntityInvalidPaging, CodeEntityInvalidPayload:
		return http.StatusBadRequest
	case CodeStorageFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf extracts the domain code from an error chain.
// Errors outside the domain map to CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	var domainErr *Error
	if stderrors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeUnknown
}

// HTTPStatus resolves the HTTP status for any error.
func HTTPStatus(err error) int {
	return CodeOf(err).HTTPStatus()
}
