package i18n

// Error codes must match the codes defined in internal/platform/errors/codes.go.
// These are duplicated as strings to avoid an import cycle.
var enUS = map[string]string{
	"UNKNOWN":                  "An unexpected error occurred",
	"AUTH_MISSING_HEADER":      "A required authentication header is missing",
	"AUTH_UNKNOWN_KEY":         "The API key is not recognized",
	"AUTH_BAD_SIGNATURE":       "The request signature does not match",
	"AUTH_STALE_TIMESTAMP":     "The request timestamp is outside the allowed window",
	"AUTH_REPLAYED_NONCE":      "The request nonce was already used",
	"TX_NOT_FOUND":             "The transaction does not exist",
	"TX_NOT_OPEN":              "The transaction is no longer open",
	"TX_UNRESOLVED_REFERENCE":  "A statement references a result that does not exist",
	"TX_COMMIT_FAILED":         "The transaction could not be committed",
	"PACKET_TRUNCATED":         "The packet is too short to decode",
	"PACKET_AUTH_TAG_MISMATCH": "The packet failed integrity verification",
	"ENTITY_INVALID_NAME":      "The entity name is not a valid identifier",
	"ENTITY_INVALID_FIELD":     "A field name is not a valid identifier",
	"ENTITY_INVALID_FILTER":    "A query filter is malformed",
	"ENTITY_INVALID_PAGING":    "The page or limit parameter is out of range",
	"ENTITY_INVALID_PAYLOAD":   "The request payload is malformed",
	"NOT_FOUND":                "The requested record does not exist",
	"STORAGE_FAILURE":          "The storage backend reported a failure",
}
