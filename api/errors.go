package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/oasisprotocol/vaulthub/hub"
	"github.com/oasisprotocol/vaulthub/ingestion"
	"github.com/oasisprotocol/vaulthub/storage"
	"github.com/oasisprotocol/vaulthub/vault"
)

var (
	// ErrBadRequest is returned when the provided HTTP request
	// is malformed.
	ErrBadRequest = errors.New("invalid request parameters")
	// ErrMissingCaller is returned when a mutating request carries no
	// caller address.
	ErrMissingCaller = errors.New("missing " + CallerHeader + " header")
	// ErrNotFound is returned when handling a request for an item that
	// does not exist.
	ErrNotFound = errors.New("item not found")
)

// HumanReadableError is the JSON rendering of a failed request.
type HumanReadableError struct {
	Msg    string            `json:"msg"`
	Kind   string            `json:"kind,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

func HttpCodeForError(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, ErrMissingCaller),
		errors.Is(err, hub.ErrInvalidAmount),
		errors.Is(err, hub.ErrInvalidParameters),
		errors.Is(err, hub.ErrInvalidReport),
		errors.Is(err, vault.ErrInvalidPubkey):
		return http.StatusBadRequest
	case errors.Is(err, hub.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, ingestion.ErrNotArchived),
		errors.Is(err, hub.ErrVaultNotConnected):
		return http.StatusNotFound
	case errors.Is(err, ingestion.ErrDuplicateReport),
		errors.Is(err, hub.ErrVaultAlreadyConnected),
		errors.Is(err, vault.ErrVaultHubAlreadyAttached),
		errors.Is(err, hub.ErrVaultHubAlreadyDetached),
		errors.Is(err, hub.ErrReentrantCall):
		return http.StatusConflict
	case hub.KindOf(err) != nil:
		// Any other ledger or vault rule the request broke.
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// A simple error handler that renders any error as human-readable JSON to
// the HTTP response stream `w`. Ledger errors carry their kind and the
// offending values.
func HumanReadableJsonErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("x-content-type-options", "nosniff")
	w.WriteHeader(HttpCodeForError(err))

	errStruct := HumanReadableError{Msg: err.Error()}
	if kind := hub.KindOf(err); kind != nil {
		errStruct.Kind = kind.Error()
	}
	var herr *hub.Error
	if errors.As(err, &herr) {
		errStruct.Kind = herr.Kind.Error()
		errStruct.Fields = herr.Fields
	}

	_ = json.NewEncoder(w).Encode(errStruct)
}
