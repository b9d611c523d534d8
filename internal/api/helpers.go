package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"grimm.is/discoverd/internal/hooks"
	"grimm.is/discoverd/internal/introspect"
	"grimm.is/discoverd/internal/nodecache"
	"grimm.is/discoverd/internal/registry"
)

// WriteError sends message as a plain-text body.
func WriteError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	w.Write([]byte(message))
}

// WriteErr sends err with the status StatusFor derives.
func WriteErr(w http.ResponseWriter, err error) {
	WriteError(w, StatusFor(err), err.Error())
}

// WriteJSON sends a JSON success response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// StatusFor maps an error to an HTTP status code.
func StatusFor(err error) int {
	var verr *hooks.ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, introspect.ErrInvalidInput),
		errors.Is(err, nodecache.ErrMultipleNodes),
		errors.Is(err, nodecache.ErrFinished),
		errors.Is(err, nodecache.ErrAttributeInUse):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrNotFound),
		errors.Is(err, nodecache.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
