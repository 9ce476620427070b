// File: internal/infra/http/errors.go
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"blobsubnet/internal/domain"
)

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps a domain sentinel to its HTTP status per the
// 400/403/404/402/409 scheme and writes a JSON error body. Unrecognized
// errors fall through to 400; errUnauthorized is special-cased to 401
// since it is an HTTP-layer concern the domain sentinels don't model.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, errUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientCredit):
		status = http.StatusPaymentRequired
	case errors.Is(err, domain.ErrIllegalState):
		status = http.StatusConflict
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	if v == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
