package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"bazaar/cmd/internal/messaging"
)

// writeDomainError maps a service error to a status code and a stable reason code.
// Unknown errors become 500 without leaking details.
func writeDomainError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	if errors.Is(err, context.Canceled) {
		log.Debug("http.client_gone", "path", r.URL.Path)
		return
	}

	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, messaging.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, messaging.ErrInvalidArgument):
		status, code = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, messaging.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, messaging.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, messaging.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, messaging.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusServiceUnavailable, "unavailable"
	}

	msg := http.StatusText(status)
	var de *messaging.Error
	if errors.As(err, &de) {
		if de.Code != "" {
			code = de.Code
		}
		// Transient messages name internal operations; keep them server-side.
		if de.Message != "" && status != http.StatusServiceUnavailable {
			msg = de.Message
		}
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
		log.Warn("http.unavailable", "path", r.URL.Path, "code", code, "err", err)
	}
	if status == http.StatusInternalServerError {
		log.Error("http.internal", "path", r.URL.Path, "err", err)
	}
	writeError(w, status, code, msg)
}
