package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/datapulse/orchestrator/internal/pkg/ctxlog"
)

// ErrorMapping maps a sentinel error to an HTTP response.
type ErrorMapping struct {
	Error  error
	Status int
	// Message replaces err.Error() in the response when set.
	Message string
	// Code is a stable machine-readable identifier added to the error body.
	Code string
}

// HandleError writes the response of the first mapping err matches. Anything
// unmapped is logged and answered with 500.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	for _, m := range mappings {
		if !errors.Is(err, m.Error) {
			continue
		}
		msg := m.Message
		if msg == "" {
			msg = err.Error()
		}
		if m.Code != "" {
			ErrorWithFields(w, m.Status, msg, map[string]string{"code": m.Code})
			return
		}
		Error(w, m.Status, msg)
		return
	}

	ctxlog.FromContext(ctx).Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}
