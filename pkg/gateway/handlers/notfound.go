package handlers

import (
	"net/http"

	"github.com/pitchlab/voicerelay/pkg/gateway/apierror"
)

type NotFoundHandler struct{}

func (NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeErrorJSON(w, &apierror.Error{
		Type:      apierror.ErrNotFound,
		Message:   "not found",
		RequestID: requestIDFromContext(r.Context()),
	}, http.StatusNotFound)
}
