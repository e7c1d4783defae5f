package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pitchlab/voicerelay/pkg/gateway/apierror"
	"github.com/pitchlab/voicerelay/pkg/gateway/mw"
)

func requestIDFromContext(ctx context.Context) string {
	if id, ok := mw.RequestIDFrom(ctx); ok {
		return id
	}
	return ""
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, status := apierror.FromError(err, requestIDFromContext(r.Context()))
	writeErrorJSON(w, apiErr, status)
}

func writeErrorJSON(w http.ResponseWriter, apiErr *apierror.Error, status int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apierror.Envelope{Error: apiErr})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
