package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/radiolens/radiolens/internal/pipeline"
)

// StatusFor maps a pipeline error kind to an HTTP status. A model that
// cannot be reached is an upstream failure; an image it cannot classify is
// the client's.
func StatusFor(kind string) int {
	switch kind {
	case pipeline.KindModelLoad:
		return http.StatusBadGateway
	case pipeline.KindInference:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeRunError(w http.ResponseWriter, err error) {
	kind := pipeline.ErrorKind(err)
	msg := err.Error()
	if kind == pipeline.KindInternal {
		msg = "internal error"
	}
	writeJSON(w, StatusFor(kind), map[string]string{
		"error": msg,
		"kind":  kind,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
