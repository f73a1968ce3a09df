package devserver

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// errorResponse sends a {"detail": ...} error body
func errorResponse(w http.ResponseWriter, detail string, status int) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// fieldErrors collects per-field validation messages
type fieldErrors map[string][]string

func (f fieldErrors) add(field, msg string) {
	f[field] = append(f[field], msg)
}

func (f fieldErrors) send(w http.ResponseWriter) bool {
	if len(f) == 0 {
		return false
	}
	writeJSON(w, http.StatusBadRequest, f)
	return true
}
