// internal/handlers/prefs.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/imposter-gg/imposter-server/internal/prefs"
)

// PrefsHandler reads and writes the caller's avatar preferences.
// GET returns the normalized prefs; PUT stores them as sent.
func PrefsHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, err := EnsureEphemeralUser(w, r)
		if err != nil {
			http.Error(w, "authentication failed", http.StatusInternalServerError)
			return
		}

		switch r.Method {
		case http.MethodGet:
			p, err := s.Prefs.Get(r.Context(), uid)
			if err != nil {
				s.Logger.Warnf("prefs read failed for %s: %v", uid, err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(p)

		case http.MethodPut:
			var p prefs.Prefs
			if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
				http.Error(w, "bad prefs payload", http.StatusBadRequest)
				return
			}
			if err := s.Prefs.Set(r.Context(), uid, p); err != nil {
				s.Logger.Warnf("prefs write failed for %s: %v", uid, err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}
