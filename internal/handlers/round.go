// internal/handlers/round.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/imposter-gg/imposter-server/internal/game"
	"github.com/imposter-gg/imposter-server/internal/lobby"
)

type setStatusRequest struct {
	InviteCode string       `json:"inviteCode"`
	Status     lobby.Status `json:"status"`
}

// SetStatusHandler lets the host advance the lobby through its phases
// (waiting -> in-progress -> finished).
func SetStatusHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		uid, err := EnsureEphemeralUser(w, r)
		if err != nil {
			http.Error(w, "authentication failed", http.StatusInternalServerError)
			return
		}

		var req setStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad status payload", http.StatusBadRequest)
			return
		}

		lob, err := s.Lobbies.Lobby(r.Context(), req.InviteCode)
		if err != nil {
			writeLobbyError(w, err)
			return
		}
		if lob.HostUID != uid {
			http.Error(w, "only the host may change the lobby phase", http.StatusForbidden)
			return
		}

		if err := s.Lobbies.SetStatus(r.Context(), req.InviteCode, req.Status); err != nil {
			writeLobbyError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type revealRequest struct {
	InviteCode  string `json:"inviteCode"`
	ImposterUID string `json:"imposterUid"`
}

// RevealHandler tallies the votes and returns the round result. Only
// the host may reveal, since only the host knows who the imposter is.
func RevealHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		uid, err := EnsureEphemeralUser(w, r)
		if err != nil {
			http.Error(w, "authentication failed", http.StatusInternalServerError)
			return
		}

		var req revealRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad reveal payload", http.StatusBadRequest)
			return
		}

		lob, err := s.Lobbies.Lobby(r.Context(), req.InviteCode)
		if err != nil {
			writeLobbyError(w, err)
			return
		}
		if lob.HostUID != uid {
			http.Error(w, "only the host may reveal the result", http.StatusForbidden)
			return
		}

		res, err := s.Rounds.Tally(r.Context(), req.InviteCode, req.ImposterUID)
		if errors.Is(err, game.ErrNoVotes) {
			http.Error(w, "no votes cast yet", http.StatusConflict)
			return
		}
		if err != nil {
			writeLobbyError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	}
}
