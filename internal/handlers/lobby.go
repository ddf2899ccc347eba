// internal/handlers/lobby.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/imposter-gg/imposter-server/internal/lobby"
)

// lobbyView is the lobby document as exposed over HTTP. The player
// counter stays internal.
type lobbyView struct {
	InviteCode string       `json:"inviteCode"`
	Status     lobby.Status `json:"status"`
	HostUID    string       `json:"hostUid"`
	CreatedAt  int64        `json:"createdAt"`
}

type createLobbyRequest struct {
	InviteCode string       `json:"inviteCode"`
	Name       string       `json:"name"`
	Avatar     lobby.Avatar `json:"avatar"`
}

type joinLobbyRequest struct {
	InviteCode string       `json:"inviteCode"`
	Name       string       `json:"name"`
	Avatar     lobby.Avatar `json:"avatar"`
	PlayerID   int          `json:"playerId,omitempty"`
}

// CreateLobbyHandler creates (or idempotently re-creates) a lobby with
// the caller as host. A missing inviteCode gets a generated one.
func CreateLobbyHandler(s *Server) http.HandlerFunc {
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

		var req createLobbyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad lobby request payload", http.StatusBadRequest)
			return
		}
		code := req.InviteCode
		if code == "" {
			code = lobby.NewInviteCode()
		}

		host := lobby.Player{UID: uid, Name: req.Name, Avatar: req.Avatar}
		if err := s.Lobbies.CreateLobby(r.Context(), code, host); err != nil {
			writeLobbyError(w, err)
			return
		}

		lob, err := s.Lobbies.Lobby(r.Context(), code)
		if err != nil {
			writeLobbyError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(lobbyView{
			InviteCode: lob.InviteCode,
			Status:     lob.Status,
			HostUID:    lob.HostUID,
			CreatedAt:  lob.CreatedAt,
		})
	}
}

// JoinLobbyHandler admits the caller into an existing lobby.
func JoinLobbyHandler(s *Server) http.HandlerFunc {
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

		var req joinLobbyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad join request payload", http.StatusBadRequest)
			return
		}

		p := lobby.Player{
			UID:      uid,
			Name:     req.Name,
			Avatar:   req.Avatar,
			PlayerID: req.PlayerID,
		}
		if err := s.Lobbies.JoinLobby(r.Context(), req.InviteCode, p); err != nil {
			writeLobbyError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GetLobbyHandler serves pre-join validation reads: "does this code
// exist, and what phase is it in".
func GetLobbyHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		code := strings.TrimPrefix(r.URL.Path, "/lobby/")
		if code == "" || strings.Contains(code, "/") {
			http.Error(w, "missing invite code", http.StatusBadRequest)
			return
		}
		lob, err := s.Lobbies.Lobby(r.Context(), code)
		if err != nil {
			writeLobbyError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(lobbyView{
			InviteCode: lob.InviteCode,
			Status:     lob.Status,
			HostUID:    lob.HostUID,
			CreatedAt:  lob.CreatedAt,
		})
	}
}

func writeLobbyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lobby.ErrLobbyNotFound):
		http.Error(w, "lobby not found", http.StatusNotFound)
	case lobby.IsValidation(err):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, lobby.ErrContention):
		http.Error(w, "temporarily unavailable, retry", http.StatusServiceUnavailable)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
