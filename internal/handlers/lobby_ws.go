// internal/handlers/lobby_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/imposter-gg/imposter-server/internal/game"
	"github.com/imposter-gg/imposter-server/internal/lobby"
	"github.com/imposter-gg/imposter-server/internal/middleware"
)

// clientMessage is what a connected player may send over the socket.
type clientMessage struct {
	Type   string `json:"type"`
	Word   string `json:"word,omitempty"`   // type == "chat"
	Target string `json:"target,omitempty"` // type == "vote"
}

// LobbyWSHandler streams ordered player snapshots for a lobby and routes
// chat/vote messages from the client into the round logic.
func LobbyWSHandler(logger *logrus.Logger, s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := strings.TrimPrefix(r.URL.Path, "/lobby/ws/")
		if code == "" || strings.Contains(code, "/") {
			http.Error(w, "missing invite code", http.StatusBadRequest)
			return
		}

		// Authenticate before the upgrade so a fresh identity's cookie can
		// still reach the client.
		uid, err := EnsureEphemeralUser(w, r)
		if err != nil {
			// Upgrade anyway so the client gets a ws-level close reason.
			if c, aerr := websocket.Accept(w, r, nil); aerr == nil {
				c.Close(InvalidAuthError, "authentication failed")
			} else {
				http.Error(w, "authentication failed", http.StatusInternalServerError)
			}
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"imposter"},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "imposter" {
			c.Close(BadSubprotocolError, "client must speak the imposter subprotocol")
			return
		}

		if _, err := s.Lobbies.Lobby(r.Context(), code); err != nil {
			if errors.Is(err, lobby.ErrLobbyNotFound) {
				c.Close(UnknownLobbyError, "lobby does not exist")
			} else {
				c.Close(websocket.StatusInternalError, "lobby lookup failed")
			}
			return
		}

		middleware.LogWebSocketConnect(logger, r.RemoteAddr, r.URL.Path)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan []byte, 16)
		push := func(v map[string]interface{}) {
			payload, err := json.Marshal(v)
			if err != nil {
				return
			}
			select {
			case out <- payload:
			default:
				logger.Warnf("lobby %s: dropped %v update for slow subscriber %s", code, v["type"], uid)
			}
		}

		cancelPlayers, err := s.Lobbies.SubscribeToPlayers(ctx, code, func(players []lobby.Player) {
			push(map[string]interface{}{"type": "players", "players": players})
		})
		if err != nil {
			c.Close(websocket.StatusInternalError, "subscription failed")
			return
		}
		defer cancelPlayers()

		cancelClues, err := s.Rounds.SubscribeToClues(ctx, code, func(clues []game.Clue) {
			push(map[string]interface{}{"type": "clues", "clues": clues})
		})
		if err != nil {
			c.Close(websocket.StatusInternalError, "subscription failed")
			return
		}
		defer cancelClues()

		cancelVotes, err := s.Rounds.SubscribeToVotes(ctx, code, func(votes map[string]string) {
			push(map[string]interface{}{"type": "votes", "votes": votes})
		})
		if err != nil {
			c.Close(websocket.StatusInternalError, "subscription failed")
			return
		}
		defer cancelVotes()

		// write pump
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case payload := <-out:
					if err := c.Write(ctx, websocket.MessageText, payload); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// read loop
		var readErr error
		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				readErr = err
				break
			}
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				writeWSError(out, "malformed message")
				continue
			}
			switch msg.Type {
			case "chat":
				if err := s.Rounds.SubmitClue(ctx, code, uid, msg.Word); err != nil {
					writeWSError(out, clueErrorText(err))
				}
			case "vote":
				if err := s.Rounds.CastVote(ctx, code, uid, msg.Target); err != nil {
					writeWSError(out, clueErrorText(err))
				}
			default:
				writeWSError(out, "unknown message type")
			}
		}

		middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, readErr)
		c.Close(websocket.StatusNormalClosure, "bye")
	}
}

func clueErrorText(err error) string {
	switch {
	case errors.Is(err, game.ErrNotMember):
		return "you are not a member of this lobby"
	case errors.Is(err, game.ErrWrongPhase):
		return "the round has not started"
	case errors.Is(err, lobby.ErrLobbyNotFound):
		return "lobby not found"
	default:
		return "request failed, try again"
	}
}

func writeWSError(out chan []byte, message string) {
	payload, err := json.Marshal(map[string]interface{}{
		"type":    "error",
		"message": message,
	})
	if err != nil {
		return
	}
	select {
	case out <- payload:
	default:
	}
}
