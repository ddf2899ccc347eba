// internal/handlers/server.go
package handlers

import (
	"github.com/sirupsen/logrus"

	"github.com/imposter-gg/imposter-server/internal/game"
	"github.com/imposter-gg/imposter-server/internal/lobby"
	"github.com/imposter-gg/imposter-server/internal/prefs"
)

// Server bundles the services the HTTP and WebSocket handlers need.
type Server struct {
	Lobbies *lobby.Service
	Rounds  *game.Rounds
	Prefs   prefs.Store
	Logger  *logrus.Logger
}

func NewServer(lobbies *lobby.Service, rounds *game.Rounds, pstore prefs.Store, logger *logrus.Logger) *Server {
	return &Server{
		Lobbies: lobbies,
		Rounds:  rounds,
		Prefs:   pstore,
		Logger:  logger,
	}
}
