// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the lobby handlers. These provide
// more specific reasons for closure than the standard codes.
const (
	BadSubprotocolError = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthError    = 3001 // Authentication failed before the session could start.
	UnknownLobbyError   = 3002 // Target invite code in the WS URL references no lobby.
)
