// internal/lobby/lobby.go
package lobby

// Player numbering: the host always holds seat 100; everyone else is
// assigned from the lobby counter, which starts at 101 and only ever
// moves forward. Numbers are never reused, even if a player leaves.
const (
	HostPlayerID     = 100
	FirstGuestNumber = 101
)

// Status is the lobby lifecycle phase.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in-progress"
	StatusFinished   Status = "finished"
)

// Valid reports whether s is a known lifecycle phase.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusInProgress, StatusFinished:
		return true
	}
	return false
}

// Avatar is a player's avatar selection. Both fields are free display
// attributes; the prefs package knows the allowed values.
type Avatar struct {
	Type string `json:"type"`
	Skin string `json:"skin"`
}

// Lobby is the durable lobby document, keyed by invite code.
// NextPlayerNumber is only ever written by the join transaction.
type Lobby struct {
	InviteCode       string `json:"inviteCode"`
	Status           Status `json:"status"`
	HostUID          string `json:"hostUid"`
	NextPlayerNumber int    `json:"nextPlayerNumber"`
	CreatedAt        int64  `json:"createdAt"` // epoch millis
}

// Player is a membership record under a lobby. Name and Avatar are
// freely overwritable on rejoin; PlayerID and JoinedAt are set once.
type Player struct {
	UID      string `json:"uid"`
	PlayerID int    `json:"playerId"`
	Name     string `json:"name"`
	Avatar   Avatar `json:"avatar"`
	JoinedAt int64  `json:"joinedAt"` // epoch millis
}

// Document key layout. Player records live under the lobby's key so a
// single prefix watch covers the whole membership set.
func lobbyKey(code string) string { return "lobby/" + code }

func playerKey(code, uid string) string { return "lobby/" + code + "/players/" + uid }

func playersPrefix(code string) string { return "lobby/" + code + "/players/" }
