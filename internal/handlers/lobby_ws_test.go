package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/imposter-gg/imposter-server/internal/auth"
	"github.com/imposter-gg/imposter-server/internal/game"
	"github.com/imposter-gg/imposter-server/internal/lobby"
)

type wsEnvelope struct {
	Type    string            `json:"type"`
	Players []lobby.Player    `json:"players"`
	Clues   []game.Clue       `json:"clues"`
	Votes   map[string]string `json:"votes"`
	Message string            `json:"message"`
}

func dialLobbyWS(t *testing.T, ctx context.Context, srv *httptest.Server, code, uid string) *websocket.Conn {
	t.Helper()
	token, err := auth.CreateJWT(uid)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/lobby/ws/" + code
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{"imposter"},
		HTTPHeader:   http.Header{"Cookie": []string{"auth_token=" + token}},
	})
	require.NoError(t, err)
	return c
}

func readEnvelope(t *testing.T, ctx context.Context, c *websocket.Conn) wsEnvelope {
	t.Helper()
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	var env wsEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

// A member submits a clue over the socket and every subscriber, the
// submitter included, gets it streamed back.
func TestLobbyWSClueRoundTrip(t *testing.T) {
	s := newTestServer(t)
	hostUID := uuid.NewString()
	guestUID := uuid.NewString()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.Lobbies.CreateLobby(ctx, "WSGAME", lobby.Player{UID: hostUID, Name: "Host"}))
	require.NoError(t, s.Lobbies.JoinLobby(ctx, "WSGAME", lobby.Player{UID: guestUID, Name: "Bo"}))
	require.NoError(t, s.Lobbies.SetStatus(ctx, "WSGAME", lobby.StatusInProgress))

	srv := httptest.NewServer(LobbyWSHandler(s.Logger, s))
	defer srv.Close()

	c := dialLobbyWS(t, ctx, srv, "WSGAME", guestUID)
	defer c.Close(websocket.StatusNormalClosure, "done")

	// Initial snapshots arrive for all three streams in some order.
	seen := map[string]bool{}
	for len(seen) < 3 {
		env := readEnvelope(t, ctx, c)
		switch env.Type {
		case "players":
			require.Len(t, env.Players, 2)
		case "clues":
			require.Empty(t, env.Clues)
		case "votes":
			require.Empty(t, env.Votes)
		default:
			t.Fatalf("unexpected message type %q", env.Type)
		}
		seen[env.Type] = true
	}

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"type":"chat","word":"banana"}`)))
	for {
		env := readEnvelope(t, ctx, c)
		if env.Type == "error" {
			t.Fatalf("clue rejected: %s", env.Message)
		}
		if env.Type == "clues" && len(env.Clues) == 1 {
			require.Equal(t, guestUID, env.Clues[0].UID)
			require.Equal(t, "banana", env.Clues[0].Word)
			break
		}
	}

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"type":"vote","target":"`+hostUID+`"}`)))
	for {
		env := readEnvelope(t, ctx, c)
		if env.Type == "error" {
			t.Fatalf("vote rejected: %s", env.Message)
		}
		if env.Type == "votes" && len(env.Votes) == 1 {
			require.Equal(t, hostUID, env.Votes[guestUID])
			break
		}
	}
}

func TestLobbyWSUnknownLobbyCloseCode(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := httptest.NewServer(LobbyWSHandler(s.Logger, s))
	defer srv.Close()

	c := dialLobbyWS(t, ctx, srv, "NOPE", uuid.NewString())
	defer c.Close(websocket.StatusNormalClosure, "done")

	_, _, err := c.Read(ctx)
	require.Error(t, err)
	require.Equal(t, websocket.StatusCode(UnknownLobbyError), websocket.CloseStatus(err))
}

func TestLobbyWSNonMemberClueRejected(t *testing.T) {
	s := newTestServer(t)
	hostUID := uuid.NewString()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.Lobbies.CreateLobby(ctx, "WSGAME", lobby.Player{UID: hostUID, Name: "Host"}))
	require.NoError(t, s.Lobbies.SetStatus(ctx, "WSGAME", lobby.StatusInProgress))

	srv := httptest.NewServer(LobbyWSHandler(s.Logger, s))
	defer srv.Close()

	// connected with a fresh uid that never joined
	c := dialLobbyWS(t, ctx, srv, "WSGAME", uuid.NewString())
	defer c.Close(websocket.StatusNormalClosure, "done")

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"type":"chat","word":"sneaky"}`)))
	for {
		env := readEnvelope(t, ctx, c)
		if env.Type == "error" {
			require.Contains(t, env.Message, "not a member")
			return
		}
	}
}
