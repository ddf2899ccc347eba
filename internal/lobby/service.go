// internal/lobby/service.go
package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/imposter-gg/imposter-server/internal/store"
)

// maxTxAttempts bounds how often a transaction is replayed after losing
// an optimistic-concurrency race before giving up with ErrContention.
// Every conflict means some other commit landed, so a full lobby of
// simultaneous joiners still resolves well inside this bound.
const maxTxAttempts = 32

// Service owns lobby creation, the join transaction, and the live player
// subscription. All consistency comes from the store's transaction
// primitive; the service holds no lobby state of its own.
type Service struct {
	st     store.Store
	logger *logrus.Logger
}

func NewService(st store.Store, logger *logrus.Logger) *Service {
	return &Service{st: st, logger: logger}
}

// CreateLobby upserts the lobby document and the host's player record.
// It is idempotent: re-creating an existing lobby leaves its status and
// counter alone and only re-affirms the host's seat 100.
func (s *Service) CreateLobby(ctx context.Context, code string, host Player) error {
	if err := validateCode(code); err != nil {
		return err
	}
	if err := validatePlayer(host); err != nil {
		return err
	}

	fn := func(tx store.Tx) error {
		lob, err := getLobby(tx, code)
		if errors.Is(err, store.ErrNotFound) {
			lob = &Lobby{
				InviteCode:       code,
				Status:           StatusWaiting,
				HostUID:          host.UID,
				NextPlayerNumber: FirstGuestNumber,
				CreatedAt:        time.Now().UnixMilli(),
			}
			if err := putLobby(tx, lob); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		rec := Player{
			UID:      host.UID,
			PlayerID: HostPlayerID,
			Name:     host.Name,
			Avatar:   host.Avatar,
			JoinedAt: host.JoinedAt,
		}
		existing, err := getPlayer(tx, code, host.UID)
		if err == nil {
			rec.JoinedAt = existing.JoinedAt
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if rec.JoinedAt == 0 {
			rec.JoinedAt = time.Now().UnixMilli()
		}
		return putPlayer(tx, code, rec)
	}

	if err := s.retryUpdate(ctx, "create", code, []string{lobbyKey(code), playerKey(code, host.UID)}, fn); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"invite_code": code,
		"host_uid":    host.UID,
	}).Info("lobby created")
	return nil
}

// JoinLobby admits a player, assigning a stable collision-free seat
// number inside a single store transaction:
//
//   - unknown invite code: abort with ErrLobbyNotFound, nothing written
//   - existing player record: merge name/avatar only; PlayerID, JoinedAt
//     and the lobby counter are untouched no matter how often this runs
//   - new player: take the lobby's current counter value (or seat 100 if
//     the caller claims it for host re-entry) and advance the counter
//
// Conflicting commits replay the whole transaction, so two concurrent
// first-time joiners can never consume the same counter value.
func (s *Service) JoinLobby(ctx context.Context, code string, p Player) error {
	if err := validateCode(code); err != nil {
		return err
	}
	if err := validatePlayer(p); err != nil {
		return err
	}

	var assigned int
	fn := func(tx store.Tx) error {
		lob, err := getLobby(tx, code)
		if errors.Is(err, store.ErrNotFound) {
			return ErrLobbyNotFound
		}
		if err != nil {
			return err
		}

		existing, err := getPlayer(tx, code, p.UID)
		if err == nil {
			// Rejoin: only the display fields move.
			existing.Name = p.Name
			existing.Avatar = p.Avatar
			assigned = existing.PlayerID
			return putPlayer(tx, code, *existing)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		assigned = lob.NextPlayerNumber
		if p.PlayerID == HostPlayerID {
			// Host re-entry path: seat 100 without consuming the counter.
			assigned = HostPlayerID
		} else {
			lob.NextPlayerNumber++
			if err := putLobby(tx, lob); err != nil {
				return err
			}
		}

		joinedAt := p.JoinedAt
		if joinedAt == 0 {
			joinedAt = time.Now().UnixMilli()
		}
		return putPlayer(tx, code, Player{
			UID:      p.UID,
			PlayerID: assigned,
			Name:     p.Name,
			Avatar:   p.Avatar,
			JoinedAt: joinedAt,
		})
	}

	err := s.retryUpdate(ctx, "join", code, []string{lobbyKey(code), playerKey(code, p.UID)}, fn)
	if err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"invite_code": code,
		"uid":         p.UID,
		"player_id":   assigned,
	}).Info("player joined")
	return nil
}

// retryUpdate replays fn on store conflicts with capped jittered backoff.
// Domain errors (ErrLobbyNotFound etc.) abort immediately.
func (s *Service) retryUpdate(ctx context.Context, op, code string, watchKeys []string, fn func(store.Tx) error) error {
	for attempt := 1; ; attempt++ {
		err := s.st.Update(ctx, watchKeys, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		if attempt >= maxTxAttempts {
			s.logger.Warnf("lobby %s: %s gave up after %d conflicting attempts", code, op, attempt)
			return ErrContention
		}
		// Linear backoff with jitter keeps racing joiners from replaying
		// in lockstep.
		delay := time.Duration(attempt)*2*time.Millisecond + time.Duration(rand.Intn(2000))*time.Microsecond
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SetStatus advances the lobby lifecycle. Transitions only move forward
// (waiting -> in-progress -> finished); setting the current status again
// is a no-op. The counter travels through the transaction untouched.
func (s *Service) SetStatus(ctx context.Context, code string, next Status) error {
	if err := validateCode(code); err != nil {
		return err
	}
	if !next.Valid() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", next)}
	}

	order := map[Status]int{StatusWaiting: 0, StatusInProgress: 1, StatusFinished: 2}
	fn := func(tx store.Tx) error {
		lob, err := getLobby(tx, code)
		if errors.Is(err, store.ErrNotFound) {
			return ErrLobbyNotFound
		}
		if err != nil {
			return err
		}
		if lob.Status == next {
			return nil
		}
		if order[next] < order[lob.Status] {
			return &ValidationError{
				Field:  "status",
				Reason: fmt.Sprintf("cannot move back from %q to %q", lob.Status, next),
			}
		}
		lob.Status = next
		return putLobby(tx, lob)
	}
	return s.retryUpdate(ctx, "set-status", code, []string{lobbyKey(code)}, fn)
}

// Lobby reads the lobby document for code.
func (s *Service) Lobby(ctx context.Context, code string) (*Lobby, error) {
	if err := validateCode(code); err != nil {
		return nil, err
	}
	var lob *Lobby
	err := s.st.View(ctx, func(tx store.Tx) error {
		var err error
		lob, err = getLobby(tx, code)
		if errors.Is(err, store.ErrNotFound) {
			return ErrLobbyNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return lob, nil
}

// Players returns the lobby's membership ordered by join time.
func (s *Service) Players(ctx context.Context, code string) ([]Player, error) {
	var players []Player
	err := s.st.View(ctx, func(tx store.Tx) error {
		var err error
		players, err = listPlayers(tx, code)
		return err
	})
	if err != nil {
		return nil, err
	}
	return players, nil
}

// SubscribeToPlayers delivers the current ordered player list to
// onUpdate immediately, then again after every membership or display
// change, until the returned cancel function is called. The lobby
// counter is never part of the delivered view.
func (s *Service) SubscribeToPlayers(ctx context.Context, code string, onUpdate func([]Player)) (func(), error) {
	if err := validateCode(code); err != nil {
		return nil, err
	}
	sub, err := s.st.Watch(ctx, playersPrefix(code))
	if err != nil {
		return nil, err
	}

	deliver := func() {
		players, err := s.Players(ctx, code)
		if err != nil {
			s.logger.Warnf("lobby %s: subscription read failed: %v", code, err)
			return
		}
		onUpdate(players)
	}

	// Watch queues an initial signal; consume it synchronously so the
	// subscriber has the current state before this call returns.
	select {
	case <-sub.C():
		deliver()
	default:
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				sub.Cancel()
				return
			case _, ok := <-sub.C():
				if !ok {
					return
				}
				deliver()
			}
		}
	}()
	return sub.Cancel, nil
}

func validateCode(code string) error {
	if code == "" {
		return &ValidationError{Field: "inviteCode", Reason: "must not be empty"}
	}
	if strings.ContainsAny(code, "/ \t\n") {
		return &ValidationError{Field: "inviteCode", Reason: "must not contain separators or whitespace"}
	}
	return nil
}

func validatePlayer(p Player) error {
	if p.UID == "" {
		return &ValidationError{Field: "uid", Reason: "must not be empty"}
	}
	if strings.Contains(p.UID, "/") {
		return &ValidationError{Field: "uid", Reason: "must not contain '/'"}
	}
	if len(p.Name) > 64 {
		return &ValidationError{Field: "name", Reason: "longer than 64 characters"}
	}
	if p.PlayerID != 0 && p.PlayerID != HostPlayerID {
		return &ValidationError{Field: "playerId", Reason: fmt.Sprintf("only %d may be claimed", HostPlayerID)}
	}
	return nil
}

func getLobby(tx store.Tx, code string) (*Lobby, error) {
	rec, err := tx.Get(lobbyKey(code))
	if err != nil {
		return nil, err
	}
	var lob Lobby
	if err := json.Unmarshal(rec.Value, &lob); err != nil {
		return nil, fmt.Errorf("lobby %s: corrupt document: %w", code, err)
	}
	return &lob, nil
}

func putLobby(tx store.Tx, lob *Lobby) error {
	data, err := json.Marshal(lob)
	if err != nil {
		return err
	}
	return tx.Put(lobbyKey(lob.InviteCode), data)
}

func getPlayer(tx store.Tx, code, uid string) (*Player, error) {
	rec, err := tx.Get(playerKey(code, uid))
	if err != nil {
		return nil, err
	}
	var p Player
	if err := json.Unmarshal(rec.Value, &p); err != nil {
		return nil, fmt.Errorf("lobby %s: corrupt player document %s: %w", code, uid, err)
	}
	p.UID = uid
	return &p, nil
}

func putPlayer(tx store.Tx, code string, p Player) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return tx.Put(playerKey(code, p.UID), data)
}

func listPlayers(tx store.Tx, code string) ([]Player, error) {
	recs, err := tx.List(playersPrefix(code))
	if err != nil {
		return nil, err
	}
	players := make([]Player, 0, len(recs))
	for _, rec := range recs {
		var p Player
		if err := json.Unmarshal(rec.Value, &p); err != nil {
			return nil, fmt.Errorf("lobby %s: corrupt player document %s: %w", code, rec.Key, err)
		}
		p.UID = strings.TrimPrefix(rec.Key, playersPrefix(code))
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].JoinedAt != players[j].JoinedAt {
			return players[i].JoinedAt < players[j].JoinedAt
		}
		return players[i].UID < players[j].UID
	})
	return players, nil
}
