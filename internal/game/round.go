// internal/game/round.go
package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/imposter-gg/imposter-server/internal/lobby"
	"github.com/imposter-gg/imposter-server/internal/store"
)

// Winner values for a finished round.
const (
	WinnerCrew     = "crew"
	WinnerImposter = "imposter"
)

var (
	// ErrNotMember is returned when a uid outside the lobby submits a clue
	// or a vote.
	ErrNotMember = errors.New("game: player is not a member of this lobby")

	// ErrWrongPhase is returned when a round action arrives outside the
	// in-progress phase.
	ErrWrongPhase = errors.New("game: lobby is not in progress")

	// ErrNoVotes is returned by Tally when nobody has voted yet.
	ErrNoVotes = errors.New("game: no votes cast")
)

// Clue is one player's submitted clue word for the round.
type Clue struct {
	ID          string `json:"id"`
	UID         string `json:"uid"`
	Word        string `json:"word"`
	SubmittedAt int64  `json:"submittedAt"` // epoch millis
}

// Vote records who a player voted to eliminate. Re-voting overwrites.
type Vote struct {
	VoterUID  string `json:"voterUid"`
	TargetUID string `json:"targetUid"`
	CastAt    int64  `json:"castAt"` // epoch millis
}

// Result is the outcome of a vote tally.
type Result struct {
	Winner        string         `json:"winner"` // "crew" or "imposter"
	EliminatedUID string         `json:"eliminatedUid"`
	VoteCounts    map[string]int `json:"voteCounts"` // target uid -> votes
}

// Rounds drives the clue round, voting, and the result tally. It reuses
// the lobby service's store write path and never touches the lobby
// counter or any player's seat number.
type Rounds struct {
	st     store.Store
	svc    *lobby.Service
	logger *logrus.Logger
}

func NewRounds(st store.Store, svc *lobby.Service, logger *logrus.Logger) *Rounds {
	return &Rounds{st: st, svc: svc, logger: logger}
}

func clueKey(code, id string) string { return "lobby/" + code + "/clues/" + id }

func cluesPrefix(code string) string { return "lobby/" + code + "/clues/" }

func voteKey(code, voterUID string) string { return "lobby/" + code + "/votes/" + voterUID }

func votesPrefix(code string) string { return "lobby/" + code + "/votes/" }

// requireMember checks that uid belongs to the lobby and that the lobby
// is in the clue/vote phase. Membership is append-only, so checking it
// outside the write transaction cannot go stale.
func (r *Rounds) requireMember(ctx context.Context, code, uid string) error {
	lob, err := r.svc.Lobby(ctx, code)
	if err != nil {
		return err
	}
	if lob.Status != lobby.StatusInProgress {
		return ErrWrongPhase
	}
	players, err := r.svc.Players(ctx, code)
	if err != nil {
		return err
	}
	for _, p := range players {
		if p.UID == uid {
			return nil
		}
	}
	return ErrNotMember
}

// SubmitClue appends uid's clue word for the round. Each clue gets its
// own document, so concurrent submissions never contend.
func (r *Rounds) SubmitClue(ctx context.Context, code, uid, word string) error {
	if word == "" {
		return fmt.Errorf("game: empty clue word")
	}
	if err := r.requireMember(ctx, code, uid); err != nil {
		return err
	}
	clue := Clue{
		ID:          uuid.NewString(),
		UID:         uid,
		Word:        word,
		SubmittedAt: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(clue)
	if err != nil {
		return err
	}
	key := clueKey(code, clue.ID)
	err = r.st.Update(ctx, []string{key}, func(tx store.Tx) error {
		return tx.Put(key, data)
	})
	if err != nil {
		return err
	}
	r.logger.WithFields(logrus.Fields{
		"invite_code": code,
		"uid":         uid,
	}).Debug("clue submitted")
	return nil
}

// Clues returns all submitted clues in submission order.
func (r *Rounds) Clues(ctx context.Context, code string) ([]Clue, error) {
	var clues []Clue
	err := r.st.View(ctx, func(tx store.Tx) error {
		recs, err := tx.List(cluesPrefix(code))
		if err != nil {
			return err
		}
		clues = make([]Clue, 0, len(recs))
		for _, rec := range recs {
			var c Clue
			if err := json.Unmarshal(rec.Value, &c); err != nil {
				return fmt.Errorf("game: corrupt clue document %s: %w", rec.Key, err)
			}
			clues = append(clues, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(clues, func(i, j int) bool {
		if clues[i].SubmittedAt != clues[j].SubmittedAt {
			return clues[i].SubmittedAt < clues[j].SubmittedAt
		}
		return clues[i].ID < clues[j].ID
	})
	return clues, nil
}

// CastVote records voterUID's vote against targetUID. Voting again
// replaces the earlier vote.
func (r *Rounds) CastVote(ctx context.Context, code, voterUID, targetUID string) error {
	if err := r.requireMember(ctx, code, voterUID); err != nil {
		return err
	}
	if err := r.requireMember(ctx, code, targetUID); err != nil {
		return err
	}
	vote := Vote{
		VoterUID:  voterUID,
		TargetUID: targetUID,
		CastAt:    time.Now().UnixMilli(),
	}
	data, err := json.Marshal(vote)
	if err != nil {
		return err
	}
	key := voteKey(code, voterUID)
	return r.st.Update(ctx, []string{key}, func(tx store.Tx) error {
		return tx.Put(key, data)
	})
}

// Votes returns the current vote map (voter uid -> target uid).
func (r *Rounds) Votes(ctx context.Context, code string) (map[string]string, error) {
	votes := make(map[string]string)
	err := r.st.View(ctx, func(tx store.Tx) error {
		recs, err := tx.List(votesPrefix(code))
		if err != nil {
			return err
		}
		for _, rec := range recs {
			var v Vote
			if err := json.Unmarshal(rec.Value, &v); err != nil {
				return fmt.Errorf("game: corrupt vote document %s: %w", rec.Key, err)
			}
			votes[v.VoterUID] = v.TargetUID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return votes, nil
}

// SubscribeToClues delivers the current clue list to onUpdate
// immediately, then again after every submission, until the returned
// cancel function is called.
func (r *Rounds) SubscribeToClues(ctx context.Context, code string, onUpdate func([]Clue)) (func(), error) {
	return r.subscribe(ctx, cluesPrefix(code), func() {
		clues, err := r.Clues(ctx, code)
		if err != nil {
			r.logger.Warnf("lobby %s: clue subscription read failed: %v", code, err)
			return
		}
		onUpdate(clues)
	})
}

// SubscribeToVotes delivers the current vote map (voter uid -> target
// uid) immediately and after every cast or changed vote.
func (r *Rounds) SubscribeToVotes(ctx context.Context, code string, onUpdate func(map[string]string)) (func(), error) {
	return r.subscribe(ctx, votesPrefix(code), func() {
		votes, err := r.Votes(ctx, code)
		if err != nil {
			r.logger.Warnf("lobby %s: vote subscription read failed: %v", code, err)
			return
		}
		onUpdate(votes)
	})
}

// subscribe drains the watch's initial signal synchronously so the
// subscriber has the current state before this call returns, then keeps
// delivering on every change under prefix.
func (r *Rounds) subscribe(ctx context.Context, prefix string, deliver func()) (func(), error) {
	sub, err := r.st.Watch(ctx, prefix)
	if err != nil {
		return nil, err
	}
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

// Tally counts the votes and decides the round: the player with the
// most votes is eliminated (lowest seat number breaks ties), and the
// crew wins exactly when the eliminated player is the imposter.
func (r *Rounds) Tally(ctx context.Context, code, imposterUID string) (*Result, error) {
	players, err := r.svc.Players(ctx, code)
	if err != nil {
		return nil, err
	}
	votes, err := r.Votes(ctx, code)
	if err != nil {
		return nil, err
	}

	seats := make(map[string]int, len(players))
	for _, p := range players {
		seats[p.UID] = p.PlayerID
	}

	counts := make(map[string]int)
	for _, target := range votes {
		if _, ok := seats[target]; ok {
			counts[target]++
		}
	}
	if len(counts) == 0 {
		return nil, fmt.Errorf("%w in lobby %s", ErrNoVotes, code)
	}

	var eliminated string
	for uid, n := range counts {
		if eliminated == "" {
			eliminated = uid
			continue
		}
		if n > counts[eliminated] || (n == counts[eliminated] && seats[uid] < seats[eliminated]) {
			eliminated = uid
		}
	}

	winner := WinnerImposter
	if eliminated == imposterUID {
		winner = WinnerCrew
	}
	return &Result{Winner: winner, EliminatedUID: eliminated, VoteCounts: counts}, nil
}
