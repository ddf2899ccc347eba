// internal/store/store.go
package store

import (
	"context"
	"errors"
	"sort"
)

// Keys are slash-separated paths, e.g. "lobby/ABC123" or
// "lobby/ABC123/players/<uid>". Values are opaque JSON documents.

var (
	// ErrNotFound is returned by Tx.Get for a key with no document.
	ErrNotFound = errors.New("store: document not found")

	// ErrConflict is returned by Update when another transaction modified
	// one of the watched keys between read and commit. The caller is
	// expected to retry the whole transaction: re-read, re-decide, re-write.
	ErrConflict = errors.New("store: transaction conflict")
)

// Record is a single stored document.
type Record struct {
	Key   string
	Value []byte
}

// Tx is the view a transaction function gets of the store. Reads observe
// a consistent snapshot; Puts are staged and only become visible when the
// transaction commits.
type Tx interface {
	// Get returns the document at key, or ErrNotFound.
	Get(key string) (*Record, error)

	// Put stages a full-document write at key.
	Put(key string, value []byte) error

	// List returns all documents whose key starts with prefix, ordered by key.
	List(prefix string) ([]Record, error)
}

// Store is an atomic compare-and-commit document store with push-based
// change subscriptions. All three backends (memory, redis, postgres)
// satisfy the same contract: Update either commits every staged write or
// none of them, and concurrent Updates touching the same watched keys are
// serialized — the loser sees ErrConflict.
type Store interface {
	// View runs fn against a read-only snapshot. Writes inside fn fail.
	View(ctx context.Context, fn func(Tx) error) error

	// Update runs fn inside an optimistic transaction. watchKeys names the
	// keys whose stability the commit depends on; every key fn reads or
	// writes must be covered by watchKeys or share a listed prefix.
	// Returns ErrConflict if a concurrent commit touched a watched key.
	Update(ctx context.Context, watchKeys []string, fn func(Tx) error) error

	// Watch returns a subscription that signals whenever any document under
	// prefix changes. The first signal is delivered immediately so the
	// subscriber can load the current state without racing a change.
	Watch(ctx context.Context, prefix string) (*Subscription, error)

	Close() error
}

// Subscription is a change-signal handle returned by Store.Watch.
// The channel carries no payload; subscribers re-read the store on each
// signal. Signals are coalesced: a slow subscriber sees at least one
// signal after the last change, not one per change.
type Subscription struct {
	ch     chan struct{}
	cancel func()
}

// C returns the signal channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan struct{} { return s.ch }

// Cancel stops delivery. Safe to call more than once.
func (s *Subscription) Cancel() { s.cancel() }

func newSubscription(cancel func()) *Subscription {
	return &Subscription{ch: make(chan struct{}, 1), cancel: cancel}
}

// signal delivers a coalesced change notification.
func (s *Subscription) signal() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].Key < recs[j].Key })
}
