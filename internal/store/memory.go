// internal/store/memory.go
package store

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Memory is the in-memory Store backend: a versioned document map behind
// a mutex with watcher fan-out. It is the default backend and the one the
// test suite runs against.
type Memory struct {
	mu       sync.Mutex
	docs     map[string][]byte
	versions map[string]uint64
	watchers map[*Subscription]string // subscription -> watched prefix
	closed   bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		docs:     make(map[string][]byte),
		versions: make(map[string]uint64),
		watchers: make(map[*Subscription]string),
	}
}

// memTx implements Tx over a Memory store. Reads go to the live map under
// the store lock; writes are staged locally until commit.
type memTx struct {
	m        *Memory
	staged   map[string][]byte
	readOnly bool
}

func (tx *memTx) Get(key string) (*Record, error) {
	if v, ok := tx.staged[key]; ok {
		return &Record{Key: key, Value: append([]byte(nil), v...)}, nil
	}
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	v, ok := tx.m.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &Record{Key: key, Value: append([]byte(nil), v...)}, nil
}

func (tx *memTx) Put(key string, value []byte) error {
	if tx.readOnly {
		return errors.New("store: put inside read-only view")
	}
	tx.staged[key] = append([]byte(nil), value...)
	return nil
}

func (tx *memTx) List(prefix string) ([]Record, error) {
	tx.m.mu.Lock()
	recs := make([]Record, 0)
	for k, v := range tx.m.docs {
		if _, shadowed := tx.staged[k]; shadowed {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			recs = append(recs, Record{Key: k, Value: append([]byte(nil), v...)})
		}
	}
	tx.m.mu.Unlock()
	for k, v := range tx.staged {
		if strings.HasPrefix(k, prefix) {
			recs = append(recs, Record{Key: k, Value: append([]byte(nil), v...)})
		}
	}
	sortRecords(recs)
	return recs, nil
}

// View runs fn against the current state without staging writes.
func (m *Memory) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&memTx{m: m, staged: map[string][]byte{}, readOnly: true})
}

// Update runs fn optimistically: the versions of all watchKeys are
// captured up front, fn reads live state and stages writes, and the
// commit applies the staged writes only if no watched key moved in the
// meantime. A moved key yields ErrConflict and no writes.
func (m *Memory) Update(ctx context.Context, watchKeys []string, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("store: closed")
	}
	seen := make(map[string]uint64, len(watchKeys))
	for _, k := range watchKeys {
		seen[k] = m.versions[k]
	}
	m.mu.Unlock()

	tx := &memTx{m: m, staged: map[string][]byte{}}
	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range seen {
		if m.versions[k] != v {
			return ErrConflict
		}
	}
	for k, v := range tx.staged {
		m.docs[k] = v
		m.bumpLocked(k)
	}
	if len(tx.staged) > 0 {
		m.notifyLocked(tx.staged)
	}
	return nil
}

// bumpLocked advances the version of key and of every ancestor path, so
// watching a directory prefix observes changes to any document under it.
func (m *Memory) bumpLocked(key string) {
	m.versions[key]++
	for {
		i := strings.LastIndex(key, "/")
		if i < 0 {
			return
		}
		key = key[:i]
		m.versions[key]++
	}
}

func (m *Memory) notifyLocked(written map[string][]byte) {
	for sub, prefix := range m.watchers {
		for k := range written {
			if strings.HasPrefix(k, prefix) {
				sub.signal()
				break
			}
		}
	}
}

// Watch registers a change-signal subscription for prefix. The initial
// signal is queued before returning.
func (m *Memory) Watch(ctx context.Context, prefix string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("store: closed")
	}
	var sub *Subscription
	var once sync.Once
	sub = newSubscription(func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers, sub)
			m.mu.Unlock()
			close(sub.ch)
		})
	})
	m.watchers[sub] = prefix
	sub.signal()
	return sub, nil
}

// Close cancels all subscriptions and rejects further updates.
func (m *Memory) Close() error {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.watchers))
	for sub := range m.watchers {
		subs = append(subs, sub)
	}
	m.closed = true
	m.mu.Unlock()
	for _, sub := range subs {
		sub.Cancel()
	}
	return nil
}
