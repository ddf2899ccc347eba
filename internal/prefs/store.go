// internal/prefs/store.go
package prefs

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store reads and writes one user's preferences and notifies watchers of
// the same uid when they change.
type Store interface {
	Get(ctx context.Context, uid string) (Prefs, error)
	Set(ctx context.Context, uid string, p Prefs) error
	// Watch calls onChange with the normalized prefs after every write for
	// uid until the returned cancel function is called.
	Watch(ctx context.Context, uid string, onChange func(Prefs)) (func(), error)
}

const (
	redisHashPrefix = "imposter:prefs:"
	redisNotifyChan = "imposter:prefs:changed"
)

// RedisStore keeps each user's prefs in a hash and broadcasts changed
// uids over pub/sub.
type RedisStore struct {
	client *redis.Client

	mu       sync.Mutex
	watchers map[*watcher]struct{}
	pubsub   *redis.PubSub
	done     chan struct{}
}

type watcher struct {
	uid      string
	onChange func(Prefs)
}

func NewRedisStore(client *redis.Client) *RedisStore {
	s := &RedisStore{
		client:   client,
		watchers: make(map[*watcher]struct{}),
		done:     make(chan struct{}),
	}
	s.pubsub = client.Subscribe(context.Background(), redisNotifyChan)
	go s.dispatch()
	return s
}

func (s *RedisStore) dispatch() {
	ch := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			uid := msg.Payload
			p, err := s.Get(context.Background(), uid)
			if err != nil {
				continue
			}
			s.notify(uid, p)
		}
	}
}

// notify calls matching watchers outside the lock so a callback may
// register or cancel watchers without deadlocking.
func (s *RedisStore) notify(uid string, p Prefs) {
	s.mu.Lock()
	targets := make([]*watcher, 0)
	for w := range s.watchers {
		if w.uid == uid {
			targets = append(targets, w)
		}
	}
	s.mu.Unlock()
	for _, w := range targets {
		w.onChange(p)
	}
}

func (s *RedisStore) Get(ctx context.Context, uid string) (Prefs, error) {
	fields, err := s.client.HGetAll(ctx, redisHashPrefix+uid).Result()
	if err != nil {
		return Prefs{}, err
	}
	return Prefs{
		Name:          fields["name"],
		Skin:          fields["skin"],
		AvatarType:    fields["avatarType"],
		ElectricTheme: fields["electricTheme"],
	}.Normalize(), nil
}

func (s *RedisStore) Set(ctx context.Context, uid string, p Prefs) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, redisHashPrefix+uid,
			"name", p.Name,
			"skin", p.Skin,
			"avatarType", p.AvatarType,
			"electricTheme", p.ElectricTheme,
		)
		pipe.Publish(ctx, redisNotifyChan, uid)
		return nil
	})
	return err
}

func (s *RedisStore) Watch(ctx context.Context, uid string, onChange func(Prefs)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := &watcher{uid: uid, onChange: onChange}
	s.mu.Lock()
	s.watchers[w] = struct{}{}
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, w)
			s.mu.Unlock()
		})
	}, nil
}

func (s *RedisStore) Close() error {
	close(s.done)
	return s.pubsub.Close()
}

// MemoryStore is the in-process Store used by tests and the memory
// backend deployment.
type MemoryStore struct {
	mu       sync.Mutex
	prefs    map[string]Prefs
	watchers map[*watcher]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prefs:    make(map[string]Prefs),
		watchers: make(map[*watcher]struct{}),
	}
}

func (s *MemoryStore) Get(ctx context.Context, uid string) (Prefs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs[uid].Normalize(), nil
}

func (s *MemoryStore) Set(ctx context.Context, uid string, p Prefs) error {
	s.mu.Lock()
	s.prefs[uid] = p
	normalized := p.Normalize()
	targets := make([]*watcher, 0)
	for w := range s.watchers {
		if w.uid == uid {
			targets = append(targets, w)
		}
	}
	s.mu.Unlock()
	for _, w := range targets {
		w.onChange(normalized)
	}
	return nil
}

func (s *MemoryStore) Watch(ctx context.Context, uid string, onChange func(Prefs)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := &watcher{uid: uid, onChange: onChange}
	s.mu.Lock()
	s.watchers[w] = struct{}{}
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, w)
			s.mu.Unlock()
		})
	}, nil
}
