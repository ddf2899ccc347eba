// internal/store/redis.go
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix  = "imposter:doc:"
	redisChangeChan = "imposter:store:changes"
)

// Redis is the go-redis backed Store. Optimistic concurrency comes from
// WATCH/MULTI/EXEC: the watched keys are WATCHed, reads run outside the
// pipeline, and staged writes are committed in a transactional pipeline
// that fails with redis.TxFailedErr when a watched key moved. Change
// subscriptions ride on a pub/sub channel published inside the same
// pipeline as the writes.
type Redis struct {
	client *redis.Client

	mu       sync.Mutex
	watchers map[*Subscription]string
	pubsub   *redis.PubSub
	done     chan struct{}
}

// ConnectRedis dials addr and verifies the connection, mirroring the
// REDIS_ADDR / REDIS_DB environment convention.
func ConnectRedis(ctx context.Context, addr string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	r := &Redis{
		client:   client,
		watchers: make(map[*Subscription]string),
		done:     make(chan struct{}),
	}
	r.pubsub = client.Subscribe(context.Background(), redisChangeChan)
	go r.dispatch()
	return r, nil
}

// dispatch fans pub/sub change messages out to registered watchers.
func (r *Redis) dispatch() {
	ch := r.pubsub.Channel()
	for {
		select {
		case <-r.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.mu.Lock()
			for sub, prefix := range r.watchers {
				if strings.HasPrefix(msg.Payload, prefix) {
					sub.signal()
				}
			}
			r.mu.Unlock()
		}
	}
}

// redisTx serves reads from a redis.Cmdable (the WATCH-protected
// connection inside Update, the plain client inside View) and stages
// writes locally.
type redisTx struct {
	ctx      context.Context
	r        *Redis
	cmd      redis.Cmdable
	staged   map[string][]byte
	readOnly bool
}

func (tx *redisTx) Get(key string) (*Record, error) {
	if v, ok := tx.staged[key]; ok {
		return &Record{Key: key, Value: append([]byte(nil), v...)}, nil
	}
	v, err := tx.cmd.Get(tx.ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return &Record{Key: key, Value: v}, nil
}

func (tx *redisTx) Put(key string, value []byte) error {
	if tx.readOnly {
		return errors.New("store: put inside read-only view")
	}
	tx.staged[key] = append([]byte(nil), value...)
	return nil
}

func (tx *redisTx) List(prefix string) ([]Record, error) {
	var recs []Record
	iter := tx.cmd.Scan(tx.ctx, 0, redisKeyPrefix+prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(tx.ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", prefix, err)
	}
	if len(keys) > 0 {
		vals, err := tx.cmd.MGet(tx.ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("redis mget: %w", err)
		}
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				continue // deleted between SCAN and MGET
			}
			key := strings.TrimPrefix(keys[i], redisKeyPrefix)
			if _, shadowed := tx.staged[key]; shadowed {
				continue
			}
			recs = append(recs, Record{Key: key, Value: []byte(s)})
		}
	}
	for k, v := range tx.staged {
		if strings.HasPrefix(k, prefix) {
			recs = append(recs, Record{Key: k, Value: append([]byte(nil), v...)})
		}
	}
	sortRecords(recs)
	return recs, nil
}

func (r *Redis) View(ctx context.Context, fn func(Tx) error) error {
	return fn(&redisTx{ctx: ctx, r: r, cmd: r.client, staged: map[string][]byte{}, readOnly: true})
}

func (r *Redis) Update(ctx context.Context, watchKeys []string, fn func(Tx) error) error {
	full := make([]string, len(watchKeys))
	for i, k := range watchKeys {
		full[i] = redisKeyPrefix + k
	}
	err := r.client.Watch(ctx, func(rtx *redis.Tx) error {
		tx := &redisTx{ctx: ctx, r: r, cmd: rtx, staged: map[string][]byte{}}
		if err := fn(tx); err != nil {
			return err
		}
		if len(tx.staged) == 0 {
			return nil
		}
		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for k, v := range tx.staged {
				pipe.Set(ctx, redisKeyPrefix+k, v, 0)
				pipe.Publish(ctx, redisChangeChan, k)
			}
			return nil
		})
		return err
	}, full...)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

func (r *Redis) Watch(ctx context.Context, prefix string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var sub *Subscription
	var once sync.Once
	sub = newSubscription(func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.watchers, sub)
			r.mu.Unlock()
			close(sub.ch)
		})
	})
	r.watchers[sub] = prefix
	sub.signal()
	return sub, nil
}

func (r *Redis) Close() error {
	close(r.done)
	err := r.pubsub.Close()
	r.mu.Lock()
	subs := make([]*Subscription, 0, len(r.watchers))
	for sub := range r.watchers {
		subs = append(subs, sub)
	}
	r.mu.Unlock()
	for _, sub := range subs {
		sub.Cancel()
	}
	if cerr := r.client.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
