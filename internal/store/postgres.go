// internal/store/postgres.go
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgChangeChannel = "imposter_store_changes"

const pgSchema = `
CREATE TABLE IF NOT EXISTS documents (
	key   text PRIMARY KEY,
	value jsonb NOT NULL
)`

// Postgres is the pgx-backed Store. Transactions run at SERIALIZABLE
// isolation, so the read-modify-write in Update is covered by the
// database itself; serialization failures surface as ErrConflict for the
// caller to retry. Change subscriptions use LISTEN/NOTIFY with a
// dedicated listener connection.
type Postgres struct {
	pool *pgxpool.Pool

	mu       sync.Mutex
	watchers map[*Subscription]string
	cancel   context.CancelFunc
}

// ConnectPostgres opens a pool for connStr, verifies it, ensures the
// documents table exists, and starts the notification listener.
func ConnectPostgres(ctx context.Context, connStr string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure documents table: %w", err)
	}

	listenCtx, listenCancel := context.WithCancel(context.Background())
	p := &Postgres{
		pool:     pool,
		watchers: make(map[*Subscription]string),
		cancel:   listenCancel,
	}
	go p.listen(listenCtx)
	return p, nil
}

// listen holds a dedicated connection on LISTEN and fans notifications
// out to watchers. The notify payload is the changed document key.
func (p *Postgres) listen(ctx context.Context) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return
	}
	defer conn.Release()
	if _, err := conn.Exec(ctx, "LISTEN "+pgChangeChannel); err != nil {
		return
	}
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return
		}
		p.mu.Lock()
		for sub, prefix := range p.watchers {
			if strings.HasPrefix(n.Payload, prefix) {
				sub.signal()
			}
		}
		p.mu.Unlock()
	}
}

// pgTx runs directly against a pgx transaction: the database snapshot
// provides read-your-writes, so nothing is staged client-side. written
// tracks keys to NOTIFY once the transaction body succeeds.
type pgTx struct {
	ctx      context.Context
	q        pgxQuerier
	written  map[string]struct{}
	readOnly bool
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (tx *pgTx) Get(key string) (*Record, error) {
	var value []byte
	err := tx.q.QueryRow(tx.ctx, `SELECT value FROM documents WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg get %s: %w", key, err)
	}
	return &Record{Key: key, Value: value}, nil
}

func (tx *pgTx) Put(key string, value []byte) error {
	if tx.readOnly {
		return errors.New("store: put inside read-only view")
	}
	_, err := tx.q.Exec(tx.ctx, `
		INSERT INTO documents (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("pg put %s: %w", key, err)
	}
	tx.written[key] = struct{}{}
	return nil
}

// escapeLike neutralizes LIKE wildcards in a caller-supplied prefix so
// a key containing % or _ matches only itself.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (tx *pgTx) List(prefix string) ([]Record, error) {
	rows, err := tx.q.Query(tx.ctx, `
		SELECT key, value FROM documents
		WHERE key LIKE $1 ESCAPE '\'
		ORDER BY key`, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("pg list %s: %w", prefix, err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Key, &r.Value); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (p *Postgres) View(ctx context.Context, fn func(Tx) error) error {
	return fn(&pgTx{ctx: ctx, q: p.pool, written: map[string]struct{}{}, readOnly: true})
}

// Update runs fn inside a SERIALIZABLE pgx transaction. The explicit
// watchKeys are not needed here: serializable isolation already protects
// the whole read set.
func (p *Postgres) Update(ctx context.Context, watchKeys []string, fn func(Tx) error) error {
	_ = watchKeys
	err := pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(ptx pgx.Tx) error {
		tx := &pgTx{ctx: ctx, q: ptx, written: map[string]struct{}{}}
		if err := fn(tx); err != nil {
			return err
		}
		for key := range tx.written {
			if _, err := ptx.Exec(ctx, `SELECT pg_notify($1, $2)`, pgChangeChannel, key); err != nil {
				return err
			}
		}
		return nil
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure / deadlock_detected
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return ErrConflict
		}
	}
	return err
}

func (p *Postgres) Watch(ctx context.Context, prefix string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var sub *Subscription
	var once sync.Once
	sub = newSubscription(func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.watchers, sub)
			p.mu.Unlock()
			close(sub.ch)
		})
	})
	p.watchers[sub] = prefix
	sub.signal()
	return sub, nil
}

func (p *Postgres) Close() error {
	p.cancel()
	p.mu.Lock()
	subs := make([]*Subscription, 0, len(p.watchers))
	for sub := range p.watchers {
		subs = append(subs, sub)
	}
	p.mu.Unlock()
	for _, sub := range subs {
		sub.Cancel()
	}
	p.pool.Close()
	return nil
}
