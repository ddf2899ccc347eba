// internal/store/memory_test.go
package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryUpdateAndView(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	err := m.Update(ctx, []string{"a/b"}, func(tx Tx) error {
		return tx.Put("a/b", []byte(`{"v":1}`))
	})
	require.NoError(t, err)

	err = m.View(ctx, func(tx Tx) error {
		rec, err := tx.Get("a/b")
		require.NoError(t, err)
		require.JSONEq(t, `{"v":1}`, string(rec.Value))

		_, err = tx.Get("a/missing")
		require.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryViewRejectsWrites(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	err := m.View(context.Background(), func(tx Tx) error {
		return tx.Put("a", []byte("x"))
	})
	require.Error(t, err)
}

func TestMemoryConflictOnWatchedKey(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Update(ctx, []string{"k"}, func(tx Tx) error {
		return tx.Put("k", []byte("1"))
	}))

	// A transaction that reads k, then loses the race to a concurrent
	// writer, must fail with ErrConflict and commit nothing.
	err := m.Update(ctx, []string{"k", "other"}, func(tx Tx) error {
		_, err := tx.Get("k")
		require.NoError(t, err)

		// concurrent commit touching the watched key
		require.NoError(t, m.Update(ctx, []string{"k"}, func(tx2 Tx) error {
			return tx2.Put("k", []byte("2"))
		}))

		return tx.Put("other", []byte("should not land"))
	})
	require.ErrorIs(t, err, ErrConflict)

	err = m.View(ctx, func(tx Tx) error {
		rec, err := tx.Get("k")
		require.NoError(t, err)
		require.Equal(t, "2", string(rec.Value))

		_, err = tx.Get("other")
		require.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryPrefixWatchKeyCoversChildren(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	// Watching the parent path must detect a commit to a child document.
	err := m.Update(ctx, []string{"lobby/X"}, func(tx Tx) error {
		require.NoError(t, m.Update(ctx, []string{"lobby/X/players/u1"}, func(tx2 Tx) error {
			return tx2.Put("lobby/X/players/u1", []byte("{}"))
		}))
		return tx.Put("lobby/X", []byte("{}"))
	})
	require.ErrorIs(t, err, ErrConflict)
}

func TestMemoryListOrderedAndStaged(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Update(ctx, nil, func(tx Tx) error {
		require.NoError(t, tx.Put("p/b", []byte("b")))
		return tx.Put("p/a", []byte("a"))
	}))

	err := m.Update(ctx, nil, func(tx Tx) error {
		// staged write shadows the committed value and appears in List
		require.NoError(t, tx.Put("p/a", []byte("a2")))
		recs, err := tx.List("p/")
		require.NoError(t, err)
		require.Len(t, recs, 2)
		require.Equal(t, "p/a", recs[0].Key)
		require.Equal(t, "a2", string(recs[0].Value))
		require.Equal(t, "p/b", recs[1].Key)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryWatchSignals(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	sub, err := m.Watch(ctx, "lobby/X/players/")
	require.NoError(t, err)
	defer sub.Cancel()

	// initial signal is queued immediately
	select {
	case <-sub.C():
	case <-time.After(time.Second):
		t.Fatal("no initial watch signal")
	}

	require.NoError(t, m.Update(ctx, nil, func(tx Tx) error {
		return tx.Put("lobby/X/players/u1", []byte("{}"))
	}))
	select {
	case <-sub.C():
	case <-time.After(time.Second):
		t.Fatal("no signal after change under prefix")
	}

	// a write outside the prefix stays silent
	require.NoError(t, m.Update(ctx, nil, func(tx Tx) error {
		return tx.Put("lobby/Y/players/u1", []byte("{}"))
	}))
	select {
	case <-sub.C():
		t.Fatal("unexpected signal for unrelated prefix")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryWatchCancelClosesChannel(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	sub, err := m.Watch(context.Background(), "p/")
	require.NoError(t, err)
	sub.Cancel()
	sub.Cancel() // idempotent

	// drain: channel must be closed
	for {
		if _, ok := <-sub.C(); !ok {
			return
		}
	}
}

func TestMemoryConcurrentCounterIncrements(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Update(ctx, []string{"c"}, func(tx Tx) error {
		return tx.Put("c", []byte("0"))
	}))

	const workers = 16
	var (
		wg   sync.WaitGroup
		emu  sync.Mutex
		errs []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				err := m.Update(ctx, []string{"c"}, func(tx Tx) error {
					rec, err := tx.Get("c")
					if err != nil {
						return err
					}
					return tx.Put("c", []byte{rec.Value[0] + 1})
				})
				if err == nil {
					return
				}
				if !errors.Is(err, ErrConflict) {
					emu.Lock()
					errs = append(errs, err)
					emu.Unlock()
					return
				}
			}
		}()
	}
	wg.Wait()
	require.Empty(t, errs)

	err := m.View(ctx, func(tx Tx) error {
		rec, err := tx.Get("c")
		require.NoError(t, err)
		require.Equal(t, byte('0'+workers), rec.Value[0])
		return nil
	})
	require.NoError(t, err)
}
