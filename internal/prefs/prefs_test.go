// internal/prefs/prefs_test.go
package prefs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeDefaults(t *testing.T) {
	p := Prefs{}.Normalize()
	require.Equal(t, DefaultSkin, p.Skin)
	require.Equal(t, DefaultAvatarType, p.AvatarType)
	require.Equal(t, DefaultElectricTheme, p.ElectricTheme)
	require.Empty(t, p.Name)
}

func TestNormalizeKeepsValidValues(t *testing.T) {
	p := Prefs{Name: "Ann", Skin: "midnight", AvatarType: "robot", ElectricTheme: "hotPink"}.Normalize()
	require.Equal(t, "midnight", p.Skin)
	require.Equal(t, "robot", p.AvatarType)
	require.Equal(t, "hotPink", p.ElectricTheme)
	require.Equal(t, "Ann", p.Name)
}

func TestNormalizeReplacesUnknownValues(t *testing.T) {
	p := Prefs{Skin: "neon", AvatarType: "alien", ElectricTheme: "rainbow"}.Normalize()
	require.Equal(t, DefaultSkin, p.Skin)
	require.Equal(t, DefaultAvatarType, p.AvatarType)
	require.Equal(t, DefaultElectricTheme, p.ElectricTheme)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, DefaultSkin, p.Skin)

	require.NoError(t, s.Set(ctx, "u1", Prefs{Name: "Ann", Skin: "cyber"}))
	p, err = s.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "cyber", p.Skin)
	require.Equal(t, "Ann", p.Name)

	// another uid is untouched
	p, err = s.Get(ctx, "u2")
	require.NoError(t, err)
	require.Equal(t, DefaultSkin, p.Skin)
}

func TestMemoryStoreWatch(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	got := make(chan Prefs, 4)
	cancel, err := s.Watch(ctx, "u1", func(p Prefs) { got <- p })
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "u1", Prefs{Skin: "mint"}))
	p := <-got
	require.Equal(t, "mint", p.Skin)

	// writes for other uids do not notify this watcher
	require.NoError(t, s.Set(ctx, "u2", Prefs{Skin: "cyber"}))
	select {
	case <-got:
		t.Fatal("unexpected notification for another uid")
	default:
	}

	cancel()
	require.NoError(t, s.Set(ctx, "u1", Prefs{Skin: "sunset"}))
	select {
	case <-got:
		t.Fatal("notification after cancel")
	default:
	}
}

// A watcher callback that registers or cancels watchers must not
// deadlock against the fan-out.
func TestRedisStoreNotifyReentrantCallback(t *testing.T) {
	s := &RedisStore{watchers: make(map[*watcher]struct{})}
	ctx := context.Background()

	got := make(chan Prefs, 1)
	cancel, err := s.Watch(ctx, "u1", func(p Prefs) {
		nested, err := s.Watch(ctx, "u1", func(Prefs) {})
		require.NoError(t, err)
		nested()
		got <- p
	})
	require.NoError(t, err)
	defer cancel()

	s.notify("u1", Prefs{Skin: "mint"}.Normalize())

	select {
	case p := <-got:
		require.Equal(t, "mint", p.Skin)
	default:
		t.Fatal("watcher was not notified")
	}

	// other uids stay silent
	s.notify("u2", Prefs{}.Normalize())
	select {
	case <-got:
		t.Fatal("unexpected notification for another uid")
	default:
	}
}
