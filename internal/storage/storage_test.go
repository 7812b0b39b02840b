package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenBackend fails every call, standing in for an unavailable tier
type brokenBackend struct{}

var errBroken = errors.New("tier unavailable")

func (brokenBackend) Put(context.Context, *Envelope) error { return errBroken }
func (brokenBackend) Get(context.Context, string) (*Envelope, error) { return nil, errBroken }
func (brokenBackend) Delete(context.Context, string) error { return errBroken }
func (brokenBackend) Keys(context.Context) ([]string, error) { return nil, errBroken }
func (brokenBackend) Close() error { return nil }

// switchableBackend wraps a tier whose writes can be turned off
type switchableBackend struct {
	Backend
	down atomic.Bool
}

func (s *switchableBackend) Put(ctx context.Context, env *Envelope) error {
	if s.down.Load() {
		return errBroken
	}
	return s.Backend.Put(ctx, env)
}

type sample struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func openTiers(t *testing.T) (*DB, *FlatStore) {
	t.Helper()
	dir := t.TempDir()

	db, err := Open(filepath.Join(dir, "advisor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	flat, err := OpenFlat(filepath.Join(dir, "fallback", "records.yaml"))
	require.NoError(t, err)
	return db, flat
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func TestBackends_RoundTrip(t *testing.T) {
	db, flat := openTiers(t)
	ctx := context.Background()

	for name, b := range map[string]Backend{"sqlite": db, "flat": flat} {
		t.Run(name, func(t *testing.T) {
			env := &Envelope{Key: "soil_a", Data: json.RawMessage(`{"name":"a","value":1.5}`), Timestamp: 1000, CreatedAt: 1000}
			require.NoError(t, b.Put(ctx, env))
			// Same envelope twice is fine
			require.NoError(t, b.Put(ctx, env))

			got, err := b.Get(ctx, "soil_a")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "soil_a", got.Key)
			assert.JSONEq(t, `{"name":"a","value":1.5}`, string(got.Data))
			assert.Equal(t, int64(1000), got.Timestamp)
			assert.False(t, got.Synced)

			missing, err := b.Get(ctx, "nope")
			require.NoError(t, err)
			assert.Nil(t, missing)

			require.NoError(t, b.Put(ctx, &Envelope{Key: "other", Data: json.RawMessage(`1`), Timestamp: 2000}))
			keys, err := b.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"other", "soil_a"}, keys)

			require.NoError(t, b.Delete(ctx, "soil_a"))
			require.NoError(t, b.Delete(ctx, "soil_a"))
			got, err = b.Get(ctx, "soil_a")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestDB_UnsyncedAndStats(t *testing.T) {
	db, _ := openTiers(t)
	ctx := context.Background()

	require.NoError(t, db.Put(ctx, &Envelope{Key: "b", Data: json.RawMessage(`2`), Timestamp: 2000}))
	require.NoError(t, db.Put(ctx, &Envelope{Key: "a", Data: json.RawMessage(`1`), Timestamp: 1000}))
	require.NoError(t, db.Put(ctx, &Envelope{Key: "c", Data: json.RawMessage(`3`), Timestamp: 3000, Synced: true}))

	pending, err := db.Unsynced(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].Key)
	assert.Equal(t, "b", pending[1].Key)

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Unsynced)
	assert.Equal(t, time.UnixMilli(1000), stats.Oldest)
	assert.Equal(t, time.UnixMilli(3000), stats.Newest)
}

func TestDB_OpenReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "advisor.db")
	ctx := context.Background()

	_, err := OpenReadOnly(path)
	assert.Error(t, err)

	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Put(ctx, &Envelope{Key: "soil_a", Data: json.RawMessage(`{"ph":6.5}`), Timestamp: 1000}))

	ro, err := OpenReadOnly(path)
	require.NoError(t, err)
	defer ro.Close()

	env, err := ro.Get(ctx, "soil_a")
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.JSONEq(t, `{"ph":6.5}`, string(env.Data))

	rows, err := ro.Select(ctx, "  select key, synced from offline_records")
	require.NoError(t, err)
	var keys []string
	for rows.Next() {
		var k string
		var synced bool
		require.NoError(t, rows.Scan(&k, &synced))
		keys = append(keys, k)
	}
	require.NoError(t, rows.Close())
	assert.Equal(t, []string{"soil_a"}, keys)

	_, err = ro.Select(ctx, "DELETE FROM offline_records")
	assert.True(t, errors.Is(err, ErrNotSelect))

	assert.Error(t, ro.Put(ctx, &Envelope{Key: "soil_b", Data: json.RawMessage(`1`), Timestamp: 2000}))
}

func TestFlatStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.yaml")
	ctx := context.Background()

	first, err := OpenFlat(path)
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, &Envelope{Key: "k", Data: json.RawMessage(`"v"`), Timestamp: 5}))

	second, err := OpenFlat(path)
	require.NoError(t, err)
	got, err := second.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.JSONEq(t, `"v"`, string(got.Data))
}

func TestFlatStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- a\n- b\n"), 0o644))

	_, err := OpenFlat(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse fallback file")
}

func TestFlatStore_RejectsNonEnvelopeEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.yaml")
	require.NoError(t, os.WriteFile(path, []byte("soil_1: not json\n"), 0o644))

	_, err := OpenFlat(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse fallback entry soil_1")
}

func TestOfflineStore_SaveLoad(t *testing.T) {
	db, flat := openTiers(t)
	store := NewOfflineStore(db, flat)
	store.now = fixedClock(1_700_000_000_000)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "soil_1", sample{Name: "north", Value: 6.5}))

	env, err := store.Load(ctx, "soil_1")
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.False(t, env.Synced)
	assert.Equal(t, int64(1_700_000_000_000), env.Timestamp)
	assert.Equal(t, int64(1_700_000_000_000), env.CreatedAt)

	var got sample
	require.NoError(t, env.Decode(&got))
	assert.Equal(t, sample{Name: "north", Value: 6.5}, got)

	// Written to the primary only
	inFlat, err := flat.Get(ctx, "soil_1")
	require.NoError(t, err)
	assert.Nil(t, inFlat)

	missing, err := store.Load(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestOfflineStore_FallbackOnBrokenPrimary(t *testing.T) {
	_, flat := openTiers(t)
	store := NewOfflineStore(brokenBackend{}, flat)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "soil_2", sample{Name: "south"}))

	env, err := store.Load(ctx, "soil_2")
	require.NoError(t, err)
	require.NotNil(t, env)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"soil_2"}, keys)

	require.NoError(t, store.Delete(ctx, "soil_2"))
	env, err = store.Load(ctx, "soil_2")
	require.NoError(t, err)
	assert.Nil(t, env)
}

func TestOfflineStore_FallbackOnClosedPrimary(t *testing.T) {
	db, flat := openTiers(t)
	store := NewOfflineStore(db, flat)
	ctx := context.Background()

	require.NoError(t, db.Close())
	require.NoError(t, store.Save(ctx, "soil_3", sample{Name: "east"}))

	env, err := store.Load(ctx, "soil_3")
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, "soil_3", env.Key)
}

func TestOfflineStore_LoadFindsFallbackOnlyRecord(t *testing.T) {
	db, flat := openTiers(t)
	store := NewOfflineStore(db, flat)
	ctx := context.Background()

	require.NoError(t, flat.Put(ctx, &Envelope{Key: "soil_old", Data: json.RawMessage(`{}`), Timestamp: 1}))
	require.NoError(t, db.Put(ctx, &Envelope{Key: "soil_new", Data: json.RawMessage(`{}`), Timestamp: 2}))

	env, err := store.Load(ctx, "soil_old")
	require.NoError(t, err)
	require.NotNil(t, env)

	keys, err := store.KeysWithPrefix(ctx, "soil_")
	require.NoError(t, err)
	assert.Equal(t, []string{"soil_new", "soil_old"}, keys)
}

func TestOfflineStore_AllTiersFail(t *testing.T) {
	store := NewOfflineStore(brokenBackend{}, brokenBackend{})
	ctx := context.Background()

	err := store.Save(ctx, "k", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))

	_, err = store.Load(ctx, "k")
	assert.True(t, errors.Is(err, ErrStorage))

	_, err = store.Keys(ctx)
	assert.True(t, errors.Is(err, ErrStorage))

	assert.True(t, errors.Is(store.Delete(ctx, "k"), ErrStorage))
}

func TestOfflineStore_MarkSynced(t *testing.T) {
	db, flat := openTiers(t)
	store := NewOfflineStore(db, flat)
	ctx := context.Background()

	store.now = fixedClock(1000)
	require.NoError(t, store.Save(ctx, "soil_4", sample{Name: "west", Value: 2}))
	env, err := store.Load(ctx, "soil_4")
	require.NoError(t, err)

	store.now = fixedClock(5000)
	require.NoError(t, store.MarkSynced(ctx, env))

	synced, err := store.Load(ctx, "soil_4")
	require.NoError(t, err)
	require.NotNil(t, synced)
	assert.True(t, synced.Synced)
	assert.Equal(t, int64(5000), synced.Timestamp)
	assert.Equal(t, int64(1000), synced.CreatedAt)
	assert.JSONEq(t, string(env.Data), string(synced.Data))

	pending, err := db.Unsynced(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOfflineStore_LoadPrefersNewerFallbackCopy(t *testing.T) {
	db, flat := openTiers(t)
	primary := &switchableBackend{Backend: db}
	store := NewOfflineStore(primary, flat)
	ctx := context.Background()

	store.now = fixedClock(1000)
	require.NoError(t, store.Save(ctx, "soil_5", sample{Name: "v1", Value: 1}))
	env, err := store.Load(ctx, "soil_5")
	require.NoError(t, err)
	store.now = fixedClock(2000)
	require.NoError(t, store.MarkSynced(ctx, env))

	// Primary goes down, the edit lands on the fallback, then it recovers
	primary.down.Store(true)
	store.now = fixedClock(3000)
	require.NoError(t, store.Save(ctx, "soil_5", sample{Name: "v2", Value: 2}))
	primary.down.Store(false)

	got, err := store.Load(ctx, "soil_5")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Synced)
	assert.Equal(t, int64(3000), got.Timestamp)
	assert.JSONEq(t, `{"name":"v2","value":2}`, string(got.Data))

	// Syncing the newer copy writes it back to the primary, which wins again
	store.now = fixedClock(4000)
	require.NoError(t, store.MarkSynced(ctx, got))
	got, err = store.Load(ctx, "soil_5")
	require.NoError(t, err)
	assert.True(t, got.Synced)
	assert.JSONEq(t, `{"name":"v2","value":2}`, string(got.Data))
}

func TestOfflineStore_LoadTiePrefersPrimary(t *testing.T) {
	db, flat := openTiers(t)
	store := NewOfflineStore(db, flat)
	ctx := context.Background()

	require.NoError(t, db.Put(ctx, &Envelope{Key: "k", Data: json.RawMessage(`"primary"`), Timestamp: 1000}))
	require.NoError(t, flat.Put(ctx, &Envelope{Key: "k", Data: json.RawMessage(`"fallback"`), Timestamp: 1000}))

	got, err := store.Load(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.JSONEq(t, `"primary"`, string(got.Data))
}

func TestOfflineStore_KeysDeduplicatesTiers(t *testing.T) {
	db, flat := openTiers(t)
	store := NewOfflineStore(db, flat)
	ctx := context.Background()

	require.NoError(t, db.Put(ctx, &Envelope{Key: "k", Data: json.RawMessage(`1`), Timestamp: 1000}))
	require.NoError(t, flat.Put(ctx, &Envelope{Key: "k", Data: json.RawMessage(`2`), Timestamp: 2000}))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keys)

	keys, err = store.KeysWithPrefix(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keys)
}
