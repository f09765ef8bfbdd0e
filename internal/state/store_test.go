package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-io/strata/internal/ir"
)

func testRecord(key string) *ir.Record {
	return &ir.Record{
		Key:        key,
		Type:       "network",
		Provider:   "memory",
		ProviderID: "mem-network-1",
		Attributes: map[string]any{
			"id":         "mem-network-1",
			"cidr_block": "10.0.0.0/16",
			"tags":       map[string]any{"env": "test"},
		},
		Dependencies:  []string{"other"},
		LastAppliedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

// openStores builds one of each backend against a temp directory.
func openStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	local, err := NewLocalStore(filepath.Join(dir, "state"))
	require.NoError(t, err)

	sqlite, err := NewSQLiteStore(context.Background(), filepath.Join(dir, "state.db"))
	require.NoError(t, err)

	stores := map[string]Store{
		"local":  local,
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := store.Get(ctx, "network.main")
			require.NoError(t, err)
			assert.False(t, ok)

			rec := testRecord("network.main")
			require.NoError(t, store.Put(ctx, rec))

			got, ok, err := store.Get(ctx, "network.main")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, rec.Key, got.Key)
			assert.Equal(t, rec.ProviderID, got.ProviderID)
			assert.Equal(t, rec.Attributes["cidr_block"], got.Attributes["cidr_block"])
			assert.Equal(t, rec.Dependencies, got.Dependencies)

			// Overwrite replaces the record.
			rec.ProviderID = "mem-network-2"
			require.NoError(t, store.Put(ctx, rec))
			got, _, err = store.Get(ctx, "network.main")
			require.NoError(t, err)
			assert.Equal(t, "mem-network-2", got.ProviderID)

			require.NoError(t, store.Delete(ctx, "network.main"))
			_, ok, err = store.Get(ctx, "network.main")
			require.NoError(t, err)
			assert.False(t, ok)

			// Deleting an absent key is fine.
			require.NoError(t, store.Delete(ctx, "network.main"))
		})
	}
}

func TestStore_IndexedKeys(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				rec := testRecord(fmt.Sprintf("subnet[%d]", i))
				rec.Attributes["index"] = i
				require.NoError(t, store.Put(ctx, rec))
			}

			recs, err := store.List(ctx)
			require.NoError(t, err)
			assert.Len(t, recs, 3)

			got, ok, err := store.Get(ctx, "subnet[1]")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "subnet[1]", got.Key)
		})
	}
}

func TestStore_ConcurrentDistinctKeys(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			errs := make(chan error, 32)
			for i := 0; i < 32; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					rec := testRecord(fmt.Sprintf("node[%d]", i))
					if err := store.Put(ctx, rec); err != nil {
						errs <- err
						return
					}
					if _, _, err := store.Get(ctx, rec.Key); err != nil {
						errs <- err
					}
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Error(err)
			}

			recs, err := store.List(ctx)
			require.NoError(t, err)
			assert.Len(t, recs, 32)
		})
	}
}

// WAL mode persists in the database header, so a fresh connection
// observing it proves the open-time pragmas actually took effect.
func TestSQLiteStore_OpensInWALMode(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	store, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, testRecord("network.main")))
	require.NoError(t, store.Close())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestLocalStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewLocalStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, testRecord("network.main")))
	require.NoError(t, store.Close())

	reopened, err := NewLocalStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.Get(ctx, "network.main")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "mem-network-1", got.ProviderID)
}

func TestLock_SecondAcquireFails(t *testing.T) {
	dir := t.TempDir()

	first := NewLock(dir)
	require.NoError(t, first.Acquire())

	second := NewLock(dir)
	err := second.Acquire()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")

	require.NoError(t, first.Release())
	require.NoError(t, second.Acquire())
	require.NoError(t, second.Release())
}

func TestLock_BreaksStaleLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strata.lock")
	require.NoError(t, os.WriteFile(path, []byte("pid=1\n"), 0644))
	old := time.Now().Add(-2 * staleLockAge)
	require.NoError(t, os.Chtimes(path, old, old))

	lock := NewLock(dir)
	require.NoError(t, lock.Acquire())
	require.NoError(t, lock.Release())
}
