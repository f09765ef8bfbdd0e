package state

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/strata-io/strata/internal/ir"
)

// LocalStore keeps one JSON document per instance key in a directory.
// Writes go through a temp file and rename so each record is replaced
// atomically. Keys hash onto a fixed set of locks, so operations on
// different keys proceed concurrently while same-key operations
// serialize.
type LocalStore struct {
	dir   string
	locks [64]sync.Mutex
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) Get(ctx context.Context, key string) (*ir.Record, bool, error) {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	raw, err := os.ReadFile(s.pathFor(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read state record %s: %w", key, err)
	}
	var rec ir.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("decode state record %s: %w", key, err)
	}
	return &rec, true, nil
}

func (s *LocalStore) Put(ctx context.Context, rec *ir.Record) error {
	lock := s.lockFor(rec.Key)
	lock.Lock()
	defer lock.Unlock()

	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state record %s: %w", rec.Key, err)
	}
	path := s.pathFor(rec.Key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("write state record %s: %w", rec.Key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit state record %s: %w", rec.Key, err)
	}
	return nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.pathFor(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete state record %s: %w", key, err)
	}
	return nil
}

func (s *LocalStore) List(ctx context.Context) ([]*ir.Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list state directory: %w", err)
	}
	var recs []*ir.Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read state record %s: %w", e.Name(), err)
		}
		var rec ir.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode state record %s: %w", e.Name(), err)
		}
		recs = append(recs, &rec)
	}
	return recs, nil
}

func (s *LocalStore) Close() error { return nil }

// pathFor maps a key to a stable filename. Index brackets are flattened
// and an fnv suffix keeps flattened names collision free; the canonical
// key lives inside the document.
func (s *LocalStore) pathFor(key string) string {
	safe := strings.NewReplacer("[", "-", "]", "", "/", "_").Replace(key)
	h := fnv.New32a()
	h.Write([]byte(key))
	return filepath.Join(s.dir, fmt.Sprintf("%s-%08x.json", safe, h.Sum32()))
}

func (s *LocalStore) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &s.locks[h.Sum32()%uint32(len(s.locks))]
}
