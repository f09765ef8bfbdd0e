package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/strata-io/strata/internal/ir"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	key          TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	provider     TEXT NOT NULL,
	provider_id  TEXT NOT NULL,
	attributes   TEXT NOT NULL,
	dependencies TEXT NOT NULL,
	applied_at   TEXT NOT NULL
);`

// SQLiteStore keeps records in a single-table SQLite database. WAL mode
// lets readers and writers on different keys proceed concurrently;
// same-key writes serialize on the row.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	// modernc's driver takes pragmas as _pragma=name(value) pairs; the
	// busy timeout makes contending writers queue instead of failing
	// with SQLITE_BUSY.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping state database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize state schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*ir.Record, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT type, provider, provider_id, attributes, dependencies, applied_at FROM records WHERE key = ?`, key)

	var typ, prov, pid, attrsJSON, depsJSON, appliedAt string
	err := row.Scan(&typ, &prov, &pid, &attrsJSON, &depsJSON, &appliedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read state record %s: %w", key, err)
	}

	rec := &ir.Record{Key: key, Type: typ, Provider: prov, ProviderID: pid}
	if err := json.Unmarshal([]byte(attrsJSON), &rec.Attributes); err != nil {
		return nil, false, fmt.Errorf("decode state record %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(depsJSON), &rec.Dependencies); err != nil {
		return nil, false, fmt.Errorf("decode state record %s: %w", key, err)
	}
	if rec.LastAppliedAt, err = time.Parse(time.RFC3339Nano, appliedAt); err != nil {
		return nil, false, fmt.Errorf("decode state record %s: %w", key, err)
	}
	return rec, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, rec *ir.Record) error {
	attrsJSON, err := json.Marshal(rec.Attributes)
	if err != nil {
		return fmt.Errorf("encode state record %s: %w", rec.Key, err)
	}
	deps := rec.Dependencies
	if deps == nil {
		deps = []string{}
	}
	depsJSON, err := json.Marshal(deps)
	if err != nil {
		return fmt.Errorf("encode state record %s: %w", rec.Key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (key, type, provider, provider_id, attributes, dependencies, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			type = excluded.type,
			provider = excluded.provider,
			provider_id = excluded.provider_id,
			attributes = excluded.attributes,
			dependencies = excluded.dependencies,
			applied_at = excluded.applied_at`,
		rec.Key, rec.Type, rec.Provider, rec.ProviderID,
		string(attrsJSON), string(depsJSON), rec.LastAppliedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("write state record %s: %w", rec.Key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete state record %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*ir.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM records ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list state records: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("list state records: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list state records: %w", err)
	}

	recs := make([]*ir.Record, 0, len(keys))
	for _, key := range keys {
		rec, ok, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
