package hcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

type sqliteBackend struct {
	db *sqlx.DB
}

const sqliteSchema = `CREATE TABLE IF NOT EXISTS hcache (
	key TEXT PRIMARY KEY,
	path TEXT NOT NULL,
	size INTEGER NOT NULL,
	mtime INTEGER NOT NULL,
	data BLOB NOT NULL
)`

// sqliteRecord maps the hcache table columns.
type sqliteRecord struct {
	Key   string `db:"key"`
	Path  string `db:"path"`
	Size  int64  `db:"size"`
	Mtime int64  `db:"mtime"`
	Data  []byte `db:"data"`
}

func openSQLite(ctx context.Context, path string) (backend, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	for _, q := range []string{"PRAGMA journal_mode=WAL", sqliteSchema} {
		if _, err := db.ExecContext(ctx, q); err != nil {
			xerr := db.Close()
			pkglog.Check(xerr, "closing sqlite db")
			return nil, fmt.Errorf("preparing sqlite db: %w", err)
		}
	}
	return &sqliteBackend{db}, nil
}

func (b *sqliteBackend) get(ctx context.Context, key string) (Record, bool, error) {
	var sr sqliteRecord
	err := b.db.GetContext(ctx, &sr, "SELECT key, path, size, mtime, data FROM hcache WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	} else if err != nil {
		return Record{}, false, err
	}
	return Record(sr), true, nil
}

func (b *sqliteBackend) put(ctx context.Context, r Record) error {
	_, err := b.db.NamedExecContext(ctx, `INSERT INTO hcache (key, path, size, mtime, data)
		VALUES (:key, :path, :size, :mtime, :data)
		ON CONFLICT(key) DO UPDATE SET path=excluded.path, size=excluded.size, mtime=excluded.mtime, data=excluded.data`,
		sqliteRecord(r))
	return err
}

func (b *sqliteBackend) remove(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx, "DELETE FROM hcache WHERE key = ?", key)
	return err
}

func (b *sqliteBackend) list(ctx context.Context, fn func(r Record) error) error {
	var l []sqliteRecord
	if err := b.db.SelectContext(ctx, &l, "SELECT key, path, size, mtime, data FROM hcache"); err != nil {
		return err
	}
	for _, sr := range l {
		if err := fn(Record(sr)); err != nil {
			return err
		}
	}
	return nil
}

func (b *sqliteBackend) close() error {
	return b.db.Close()
}
