// Package db opens the SQLite databases used for local sync state.
package db

import (
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/remotesync/internal/utils"
)

const MemoryPath = ":memory:"

const defaultPragmas = `
PRAGMA journal_mode=WAL;
PRAGMA busy_timeout=5000;
PRAGMA synchronous=NORMAL;
PRAGMA temp_store=MEMORY;
`

type options struct {
	path   string
	schema []string
}

type Option func(*options)

// WithPath sets the database file. MemoryPath opens a private in-memory database.
func WithPath(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

// WithSchema adds statements that are executed, in order, every time the database is opened.
// They must be idempotent.
func WithSchema(statements ...string) Option {
	return func(o *options) {
		o.schema = append(o.schema, statements...)
	}
}

// Open connects to SQLite and applies pragmas and schema.
func Open(opts ...Option) (*sqlx.DB, error) {
	o := &options{path: MemoryPath}
	for _, opt := range opts {
		opt(o)
	}

	dsn := MemoryPath
	if o.path != MemoryPath {
		if err := utils.EnsureParent(o.path); err != nil {
			return nil, fmt.Errorf("ensure parent directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", o.path)
	}

	slog.Debug("db open", "driver", driverID, "path", o.path)
	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// one connection keeps WAL mode free of SQLITE_BUSY and shares a :memory: database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(defaultPragmas); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	for _, stmt := range o.schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	return db, nil
}
