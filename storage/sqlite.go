package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/interfaces"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

// KVModel maps the protected_kv table.
type KVModel struct {
	bun.BaseModel `bun:"table:protected_kv"`
	Key           string    `bun:"key,pk"`
	Value         []byte    `bun:"value,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,notnull"`
}

// SQLiteAdapter implements Storage on an embedded SQLite database through bun.
type SQLiteAdapter struct {
	db     *sql.DB
	bun    *bun.DB
	logger zerolog.Logger
}

var _ interfaces.Storage = (*SQLiteAdapter)(nil)

// OpenSQLite opens (or creates) the database at dsn and ensures the table exists.
// Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteAdapter, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: sqlite dsn is empty", types.ErrValidation)
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", types.ErrStorage, err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	sqlDB.SetMaxOpenConns(1)

	adapter := &SQLiteAdapter{
		db:     sqlDB,
		bun:    bun.NewDB(sqlDB, sqlitedialect.New()),
		logger: log.With().Str("component", "sqlite_storage").Logger(),
	}

	if _, err := adapter.bun.NewCreateTable().Model((*KVModel)(nil)).IfNotExists().Exec(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: create table: %v", types.ErrStorage, err)
	}

	adapter.logger.Debug().Str("dsn", dsn).Msg("SQLite storage adapter opened")
	return adapter, nil
}

// Get retrieves the value stored under key
func (s *SQLiteAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	var row KVModel
	err := s.bun.NewSelect().Model(&row).Where("key = ?", key).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get %s: %v", types.ErrStorage, key, err)
	}
	return row.Value, nil
}

// Set upserts the value stored under key
func (s *SQLiteAdapter) Set(ctx context.Context, key string, value []byte) error {
	row := &KVModel{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	_, err := s.bun.NewInsert().
		Model(row).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: set %s: %v", types.ErrStorage, key, err)
	}
	return nil
}

// Delete removes key
func (s *SQLiteAdapter) Delete(ctx context.Context, key string) error {
	if _, err := s.bun.NewDelete().Model((*KVModel)(nil)).Where("key = ?", key).Exec(ctx); err != nil {
		return fmt.Errorf("%w: delete %s: %v", types.ErrStorage, key, err)
	}
	return nil
}

// Keys lists keys with the given prefix, sorted ascending
func (s *SQLiteAdapter) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	q := s.bun.NewSelect().Model((*KVModel)(nil)).Column("key").OrderExpr("key ASC")
	if prefix != "" {
		q = q.Where("key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%")
	}
	if err := q.Scan(ctx, &keys); err != nil {
		return nil, fmt.Errorf("%w: list keys: %v", types.ErrStorage, err)
	}
	return keys, nil
}

// Close closes the underlying database
func (s *SQLiteAdapter) Close() error {
	return s.bun.Close()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
