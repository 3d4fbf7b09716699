package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/address-normalizer/app/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	fingerprint       TEXT PRIMARY KEY,
	key               TEXT NOT NULL,
	value             TEXT NOT NULL,
	taxonomy_version  TEXT NOT NULL,
	manually_verified INTEGER NOT NULL DEFAULT 0,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL,
	last_accessed     TEXT NOT NULL,
	access_count      INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_cache_taxonomy_version ON cache_entries(taxonomy_version);
`

// SQLiteCacheService is the file-backed cache used by the CLI.
type SQLiteCacheService struct {
	conn    *sql.DB
	logger  *zap.Logger
	writeMu sync.Mutex // sqlite takes one writer at a time
	counter hitCounter
}

// NewSQLiteCacheService opens (or creates) the store at path.
func NewSQLiteCacheService(path string, logger *zap.Logger) (*SQLiteCacheService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	if isInMemorySQLite(path) {
		// every new connection to :memory: gets an empty database
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("configure sqlite cache: %w", err)
	}
	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	logger.Debug("Opened sqlite cache", zap.String("path", path))
	return &SQLiteCacheService{conn: conn, logger: logger}, nil
}

func isInMemorySQLite(path string) bool {
	return path == ":memory:" || (strings.HasPrefix(path, "file:") && strings.Contains(path, "mode=memory"))
}

func (s *SQLiteCacheService) Get(ctx context.Context, key string) (*models.NormalizedAddress, bool, error) {
	fingerprint := models.Fingerprint(key)
	var raw string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM cache_entries WHERE fingerprint = ?`, fingerprint).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		s.counter.miss()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query sqlite cache: %w", err)
	}

	var na models.NormalizedAddress
	if err := json.Unmarshal([]byte(raw), &na); err != nil {
		return nil, false, fmt.Errorf("decode cached record: %w", err)
	}
	s.counter.hit()

	s.writeMu.Lock()
	_, err = s.conn.ExecContext(ctx,
		`UPDATE cache_entries SET last_accessed = ?, access_count = access_count + 1 WHERE fingerprint = ?`,
		now(), fingerprint)
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Warn("Could not update access stats", zap.Error(err))
	}
	return &na, true, nil
}

func (s *SQLiteCacheService) Set(ctx context.Context, key string, value *models.NormalizedAddress) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	ts := now()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.conn.ExecContext(ctx, `
INSERT INTO cache_entries (fingerprint, key, value, taxonomy_version, manually_verified, created_at, updated_at, last_accessed, access_count)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
ON CONFLICT(fingerprint) DO UPDATE SET
	value = excluded.value,
	taxonomy_version = excluded.taxonomy_version,
	manually_verified = excluded.manually_verified,
	updated_at = excluded.updated_at`,
		models.Fingerprint(key), key, string(data), value.TaxonomyVersion, value.ManuallyVerified, ts, ts, ts)
	if err != nil {
		return fmt.Errorf("write sqlite cache: %w", err)
	}
	return nil
}

func (s *SQLiteCacheService) Delete(ctx context.Context, key string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.conn.ExecContext(ctx, `DELETE FROM cache_entries WHERE fingerprint = ?`, models.Fingerprint(key)); err != nil {
		return fmt.Errorf("delete sqlite cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteCacheService) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.conn.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("clear sqlite cache: %w", err)
	}
	s.counter.reset()
	return nil
}

func (s *SQLiteCacheService) InvalidateByTaxonomyVersion(ctx context.Context, version string) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE taxonomy_version <> ? AND manually_verified = 0`, version)
	if err != nil {
		return 0, fmt.Errorf("invalidate sqlite cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("invalidate sqlite cache: %w", err)
	}
	s.logger.Info("Invalidated sqlite cache", zap.String("taxonomy_version", version), zap.Int64("deleted_count", n))
	return n, nil
}

func (s *SQLiteCacheService) GetStats(ctx context.Context) (*CacheStats, error) {
	var n int64
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&n); err != nil {
		return nil, fmt.Errorf("count sqlite cache: %w", err)
	}
	return s.counter.stats("sqlite", n), nil
}

func (s *SQLiteCacheService) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.conn.QueryRowContext(ctx, `SELECT 1 FROM cache_entries WHERE fingerprint = ?`, models.Fingerprint(key)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check sqlite cache: %w", err)
	}
	return true, nil
}

// Close flushes and closes the database file.
func (s *SQLiteCacheService) Close() error {
	return s.conn.Close()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
