package kv

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by a single PostgreSQL table.
//
// Ownership model:
//   - PostgresStore does NOT own the pgx pool. The caller must close the pool.
//   - Close() is therefore a no-op.
//
// TTL model:
//   - expires_at is written on Put and enforced lazily: reads and listings
//     ignore expired rows, and List opportunistically deletes them. Postgres
//     has no native key expiry, so this mirrors the lazy model of the
//     in-memory store rather than inventing a reaper process.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "tide").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("kv: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("kv: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "tide",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("kv: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// EnsureSchema creates the backing schema and table if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return errors.New("kv: nil store")
	}

	if _, err := s.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+quoteIdent(s.schema)); err != nil {
		return fmt.Errorf("kv: create schema: %w", err)
	}

	table := s.table()
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+table+` (
			key        text PRIMARY KEY,
			value      bytea NOT NULL,
			expires_at timestamptz NULL
		)`); err != nil {
		return fmt.Errorf("kv: create table: %w", err)
	}
	return nil
}

// Get returns the live value for key or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("kv: empty key")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM `+s.table()+`
		 WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`,
		key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv: postgres get: %w", err)
	}
	return value, nil
}

// Put upserts value under key; a positive TTL sets expires_at from now().
func (s *PostgresStore) Put(ctx context.Context, key string, value []byte, opts PutOptions) error {
	if key == "" {
		return errors.New("kv: empty key")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var secs *float64
	if opts.TTL > 0 {
		v := opts.TTL.Seconds()
		secs = &v
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (key, value, expires_at)
		 VALUES ($1, $2, CASE WHEN $3::float8 IS NULL THEN NULL ELSE now() + make_interval(secs => $3) END)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, secs,
	)
	if err != nil {
		return fmt.Errorf("kv: postgres put: %w", err)
	}
	return nil
}

// Delete removes key; missing keys are ignored.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("kv: empty key")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE key = $1`, key); err != nil {
		return fmt.Errorf("kv: postgres delete: %w", err)
	}
	return nil
}

// List returns all live keys starting with prefix and sweeps expired ones.
func (s *PostgresStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	table := s.table()

	// Opportunistic sweep keeps the table from accumulating dead rows.
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM `+table+` WHERE expires_at IS NOT NULL AND expires_at <= now()`,
	); err != nil {
		return nil, fmt.Errorf("kv: postgres sweep: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT key FROM `+table+`
		 WHERE key LIKE $1 AND (expires_at IS NULL OR expires_at > now())
		 ORDER BY key`,
		escapeLike(prefix)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("kv: postgres list: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("kv: postgres list scan: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kv: postgres list rows: %w", err)
	}
	return keys, nil
}

func (s *PostgresStore) table() string {
	return quoteIdent(s.schema) + "." + quoteIdent("kv_entries")
}

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return len(s) <= 63 && pgIdentRe.MatchString(s)
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// escapeLike escapes LIKE metacharacters so prefixes match literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
