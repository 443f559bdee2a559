package acceptance

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder style and DDL.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS used_nonces (
	arbiter_pubkey TEXT NOT NULL,
	nonce TEXT NOT NULL,
	deal_id TEXT NOT NULL,
	expires_at INTEGER NOT NULL,
	redeemed_at INTEGER NOT NULL,
	PRIMARY KEY (arbiter_pubkey, nonce)
);`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS used_nonces (
	arbiter_pubkey TEXT NOT NULL,
	nonce TEXT NOT NULL,
	deal_id TEXT NOT NULL,
	expires_at BIGINT NOT NULL,
	redeemed_at BIGINT NOT NULL,
	PRIMARY KEY (arbiter_pubkey, nonce)
);`

// SQLStore persists redeemed nonces in SQLite or PostgreSQL. Uniqueness is
// enforced by the primary key, so concurrent acceptors sharing a database
// cannot both redeem the same nonce.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore wraps db and creates the used_nonces table if needed.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens (or creates) a SQLite database file.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("acceptance: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	s, err := NewSQLStore(ctx, db, DialectSQLite)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres connects with a lib/pq DSN.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("acceptance: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("acceptance: ping postgres: %w", err)
	}
	s, err := NewSQLStore(ctx, db, DialectPostgres)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	ddl := sqliteSchema
	if s.dialect == DialectPostgres {
		ddl = postgresSchema
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("acceptance: migrate used_nonces: %w", err)
	}
	return nil
}

// bind rewrites ? placeholders as $n for PostgreSQL.
func (s *SQLStore) bind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Redeem implements NonceStore.
func (s *SQLStore) Redeem(ctx context.Context, r Redemption) (bool, error) {
	query := s.bind(`INSERT INTO used_nonces (arbiter_pubkey, nonce, deal_id, expires_at, redeemed_at) VALUES (?, ?, ?, ?, ?) ON CONFLICT (arbiter_pubkey, nonce) DO NOTHING`)
	res, err := s.db.ExecContext(ctx, query,
		strings.ToLower(r.ArbiterPubKey), r.Nonce, r.DealID, r.ExpiresAt.Unix(), r.RedeemedAt.Unix())
	if err != nil {
		return false, fmt.Errorf("failed to redeem nonce: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to redeem nonce: %w", err)
	}
	return n == 1, nil
}

// Prune deletes nonces whose tickets expired before cutoff.
func (s *SQLStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM used_nonces WHERE expires_at < ?`), cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune nonces: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLStore) Close() error { return s.db.Close() }
