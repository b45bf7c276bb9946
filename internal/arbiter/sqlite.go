package arbiter

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var sqliteSchema string

// SQLiteStore keeps leases in a SQLite database so that they survive an
// arbiter restart. Updates run inside BEGIN IMMEDIATE transactions, which
// also serializes arbiters sharing the same file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lease db dir: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open lease db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate lease db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadLease(ctx context.Context, q querier, key Key) (*Lease, error) {
	var (
		token    sql.NullString
		lastSeen sql.NullInt64
	)
	err := q.QueryRowContext(ctx,
		`SELECT token, last_seen FROM instance_leases WHERE owner = ? AND client_id = ?`,
		key.Owner, key.ClientID,
	).Scan(&token, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	l := &Lease{Token: token.String}
	if lastSeen.Valid {
		l.LastSeen = time.UnixMilli(lastSeen.Int64)
	}
	return l, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key Key) (*Lease, error) {
	l, err := loadLease(ctx, s.db, key)
	if err != nil {
		return nil, fmt.Errorf("load lease: %w", err)
	}
	return l, nil
}

func (s *SQLiteStore) Update(ctx context.Context, key Key, fn UpdateFunc) (err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire lease db conn: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("begin lease tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	current, err := loadLease(ctx, conn, key)
	if err != nil {
		return fmt.Errorf("load lease: %w", err)
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	if next != nil {
		var lastSeen any
		if !next.LastSeen.IsZero() {
			lastSeen = next.LastSeen.UnixMilli()
		}
		_, err = conn.ExecContext(ctx, `
INSERT INTO instance_leases (owner, client_id, token, last_seen) VALUES (?, ?, ?, ?)
ON CONFLICT (owner, client_id) DO UPDATE SET token = excluded.token, last_seen = excluded.last_seen`,
			key.Owner, key.ClientID, next.Token, lastSeen)
		if err != nil {
			return fmt.Errorf("store lease: %w", err)
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit lease tx: %w", err)
	}
	committed = true
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
