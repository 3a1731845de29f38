package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/tictacd/internal/match"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	DefaultLimit = 20
	MaxLimit     = 500
)

var ErrUnsupportedDriver = errors.New("history: unsupported driver")

const sqliteSchema = `CREATE TABLE IF NOT EXISTS matches (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL,
	remote VARCHAR(128) NOT NULL,
	reason VARCHAR(32) NOT NULL,
	outcome VARCHAR(16) NOT NULL,
	moves INTEGER NOT NULL,
	board CHAR(9) NOT NULL,
	started_ms BIGINT NOT NULL,
	ended_ms BIGINT NOT NULL
);`

const postgresSchema = `CREATE TABLE IF NOT EXISTS matches (
	id BIGSERIAL PRIMARY KEY,
	session_id INTEGER NOT NULL,
	remote VARCHAR(128) NOT NULL,
	reason VARCHAR(32) NOT NULL,
	outcome VARCHAR(16) NOT NULL,
	moves INTEGER NOT NULL,
	board CHAR(9) NOT NULL,
	started_ms BIGINT NOT NULL,
	ended_ms BIGINT NOT NULL
);`

// Entry is one stored match.
type Entry struct {
	ID        int64     `json:"id"`
	SessionID uint8     `json:"session_id"`
	Remote    string    `json:"remote"`
	Reason    string    `json:"reason"`
	Outcome   string    `json:"outcome"`
	Moves     int       `json:"moves"`
	Board     string    `json:"board"`
	Started   time.Time `json:"started"`
	Ended     time.Time `json:"ended"`
}

// Store persists the results of released sessions. Live session state is
// never written here.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to driver and bootstraps the schema. For sqlite3 the parent
// directory of a file dsn is created when missing.
func Open(driver, dsn string) (*Store, error) {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = sqliteSchema
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
	case DriverPostgres:
		schema = postgresSchema
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// one writer; also keeps ":memory:" databases on a single connection
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, driver: driver}, nil
}

func (s *Store) Driver() string {
	return s.driver
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts one released session.
func (s *Store) Record(ctx context.Context, r match.Result) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO matches (
		session_id,
		remote,
		reason,
		outcome,
		moves,
		board,
		started_ms,
		ended_ms
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`),
		int(r.ID),
		r.Remote,
		string(r.Reason),
		r.Outcome.String(),
		r.Moves,
		match.BoardString(r.Board),
		r.Started.UnixMilli(),
		r.Ended.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("history: record session %d: %w", r.ID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. Non-positive limits use
// DefaultLimit.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT
		id, session_id, remote, reason, outcome, moves, board, started_ms, ended_ms
	FROM matches ORDER BY id DESC LIMIT ?;`), limit)
	if err != nil {
		return nil, fmt.Errorf("history: query recent: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var sessionID int
		var started, ended int64
		if err := rows.Scan(&e.ID, &sessionID, &e.Remote, &e.Reason, &e.Outcome, &e.Moves, &e.Board, &started, &ended); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.SessionID = uint8(sessionID)
		e.Started = time.UnixMilli(started).UTC()
		e.Ended = time.UnixMilli(ended).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows: %w", err)
	}
	return entries, nil
}

// rebind turns '?' placeholders into '$n' for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func ensureDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
