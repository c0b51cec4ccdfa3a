package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/vango-go/vai-interview/pkg/core/types"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

type dialect struct {
	name       string
	driver     string
	goose      goose.Dialect
	migrations string
}

var (
	dialectSQLite = dialect{
		name:       "sqlite",
		driver:     "sqlite",
		goose:      goose.DialectSQLite3,
		migrations: "migrations/sqlite",
	}
	dialectPostgres = dialect{
		name:       "postgres",
		driver:     "pgx",
		goose:      goose.DialectPostgres,
		migrations: "migrations/postgres",
	}
)

// SQLStore is a Backend on database/sql. Queries are written with ?
// placeholders and rebound for the dialect.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
	now     func() time.Time
}

// OpenSQLite opens (creating if needed) a SQLite file and migrates it.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir %q: %w", dir, err)
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open(dialectSQLite.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// Single writer; one connection avoids SQLITE_BUSY between pooled conns.
	db.SetMaxOpenConns(1)
	return newSQLStore(ctx, db, dialectSQLite, logger)
}

// OpenPostgres connects through the pgx stdlib driver and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*SQLStore, error) {
	db, err := sql.Open(dialectPostgres.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres %q: %w", redactDSN(dsn), err)
	}
	return newSQLStore(ctx, db, dialectPostgres, logger)
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}
	s := &SQLStore{db: db, dialect: d, logger: logger, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrationsFS, s.dialect.migrations)
	if err != nil {
		return fmt.Errorf("load %s migrations: %w", s.dialect.name, err)
	}
	provider, err := goose.NewProvider(s.dialect.goose, s.db, sub)
	if err != nil {
		return fmt.Errorf("init %s migrations: %w", s.dialect.name, err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply %s migrations: %w", s.dialect.name, err)
	}
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		s.logger.Debug("store migration applied", "dialect", s.dialect.name, "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// rebind converts ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect.name != dialectPostgres.name {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
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

func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT state_value FROM interview_state WHERE state_key = ?`), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO interview_state (state_key, state_value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (state_key) DO UPDATE SET
			state_value = excluded.state_value,
			updated_at = excluded.updated_at`),
		key, value, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Clear removes the session state and the outbox in one transaction.
func (s *SQLStore) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM interview_state`); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM answer_outbox`); err != nil {
		return fmt.Errorf("clear outbox: %w", err)
	}
	return tx.Commit()
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) Enqueue(ctx context.Context, a types.Answer) error {
	created := a.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO answer_outbox (id, question, filename, content_type, audio, attempts, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		a.ID, a.Question, a.Filename, a.ContentType, a.Audio, a.Attempts, a.LastError, created.UnixMilli())
	if err != nil {
		return fmt.Errorf("enqueue answer %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLStore) Pending(ctx context.Context) ([]types.Answer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question, filename, content_type, audio, attempts, last_error, created_at
		FROM answer_outbox
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	defer rows.Close()

	var out []types.Answer
	for rows.Next() {
		var (
			a         types.Answer
			createdMS int64
		)
		if err := rows.Scan(&a.ID, &a.Question, &a.Filename, &a.ContentType, &a.Audio, &a.Attempts, &a.LastError, &createdMS); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		a.CreatedAt = time.UnixMilli(createdMS)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return out, nil
}

func (s *SQLStore) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM answer_outbox WHERE id = ?`), id); err != nil {
		return fmt.Errorf("remove answer %s: %w", id, err)
	}
	return nil
}

func (s *SQLStore) MarkFailed(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE answer_outbox SET attempts = attempts + 1, last_error = ? WHERE id = ?`), msg, id)
	if err != nil {
		return fmt.Errorf("mark answer %s failed: %w", id, err)
	}
	return nil
}
