package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/cysecmato/cysecmato/internal/config"
	"github.com/cysecmato/cysecmato/internal/errors"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS mapping_audit (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		transition TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT '',
		method TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT '',
		annotation TEXT NOT NULL DEFAULT '',
		at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_mapping_audit_pair ON mapping_audit (source_id, target_id, at)`,
}

// SQLStore keeps the trail in sqlite or postgres
type SQLStore struct {
	db *sqlx.DB
}

// OpenSQL connects with driver ("sqlite3", "postgres" or "pgx") and
// creates the audit table when missing
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver == "sqlite3" && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, errors.ConfigErrorf("create audit directory: %v", err)
		}
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, errors.UnavailableErrorf(err, "connect audit database (%s)", driver)
	}
	if driver == "sqlite3" {
		// one writer, and :memory: databases live per connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s := NewSQLStore(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open connection
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate creates the audit table and index
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.DatabaseError(err, "create audit schema")
		}
	}
	return nil
}

func (s *SQLStore) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	e.At = e.At.UTC()

	query := `
		INSERT INTO mapping_audit (id, source_id, target_id, transition, status, method, type, annotation, at)
		VALUES (:id, :source_id, :target_id, :transition, :status, :method, :type, :annotation, :at)
	`
	if _, err := s.db.NamedExecContext(ctx, query, e); err != nil {
		return errors.DatabaseErrorf(err, "record %s for %s -> %s", e.Transition, e.SourceID, e.TargetID)
	}
	return nil
}

func (s *SQLStore) History(ctx context.Context, sourceID, targetID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	query := `SELECT id, source_id, target_id, transition, status, method, type, annotation, at
		FROM mapping_audit WHERE source_id = ?`
	args := []any{sourceID}
	if targetID != "" {
		query += ` AND target_id = ?`
		args = append(args, targetID)
	}
	query += ` ORDER BY at DESC LIMIT ?`
	args = append(args, limit)

	var entries []Entry
	if err := s.db.SelectContext(ctx, &entries, s.db.Rebind(query), args...); err != nil {
		return nil, errors.DatabaseErrorf(err, "read audit history for %s", sourceID)
	}
	return entries, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Open returns the store selected by cfg.Driver: a SQL store, a JSONL
// file or Nop when the driver is empty
func Open(ctx context.Context, cfg config.AuditConfig) (Store, error) {
	switch cfg.Driver {
	case "":
		return Nop{}, nil
	case "jsonl":
		return NewJSONL(cfg.JSONLPath)
	case "sqlite3", "postgres", "pgx":
		return OpenSQL(ctx, cfg.Driver, cfg.DSN)
	default:
		return nil, errors.ConfigErrorf("unknown audit driver %q", cfg.Driver)
	}
}

var _ Store = (*SQLStore)(nil)

func (e Entry) String() string {
	return fmt.Sprintf("%s %s %s -> %s status=%s method=%s", e.At.Format(time.RFC3339), e.Transition, e.SourceID, e.TargetID, e.Status, e.Method)
}
