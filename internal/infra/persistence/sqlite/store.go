// Package sqlite implements the metadata store on an embedded SQLite file
// using the pure Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"filevault/pkg/domain"
)

//go:embed schema/schema.sql
var schema string

// timeLayout is fixed width so lexical order on created_at is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var _ domain.MetadataStore = (*Store)(nil)

// Store persists tenants and files to two tables with a cascading foreign key.
// The pool is limited to one connection, which serialises writers and makes
// the filename uniqueness check atomic with the insert.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewStore opens (creating if needed) the database at path and applies the schema.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "filevault.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, path: path, now: func() time.Time { return time.Now().UTC() }}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the embedded schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// DB exposes the underlying sql.DB for tests.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

func (s *Store) CreateTenant(ctx context.Context, t domain.Tenant) (domain.Tenant, error) {
	cfg, err := json.Marshal(t.Configuration)
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("encode configuration: %w", err)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO fs_tenant (id, code, configuration, created_at) VALUES (?, ?, ?, ?)`,
		t.ID.String(), t.Code, string(cfg), t.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY) {
			return domain.Tenant{}, fmt.Errorf("tenant %q: %w", t.Code, domain.ErrConflict)
		}
		return domain.Tenant{}, fmt.Errorf("insert tenant: %w", err)
	}
	return t.Clone(), nil
}

func (s *Store) TenantByCode(ctx context.Context, code string) (domain.Tenant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, code, configuration, created_at FROM fs_tenant WHERE code = ?`, code)
	return scanTenant(row, "tenant code "+code)
}

func (s *Store) TenantByID(ctx context.Context, id uuid.UUID) (domain.Tenant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, code, configuration, created_at FROM fs_tenant WHERE id = ?`, id.String())
	return scanTenant(row, "tenant "+id.String())
}

func (s *Store) DeleteTenant(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fs_tenant WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	return expectOne(res, "tenant "+id.String())
}

func (s *Store) CreateFile(ctx context.Context, rec domain.FileRecord, opts domain.CreateFileOptions) (_ domain.FileRecord, retErr error) {
	md := rec.Metadata
	if md == nil {
		md = map[string]any{}
	}
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return domain.FileRecord{}, fmt.Errorf("encode metadata: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.FileRecord{}, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM fs_tenant WHERE id = ?`, rec.TenantID.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FileRecord{}, fmt.Errorf("tenant %s: %w", rec.TenantID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.FileRecord{}, fmt.Errorf("lookup tenant: %w", err)
	}
	if opts.UniqueFilename {
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM fs_files WHERE user_id = ? AND filename = ? LIMIT 1`,
			rec.TenantID.String(), rec.Filename).Scan(&one)
		if err == nil {
			return domain.FileRecord{}, fmt.Errorf("file %q: %w", rec.Filename, domain.ErrConflict)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.FileRecord{}, fmt.Errorf("lookup filename: %w", err)
		}
	}
	rec.CreatedAt = s.now()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO fs_files (id, user_id, filename, size, media_type, tag, relative_path, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TenantID.String(), rec.Filename, rec.Size, rec.MediaType, nullString(rec.Tag),
		rec.RelativePath, string(mdJSON), rec.CreatedAt.Format(timeLayout))
	if err != nil {
		if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE) {
			return domain.FileRecord{}, fmt.Errorf("file %s: %w", rec.ID, domain.ErrConflict)
		}
		return domain.FileRecord{}, fmt.Errorf("insert file: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.FileRecord{}, fmt.Errorf("commit: %w", err)
	}
	rec.Metadata = md
	return rec.Clone(), nil
}

const fileColumns = `id, user_id, filename, size, media_type, tag, relative_path, metadata, created_at`

func (s *Store) FileByID(ctx context.Context, id string) (domain.FileRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM fs_files WHERE id = ?`, id)
	return scanFile(row, "file "+id)
}

func (s *Store) FileByName(ctx context.Context, tenantID uuid.UUID, filename string) (domain.FileRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM fs_files WHERE user_id = ? AND filename = ? ORDER BY created_at, id LIMIT 1`,
		tenantID.String(), filename)
	return scanFile(row, fmt.Sprintf("file %q", filename))
}

func (s *Store) ListFiles(ctx context.Context, tenantID uuid.UUID) ([]domain.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM fs_files WHERE user_id = ? ORDER BY created_at, id`, tenantID.String())
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]domain.FileRecord, 0)
	for rows.Next() {
		rec, err := scanFile(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) DeleteFile(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fs_files WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return expectOne(res, "file "+id)
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanTenant(row scanner, what string) (domain.Tenant, error) {
	var (
		id, cfg, created string
		t                domain.Tenant
	)
	if err := row.Scan(&id, &t.Code, &cfg, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Tenant{}, fmt.Errorf("%s: %w", what, domain.ErrNotFound)
		}
		return domain.Tenant{}, fmt.Errorf("scan tenant: %w", err)
	}
	var err error
	if t.ID, err = uuid.Parse(id); err != nil {
		return domain.Tenant{}, fmt.Errorf("parse tenant id: %w", err)
	}
	if err := json.Unmarshal([]byte(cfg), &t.Configuration); err != nil {
		return domain.Tenant{}, fmt.Errorf("decode configuration: %w", err)
	}
	if t.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return domain.Tenant{}, fmt.Errorf("parse created_at: %w", err)
	}
	return t, nil
}

func scanFile(row scanner, what string) (domain.FileRecord, error) {
	var (
		rec            domain.FileRecord
		userID, md, ts string
		tag            sql.NullString
	)
	err := row.Scan(&rec.ID, &userID, &rec.Filename, &rec.Size, &rec.MediaType, &tag, &rec.RelativePath, &md, &ts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.FileRecord{}, fmt.Errorf("%s: %w", what, domain.ErrNotFound)
		}
		return domain.FileRecord{}, fmt.Errorf("scan file: %w", err)
	}
	if rec.TenantID, err = uuid.Parse(userID); err != nil {
		return domain.FileRecord{}, fmt.Errorf("parse user_id: %w", err)
	}
	if tag.Valid {
		v := tag.String
		rec.Tag = &v
	}
	if err := json.Unmarshal([]byte(md), &rec.Metadata); err != nil {
		return domain.FileRecord{}, fmt.Errorf("decode metadata: %w", err)
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}
	if rec.CreatedAt, err = time.Parse(timeLayout, ts); err != nil {
		return domain.FileRecord{}, fmt.Errorf("parse created_at: %w", err)
	}
	return rec, nil
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func isConstraint(err error, codes ...int) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		for _, c := range codes {
			if se.Code() == c {
				return true
			}
		}
		return false
	}
	return strings.Contains(err.Error(), "constraint failed")
}
