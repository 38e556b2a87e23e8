// Package postgres implements the metadata store on PostgreSQL through a
// pgx connection pool, with schema managed by embedded golang-migrate files.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // pgx5:// migrate driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"filevault/pkg/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	defaultDSN = "postgres://localhost/filevault?sslmode=disable"

	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

var _ domain.MetadataStore = (*Store)(nil)

// Store is a MetadataStore over a pgxpool.Pool. The pool is owned by the
// store and released by Close.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool for dsn (default local filevault database) and pings it.
func Connect(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if logger != nil {
		logger.InfoContext(ctx, "connected to postgres",
			slog.String("host", poolCfg.ConnConfig.Host),
			slog.String("database", poolCfg.ConnConfig.Database),
		)
	}
	return &Store{pool: pool}, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

// Pool exposes the underlying pool for readiness checks and tests.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate applies the embedded migrations to the database at dsn.
func Migrate(dsn string, logger *slog.Logger) error {
	if dsn == "" {
		dsn = defaultDSN
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(dsn))
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer func() { _, _ = m.Close() }()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, _ := m.Version()
	if logger != nil {
		logger.Info("migrations applied", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
	}
	return nil
}

// migrateURL rewrites a libpq style URL to the pgx5 scheme golang-migrate expects.
func migrateURL(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

func (s *Store) CreateTenant(ctx context.Context, t domain.Tenant) (domain.Tenant, error) {
	cfg, err := json.Marshal(t.Configuration)
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("encode configuration: %w", err)
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO fs_tenant (id, code, configuration) VALUES ($1, $2, $3) RETURNING created_at`,
		t.ID, t.Code, cfg)
	if err := row.Scan(&t.CreatedAt); err != nil {
		if pgCode(err) == pgUniqueViolation {
			return domain.Tenant{}, fmt.Errorf("tenant %q: %w", t.Code, domain.ErrConflict)
		}
		return domain.Tenant{}, fmt.Errorf("insert tenant: %w", err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return t.Clone(), nil
}

func (s *Store) TenantByCode(ctx context.Context, code string) (domain.Tenant, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, code, configuration, created_at FROM fs_tenant WHERE code = $1`, code)
	return scanTenant(row, "tenant code "+code)
}

func (s *Store) TenantByID(ctx context.Context, id uuid.UUID) (domain.Tenant, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, code, configuration, created_at FROM fs_tenant WHERE id = $1`, id)
	return scanTenant(row, "tenant "+id.String())
}

// DeleteTenant removes the tenant row; ON DELETE CASCADE removes its files.
func (s *Store) DeleteTenant(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM fs_tenant WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tenant %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// CreateFile inserts rec. With UniqueFilename the insert runs under a
// transaction-scoped advisory lock keyed on (tenant, filename), so two
// concurrent inserts of the same name cannot both pass the existence check.
func (s *Store) CreateFile(ctx context.Context, rec domain.FileRecord, opts domain.CreateFileOptions) (domain.FileRecord, error) {
	md := rec.Metadata
	if md == nil {
		md = map[string]any{}
	}
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return domain.FileRecord{}, fmt.Errorf("encode metadata: %w", err)
	}
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if opts.UniqueFilename {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text || '/' || $2, 0))`,
				rec.TenantID.String(), rec.Filename); err != nil {
				return fmt.Errorf("lock filename: %w", err)
			}
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM fs_files WHERE user_id = $1 AND filename = $2)`,
				rec.TenantID, rec.Filename).Scan(&exists); err != nil {
				return fmt.Errorf("lookup filename: %w", err)
			}
			if exists {
				return fmt.Errorf("file %q: %w", rec.Filename, domain.ErrConflict)
			}
		}
		return tx.QueryRow(ctx,
			`INSERT INTO fs_files (id, user_id, filename, size, media_type, tag, relative_path, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at`,
			rec.ID, rec.TenantID, rec.Filename, rec.Size, rec.MediaType, rec.Tag, rec.RelativePath, mdJSON,
		).Scan(&rec.CreatedAt)
	})
	if err != nil {
		switch pgCode(err) {
		case pgForeignKeyViolation:
			return domain.FileRecord{}, fmt.Errorf("tenant %s: %w", rec.TenantID, domain.ErrNotFound)
		case pgUniqueViolation:
			return domain.FileRecord{}, fmt.Errorf("file %s: %w", rec.ID, domain.ErrConflict)
		}
		if errors.Is(err, domain.ErrConflict) {
			return domain.FileRecord{}, err
		}
		return domain.FileRecord{}, fmt.Errorf("insert file: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.Metadata = md
	return rec.Clone(), nil
}

const fileColumns = `id, user_id, filename, size, media_type, tag, relative_path, metadata, created_at`

func (s *Store) FileByID(ctx context.Context, id string) (domain.FileRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM fs_files WHERE id = $1`, id)
	return scanFile(row, "file "+id)
}

func (s *Store) FileByName(ctx context.Context, tenantID uuid.UUID, filename string) (domain.FileRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM fs_files WHERE user_id = $1 AND filename = $2 ORDER BY created_at, id LIMIT 1`,
		tenantID, filename)
	return scanFile(row, fmt.Sprintf("file %q", filename))
}

func (s *Store) ListFiles(ctx context.Context, tenantID uuid.UUID) ([]domain.FileRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+fileColumns+` FROM fs_files WHERE user_id = $1 ORDER BY created_at, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()
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
	tag, err := s.pool.Exec(ctx, `DELETE FROM fs_files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("file %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanTenant(row pgx.Row, what string) (domain.Tenant, error) {
	var (
		t   domain.Tenant
		cfg []byte
	)
	if err := row.Scan(&t.ID, &t.Code, &cfg, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Tenant{}, fmt.Errorf("%s: %w", what, domain.ErrNotFound)
		}
		return domain.Tenant{}, fmt.Errorf("scan tenant: %w", err)
	}
	if err := json.Unmarshal(cfg, &t.Configuration); err != nil {
		return domain.Tenant{}, fmt.Errorf("decode configuration: %w", err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

func scanFile(row pgx.Row, what string) (domain.FileRecord, error) {
	var (
		rec domain.FileRecord
		md  []byte
	)
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.Filename, &rec.Size, &rec.MediaType, &rec.Tag, &rec.RelativePath, &md, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FileRecord{}, fmt.Errorf("%s: %w", what, domain.ErrNotFound)
		}
		return domain.FileRecord{}, fmt.Errorf("scan file: %w", err)
	}
	if err := json.Unmarshal(md, &rec.Metadata); err != nil {
		return domain.FileRecord{}, fmt.Errorf("decode metadata: %w", err)
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
