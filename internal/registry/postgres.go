package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	createTableQuery = `CREATE TABLE IF NOT EXISTS model_registry (
	model_path    TEXT PRIMARY KEY,
	image         TEXT NOT NULL,
	manifest      JSONB NOT NULL,
	registered_at TIMESTAMPTZ NOT NULL
)`
	selectEntryQuery = `SELECT image, manifest FROM model_registry WHERE model_path = $1`
	upsertEntryQuery = `INSERT INTO model_registry (model_path, image, manifest, registered_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (model_path) DO UPDATE SET
	image = EXCLUDED.image,
	manifest = EXCLUDED.manifest,
	registered_at = EXCLUDED.registered_at`
)

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresRegistry struct {
	db  DB
	now func() time.Time
}

func NewPostgresRegistry(db DB) *PostgresRegistry {
	if db == nil {
		return nil
	}
	return &PostgresRegistry{db: db, now: time.Now}
}

// EnsureSchema creates the registry table if it does not exist.
func (r *PostgresRegistry) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("postgres registry not initialized")
	}
	if _, err := r.db.ExecContext(ctx, createTableQuery); err != nil {
		return fmt.Errorf("create model_registry: %w", err)
	}
	return nil
}

func (r *PostgresRegistry) Lookup(ctx context.Context, modelPath string) (Entry, error) {
	if r == nil || r.db == nil {
		return Entry{}, fmt.Errorf("postgres registry not initialized")
	}
	key, err := Key(modelPath)
	if err != nil {
		return Entry{}, err
	}
	var (
		entry    Entry
		manifest []byte
	)
	err = r.db.QueryRowContext(ctx, selectEntryQuery, key).Scan(&entry.Image, &manifest)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, unregistered(key)
	}
	if err != nil {
		return Entry{}, classify("lookup model", err)
	}
	if err := json.Unmarshal(manifest, &entry.Manifest); err != nil {
		return Entry{}, fmt.Errorf("decode manifest for %s: %w", key, err)
	}
	if err := entry.Validate(); err != nil {
		return Entry{}, fmt.Errorf("registry entry %s: %w", key, err)
	}
	return entry, nil
}

func (r *PostgresRegistry) Register(ctx context.Context, modelPath string, entry Entry) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("postgres registry not initialized")
	}
	key, err := Key(modelPath)
	if err != nil {
		return err
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	manifest, err := json.Marshal(entry.Manifest)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, upsertEntryQuery, key, entry.Image, manifest, r.now().UTC()); err != nil {
		return classify("register model", err)
	}
	return nil
}

func classify(op string, err error) error {
	if isUndefinedTable(err) {
		return fmt.Errorf("%s: model_registry table is missing, run register once or create the schema: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42P01"
	}
	return false
}
