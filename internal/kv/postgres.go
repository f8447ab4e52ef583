package kv

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"io/fs"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"smartwaste.org/internal/migrate"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the schema migrations for the client_kv table.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Postgres stores values in client_kv, partitioned by namespace so several
// terminals can share one operator session.
type Postgres struct {
	db        *sql.DB
	namespace string
}

var _ Store = (*Postgres)(nil)

// OpenPostgres opens a pgx-backed pool for dsn.
func OpenPostgres(dsn, namespace string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewPostgres(db, namespace), nil
}

func NewPostgres(db *sql.DB, namespace string) *Postgres {
	if namespace == "" {
		namespace = "default"
	}
	return &Postgres{db: db, namespace: namespace}
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) DB() *sql.DB { return p.db }

// EnsureSchema applies pending client_kv migrations.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	return migrate.NewManager(p.db, Migrations()).Up(ctx)
}

func (p *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := p.db.QueryRowContext(ctx,
		`select value from client_kv where namespace=$1 and key=$2`, p.namespace, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (p *Postgres) Set(ctx context.Context, key, value string) error {
	_, err := p.db.ExecContext(ctx, `
		insert into client_kv(namespace, key, value, updated_at)
		values ($1,$2,$3,$4)
		on conflict (namespace, key) do update
		set value = excluded.value, updated_at = excluded.updated_at
	`, p.namespace, key, value, time.Now().UTC())
	return err
}

func (p *Postgres) Remove(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx,
		`delete from client_kv where namespace=$1 and key=$2`, p.namespace, key)
	return err
}
