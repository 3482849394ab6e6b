package migrations

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Files embeds the SQL migrations as NNNN_name.up.sql / NNNN_name.down.sql pairs.
//
//go:embed *.sql
var Files embed.FS

// VersionTable records the applied schema version.
const VersionTable = "period_close_schema_migrations"

// Result reports the schema version before and after Apply. Zero means no
// migration had been applied.
type Result struct {
	From uint
	To   uint
}

// Applied reports whether Apply moved the schema forward.
func (r Result) Applied() bool {
	return r.To != r.From
}

// Source opens the embedded migrations.
func Source() (source.Driver, error) {
	return iofs.New(Files, ".")
}

// DatabaseURL rewrites a postgres DSN to the pgx5 scheme and points the
// version bookkeeping at VersionTable.
func DatabaseURL(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("migrations: parse dsn: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql", "pgx5":
	default:
		return "", fmt.Errorf("migrations: unsupported dsn scheme %q", u.Scheme)
	}
	u.Scheme = "pgx5"
	q := u.Query()
	if q.Get("x-migrations-table") == "" {
		q.Set("x-migrations-table", VersionTable)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// New prepares a migrator over the embedded files for the database at dsn.
func New(dsn string) (*migrate.Migrate, error) {
	src, err := Source()
	if err != nil {
		return nil, fmt.Errorf("migrations: source: %w", err)
	}
	dbURL, err := DatabaseURL(dsn)
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return nil, fmt.Errorf("migrations: open: %w", err)
	}
	return m, nil
}

// Apply runs every pending up migration. Cancelling ctx stops after the
// migration in flight.
func Apply(ctx context.Context, dsn string) (Result, error) {
	m, err := New(dsn)
	if err != nil {
		return Result{}, err
	}
	defer m.Close()

	from, err := version(m)
	if err != nil {
		return Result{}, err
	}
	res := Result{From: from, To: from}

	stop := context.AfterFunc(ctx, func() {
		select {
		case m.GracefulStop <- true:
		default:
		}
	})
	defer stop()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return res, fmt.Errorf("migrations: up: %w", err)
	}
	if res.To, err = version(m); err != nil {
		return res, err
	}
	return res, ctx.Err()
}

// Rollback reverts the latest steps migrations.
func Rollback(dsn string, steps int) (Result, error) {
	if steps <= 0 {
		return Result{}, fmt.Errorf("migrations: rollback needs a positive step count, got %d", steps)
	}
	m, err := New(dsn)
	if err != nil {
		return Result{}, err
	}
	defer m.Close()

	from, err := version(m)
	if err != nil {
		return Result{}, err
	}
	res := Result{From: from, To: from}
	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return res, fmt.Errorf("migrations: down: %w", err)
	}
	res.To, err = version(m)
	return res, err
}

func version(m *migrate.Migrate) (uint, error) {
	v, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("migrations: version: %w", err)
	case dirty:
		return v, fmt.Errorf("migrations: version %d is dirty, repair the schema and force the version", v)
	}
	return v, nil
}
