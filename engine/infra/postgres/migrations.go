package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/compozy/ragrouter/pkg/logger"
	"github.com/pressly/goose/v3"

	// pgx stdlib driver backs database/sql for goose.
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	defaultMigrationLock        = "ragrouter.migrations"
	defaultMigrationLockTimeout = 45 * time.Second
	migrationsDir               = "migrations"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

// MigrateOptions controls how the run log and embedding tables are migrated.
type MigrateOptions struct {
	// Lock is "namespace.name"; replicas sharing it migrate one at a time.
	Lock        string
	LockTimeout time.Duration
}

func (o MigrateOptions) withDefaults() MigrateOptions {
	if strings.TrimSpace(o.Lock) == "" {
		o.Lock = defaultMigrationLock
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = defaultMigrationLockTimeout
	}
	return o
}

// lockArgs splits the lock name into the two hashtext keys of pg_advisory_lock.
// A name without a dot locks under the "ragrouter" namespace.
func (o MigrateOptions) lockArgs() (string, string) {
	ns, name, ok := strings.Cut(o.Lock, ".")
	if !ok || ns == "" || name == "" {
		return "ragrouter", o.Lock
	}
	return ns, name
}

// Migrate applies the embedded migrations while holding an advisory lock and
// returns the schema version it left the database at.
func Migrate(ctx context.Context, dsn string, opts MigrateOptions) (int64, error) {
	if dsn == "" {
		return 0, errors.New("migrate: dsn is required")
	}
	opts = opts.withDefaults()
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return 0, fmt.Errorf("open db for migrations: %w", err)
	}
	defer db.Close()
	conn, err := db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Close()
	log := logger.FromContext(ctx).With("lock", opts.Lock)
	ns, name := opts.lockArgs()
	lockCtx, cancel := context.WithTimeout(ctx, opts.LockTimeout)
	defer cancel()
	started := time.Now()
	if _, err := conn.ExecContext(lockCtx, "select pg_advisory_lock(hashtext($1), hashtext($2))", ns, name); err != nil {
		return 0, fmt.Errorf("acquire migration lock %q: %w", opts.Lock, err)
	}
	defer func() {
		_, err := conn.ExecContext(
			context.WithoutCancel(ctx),
			"select pg_advisory_unlock(hashtext($1), hashtext($2))",
			ns,
			name,
		)
		if err != nil {
			log.Warn("Failed to release migration lock", "error", err)
		}
	}()
	log.Debug("Migration lock acquired", "waited", time.Since(started))
	version, err := runMigrations(ctx, db)
	if err != nil {
		return 0, err
	}
	log.Info("Run log and embedding tables migrated", "version", version)
	return version, nil
}

func runMigrations(ctx context.Context, db *sql.DB) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return 0, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
		return 0, fmt.Errorf("migrate up: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
