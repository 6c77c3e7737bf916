// Copyright (c) 2026 Pairmaster Team
// Pairmaster - companion device pairing engine
// This source code is licensed under the MIT license found in the LICENSE file.

package db // import "github.com/toeirei/pairmaster/internal/db"

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

var (
	//go:embed migrations
	embeddedMigrations embed.FS
	// sqlOpenFunc allows tests to override database opening behavior.
	sqlOpenFunc = sql.Open
)

// SupportedTypes lists the accepted values for database.type.
var SupportedTypes = []string{"sqlite", "postgres", "mysql"}

// storeTables are the tables owned by the trust store, in creation order.
var storeTables = []string{"trust_records", "device_blacklist", "audit_log"}

// sqliteBusyTimeout lets a pairing commit wait for a CLI reader on the same
// file instead of failing with SQLITE_BUSY.
const sqliteBusyTimeout = 5000

func supported(dbType string) bool {
	for _, t := range SupportedTypes {
		if t == dbType {
			return true
		}
	}
	return false
}

func driverFor(dbType string) string {
	// The pgx stdlib registers driver name "pgx".
	if dbType == "postgres" {
		return "pgx"
	}
	return dbType
}

func isMemorySQLite(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// sqliteDSN adds the busy timeout pragma to file databases unless the DSN
// already sets one.
func sqliteDSN(dsn string) string {
	if isMemorySQLite(dsn) || strings.Contains(dsn, "busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)", dsn, sep, sqliteBusyTimeout)
}

// poolConfig sizes the connection pool. Every value can be overridden from
// the environment.
type poolConfig struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

func poolFromEnv(dbType, dsn string) poolConfig {
	p := poolConfig{
		MaxOpen:     envInt("PAIRMASTER_DB_MAX_OPEN_CONNS", 4),
		MaxIdle:     envInt("PAIRMASTER_DB_MAX_IDLE_CONNS", 2),
		MaxLifetime: time.Duration(envInt("PAIRMASTER_DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second,
		MaxIdleTime: time.Duration(envInt("PAIRMASTER_DB_CONN_MAX_IDLE_SECONDS", 60)) * time.Second,
	}
	// Every connection to ":memory:" gets its own empty database.
	if dbType == "sqlite" && isMemorySQLite(dsn) {
		p.MaxOpen, p.MaxIdle = 1, 1
		p.MaxLifetime, p.MaxIdleTime = 0, 0
	}
	return p
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

// NewStoreFromDSN opens the trust store database, brings its schema up to
// date and wraps it in a BunStore.
func NewStoreFromDSN(dbType, dsn string) (*BunStore, error) {
	if !supported(dbType) {
		return nil, fmt.Errorf("unsupported database type for store creation: '%s'", dbType)
	}
	if dbType == "sqlite" {
		dsn = sqliteDSN(dsn)
	}
	start := time.Now()
	sqlDB, err := sqlOpenFunc(driverFor(dbType), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pool := poolFromEnv(dbType, dsn)
	sqlDB.SetMaxOpenConns(pool.MaxOpen)
	sqlDB.SetMaxIdleConns(pool.MaxIdle)
	sqlDB.SetConnMaxLifetime(pool.MaxLifetime)
	sqlDB.SetConnMaxIdleTime(pool.MaxIdleTime)
	dbLogf("db: opened %s in %s (pool %+v)", dbType, time.Since(start), pool)

	if err := RunMigrations(sqlDB, dbType); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &BunStore{bun: createBunDB(sqlDB, dbType), dbType: dbType}, nil
}

func createBunDB(sqlDB *sql.DB, dbType string) *bun.DB {
	switch dbType {
	case "postgres":
		return bun.NewDB(sqlDB, pgdialect.New())
	case "mysql":
		return bun.NewDB(sqlDB, mysqldialect.New())
	default:
		return bun.NewDB(sqlDB, sqlitedialect.New())
	}
}

// migration is one embedded *.up.sql file split into statements.
type migration struct {
	version string
	stmts   []string
}

func loadMigrations(dbType string) ([]migration, error) {
	dir := path.Join("migrations", dbType)
	entries, err := fs.ReadDir(embeddedMigrations, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read embedded migrations (%s): %w", dir, err)
	}
	var out []migration
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		data, err := embeddedMigrations.ReadFile(path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		out = append(out, migration{
			version: strings.TrimSuffix(name, ".up.sql"),
			stmts:   splitStatements(string(data)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// RunMigrations applies the embedded migrations for dbType that are not yet
// recorded in schema_migrations. Each migration runs in its own transaction.
func RunMigrations(db *sql.DB, dbType string) error {
	migs, err := loadMigrations(dbType)
	if err != nil || len(migs) == 0 {
		return err
	}
	if err := ensureSchemaMigrationsTable(db, dbType); err != nil {
		return fmt.Errorf("failed to ensure schema_migrations table: %w", err)
	}
	done, err := appliedVersions(db)
	if err != nil {
		return err
	}

	insert := "INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)"
	if dbType == "postgres" {
		insert = "INSERT INTO schema_migrations(version, applied_at) VALUES($1, $2)"
	}
	for _, m := range migs {
		if done[m.version] {
			continue
		}
		if err := applyMigration(db, m, insert); err != nil {
			return err
		}
		dbLogf("db: applied migration %s", m.version)
	}
	return nil
}

func appliedVersions(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to list applied migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()
	done := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to read applied migration: %w", err)
		}
		done[v] = true
	}
	return done, rows.Err()
}

func applyMigration(db *sql.DB, m migration, insert string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %s: %w", m.version, err)
	}
	// The MySQL driver rejects multi-statement Exec without
	// multiStatements=true, so statements are applied one by one.
	for _, stmt := range m.stmts {
		if _, err := tx.Exec(stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", m.version, err)
		}
	}
	if _, err := tx.Exec(insert, m.version, time.Now().UTC()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record migration %s: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", m.version, err)
	}
	return nil
}

// splitStatements splits a migration file on semicolons at line ends.
// Migrations never contain semicolons inside literals.
func splitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		var kept []string
		for _, line := range strings.Split(part, "\n") {
			if t := strings.TrimSpace(line); t != "" && !strings.HasPrefix(t, "--") {
				kept = append(kept, line)
			}
		}
		if len(kept) > 0 {
			out = append(out, strings.TrimSpace(strings.Join(kept, "\n")))
		}
	}
	return out
}

func ensureSchemaMigrationsTable(db *sql.DB, dbType string) error {
	// MySQL cannot index TEXT without a length.
	ddl := `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMP)`
	if dbType == "mysql" {
		ddl = `CREATE TABLE IF NOT EXISTS schema_migrations (version VARCHAR(191) PRIMARY KEY, applied_at TIMESTAMP NULL)`
	}
	_, err := db.Exec(ddl)
	return err
}
