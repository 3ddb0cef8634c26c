package database

import (
	"context"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/fluxbase-eu/tableengine/internal/config"
	"github.com/fluxbase-eu/tableengine/internal/observability"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// QuoteIdentifier safely quotes a PostgreSQL identifier to prevent SQL
// injection when building dynamic DDL/DML for user-created tables and
// columns. It wraps the identifier in double quotes and escapes any
// embedded double quotes.
func QuoteIdentifier(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

// Connection is the Table Engine's PostgreSQL connection pool, shared by
// every component (SchemaProvider, FieldRegistry, RecordStore, ...) that
// needs to read or write the database.
type Connection struct {
	pool      *pgxpool.Pool
	config    *config.DatabaseConfig
	inspector *SchemaInspector
	metrics   *observability.Metrics
}

// SetMetrics attaches a metrics recorder used by Query/QueryRow/Exec to
// observe latency and error counts per operation/table.
func (c *Connection) SetMetrics(m *observability.Metrics) {
	c.metrics = m
}

func extractTableName(sql string) string {
	sql = strings.ToUpper(strings.TrimSpace(sql))
	patterns := []struct {
		prefix string
		regex  *regexp.Regexp
	}{
		{"SELECT", regexp.MustCompile(`FROM\s+["']?([\w.]+)["']?`)},
		{"INSERT", regexp.MustCompile(`INTO\s+["']?([\w.]+)["']?`)},
		{"UPDATE", regexp.MustCompile(`UPDATE\s+["']?([\w.]+)["']?`)},
		{"DELETE", regexp.MustCompile(`FROM\s+["']?([\w.]+)["']?`)},
	}
	for _, p := range patterns {
		if strings.HasPrefix(sql, p.prefix) {
			if matches := p.regex.FindStringSubmatch(sql); len(matches) > 1 {
				return strings.ToLower(matches[1])
			}
		}
	}
	return "unknown"
}

func extractOperation(sql string) string {
	sql = strings.ToUpper(strings.TrimSpace(sql))
	switch {
	case strings.HasPrefix(sql, "SELECT"):
		return "select"
	case strings.HasPrefix(sql, "INSERT"):
		return "insert"
	case strings.HasPrefix(sql, "UPDATE"):
		return "update"
	case strings.HasPrefix(sql, "DELETE"):
		return "delete"
	default:
		return "other"
	}
}

// NewConnection creates a new database connection pool. The pool uses the
// runtime role for all Query/Exec traffic; Migrate opens its own migration
// connection with the (optionally separate) admin credentials.
func NewConnection(cfg config.DatabaseConfig) (*Connection, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	// Discard stale/closed connections instead of handing them back out,
	// which would otherwise surface as "conn closed" errors mid-query.
	poolConfig.BeforeAcquire = func(ctx context.Context, conn *pgx.Conn) bool {
		pingCtx, cancel := context.WithTimeout(ctx, 1*time.Second)
		defer cancel()
		if err := conn.Ping(pingCtx); err != nil {
			log.Debug().Err(err).Msg("discarding unhealthy connection from pool")
			return false
		}
		return true
	}

	// Avoid prepared-statement caching so schema changes made by
	// SchemaProvider mid-session (ALTER/ADD COLUMN) never hit a stale
	// cached statement plan on a pooled connection.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeDescribeExec

	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		conn.TypeMap().RegisterType(&pgtype.Type{Name: "regclass", OID: 2205, Codec: pgtype.TextCodec{}})
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	conn := &Connection{pool: pool, config: &cfg}
	conn.inspector = NewSchemaInspector(conn)

	log.Info().Str("database", cfg.Database).Str("user", cfg.User).Msg("database connection established")
	return conn, nil
}

// Close closes the database connection pool.
func (c *Connection) Close() {
	c.pool.Close()
	log.Info().Msg("database connection closed")
}

// Pool returns the underlying connection pool.
func (c *Connection) Pool() *pgxpool.Pool {
	return c.pool
}

// Migrate runs the engine's embedded bootstrap migrations, which create
// the tableengine metadata schema (spaces/bases/tables/fields/views/
// collaborators) that SchemaProvider and FieldRegistry read and write.
func (c *Connection) Migrate() error {
	log.Info().Msg("running tableengine bootstrap migrations")

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	connStr := fmt.Sprintf("pgx5://%s:%s@%s:%d/%s?sslmode=%s&x-migrations-table=\"migrations\".\"tableengine\"&x-migrations-table-quoted=1",
		adminUserOrDefault(c.config), adminPasswordOrDefault(c.config), c.config.Host, c.config.Port, c.config.Database, c.config.SSLMode)

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, connStr)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			log.Debug().AnErr("srcErr", srcErr).AnErr("dbErr", dbErr).Msg("migration close returned errors")
		}
	}()

	return c.applyMigrations(m)
}

func adminUserOrDefault(cfg *config.DatabaseConfig) string {
	if cfg.AdminUser != "" {
		return cfg.AdminUser
	}
	return cfg.User
}

func adminPasswordOrDefault(cfg *config.DatabaseConfig) string {
	if cfg.AdminPassword != "" {
		return cfg.AdminPassword
	}
	return cfg.Password
}

// applyMigrations applies pending migrations, recovering from a dirty
// state left by a previously interrupted run.
func (c *Connection) applyMigrations(m *migrate.Migrate) error {
	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if dirty {
		log.Warn().Uint("version", version).Msg("database is in dirty migration state, forcing version to clean")
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to force migration version: %w", err)
		}
	}

	upErr := m.Up()
	if upErr != nil && upErr != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", upErr)
	}

	if upErr == migrate.ErrNoChange {
		log.Info().Msg("no new migrations to apply")
	} else {
		version, _, _ := m.Version()
		log.Info().Uint("version", version).Msg("migrations applied successfully")
	}
	return nil
}

// BeginTx starts a new transaction on the runtime pool.
func (c *Connection) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return c.pool.Begin(ctx)
}

// Query executes a query that returns rows, recording metrics and logging
// slow (>1s) queries.
func (c *Connection) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	start := time.Now()
	rows, err := c.pool.Query(ctx, sql, args...)
	c.observe(sql, start, err)
	return rows, err
}

// QueryRow executes a query that returns a single row.
func (c *Connection) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	start := time.Now()
	row := c.pool.QueryRow(ctx, sql, args...)
	c.observe(sql, start, nil)
	return row
}

// Exec executes a query that doesn't return rows.
func (c *Connection) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	start := time.Now()
	tag, err := c.pool.Exec(ctx, sql, args...)
	c.observe(sql, start, err)
	return tag, err
}

func (c *Connection) observe(sql string, start time.Time, err error) {
	duration := time.Since(start)
	if c.metrics != nil {
		c.metrics.RecordDBQuery(extractOperation(sql), extractTableName(sql), duration, err)
	}
	if duration > 1*time.Second {
		log.Warn().
			Dur("duration", duration).
			Str("query", truncateQuery(sql, 200)).
			Bool("slow_query", true).
			Msg("slow query detected")
	}
}

// Inspector returns the schema inspector used by SchemaProvider for
// introspecting existing physical tables before issuing DDL.
func (c *Connection) Inspector() *SchemaInspector {
	return c.inspector
}

// Health checks the health of the database connection.
func (c *Connection) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result int
	if err := c.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("unexpected health check result: %d", result)
	}
	return nil
}

// Stats returns database connection pool statistics.
func (c *Connection) Stats() *pgxpool.Stat {
	return c.pool.Stat()
}

func truncateQuery(query string, maxLen int) string {
	if len(query) <= maxLen {
		return query
	}
	return query[:maxLen] + "... (truncated)"
}

// ExecuteWithAdminRole executes a database operation using admin
// credentials inside a transaction. SchemaProvider uses this for DDL
// (CREATE TABLE, ADD COLUMN, ...) that the runtime role may not hold
// privileges for.
func (c *Connection) ExecuteWithAdminRole(ctx context.Context, fn func(tx pgx.Tx) error) error {
	adminConn, err := pgx.Connect(ctx, c.config.AdminConnectionString())
	if err != nil {
		return fmt.Errorf("failed to connect as admin: %w", err)
	}
	defer func() { _ = adminConn.Close(ctx) }()

	tx, err := adminConn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
