// Package dialect provides the per-driver helpers the pool needs to open
// physical connections and run its liveness probe: identifier quoting,
// the Go sql driver name, and default probe SQL when the pool
// configuration leaves test_query_sql / test_create_sql blank.
package dialect

import "fmt"

// Dialect is a narrow, pool-scoped interface: identifier quoting, the
// driver name, and default probe SQL. It deliberately does not cover
// schema DDL generation (CREATE/ALTER TABLE for arbitrary models,
// indexes, RETURNING, upsert, EXPLAIN) — the pool only ever manages one
// fixed probe table.
type Dialect interface {
	// Name returns the dialect name, e.g. "postgres".
	Name() string
	// DriverName returns the database/sql driver name registered for
	// this dialect (e.g. "postgres", "mysql", "sqlite3").
	DriverName() string
	// Quote quotes an identifier such as a table name.
	Quote(identifier string) string
	// DefaultCreateSQL renders a CREATE TABLE IF NOT EXISTS for the
	// liveness-probe table when the pool configuration doesn't supply
	// test_create_sql.
	DefaultCreateSQL(table string) string
	// DefaultQuerySQL renders the liveness-probe SELECT when the pool
	// configuration doesn't supply test_query_sql.
	DefaultQuerySQL(table string) string
	// SupportsXA reports whether this dialect's driver connections can
	// be unwrapped into an XA-capable resource by pkg/datasource.
	SupportsXA() bool
}

// Registry of built-in dialects, keyed by the configuration's `driver`
// value.
var registry = map[string]Dialect{
	"sqlite3":  sqliteDialect{},
	"postgres": postgresDialect{},
	"mysql":    mysqlDialect{},
}

// Lookup returns the registered dialect for name, or false if unknown.
func Lookup(name string) (Dialect, bool) {
	d, ok := registry[name]
	return d, ok
}

// sqliteDialect targets github.com/mattn/go-sqlite3.
type sqliteDialect struct{}

func (sqliteDialect) Name() string       { return "sqlite3" }
func (sqliteDialect) DriverName() string { return "sqlite3" }
func (sqliteDialect) Quote(id string) string {
	return `"` + id + `"`
}
func (d sqliteDialect) DefaultCreateSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY)`, d.Quote(table))
}
func (d sqliteDialect) DefaultQuerySQL(table string) string {
	return fmt.Sprintf(`SELECT 1 FROM %s LIMIT 1`, d.Quote(table))
}
func (sqliteDialect) SupportsXA() bool { return false }

// postgresDialect targets github.com/lib/pq.
type postgresDialect struct{}

func (postgresDialect) Name() string       { return "postgres" }
func (postgresDialect) DriverName() string { return "postgres" }
func (postgresDialect) Quote(id string) string {
	return `"` + id + `"`
}
func (d postgresDialect) DefaultCreateSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id SERIAL PRIMARY KEY)`, d.Quote(table))
}
func (d postgresDialect) DefaultQuerySQL(table string) string {
	return fmt.Sprintf(`SELECT 1 FROM %s LIMIT 1`, d.Quote(table))
}
func (postgresDialect) SupportsXA() bool { return true }

// mysqlDialect targets github.com/go-sql-driver/mysql.
type mysqlDialect struct{}

func (mysqlDialect) Name() string       { return "mysql" }
func (mysqlDialect) DriverName() string { return "mysql" }
func (mysqlDialect) Quote(id string) string {
	return "`" + id + "`"
}
func (d mysqlDialect) DefaultCreateSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id BIGINT PRIMARY KEY AUTO_INCREMENT)`, d.Quote(table))
}
func (d mysqlDialect) DefaultQuerySQL(table string) string {
	return fmt.Sprintf(`SELECT 1 FROM %s LIMIT 1`, d.Quote(table))
}
func (mysqlDialect) SupportsXA() bool { return true }
