// Package datasource is the data-source factory consumed by the pool
// manager: it opens physical connections and, for
// XA-enabled pools, wraps them as distributed-transaction resources.
package datasource

import (
	"context"
	"database/sql"

	"github.com/nexus-db/nexus-pool/internal/txn"
)

// Conn is the narrow surface of a physical connection the pool and
// statement layer need. *sql.Conn satisfies it structurally, which lets
// tests substitute a fake without a real driver registered.
type Conn interface {
	PingContext(ctx context.Context) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	Close() error
}

// Kind marks whether a Physical connection is plain or XA-capable.
type Kind int

const (
	KindPlain Kind = iota
	KindXA
)

// Physical is one physical connection handle plus its kind and, for XA
// connections, the transactional resource wrapping it.
type Physical struct {
	Conn     Conn
	Kind     Kind
	Resource txn.Resource
}

// Factory is the data-source factory interface:
// GetConnection returns a physical connection and its kind; Close returns
// one to the operating system when the pool destroys a proxy.
type Factory interface {
	// Name identifies the data source for logging.
	Name() string
	// GetConnection opens (or, for a static test factory, hands out) one
	// physical connection.
	GetConnection(ctx context.Context) (*Physical, error)
	// Close releases a physical connection acquired from this factory.
	Close(p *Physical) error
}
