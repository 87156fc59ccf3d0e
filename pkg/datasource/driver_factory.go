package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	// Driver registrations. Each corresponds to one of the "per-driver
	// helpers" a pool needs to open real connections.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nexus-db/nexus-pool/pkg/dialect"
	"github.com/nexus-db/nexus-pool/pkg/poolerrors"
)

// DriverFactory opens physical connections against a real database/sql
// driver, selected by dialect name. One DriverFactory owns exactly one
// *sql.DB; GetConnection borrows one *sql.Conn from it per call, which is
// the physical connection a pool proxy wraps.
type DriverFactory struct {
	name    string
	db      *sql.DB
	dialect dialect.Dialect
	xa      bool
	seq     atomic.Int64
}

// NewDriverFactory opens a *sql.DB for driverName (looked up in
// pkg/dialect's registry) against dsn. When xa is true and the dialect
// supports it, every GetConnection call wraps its physical connection as
// an XA-capable resource.
func NewDriverFactory(name, driverName, dsn string, xa bool) (*DriverFactory, error) {
	d, ok := dialect.Lookup(driverName)
	if !ok {
		return nil, poolerrors.New(poolerrors.ConnectFailed, name, fmt.Sprintf("unknown driver %q", driverName))
	}
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, poolerrors.Wrap(poolerrors.ConnectFailed, name, "opening data source", err)
	}
	return &DriverFactory{name: name, db: db, dialect: d, xa: xa && d.SupportsXA()}, nil
}

// Name implements Factory.
func (f *DriverFactory) Name() string { return f.name }

// Dialect returns the dialect this factory was opened with, so the pool
// configuration layer can render default probe SQL.
func (f *DriverFactory) Dialect() dialect.Dialect { return f.dialect }

// GetConnection implements Factory.
func (f *DriverFactory) GetConnection(ctx context.Context) (*Physical, error) {
	conn, err := f.db.Conn(ctx)
	if err != nil {
		return nil, poolerrors.Wrap(poolerrors.ConnectFailed, f.name, "opening physical connection", err)
	}
	phys := &Physical{Conn: conn, Kind: KindPlain}
	if f.xa {
		phys.Kind = KindXA
		phys.Resource = newLocalXAResource(fmt.Sprintf("%s-%d", f.name, f.seq.Add(1)), conn)
	}
	return phys, nil
}

// Close implements Factory.
func (f *DriverFactory) Close(p *Physical) error {
	if p == nil || p.Conn == nil {
		return nil
	}
	return p.Conn.Close()
}

// CloseFactory shuts down the underlying *sql.DB. Called once, when the
// owning pool manager shuts down.
func (f *DriverFactory) CloseFactory() error {
	return f.db.Close()
}
