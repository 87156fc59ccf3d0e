package datasource

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"

	"github.com/nexus-db/nexus-pool/pkg/poolerrors"
)

// FakeConn is an in-memory Conn double for pool unit tests that must not
// depend on a real driver. It records how many times each method was
// called and lets a test inject failures.
type FakeConn struct {
	mu     sync.Mutex
	closed bool

	PingErr  error
	ExecErr  error
	QueryErr error

	pings, execs, queries, closes atomic.Int64
}

func NewFakeConn() *FakeConn { return &FakeConn{} }

func (c *FakeConn) PingContext(ctx context.Context) error {
	c.pings.Add(1)
	return c.PingErr
}

func (c *FakeConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	c.execs.Add(1)
	if c.ExecErr != nil {
		return nil, c.ExecErr
	}
	return driverResult{}, nil
}

func (c *FakeConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	c.queries.Add(1)
	return nil, c.QueryErr
}

func (c *FakeConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}

func (c *FakeConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return nil, nil
}

func (c *FakeConn) Close() error {
	c.closes.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type driverResult struct{}

func (driverResult) LastInsertId() (int64, error) { return 0, nil }
func (driverResult) RowsAffected() (int64, error) { return 0, nil }

// StaticFactory hands out FakeConn-backed Physical connections without
// touching a real driver. It can be told to fail the next N connects, to
// exercise the manager's connect-retry loop.
type StaticFactory struct {
	name string

	mu        sync.Mutex
	failNext  int
	opened    []*FakeConn
	closedSet map[*Physical]bool
}

// NewStaticFactory creates a StaticFactory named name.
func NewStaticFactory(name string) *StaticFactory {
	return &StaticFactory{name: name, closedSet: make(map[*Physical]bool)}
}

// FailNextConnects makes the next n GetConnection calls return
// ConnectFailed before connections start succeeding again.
func (f *StaticFactory) FailNextConnects(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = n
}

func (f *StaticFactory) Name() string { return f.name }

func (f *StaticFactory) GetConnection(ctx context.Context) (*Physical, error) {
	f.mu.Lock()
	if f.failNext > 0 {
		f.failNext--
		f.mu.Unlock()
		return nil, poolerrors.New(poolerrors.ConnectFailed, f.name, "static factory: simulated connect failure")
	}
	f.mu.Unlock()

	conn := NewFakeConn()
	f.mu.Lock()
	f.opened = append(f.opened, conn)
	f.mu.Unlock()
	return &Physical{Conn: conn, Kind: KindPlain}, nil
}

func (f *StaticFactory) Close(p *Physical) error {
	f.mu.Lock()
	f.closedSet[p] = true
	f.mu.Unlock()
	if p == nil || p.Conn == nil {
		return nil
	}
	return p.Conn.Close()
}

// Opened returns every FakeConn this factory has ever handed out.
func (f *StaticFactory) Opened() []*FakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*FakeConn, len(f.opened))
	copy(out, f.opened)
	return out
}

// ClosedCount reports how many Physical handles Close has been called on.
func (f *StaticFactory) ClosedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.closedSet)
}
