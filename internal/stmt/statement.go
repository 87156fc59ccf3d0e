// Package stmt implements the statement invocation layer:
// a narrow wrapper around a driver statement that checks the owning
// proxy's state before delegating and, for XA-enabled pools, enlists the
// proxy's transactional resource before any call that mutates data.
//
// Go has no dynamic proxies to intercept every method call by name, so
// Statement instead exposes a fixed, narrower method set covering the
// calls that need enlistment or state checks.
package stmt

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/nexus-db/nexus-pool/internal/pool"
	"github.com/nexus-db/nexus-pool/internal/txn"
	"github.com/nexus-db/nexus-pool/pkg/poolerrors"
)

// Statement wraps one physical statement handle plus the proxy it was
// built from and the coordinator it enlists into. It implements
// pool.Dependent so the owning proxy closes it automatically on release.
type Statement struct {
	proxy  *pool.Proxy
	coord  *txn.Coordinator
	prep   *sql.Stmt // nil for a Statement built with New, which executes ad hoc SQL text
	sqlTxt string

	mu     sync.Mutex
	closed bool
}

// Prepare builds a Statement around a precompiled query, the JDBC
// PreparedStatement equivalent. It registers itself as a dependent of
// proxy so releasing the proxy also closes it.
func Prepare(ctx context.Context, p *pool.Proxy, coord *txn.Coordinator, query string) (*Statement, error) {
	conn, err := p.Conn()
	if err != nil {
		return nil, err
	}
	pc, ok := conn.(interface {
		PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	})
	if !ok {
		return nil, fmt.Errorf("stmt: connection does not support PrepareContext")
	}
	prepared, err := pc.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	s := &Statement{proxy: p, coord: coord, prep: prepared, sqlTxt: query}
	p.Track(s)
	return s, nil
}

// New builds a Statement that executes ad hoc SQL text handed to it at
// call time, the JDBC createStatement equivalent — no precompiled query.
func New(p *pool.Proxy, coord *txn.Coordinator) *Statement {
	s := &Statement{proxy: p, coord: coord}
	p.Track(s)
	return s
}

// String answers a to_string-style call locally rather than delegating to
// the driver.
func (s *Statement) String() string {
	return fmt.Sprintf("stmt.Statement{sql=%q}", s.sqlTxt)
}

// Connection answers a get_connection-style call locally: it returns the
// owning proxy rather than forwarding to any driver-level accessor.
func (s *Statement) Connection() *pool.Proxy {
	return s.proxy
}

func (s *Statement) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return poolerrors.New(poolerrors.ProxyClosed, "", "use of a closed statement")
	}
	return nil
}

// enlistIfNeeded is beforeInvoke from the XA statement handler: execute,
// executeBatch, and executeUpdate all enlist the proxy's resource with the
// calling task's current transaction before delegating. executeQuery does
// not, since a read never needs to participate in the two-phase outcome.
func (s *Statement) enlistIfNeeded(ctx context.Context) error {
	res, ok := s.proxy.Resource()
	if !ok {
		return nil
	}
	if _, active := s.coord.Current(ctx); !active {
		return nil
	}
	return s.coord.Enlist(ctx, res)
}

// ExecContext runs the prepared statement's Exec, the "executeUpdate"
// path: it enlists first when the pool is XA-enabled and a transaction is
// active for ctx's task.
func (s *Statement) ExecContext(ctx context.Context, args ...any) (sql.Result, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if s.prep == nil {
		return nil, fmt.Errorf("stmt: ExecContext requires a Statement built with Prepare")
	}
	if err := s.enlistIfNeeded(ctx); err != nil {
		return nil, err
	}
	return s.prep.ExecContext(ctx, args...)
}

// QueryContext runs the prepared statement's Query, the "executeQuery"
// path. It never enlists — a read has nothing to commit or roll back.
func (s *Statement) QueryContext(ctx context.Context, args ...any) (*sql.Rows, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if s.prep == nil {
		return nil, fmt.Errorf("stmt: QueryContext requires a Statement built with Prepare")
	}
	return s.prep.QueryContext(ctx, args...)
}

// ExecBatchContext runs argSets against the prepared statement in order,
// the "executeBatch" path: it enlists once up front, then executes every
// set, stopping at the first failure.
func (s *Statement) ExecBatchContext(ctx context.Context, argSets [][]any) ([]sql.Result, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if s.prep == nil {
		return nil, fmt.Errorf("stmt: ExecBatchContext requires a Statement built with Prepare")
	}
	if err := s.enlistIfNeeded(ctx); err != nil {
		return nil, err
	}
	results := make([]sql.Result, 0, len(argSets))
	for _, args := range argSets {
		r, err := s.prep.ExecContext(ctx, args...)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

// ExecRawContext runs ad hoc SQL text through the owning proxy's
// connection directly, the "executeUpdate(String)" path used by a
// Statement built with New rather than Prepare. It enlists first under
// the same rule as ExecContext.
func (s *Statement) ExecRawContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	conn, err := s.proxy.Conn()
	if err != nil {
		return nil, err
	}
	if err := s.enlistIfNeeded(ctx); err != nil {
		return nil, err
	}
	return conn.ExecContext(ctx, query, args...)
}

// QueryRawContext runs ad hoc SQL text through the owning proxy's
// connection directly without enlisting, the "executeQuery(String)" path.
func (s *Statement) QueryRawContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	conn, err := s.proxy.Conn()
	if err != nil {
		return nil, err
	}
	return conn.QueryContext(ctx, query, args...)
}

// Close closes the underlying prepared handle, if any, and untracks the
// statement from its owning proxy. Implements pool.Dependent so the
// proxy drains open statements on release; safe to call more than once.
func (s *Statement) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.proxy.Untrack(s)
	if s.prep != nil {
		return s.prep.Close()
	}
	return nil
}
