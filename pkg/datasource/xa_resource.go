package datasource

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nexus-db/nexus-pool/internal/txn"
)

// localXAResource is a local, non-recoverable stand-in for a real XA
// resource: it satisfies txn.Resource by driving a plain *sql.Tx through
// BEGIN/COMMIT/ROLLBACK. Two-phase-commit recovery across process
// restarts is out of scope; this resource only
// needs to make one connection's work commit or roll back atomically
// with everything else enlisted in the same transaction.
type localXAResource struct {
	id   string
	conn Conn
	tx   *sql.Tx
}

func newLocalXAResource(id string, conn Conn) *localXAResource {
	return &localXAResource{id: id, conn: conn}
}

func (r *localXAResource) ID() string { return r.id }

func (r *localXAResource) Start(ctx context.Context) error {
	if r.tx != nil {
		return nil
	}
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting resource branch: %w", err)
	}
	r.tx = tx
	return nil
}

func (r *localXAResource) End(ctx context.Context, flag txn.EndFlag) error {
	// Local resources have nothing separate to do at End: the branch's
	// fate is decided by the following Commit/Rollback call.
	return nil
}

func (r *localXAResource) Commit(ctx context.Context) error {
	if r.tx == nil {
		return nil
	}
	err := r.tx.Commit()
	r.tx = nil
	return err
}

func (r *localXAResource) Rollback(ctx context.Context) error {
	if r.tx == nil {
		return nil
	}
	err := r.tx.Rollback()
	r.tx = nil
	return err
}
