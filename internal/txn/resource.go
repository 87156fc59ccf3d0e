// Package txn implements the transaction coordinator: a
// per-task-identity current-transaction slot with begin/commit/rollback/
// suspend/resume and resource enlistment.
package txn

import "context"

// EndFlag mirrors the XA TMSUCCESS/TMFAIL flags passed to a resource's End
// call when it is delisted.
type EndFlag int

const (
	// EndSuccess means the resource's work completed normally.
	EndSuccess EndFlag = iota
	// EndFail means the resource's work should be considered failed;
	// the coordinator uses this on the rollback path.
	EndFail
)

// Resource is the narrow capability a distributed-transaction participant
// exposes to the coordinator, an "XA resource". Real two-phase
// recovery across process restarts is out of scope; Resource
// only needs to support the local enlist/commit/rollback dance around one
// statement invocation.
type Resource interface {
	// ID identifies the resource for enlistment idempotence checks.
	ID() string
	// Start begins the resource's participation in the transaction.
	Start(ctx context.Context) error
	// End marks the resource's work for this transaction branch done,
	// tagged with whether it succeeded.
	End(ctx context.Context, flag EndFlag) error
	// Commit commits the resource's branch.
	Commit(ctx context.Context) error
	// Rollback aborts the resource's branch.
	Rollback(ctx context.Context) error
}
