package txn

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/nexus-db/nexus-pool/pkg/poolerrors"
)

// State is a transaction's position in its state machine:
// NONE, ACTIVE, MARKED_ROLLBACK, SUSPENDED.
type State int

const (
	StateNone State = iota
	StateActive
	StateMarkedRollback
	StateSuspended
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateMarkedRollback:
		return "marked_rollback"
	case StateSuspended:
		return "suspended"
	default:
		return "none"
	}
}

// Transaction is one logical unit of work and its enlisted resources.
type Transaction struct {
	id       uuid.UUID
	state    State
	enlisted []Resource
}

// ID returns the transaction's identity.
func (t *Transaction) ID() uuid.UUID { return t.id }

// State returns the transaction's current state.
func (t *Transaction) State() State { return t.state }

// Handle is the opaque token the suspend/resume pair exchanges. It
// is never constructed directly; only Coordinator.Suspend produces one.
type Handle struct {
	txn *Transaction
}

// taskKey is the context key the transaction coordinator uses in place of
// a thread-local.
type taskKey struct{}

// WithTask attaches a task identity to ctx. Callers that hand work to
// another goroutine but want it to see the same transaction must pass the
// returned context explicitly — there is no ambient inheritance.
func WithTask(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, taskKey{}, id)
}

// TaskID returns the task identity carried by ctx, if any.
func TaskID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(taskKey{}).(uuid.UUID)
	return id, ok
}

// slot holds the current-transaction pointer for one task identity. A nil
// current means state NONE.
type slot struct {
	mu      sync.Mutex
	current *Transaction
}

// Coordinator is the transaction coordinator: an explicit
// object keyed by task identity, not an implicit thread-local. One
// Coordinator is shared process-wide; callers reach their own state by
// passing a context carrying their task identity.
type Coordinator struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*slot
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{slots: make(map[uuid.UUID]*slot)}
}

func (c *Coordinator) slotFor(id uuid.UUID) *slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[id]
	if !ok {
		s = &slot{}
		c.slots[id] = s
	}
	return s
}

func txnErr(msg string) error {
	return poolerrors.New(poolerrors.TransactionError, "", msg)
}

func txnErrWrap(msg string, cause error) error {
	return poolerrors.Wrap(poolerrors.TransactionError, "", msg, cause)
}

// Begin starts a new transaction for the calling task. If ctx carries no
// task identity yet, one is minted and attached to the returned context —
// callers must thread that context through subsequent calls.
func (c *Coordinator) Begin(ctx context.Context) (context.Context, error) {
	id, ok := TaskID(ctx)
	if !ok {
		id = uuid.New()
		ctx = WithTask(ctx, id)
	}
	s := c.slotFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return ctx, txnErr("begin: a transaction is already active for this task")
	}
	s.current = &Transaction{id: uuid.New(), state: StateActive}
	return ctx, nil
}

// Current returns the calling task's current transaction, if any.
func (c *Coordinator) Current(ctx context.Context) (*Transaction, bool) {
	id, ok := TaskID(ctx)
	if !ok {
		return nil, false
	}
	s := c.slotFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.current != nil
}

// MarkRollbackOnly transitions ACTIVE to MARKED_ROLLBACK, e.g. after a
// participant reports it can no longer proceed.
func (c *Coordinator) MarkRollbackOnly(ctx context.Context) error {
	id, ok := TaskID(ctx)
	if !ok {
		return txnErr("mark-rollback-only requires a task identity")
	}
	s := c.slotFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.state != StateActive {
		return txnErr("mark-rollback-only requires an active transaction")
	}
	s.current.state = StateMarkedRollback
	return nil
}

// Commit requires ACTIVE. It delists every enlisted resource with
// EndSuccess, commits each, and clears the slot.
func (c *Coordinator) Commit(ctx context.Context) error {
	id, ok := TaskID(ctx)
	if !ok {
		return txnErr("commit requires a task identity")
	}
	s := c.slotFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.current
	if t == nil || t.state != StateActive {
		return txnErr("commit requires an active transaction")
	}

	var firstErr error
	for _, r := range t.enlisted {
		if err := r.End(ctx, EndSuccess); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, r := range t.enlisted {
		if err := r.Commit(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.current = nil
	if firstErr != nil {
		return txnErrWrap("commit: a resource failed to commit", firstErr)
	}
	return nil
}

// Rollback requires ACTIVE or MARKED_ROLLBACK. It delists every enlisted
// resource with EndFail, rolls each back, and clears the slot.
func (c *Coordinator) Rollback(ctx context.Context) error {
	id, ok := TaskID(ctx)
	if !ok {
		return txnErr("rollback requires a task identity")
	}
	s := c.slotFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.current
	if t == nil || (t.state != StateActive && t.state != StateMarkedRollback) {
		return txnErr("rollback requires an active or marked-rollback transaction")
	}

	var firstErr error
	for _, r := range t.enlisted {
		if err := r.End(ctx, EndFail); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, r := range t.enlisted {
		if err := r.Rollback(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.current = nil
	if firstErr != nil {
		return txnErrWrap("rollback: a resource failed to roll back", firstErr)
	}
	return nil
}

// Suspend requires ACTIVE. It detaches the transaction from the task's
// slot — leaving it at state NONE — and returns a handle that retains the
// transaction's enlisted resources verbatim for a later Resume.
func (c *Coordinator) Suspend(ctx context.Context) (Handle, error) {
	id, ok := TaskID(ctx)
	if !ok {
		return Handle{}, txnErr("suspend requires a task identity")
	}
	s := c.slotFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.current
	if t == nil || t.state != StateActive {
		return Handle{}, txnErr("suspend requires an active transaction")
	}
	t.state = StateSuspended
	s.current = nil
	return Handle{txn: t}, nil
}

// Resume requires the calling task's slot to be at state NONE. It installs
// handle's transaction as the task's current transaction again.
func (c *Coordinator) Resume(ctx context.Context, h Handle) error {
	id, ok := TaskID(ctx)
	if !ok {
		return txnErr("resume requires a task identity")
	}
	if h.txn == nil {
		return txnErr("resume: invalid handle")
	}
	s := c.slotFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return txnErr("resume: task already has a current transaction")
	}
	h.txn.state = StateActive
	s.current = h.txn
	return nil
}

// Enlist registers r with the calling task's current transaction.
// Duplicate enlistment (by Resource.ID) is idempotent.
func (c *Coordinator) Enlist(ctx context.Context, r Resource) error {
	id, ok := TaskID(ctx)
	if !ok {
		return txnErr("enlist requires a task identity")
	}
	s := c.slotFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.current
	if t == nil || t.state != StateActive {
		return txnErr("enlist requires an active transaction")
	}
	for _, existing := range t.enlisted {
		if existing.ID() == r.ID() {
			return nil
		}
	}
	if err := r.Start(ctx); err != nil {
		return txnErrWrap("enlist: resource failed to start", err)
	}
	t.enlisted = append(t.enlisted, r)
	return nil
}

// Delist removes r from the calling task's current transaction, ending
// its branch with the given flag. Delisting a resource that was never
// enlisted is a no-op.
func (c *Coordinator) Delist(ctx context.Context, r Resource, flag EndFlag) error {
	id, ok := TaskID(ctx)
	if !ok {
		return txnErr("delist requires a task identity")
	}
	s := c.slotFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.current
	if t == nil {
		return txnErr("delist requires a current transaction")
	}
	idx := -1
	for i, existing := range t.enlisted {
		if existing.ID() == r.ID() {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil
	}
	err := r.End(ctx, flag)
	t.enlisted = append(t.enlisted[:idx], t.enlisted[idx+1:]...)
	if err != nil {
		return txnErrWrap("delist: resource failed to end", err)
	}
	return nil
}
