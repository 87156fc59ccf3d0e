package txn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResource struct {
	id       string
	started  bool
	ended    []EndFlag
	commits  int
	rollback int
	startErr error
}

func (r *fakeResource) ID() string { return r.id }
func (r *fakeResource) Start(ctx context.Context) error {
	if r.startErr != nil {
		return r.startErr
	}
	r.started = true
	return nil
}
func (r *fakeResource) End(ctx context.Context, flag EndFlag) error {
	r.ended = append(r.ended, flag)
	return nil
}
func (r *fakeResource) Commit(ctx context.Context) error   { r.commits++; return nil }
func (r *fakeResource) Rollback(ctx context.Context) error { r.rollback++; return nil }

func TestCoordinator_BeginMintsTaskIdentityWhenAbsent(t *testing.T) {
	c := NewCoordinator()
	ctx, err := c.Begin(context.Background())
	require.NoError(t, err)

	id, ok := TaskID(ctx)
	require.True(t, ok)
	assert.NotEqual(t, id.String(), "")

	txn, ok := c.Current(ctx)
	require.True(t, ok)
	assert.Equal(t, StateActive, txn.State())
}

func TestCoordinator_BeginTwiceForSameTaskFails(t *testing.T) {
	c := NewCoordinator()
	ctx, err := c.Begin(context.Background())
	require.NoError(t, err)

	_, err = c.Begin(ctx)
	assert.Error(t, err)
}

func TestCoordinator_EnlistIsIdempotentByResourceID(t *testing.T) {
	c := NewCoordinator()
	ctx, err := c.Begin(context.Background())
	require.NoError(t, err)

	res := &fakeResource{id: "res-1"}
	require.NoError(t, c.Enlist(ctx, res))
	require.NoError(t, c.Enlist(ctx, res))
	assert.True(t, res.started)

	require.NoError(t, c.Commit(ctx))
	assert.Equal(t, 1, res.commits, "duplicate enlist must not double-commit")
}

func TestCoordinator_CommitEndsAndCommitsEveryEnlistedResource(t *testing.T) {
	c := NewCoordinator()
	ctx, err := c.Begin(context.Background())
	require.NoError(t, err)

	r1 := &fakeResource{id: "r1"}
	r2 := &fakeResource{id: "r2"}
	require.NoError(t, c.Enlist(ctx, r1))
	require.NoError(t, c.Enlist(ctx, r2))

	require.NoError(t, c.Commit(ctx))
	assert.Equal(t, []EndFlag{EndSuccess}, r1.ended)
	assert.Equal(t, 1, r1.commits)
	assert.Equal(t, []EndFlag{EndSuccess}, r2.ended)
	assert.Equal(t, 1, r2.commits)

	_, ok := c.Current(ctx)
	assert.False(t, ok, "slot must be cleared after commit")
}

func TestCoordinator_RollbackEndsWithFailAndRollsBackResources(t *testing.T) {
	c := NewCoordinator()
	ctx, err := c.Begin(context.Background())
	require.NoError(t, err)

	r := &fakeResource{id: "r1"}
	require.NoError(t, c.Enlist(ctx, r))
	require.NoError(t, c.MarkRollbackOnly(ctx))

	require.NoError(t, c.Rollback(ctx))
	assert.Equal(t, []EndFlag{EndFail}, r.ended)
	assert.Equal(t, 1, r.rollback)
}

func TestCoordinator_SuspendAndResumePreservesEnlistedResources(t *testing.T) {
	c := NewCoordinator()
	ctx, err := c.Begin(context.Background())
	require.NoError(t, err)

	r := &fakeResource{id: "r1"}
	require.NoError(t, c.Enlist(ctx, r))

	handle, err := c.Suspend(ctx)
	require.NoError(t, err)

	_, ok := c.Current(ctx)
	assert.False(t, ok, "suspend must clear the task's current transaction")

	require.NoError(t, c.Resume(ctx, handle))
	resumed, ok := c.Current(ctx)
	require.True(t, ok)
	assert.Equal(t, StateActive, resumed.State())

	require.NoError(t, c.Commit(ctx))
	assert.Equal(t, 1, r.commits)
}

func TestCoordinator_DelistUnknownResourceIsNoOp(t *testing.T) {
	c := NewCoordinator()
	ctx, err := c.Begin(context.Background())
	require.NoError(t, err)

	err = c.Delist(ctx, &fakeResource{id: "never-enlisted"}, EndSuccess)
	assert.NoError(t, err)
}

func TestCoordinator_CommitWithoutActiveTransactionFails(t *testing.T) {
	c := NewCoordinator()
	err := c.Commit(context.Background())
	assert.Error(t, err)
}

func TestCoordinator_IndependentTasksDoNotShareState(t *testing.T) {
	c := NewCoordinator()
	ctx1, err := c.Begin(context.Background())
	require.NoError(t, err)
	ctx2, err := c.Begin(context.Background())
	require.NoError(t, err)

	t1, _ := c.Current(ctx1)
	t2, _ := c.Current(ctx2)
	assert.NotEqual(t, t1.ID(), t2.ID())

	require.NoError(t, c.Commit(ctx1))
	_, ok := c.Current(ctx2)
	assert.True(t, ok, "committing one task must not affect another")
}
