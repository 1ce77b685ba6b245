package mint_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justapithecus/agora/contract"
	"github.com/justapithecus/agora/ledger"
	"github.com/justapithecus/agora/mint"
	"github.com/justapithecus/agora/sandbox"
	"github.com/justapithecus/agora/store"
	"github.com/justapithecus/agora/types"
)

const sumTupleCode = `
func Run(args []any) (any, error) {
	a := args[0].(int)
	b := args[1].(int)
	return a + b, nil
}
`

func newTasksFixture(t *testing.T) (*mint.Tasks, *ledger.Ledger, *store.Store) {
	t.Helper()
	l := ledger.New()
	s := store.New(store.Config{})
	exec := sandbox.NewYaegiExecutor()
	return mint.NewTasks(s, l, exec), l, s
}

func sumTupleTask(id string, reward int64) *types.Task {
	return &types.Task{
		TaskID:      id,
		Description: "return the sum of two integers",
		Reward:      reward,
		PublicTests: []types.TaskTest{
			{InvokeArgs: []any{1, 2}, ExpectedResult: 3, Assertion: types.AssertEquals},
		},
		HiddenTests: []types.TaskTest{
			{InvokeArgs: []any{10, 20}, ExpectedResult: 30, Assertion: types.AssertEquals},
			{InvokeArgs: []any{-5, 5}, ExpectedResult: 0, Assertion: types.AssertEquals},
		},
	}
}

func TestSubmitSolutionFullPassCreditsReward(t *testing.T) {
	tasks, l, s := newTasksFixture(t)
	require.NoError(t, tasks.Create(sumTupleTask("sum-tuple", 50)))
	_, err := s.Write(store.WriteParams{ID: "sol1", Type: types.ArtifactExecutable, CreatedBy: "alice", Executable: true, Code: sumTupleCode})
	require.NoError(t, err)

	effect, err := tasks.SubmitSolution(context.Background(), "alice", "sol1", "sum-tuple", time.Now())
	require.NoError(t, err)
	assert.True(t, effect.Passed)
	assert.True(t, effect.TaskCompleted)
	assert.Equal(t, int64(50), effect.Reward)
	assert.Equal(t, int64(50), l.Balance("alice"))

	task, ok := tasks.Get("sum-tuple")
	require.True(t, ok)
	assert.Equal(t, "alice", task.CompletedBy)
	assert.False(t, task.IsOpen(time.Now()))
}

func TestSubmitSolutionHiddenResultsNeverRevealExpected(t *testing.T) {
	tasks, _, s := newTasksFixture(t)
	require.NoError(t, tasks.Create(sumTupleTask("sum-tuple", 50)))
	_, err := s.Write(store.WriteParams{ID: "sol1", Type: types.ArtifactExecutable, CreatedBy: "alice", Executable: true, Code: sumTupleCode})
	require.NoError(t, err)

	effect, err := tasks.SubmitSolution(context.Background(), "alice", "sol1", "sum-tuple", time.Now())
	require.NoError(t, err)
	for _, res := range effect.HiddenResults {
		assert.Nil(t, res.Expected)
		assert.Nil(t, res.Actual)
	}
	for _, res := range effect.PublicResults {
		assert.NotNil(t, res.Expected)
	}
}

func TestSubmitSolutionFailingPublicTestSkipsHidden(t *testing.T) {
	tasks, l, s := newTasksFixture(t)
	require.NoError(t, tasks.Create(sumTupleTask("sum-tuple", 50)))
	wrongCode := `
func Run(args []any) (any, error) {
	return 999, nil
}
`
	_, err := s.Write(store.WriteParams{ID: "sol1", Type: types.ArtifactExecutable, CreatedBy: "alice", Executable: true, Code: wrongCode})
	require.NoError(t, err)

	effect, err := tasks.SubmitSolution(context.Background(), "alice", "sol1", "sum-tuple", time.Now())
	require.NoError(t, err)
	assert.False(t, effect.Passed)
	assert.Empty(t, effect.HiddenResults)
	assert.False(t, effect.TaskCompleted)
	assert.Zero(t, l.Balance("alice"))

	task, _ := tasks.Get("sum-tuple")
	assert.True(t, task.IsOpen(time.Now()))
}

func TestSubmitSolutionRejectsUnauthorizedPrincipal(t *testing.T) {
	tasks, _, s := newTasksFixture(t)
	require.NoError(t, tasks.Create(sumTupleTask("sum-tuple", 50)))
	_, err := s.Write(store.WriteParams{ID: "sol1", Type: types.ArtifactExecutable, CreatedBy: "alice", Executable: true, Code: sumTupleCode})
	require.NoError(t, err)

	_, err = tasks.SubmitSolution(context.Background(), "mallory", "sol1", "sum-tuple", time.Now())
	assert.Error(t, err)
}

func TestSubmitSolutionAllowsAuthorizedDelegate(t *testing.T) {
	tasks, l, s := newTasksFixture(t)
	require.NoError(t, tasks.Create(sumTupleTask("sum-tuple", 50)))
	_, err := s.Write(store.WriteParams{
		ID: "sol1", Type: types.ArtifactExecutable, CreatedBy: "alice", Caller: "alice",
		Executable: true, Code: sumTupleCode, AccessContractID: contract.Public,
	})
	require.NoError(t, err)
	// delegate's own write of alice's artifact is only possible because
	// the access contract already granted it; the kernel (not delegate)
	// tags authorized_writer in response (FM-2).
	_, err = s.Write(store.WriteParams{
		ID: "sol1", Type: types.ArtifactExecutable, CreatedBy: "delegate", Caller: "delegate",
		Executable: true, Code: sumTupleCode, AccessContractID: contract.Public,
	})
	require.NoError(t, err)

	effect, err := tasks.SubmitSolution(context.Background(), "delegate", "sol1", "sum-tuple", time.Now())
	require.NoError(t, err)
	assert.True(t, effect.TaskCompleted)
	assert.Equal(t, int64(50), l.Balance("delegate"))
}

func TestSubmitSolutionRejectsClosedTask(t *testing.T) {
	tasks, _, s := newTasksFixture(t)
	task := sumTupleTask("sum-tuple", 50)
	past := time.Now().Add(-time.Hour)
	task.ExpiresAt = &past
	require.NoError(t, tasks.Create(task))
	_, err := s.Write(store.WriteParams{ID: "sol1", Type: types.ArtifactExecutable, CreatedBy: "alice", Executable: true, Code: sumTupleCode})
	require.NoError(t, err)

	_, err = tasks.SubmitSolution(context.Background(), "alice", "sol1", "sum-tuple", time.Now())
	assert.Error(t, err)
}

func TestSubmitSolutionRejectsAlreadyCompletedTask(t *testing.T) {
	tasks, _, s := newTasksFixture(t)
	require.NoError(t, tasks.Create(sumTupleTask("sum-tuple", 50)))
	_, err := s.Write(store.WriteParams{ID: "sol1", Type: types.ArtifactExecutable, CreatedBy: "alice", Executable: true, Code: sumTupleCode})
	require.NoError(t, err)

	_, err = tasks.SubmitSolution(context.Background(), "alice", "sol1", "sum-tuple", time.Now())
	require.NoError(t, err)

	_, err = s.Write(store.WriteParams{ID: "sol2", Type: types.ArtifactExecutable, CreatedBy: "bob", Executable: true, Code: sumTupleCode})
	require.NoError(t, err)
	_, err = tasks.SubmitSolution(context.Background(), "bob", "sol2", "sum-tuple", time.Now())
	assert.Error(t, err)
}
