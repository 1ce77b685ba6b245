package query_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justapithecus/agora/contract"
	"github.com/justapithecus/agora/ledger"
	"github.com/justapithecus/agora/query"
	"github.com/justapithecus/agora/store"
	"github.com/justapithecus/agora/types"
)

func newHandler(t *testing.T) (*query.Handler, *store.Store, *ledger.Ledger) {
	t.Helper()
	s := store.New(store.Config{})
	l := ledger.New()
	h := query.New(query.Config{Store: s, Ledger: l})
	return h, s, l
}

func TestExecuteUnknownQueryType(t *testing.T) {
	h, _, _ := newHandler(t)
	_, err := h.Execute("not_a_query", nil)
	require.Error(t, err)
	qerr, ok := err.(*query.Error)
	require.True(t, ok)
	assert.Equal(t, query.CodeInvalidQueryType, qerr.Code)
}

func TestExecuteUnknownParam(t *testing.T) {
	h, _, _ := newHandler(t)
	_, err := h.Execute("principals", map[string]any{"bogus": 1})
	require.Error(t, err)
	qerr, ok := err.(*query.Error)
	require.True(t, ok)
	assert.Equal(t, query.CodeInvalidParam, qerr.Code)
}

func TestExecuteMissingRequiredParam(t *testing.T) {
	h, _, _ := newHandler(t)
	_, err := h.Execute("artifact", nil)
	require.Error(t, err)
	qerr, ok := err.(*query.Error)
	require.True(t, ok)
	assert.Equal(t, query.CodeMissingParam, qerr.Code)
}

func TestQueryArtifactsFiltersAndPaginates(t *testing.T) {
	h, s, _ := newHandler(t)
	_, err := s.Write(store.WriteParams{ID: "art1", Type: types.ArtifactData, CreatedBy: "alice", Caller: "alice", Content: []byte("hello"), AccessContractID: contract.Freeware})
	require.NoError(t, err)
	_, err = s.Write(store.WriteParams{ID: "art2", Type: types.ArtifactData, CreatedBy: "bob", Caller: "bob", Content: []byte("world"), AccessContractID: contract.Freeware})
	require.NoError(t, err)

	res, err := h.Execute("artifacts", map[string]any{"owner": "alice"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res["total"])

	res, err = h.Execute("artifacts", map[string]any{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res["total"])
}

func TestQueryArtifactsInvalidPattern(t *testing.T) {
	h, _, _ := newHandler(t)
	_, err := h.Execute("artifacts", map[string]any{"name_pattern": "("})
	require.Error(t, err)
	qerr, ok := err.(*query.Error)
	require.True(t, ok)
	assert.Equal(t, query.CodeInvalidPattern, qerr.Code)
}

func TestQueryArtifactNotFound(t *testing.T) {
	h, _, _ := newHandler(t)
	_, err := h.Execute("artifact", map[string]any{"artifact_id": "missing"})
	require.Error(t, err)
	qerr, ok := err.(*query.Error)
	require.True(t, ok)
	assert.Equal(t, query.CodeNotFound, qerr.Code)
}

func TestQueryBalancesSingleAndAll(t *testing.T) {
	h, _, l := newHandler(t)
	require.NoError(t, l.Credit("alice", 50))

	res, err := h.Execute("balances", map[string]any{"principal_id": "alice"})
	require.NoError(t, err)
	assert.EqualValues(t, 50, res["scrip"])

	_, err = h.Execute("balances", map[string]any{"principal_id": "ghost"})
	require.Error(t, err)

	res, err = h.Execute("balances", nil)
	require.NoError(t, err)
	balances, ok := res["balances"].(map[string]int64)
	require.True(t, ok)
	assert.EqualValues(t, 50, balances["alice"])
}

func TestQueryFrozen(t *testing.T) {
	h, _, l := newHandler(t)
	l.SetResource("alice", ledger.ComputeResource, 0)
	l.SetResource("bob", ledger.ComputeResource, 10)

	res, err := h.Execute("frozen", map[string]any{"agent_id": "alice"})
	require.NoError(t, err)
	assert.Equal(t, true, res["frozen"])

	res, err = h.Execute("frozen", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, res["frozen_agents"])
}

func TestQueryDependencies(t *testing.T) {
	h, s, _ := newHandler(t)
	_, err := s.Write(store.WriteParams{ID: "base", Type: types.ArtifactExecutable, CreatedBy: "alice", Caller: "alice", Code: "return 1", Executable: true, AccessContractID: contract.Freeware})
	require.NoError(t, err)
	_, err = s.Write(store.WriteParams{ID: "derived", Type: types.ArtifactExecutable, CreatedBy: "alice", Caller: "alice", Code: "return 2", Executable: true, DependsOn: []string{"base"}, AccessContractID: contract.Freeware})
	require.NoError(t, err)

	res, err := h.Execute("dependencies", map[string]any{"artifact_id": "base"})
	require.NoError(t, err)
	assert.Equal(t, []string{"derived"}, res["dependents"])

	res, err = h.Execute("dependencies", map[string]any{"artifact_id": "derived"})
	require.NoError(t, err)
	assert.Equal(t, []string{"base"}, res["depends_on"])
}

func TestQueryMintUnavailable(t *testing.T) {
	h, _, _ := newHandler(t)
	_, err := h.Execute("mint", nil)
	require.Error(t, err)
	qerr, ok := err.(*query.Error)
	require.True(t, ok)
	assert.Equal(t, query.CodeNotAvailable, qerr.Code)
}
