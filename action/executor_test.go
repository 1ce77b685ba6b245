package action_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justapithecus/agora/action"
	"github.com/justapithecus/agora/contract"
	"github.com/justapithecus/agora/ledger"
	"github.com/justapithecus/agora/store"
	"github.com/justapithecus/agora/types"
)

func newExecutor(t *testing.T) (*action.Executor, *store.Store, *ledger.Ledger) {
	t.Helper()
	s := store.New(store.Config{})
	l := ledger.New()
	exec := action.New(action.Config{Store: s, Ledger: l})
	return exec, s, l
}

func TestDoWriteCreatesArtifact(t *testing.T) {
	exec, s, _ := newExecutor(t)
	res := exec.Submit("alice", types.Envelope{
		ActionType: types.IntentWriteArtifact, ArtifactID: "note1", ArtifactType: types.ArtifactData,
		Content: []byte(`"hello"`),
	})
	require.True(t, res.Success)
	_, ok := s.GetLive("note1")
	assert.True(t, ok)
}

func TestDoWriteRejectsNonCreatorUnderFreeware(t *testing.T) {
	exec, _, _ := newExecutor(t)
	res := exec.Submit("alice", types.Envelope{
		ActionType: types.IntentWriteArtifact, ArtifactID: "note1", ArtifactType: types.ArtifactData,
		Content: []byte(`"hello"`), AccessContractID: string(contract.Freeware),
	})
	require.True(t, res.Success)

	res = exec.Submit("bob", types.Envelope{
		ActionType: types.IntentWriteArtifact, ArtifactID: "note1", ArtifactType: types.ArtifactData,
		Content: []byte(`"hijacked"`),
	})
	assert.False(t, res.Success)
	assert.Equal(t, types.CategoryPermission, res.Category)
}

func TestDoReadRequiresPermission(t *testing.T) {
	exec, _, _ := newExecutor(t)
	res := exec.Submit("alice", types.Envelope{
		ActionType: types.IntentWriteArtifact, ArtifactID: "secret", ArtifactType: types.ArtifactData,
		Content: []byte(`"x"`), AccessContractID: string(contract.Private),
	})
	require.True(t, res.Success)

	res = exec.Submit("bob", types.Envelope{ActionType: types.IntentReadArtifact, ArtifactID: "secret"})
	assert.False(t, res.Success)
	assert.Equal(t, types.CategoryPermission, res.Category)

	res = exec.Submit("alice", types.Envelope{ActionType: types.IntentReadArtifact, ArtifactID: "secret"})
	assert.True(t, res.Success)
}

func TestDoEditRequiresUniqueMatch(t *testing.T) {
	exec, _, _ := newExecutor(t)
	res := exec.Submit("alice", types.Envelope{
		ActionType: types.IntentWriteArtifact, ArtifactID: "doc", ArtifactType: types.ArtifactData,
		Content: []byte("the quick brown fox"),
	})
	require.True(t, res.Success)

	res = exec.Submit("alice", types.Envelope{
		ActionType: types.IntentEditArtifact, ArtifactID: "doc", OldString: "quick", NewString: "slow",
	})
	require.True(t, res.Success)

	res = exec.Submit("alice", types.Envelope{
		ActionType: types.IntentEditArtifact, ArtifactID: "doc", OldString: "nonexistent", NewString: "x",
	})
	assert.False(t, res.Success)
	assert.Equal(t, "not_found_in_content", res.ErrorCode)
}

func TestDoDeleteTombstonesArtifact(t *testing.T) {
	exec, s, _ := newExecutor(t)
	res := exec.Submit("alice", types.Envelope{
		ActionType: types.IntentWriteArtifact, ArtifactID: "doomed", ArtifactType: types.ArtifactData,
	})
	require.True(t, res.Success)

	res = exec.Submit("alice", types.Envelope{ActionType: types.IntentDeleteArtifact, ArtifactID: "doomed"})
	require.True(t, res.Success)

	_, ok := s.GetLive("doomed")
	assert.False(t, ok)
}

func TestDoTransferMovesScrip(t *testing.T) {
	exec, _, l := newExecutor(t)
	l.Credit("alice", 100)

	res := exec.Submit("alice", types.Envelope{ActionType: types.IntentTransfer, ToPrincipal: "bob", Amount: 30})
	require.True(t, res.Success)
	assert.Equal(t, int64(70), l.Balance("alice"))
	assert.Equal(t, int64(30), l.Balance("bob"))
}

func TestDoTransferInsufficientFunds(t *testing.T) {
	exec, _, _ := newExecutor(t)
	res := exec.Submit("alice", types.Envelope{ActionType: types.IntentTransfer, ToPrincipal: "bob", Amount: 30})
	assert.False(t, res.Success)
	assert.Equal(t, "insufficient_funds", res.ErrorCode)
}

func TestKernelProtectedArtifactRejectsAnyCallerWrite(t *testing.T) {
	s := store.New(store.Config{})
	l := ledger.New()
	exec := action.New(action.Config{Store: s, Ledger: l})

	_, err := s.Write(store.WriteParams{
		ID: "charge_delegation:alice", Type: types.ArtifactChargeDelegation, CreatedBy: "alice", Caller: "alice",
		Content: []byte(`{}`), KernelProtected: true, AccessContractID: contract.KernelContractPrivate,
	})
	require.NoError(t, err)

	res := exec.Submit("alice", types.Envelope{
		ActionType: types.IntentWriteArtifact, ArtifactID: "charge_delegation:alice",
		ArtifactType: types.ArtifactChargeDelegation, Content: []byte(`{"tampered":true}`),
	})
	assert.False(t, res.Success)
	assert.Equal(t, "kernel_protected", res.ErrorCode)
}

func TestDoMintRequiresReason(t *testing.T) {
	exec, _, _ := newExecutor(t)
	res := exec.Submit("alice", types.Envelope{ActionType: types.IntentMint, Amount: 10})
	assert.False(t, res.Success)
	assert.Equal(t, "missing_argument", res.ErrorCode)
}
