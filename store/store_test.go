package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justapithecus/agora/contract"
	"github.com/justapithecus/agora/store"
	"github.com/justapithecus/agora/types"
)

func newStore() *store.Store {
	return store.New(store.Config{MaxDependencyDepth: 5})
}

func TestWriteCreateAndGet(t *testing.T) {
	s := newStore()
	a, err := s.Write(store.WriteParams{ID: "x", Type: types.ArtifactData, CreatedBy: "alice", Content: []byte("hi")})
	require.NoError(t, err)
	assert.Equal(t, "alice", a.CreatedBy)
	assert.Equal(t, contract.Default, contract.ID(a.AccessContractID))

	got, ok := s.Get("x")
	require.True(t, ok)
	assert.Equal(t, []byte("hi"), got.Content)
}

func TestITypeImmutable(t *testing.T) {
	s := newStore()
	_, err := s.Write(store.WriteParams{ID: "x", Type: types.ArtifactData, CreatedBy: "alice"})
	require.NoError(t, err)

	_, err = s.Write(store.WriteParams{ID: "x", Type: types.ArtifactExecutable, CreatedBy: "alice"})
	require.Error(t, err)
	var serr *store.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "i_type", serr.Code)
}

func TestICreatorImmutable(t *testing.T) {
	s := newStore()
	_, err := s.Write(store.WriteParams{ID: "x", Type: types.ArtifactData, CreatedBy: "alice"})
	require.NoError(t, err)

	a, err := s.Write(store.WriteParams{ID: "x", Type: types.ArtifactData, CreatedBy: "bob", Caller: "bob"})
	require.NoError(t, err)
	assert.Equal(t, "alice", a.CreatedBy)
}

func TestIContractOnlyCreator(t *testing.T) {
	s := newStore()
	_, err := s.Write(store.WriteParams{ID: "x", Type: types.ArtifactData, CreatedBy: "alice", AccessContractID: contract.Public})
	require.NoError(t, err)

	_, err = s.Write(store.WriteParams{ID: "x", Type: types.ArtifactData, CreatedBy: "alice", Caller: "bob", AccessContractID: contract.Private})
	require.Error(t, err)
	var serr *store.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "i_contract", serr.Code)

	_, err = s.Write(store.WriteParams{ID: "x", Type: types.ArtifactData, CreatedBy: "alice", Caller: "alice", AccessContractID: contract.Private})
	require.NoError(t, err)
}

func TestIProtectedBlocksUserWrites(t *testing.T) {
	s := newStore()
	capability := store.NewKernelCapability()
	_, err := s.Write(store.WriteParams{ID: "charge_delegation:alice", Type: types.ArtifactChargeDelegation, CreatedBy: "alice", KernelProtected: true})
	require.NoError(t, err)

	_, err = s.Write(store.WriteParams{ID: "charge_delegation:alice", Type: types.ArtifactChargeDelegation, CreatedBy: "alice", Caller: "alice"})
	require.Error(t, err)
	var serr *store.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "kernel_protected", serr.Code)

	updated, err := s.ModifyProtectedContent(capability, "charge_delegation:alice", []byte("new content"), "", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("new content"), updated.Content)
}

func TestIReservedChargeDelegation(t *testing.T) {
	s := newStore()
	_, err := s.Write(store.WriteParams{ID: "charge_delegation:alice", Type: types.ArtifactChargeDelegation, CreatedBy: "bob"})
	require.Error(t, err)
	var serr *store.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "i_reserved", serr.Code)
}

func TestIReservedRightPrefix(t *testing.T) {
	s := newStore()
	_, err := s.Write(store.WriteParams{ID: "right:foo", Type: types.ArtifactRight, CreatedBy: "alice"})
	require.Error(t, err)

	_, err = s.Write(store.WriteParams{ID: "right:foo", Type: types.ArtifactRight, CreatedBy: "kernel"})
	require.NoError(t, err)
}

func TestITombstoneCannotBeWritten(t *testing.T) {
	s := newStore()
	_, err := s.Write(store.WriteParams{ID: "x", Type: types.ArtifactData, CreatedBy: "alice"})
	require.NoError(t, err)
	require.NoError(t, s.Delete("x", "alice"))

	got, ok := s.Get("x")
	require.True(t, ok)
	assert.True(t, got.Deleted)
	assert.Empty(t, got.Content)

	_, err = s.Write(store.WriteParams{ID: "x", Type: types.ArtifactData, CreatedBy: "alice"})
	require.Error(t, err)
}

func TestIDagRejectsCycle(t *testing.T) {
	s := newStore()
	_, err := s.Write(store.WriteParams{ID: "a", Type: types.ArtifactExecutable, CreatedBy: "alice", Executable: true})
	require.NoError(t, err)

	_, err = s.Write(store.WriteParams{ID: "a", Type: types.ArtifactExecutable, CreatedBy: "alice", DependsOn: []string{"a"}})
	require.Error(t, err)
}

func TestIDagDepthLimit(t *testing.T) {
	s := store.New(store.Config{MaxDependencyDepth: 1})
	_, err := s.Write(store.WriteParams{ID: "c", Type: types.ArtifactExecutable, CreatedBy: "alice"})
	require.NoError(t, err)
	_, err = s.Write(store.WriteParams{ID: "b", Type: types.ArtifactExecutable, CreatedBy: "alice", DependsOn: []string{"c"}})
	require.NoError(t, err)
	_, err = s.Write(store.WriteParams{ID: "a", Type: types.ArtifactExecutable, CreatedBy: "alice", DependsOn: []string{"b"}})
	require.Error(t, err)
	var serr *store.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "i_dag", serr.Code)
}

func TestGenesisCannotBeDeleted(t *testing.T) {
	s := store.New(store.Config{GenesisIDs: map[string]bool{"genesis_mint": true}})
	_, err := s.Write(store.WriteParams{ID: "genesis_mint", Type: types.ArtifactExecutable, CreatedBy: "kernel"})
	require.NoError(t, err)

	err = s.Delete("genesis_mint", "kernel")
	require.Error(t, err)
}

func TestISizeQuotaEnforced(t *testing.T) {
	s := store.New(store.Config{DiskQuota: func(string) int64 { return 4 }})
	_, err := s.Write(store.WriteParams{ID: "x", Type: types.ArtifactData, CreatedBy: "alice", Content: []byte("toolong")})
	require.Error(t, err)
	var serr *store.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "i_size", serr.Code)
}

func TestTransferOwnershipSetsControllerNotCreator(t *testing.T) {
	s := newStore()
	_, err := s.Write(store.WriteParams{ID: "x", Type: types.ArtifactData, CreatedBy: "alice"})
	require.NoError(t, err)

	require.NoError(t, s.TransferOwnership("x", "alice", "bob"))
	a, _ := s.Get("x")
	assert.Equal(t, "bob", a.Controller())
	assert.Equal(t, "alice", a.CreatedBy)
}

func TestIndexesByTypeAndCreator(t *testing.T) {
	s := newStore()
	_, _ = s.Write(store.WriteParams{ID: "x", Type: types.ArtifactData, CreatedBy: "alice"})
	_, _ = s.Write(store.WriteParams{ID: "y", Type: types.ArtifactData, CreatedBy: "bob"})

	assert.ElementsMatch(t, []string{"x", "y"}, s.ByType(types.ArtifactData))
	assert.Equal(t, []string{"x"}, s.ByCreator("alice"))
}

func TestByMetadataDotNotation(t *testing.T) {
	s := store.New(store.Config{IndexedMetadataFields: []string{"tags.priority"}})
	_, err := s.Write(store.WriteParams{
		ID: "x", Type: types.ArtifactData, CreatedBy: "alice",
		Metadata: map[string]any{"tags": map[string]any{"priority": "high"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"x"}, s.ByMetadata("tags.priority", "high"))
}

func TestInvokesExtractedFromCode(t *testing.T) {
	s := newStore()
	a, err := s.Write(store.WriteParams{
		ID: "a", Type: types.ArtifactExecutable, CreatedBy: "alice", Executable: true,
		Code: `func run() { invoke("b", "run") }`,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, a.Metadata["invokes"])
}
