package rights_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justapithecus/agora/rights"
	"github.com/justapithecus/agora/store"
	"github.com/justapithecus/agora/types"
)

func newRegistry() *rights.Registry {
	s := store.New(store.Config{})
	return rights.New(s, "kernel")
}

func TestCreateAndGetRightData(t *testing.T) {
	r := newRegistry()
	art, err := r.Create("alice", types.RightDollarBudget, "usd", 100, "", 0)
	require.NoError(t, err)

	data, err := r.GetRightData(art.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, data.Amount)
	assert.Equal(t, "alice", art.Controller())
}

func TestSplitThenMergePreservesTotal(t *testing.T) {
	r := newRegistry()
	art, err := r.Create("alice", types.RightDollarBudget, "usd", 100, "", 0)
	require.NoError(t, err)

	children, err := r.Split(art.ID, []float64{30, 70}, "alice")
	require.NoError(t, err)
	require.Len(t, children, 2)

	ids := []string{children[0].ID, children[1].ID}
	merged, err := r.Merge(ids, "alice", "")
	require.NoError(t, err)

	data, err := r.GetRightData(merged.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, data.Amount)
}

func TestSplitRejectsMismatchedSum(t *testing.T) {
	r := newRegistry()
	art, err := r.Create("alice", types.RightDollarBudget, "usd", 100, "", 0)
	require.NoError(t, err)

	_, err = r.Split(art.ID, []float64{30, 30}, "alice")
	require.Error(t, err)
}

func TestSplitRejectsNonOwner(t *testing.T) {
	r := newRegistry()
	art, err := r.Create("alice", types.RightDollarBudget, "usd", 100, "", 0)
	require.NoError(t, err)

	_, err = r.Split(art.ID, []float64{50, 50}, "bob")
	require.Error(t, err)
	var rerr *rights.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "permission", rerr.Code)
}

func TestTotalAmountSumsMatchingRights(t *testing.T) {
	r := newRegistry()
	_, err := r.Create("alice", types.RightRateCapacity, "calls", 10, "gpt", 60)
	require.NoError(t, err)
	_, err = r.Create("alice", types.RightRateCapacity, "calls", 15, "gpt", 60)
	require.NoError(t, err)
	_, err = r.Create("alice", types.RightRateCapacity, "calls", 5, "other-model", 60)
	require.NoError(t, err)

	total, err := r.TotalAmount("alice", types.RightRateCapacity, "gpt")
	require.NoError(t, err)
	assert.Equal(t, 25.0, total)
}
