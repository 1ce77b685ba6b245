package mint_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justapithecus/agora/ledger"
	"github.com/justapithecus/agora/mint"
	"github.com/justapithecus/agora/store"
	"github.com/justapithecus/agora/types"
)

type fixedScorer struct {
	score  int
	reason string
	err    error
}

func (f fixedScorer) Score(ctx context.Context, artifactID string, artifactType types.ArtifactType, content []byte) (types.ScoreResult, error) {
	if f.err != nil {
		return types.ScoreResult{}, f.err
	}
	return types.ScoreResult{Score: f.score, Reason: f.reason}, nil
}

func writeExecutable(t *testing.T, s *store.Store, id, creator string) {
	t.Helper()
	_, err := s.Write(store.WriteParams{
		ID: id, Type: types.ArtifactExecutable, CreatedBy: creator, Executable: true,
		Code: "func Run(args []any) (any, error) { return nil, nil }",
	})
	require.NoError(t, err)
}

func newAuctionFixture(t *testing.T, score int) (*mint.Auction, *ledger.Ledger, *store.Store) {
	t.Helper()
	l := ledger.New()
	s := store.New(store.Config{})
	for _, p := range []string{"alice", "bob", "carol"} {
		l.Credit(p, 1000)
	}
	a := mint.NewAuction(l, s, fixedScorer{score: score, reason: "ok"}, 10, "ubi_sink", 50)
	return a, l, s
}

func TestAuctionSecondPriceResolution(t *testing.T) {
	a, l, s := newAuctionFixture(t, 100)
	writeExecutable(t, s, "x1", "alice")
	writeExecutable(t, s, "x2", "bob")
	writeExecutable(t, s, "x3", "carol")

	_, err := a.Submit("alice", "x1", 40)
	require.NoError(t, err)
	_, err = a.Submit("bob", "x2", 25)
	require.NoError(t, err)
	_, err = a.Submit("carol", "x3", 10)
	require.NoError(t, err)

	assert.Equal(t, int64(960), l.Balance("alice"))
	assert.Equal(t, int64(975), l.Balance("bob"))
	assert.Equal(t, int64(990), l.Balance("carol"))

	effect, err := a.Resolve(context.Background(), []string{"alice", "bob", "carol"})
	require.NoError(t, err)

	assert.Equal(t, "alice", effect.WinnerID)
	assert.Equal(t, int64(25), effect.PricePaid)
	assert.Equal(t, 100, effect.Score)
	assert.Equal(t, int64(10), effect.Minted)
	assert.Equal(t, int64(25), effect.UBIDistributed)

	// alice: 1000 - 40 (bid) + 15 (overbid refund) + 10 (mint) = 985
	assert.Equal(t, int64(985), l.Balance("alice"))
	// bob and carol each get an even share of the 25 UBI (12 each); the
	// 1-unit remainder goes to the sink, not either recipient.
	assert.Equal(t, int64(1012), l.Balance("bob"))
	assert.Equal(t, int64(1012), l.Balance("carol"))
	assert.Equal(t, int64(1), l.Balance("ubi_sink"))

	assert.Empty(t, a.Submissions())
	assert.Len(t, a.History(), 1)
}

func TestAuctionSingleSubmissionPaysMinimumPrice(t *testing.T) {
	a, l, s := newAuctionFixture(t, 50)
	writeExecutable(t, s, "x1", "alice")

	_, err := a.Submit("alice", "x1", 40)
	require.NoError(t, err)

	effect, err := a.Resolve(context.Background(), []string{"alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), effect.PricePaid)
	// refunded 39 of the 40 bid, plus mint of 5
	assert.Equal(t, int64(1000-40+39+5), l.Balance("alice"))
}

func TestAuctionScoringFailureSkipsMintAndUBI(t *testing.T) {
	l := ledger.New()
	s := store.New(store.Config{})
	l.Credit("alice", 1000)
	l.Credit("bob", 1000)
	a := mint.NewAuction(l, s, fixedScorer{err: assertErr{}}, 10, "ubi_sink", 50)

	writeExecutable(t, s, "x1", "alice")
	writeExecutable(t, s, "x2", "bob")
	_, err := a.Submit("alice", "x1", 40)
	require.NoError(t, err)
	_, err = a.Submit("bob", "x2", 10)
	require.NoError(t, err)

	effect, err := a.Resolve(context.Background(), []string{"alice", "bob"})
	require.NoError(t, err)
	assert.True(t, effect.ScoringFailed)
	assert.Zero(t, effect.Minted)
	assert.Zero(t, effect.UBIDistributed)
	// refunds still occurred: alice refunded overbid (40-10=30), bob refunded in full (10)
	assert.Equal(t, int64(1000-40+30), l.Balance("alice"))
	assert.Equal(t, int64(1000), l.Balance("bob"))
}

type assertErr struct{}

func (assertErr) Error() string { return "scoring unavailable" }

func TestAuctionSubmitRejectsNonController(t *testing.T) {
	a, _, s := newAuctionFixture(t, 10)
	writeExecutable(t, s, "x1", "alice")
	_, err := a.Submit("bob", "x1", 5)
	assert.Error(t, err)
}

func TestAuctionCancelRefundsAndRemoves(t *testing.T) {
	a, l, s := newAuctionFixture(t, 10)
	writeExecutable(t, s, "x1", "alice")
	sub, err := a.Submit("alice", "x1", 40)
	require.NoError(t, err)

	require.NoError(t, a.Cancel("alice", sub.SubmissionID))
	assert.Equal(t, int64(1000), l.Balance("alice"))
	assert.Empty(t, a.Submissions())
	assert.Zero(t, a.HeldBid("alice"))
}

func TestAuctionCancelRejectsNonOwner(t *testing.T) {
	a, _, s := newAuctionFixture(t, 10)
	writeExecutable(t, s, "x1", "alice")
	sub, err := a.Submit("alice", "x1", 40)
	require.NoError(t, err)

	err = a.Cancel("bob", sub.SubmissionID)
	assert.Error(t, err)
}

func TestAuctionHistoryIsBounded(t *testing.T) {
	l := ledger.New()
	s := store.New(store.Config{})
	l.Credit("alice", 1_000_000)
	a := mint.NewAuction(l, s, fixedScorer{score: 10}, 10, "ubi_sink", 2)

	for i := 0; i < 3; i++ {
		id := "x" + string(rune('0'+i))
		writeExecutable(t, s, id, "alice")
		_, err := a.Submit("alice", id, 5)
		require.NoError(t, err)
		_, err = a.Resolve(context.Background(), []string{"alice"})
		require.NoError(t, err)
	}
	assert.Len(t, a.History(), 2)
}
