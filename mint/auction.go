// Package mint implements both reward subsystems: the second-price
// MintAuction and the deterministic, test-driven MintTasks.
package mint

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/agora/ledger"
	"github.com/justapithecus/agora/store"
	"github.com/justapithecus/agora/types"
)

// Error is a mint-subsystem failure.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func errf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Scorer is the injected quality-scoring interface for the winning
// artifact of each auction round.
type Scorer interface {
	Score(ctx context.Context, artifactID string, artifactType types.ArtifactType, content []byte) (types.ScoreResult, error)
}

// Auction maintains held bids and resolution history for the
// second-price mint auction.
type Auction struct {
	ledger *ledger.Ledger
	store  *store.Store
	scorer Scorer

	mintRatio  int64
	ubiSink    string
	maxHistory int

	submissions map[string]*types.MintSubmission
	order       []string // submission ids, earliest first
	heldBids    map[string]int64
	history     []types.MintResolution
}

// NewAuction constructs an Auction. mintRatio divides a scorer's
// integer score to produce the mint amount; ubiSink receives any
// indivisible UBI remainder.
func NewAuction(l *ledger.Ledger, s *store.Store, scorer Scorer, mintRatio int64, ubiSink string, maxHistory int) *Auction {
	if maxHistory <= 0 {
		maxHistory = 100
	}
	return &Auction{
		ledger: l, store: s, scorer: scorer,
		mintRatio: mintRatio, ubiSink: ubiSink, maxHistory: maxHistory,
		submissions: make(map[string]*types.MintSubmission),
		heldBids:    make(map[string]int64),
	}
}

// Submit escrows bid from principal and records a submission for
// artifactID, which must exist, be executable, and be controlled by
// principal.
func (a *Auction) Submit(principal, artifactID string, bid int64) (*types.MintSubmission, error) {
	art, ok := a.store.GetLive(artifactID)
	if !ok {
		return nil, errf("not_found", "artifact %s does not exist", artifactID)
	}
	if !art.Executable {
		return nil, errf("validation", "artifact %s is not executable", artifactID)
	}
	if art.Controller() != principal {
		return nil, errf("permission", "principal %s does not control artifact %s", principal, artifactID)
	}
	if bid <= 0 {
		return nil, errf("validation", "bid must be positive")
	}
	if !a.ledger.CanAfford(principal, bid) {
		return nil, errf("insufficient_funds", "principal %s cannot afford bid %d", principal, bid)
	}

	if err := a.ledger.Debit(principal, bid); err != nil {
		return nil, err
	}

	sub := &types.MintSubmission{
		SubmissionID: uuid.NewString(), PrincipalID: principal, ArtifactID: artifactID,
		Bid: bid, SubmittedAt: time.Now().UTC(),
	}
	a.submissions[sub.SubmissionID] = sub
	a.order = append(a.order, sub.SubmissionID)
	a.heldBids[principal] += bid

	return sub, nil
}

// Cancel refunds the bid and removes the submission. Only the
// submission's own principal may cancel it.
func (a *Auction) Cancel(principal, submissionID string) error {
	sub, ok := a.submissions[submissionID]
	if !ok {
		return errf("not_found", "submission %s does not exist", submissionID)
	}
	if sub.PrincipalID != principal {
		return errf("permission", "principal %s does not own submission %s", principal, submissionID)
	}

	if err := a.ledger.Credit(principal, sub.Bid); err != nil {
		return err
	}
	a.heldBids[principal] -= sub.Bid
	delete(a.submissions, submissionID)
	a.removeFromOrder(submissionID)
	return nil
}

func (a *Auction) removeFromOrder(id string) {
	for i, o := range a.order {
		if o == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			return
		}
	}
}

// ResolutionEffect is the fully-computed settlement of one resolve()
// call, returned so the caller (kernel.World.ResolveMint) can emit the
// mint_auction_resolved event with the same data.
type ResolutionEffect struct {
	WinnerID       string
	ArtifactID     string
	PricePaid      int64
	Score          int
	Reason         string
	Minted         int64
	UBIDistributed int64
	ScoringFailed  bool
}

// Resolve picks the highest bidder (ties broken by submission order),
// refunds everyone else in full, refunds the winner the second-price
// difference, scores the winning artifact, mints score/mint_ratio to
// the winner, and distributes the price paid as UBI across every other
// standing principal. All effects are atomic: if scoring fails, no
// mint or UBI happens, but refunds still occur. Submissions are
// cleared on return (success or scoring failure alike).
func (a *Auction) Resolve(ctx context.Context, standingPrincipals []string) (*ResolutionEffect, error) {
	if len(a.order) == 0 {
		return nil, errf("no_submissions", "no submissions to resolve")
	}

	winnerIdx := 0
	for i, id := range a.order {
		if a.submissions[id].Bid > a.submissions[a.order[winnerIdx]].Bid {
			winnerIdx = i
		}
	}
	winnerSub := a.submissions[a.order[winnerIdx]]

	var secondHighest int64
	found := false
	for i, id := range a.order {
		if i == winnerIdx {
			continue
		}
		bid := a.submissions[id].Bid
		if !found || bid > secondHighest {
			secondHighest = bid
			found = true
		}
	}
	price := int64(1)
	if found {
		price = secondHighest
	}
	if price > winnerSub.Bid {
		price = winnerSub.Bid
	}

	// Refund every non-winner in full, then refund the winner's
	// overbid (bid - price).
	for _, id := range a.order {
		sub := a.submissions[id]
		if id == a.order[winnerIdx] {
			continue
		}
		if err := a.ledger.Credit(sub.PrincipalID, sub.Bid); err != nil {
			return nil, err
		}
		a.heldBids[sub.PrincipalID] -= sub.Bid
	}
	refund := winnerSub.Bid - price
	if refund > 0 {
		if err := a.ledger.Credit(winnerSub.PrincipalID, refund); err != nil {
			return nil, err
		}
	}
	a.heldBids[winnerSub.PrincipalID] -= winnerSub.Bid

	effect := &ResolutionEffect{WinnerID: winnerSub.PrincipalID, ArtifactID: winnerSub.ArtifactID, PricePaid: price}

	art, ok := a.store.GetLive(winnerSub.ArtifactID)
	if !ok {
		effect.ScoringFailed = true
	} else {
		score, err := a.scorer.Score(ctx, art.ID, art.Type, art.Content)
		if err != nil {
			effect.ScoringFailed = true
		} else {
			effect.Score = score.Score
			effect.Reason = score.Reason
			effect.Minted = int64(score.Score) / a.mintRatio
			if effect.Minted > 0 {
				if err := a.ledger.Credit(winnerSub.PrincipalID, effect.Minted); err != nil {
					return nil, err
				}
			}
			if err := a.ledger.DistributeUBI(price, standingPrincipals, winnerSub.PrincipalID, a.ubiSink); err != nil {
				return nil, err
			}
			effect.UBIDistributed = price
		}
	}

	a.history = append(a.history, types.MintResolution{
		ResolvedAt: time.Now().UTC(), WinnerID: effect.WinnerID, ArtifactID: effect.ArtifactID,
		PricePaid: effect.PricePaid, Score: effect.Score, Reason: effect.Reason,
		Minted: effect.Minted, UBIDistributed: effect.UBIDistributed,
	})
	if len(a.history) > a.maxHistory {
		a.history = a.history[len(a.history)-a.maxHistory:]
	}

	a.submissions = make(map[string]*types.MintSubmission)
	a.order = nil

	return effect, nil
}

// History returns the bounded list of past resolutions, oldest first.
func (a *Auction) History() []types.MintResolution {
	out := make([]types.MintResolution, len(a.history))
	copy(out, a.history)
	return out
}

// Submissions returns the currently held submissions.
func (a *Auction) Submissions() []*types.MintSubmission {
	out := make([]*types.MintSubmission, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.submissions[id])
	}
	return out
}

// HeldBid returns the total currently escrowed for a principal.
func (a *Auction) HeldBid(principal string) int64 {
	return a.heldBids[principal]
}

// RestoreState reloads held submissions and resolution history from a
// checkpoint. The escrowed bids it describes were already debited from
// ledger balances before the checkpoint was taken, so this never
// touches the ledger; it only rebuilds the auction's own bookkeeping.
// Restore-only: never call this from Submit or Resolve.
func (a *Auction) RestoreState(submissions []*types.MintSubmission, history []types.MintResolution) {
	sorted := make([]*types.MintSubmission, len(submissions))
	copy(sorted, submissions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SubmittedAt.Before(sorted[j].SubmittedAt) })

	a.submissions = make(map[string]*types.MintSubmission, len(sorted))
	a.order = make([]string, 0, len(sorted))
	a.heldBids = make(map[string]int64, len(sorted))
	for _, sub := range sorted {
		a.submissions[sub.SubmissionID] = sub
		a.order = append(a.order, sub.SubmissionID)
		a.heldBids[sub.PrincipalID] += sub.Bid
	}

	a.history = append([]types.MintResolution(nil), history...)
	if len(a.history) > a.maxHistory {
		a.history = a.history[len(a.history)-a.maxHistory:]
	}
}
