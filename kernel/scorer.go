package kernel

import (
	"context"
	"time"

	"github.com/justapithecus/agora/sandbox"
	"github.com/justapithecus/agora/store"
	"github.com/justapithecus/agora/types"
)

// scoringMax bounds the score SandboxScorer reports, matching the
// documented [0, scoring_max] range a scorer must stay within.
const scoringMax = 1000

// scoreDeadline bounds a self-scoring invocation the same way an
// ordinary invoke is bounded.
const scoreDeadline = 5 * time.Second

// SandboxScorer is the kernel's default mint.Scorer. If the winning
// artifact declares a "score" method in its interface, that method is
// invoked (sandboxed, deadline-bound, same as any other invoke) and its
// numeric return becomes the score. Otherwise the artifact is scored by
// a deterministic content-length heuristic. Neither path calls out to
// an external model: that integration, if any, lives outside the
// kernel entirely.
type SandboxScorer struct {
	store   *store.Store
	sandbox sandbox.Executor
}

// NewSandboxScorer constructs the default scorer from the same store
// and sandbox the kernel already owns.
func NewSandboxScorer(s *store.Store, exec sandbox.Executor) *SandboxScorer {
	return &SandboxScorer{store: s, sandbox: exec}
}

// Score implements mint.Scorer.
func (sc *SandboxScorer) Score(ctx context.Context, artifactID string, _ types.ArtifactType, content []byte) (types.ScoreResult, error) {
	art, ok := sc.store.GetLive(artifactID)
	if ok && art.Interface != nil {
		if _, hasScore := art.Interface.Methods["score"]; hasScore {
			res, err := sc.sandbox.Execute(ctx, sandbox.Request{
				Code: art.Code, Method: "score", ArtifactID: artifactID,
				CallerID: art.Controller(), Deadline: time.Now().Add(scoreDeadline),
			})
			if err == nil && res.Success {
				if score, ok := numericScore(res.Value); ok {
					return types.ScoreResult{Score: clampScore(score), Reason: "self-reported via score method"}, nil
				}
			}
			// Self-scoring is advisory, never a hard dependency of
			// resolution: fall through to the heuristic on any failure.
		}
	}
	return heuristicScore(content), nil
}

func heuristicScore(content []byte) types.ScoreResult {
	return types.ScoreResult{Score: clampScore(len(content)), Reason: "content-length heuristic (no declared score method)"}
}

func numericScore(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > scoringMax {
		return scoringMax
	}
	return score
}
