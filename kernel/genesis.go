package kernel

import (
	"context"
	"fmt"

	"github.com/justapithecus/agora/sandbox"
)

// registerGenesisHandlers wires the fixed genesis_* artifacts to
// Go-native handlers. This is the only place genesis behavior is
// special-cased: once registered, an agent invokes genesis_kernel or
// genesis_mint through the same invoke_artifact pipeline as any other
// executable artifact.
func (w *World) registerGenesisHandlers(g *sandbox.GenesisExecutor) {
	g.Register("kernel", w.genesisKernelHandler)
	g.Register("mint", w.genesisMintHandler)
	g.Register("ubi_sink", w.genesisUBISinkHandler)
}

// genesisKernelHandler exposes balance and transfer as invokable
// methods on genesis_kernel, the same two operations every principal
// otherwise reaches via query_kernel and the transfer intent, unified
// here under one kernel-owned artifact any agent can call by id.
func (w *World) genesisKernelHandler(_ context.Context, req sandbox.Request) (sandbox.Result, error) {
	switch req.Method {
	case "balance":
		return sandbox.Result{Success: true, Value: w.ledger.Balance(req.CallerID)}, nil
	case "transfer":
		if len(req.Args) != 2 {
			return sandbox.Result{Success: false, Err: "transfer requires (to, amount)"}, nil
		}
		to, ok := req.Args[0].(string)
		if !ok {
			return sandbox.Result{Success: false, Err: "to must be a string"}, nil
		}
		amount, ok := toInt64(req.Args[1])
		if !ok {
			return sandbox.Result{Success: false, Err: "amount must be numeric"}, nil
		}
		if err := w.ledger.Transfer(req.CallerID, to, amount); err != nil {
			return sandbox.Result{Success: false, Err: err.Error()}, nil
		}
		return sandbox.Result{Success: true, Value: map[string]any{"from": req.CallerID, "to": to, "amount": amount}}, nil
	default:
		return sandbox.Result{Success: false, Err: fmt.Sprintf("genesis_kernel has no method %q", req.Method)}, nil
	}
}

// genesisMintHandler lets an agent check its own standing in the
// current auction round without going through query_kernel.
func (w *World) genesisMintHandler(_ context.Context, req sandbox.Request) (sandbox.Result, error) {
	switch req.Method {
	case "status":
		return sandbox.Result{Success: true, Value: map[string]any{
			"pending_submissions": len(w.auction.Submissions()),
			"held_bid":            w.auction.HeldBid(req.CallerID),
		}}, nil
	default:
		return sandbox.Result{Success: false, Err: fmt.Sprintf("genesis_mint has no method %q", req.Method)}, nil
	}
}

// genesisUBISinkHandler reports the sink's accumulated balance —
// mostly a debugging convenience, since the sink otherwise just sits
// in the ledger under cfg.UBISinkID.
func (w *World) genesisUBISinkHandler(_ context.Context, req sandbox.Request) (sandbox.Result, error) {
	switch req.Method {
	case "balance":
		return sandbox.Result{Success: true, Value: w.ledger.Balance(w.cfg.UBISinkID)}, nil
	default:
		return sandbox.Result{Success: false, Err: fmt.Sprintf("genesis_ubi_sink has no method %q", req.Method)}, nil
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
