package sandbox

import (
	"context"
	"fmt"
	"strings"
)

// GenesisSentinelPrefix marks an executable artifact's Code field as a
// kernel-internal handler rather than interpretable source. Genesis
// artifacts (genesis_mint, genesis_ubi_sink, genesis_kernel, ...) are
// executable artifacts whose code is one of these sentinels: the same
// invoke pipeline and the same dispatch-by-method-name rule applies to
// them as to ordinary code, unifying "kernel builtin" and "user
// executable" into one invocation model.
const GenesisSentinelPrefix = "!genesis:"

// GenesisHandler implements one genesis artifact's method dispatch.
type GenesisHandler func(ctx context.Context, req Request) (Result, error)

// GenesisExecutor dispatches genesis-sentinel code to a registered
// Go-native handler instead of interpreting it. Falls through to an
// inner Executor (normally YaegiExecutor) for ordinary code.
type GenesisExecutor struct {
	handlers map[string]GenesisHandler
	inner    Executor
}

// NewGenesisExecutor wraps inner, adding genesis-sentinel dispatch.
func NewGenesisExecutor(inner Executor) *GenesisExecutor {
	return &GenesisExecutor{handlers: make(map[string]GenesisHandler), inner: inner}
}

// Register installs the handler for one genesis artifact name (without
// the sentinel prefix, e.g. "mint" for "!genesis:mint").
func (g *GenesisExecutor) Register(name string, handler GenesisHandler) {
	g.handlers[name] = handler
}

// GenesisName extracts the handler name from a sentinel code string, or
// ("", false) if code is not a genesis sentinel.
func GenesisName(code string) (string, bool) {
	if !strings.HasPrefix(code, GenesisSentinelPrefix) {
		return "", false
	}
	return strings.TrimPrefix(code, GenesisSentinelPrefix), true
}

// Execute dispatches by sentinel if present, otherwise delegates to the
// inner executor.
func (g *GenesisExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	name, ok := GenesisName(req.Code)
	if !ok {
		return g.inner.Execute(ctx, req)
	}
	handler, ok := g.handlers[name]
	if !ok {
		return Result{Success: false, Err: fmt.Sprintf("no genesis handler registered for %q", name)}, nil
	}
	return handler(ctx, req)
}
