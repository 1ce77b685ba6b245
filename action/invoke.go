package action

import (
	"context"
	"time"

	"github.com/justapithecus/agora/contract"
	"github.com/justapithecus/agora/delegation"
	"github.com/justapithecus/agora/ledger"
	"github.com/justapithecus/agora/sandbox"
	"github.com/justapithecus/agora/store"
	"github.com/justapithecus/agora/types"
)

// invokeError is the internal failure shape threaded through the
// recursive invoke pipeline; doInvoke translates it to an ActionResult
// at the top-level boundary only.
type invokeError struct {
	Category  types.ErrorCategory
	Code      string
	Message   string
	Retriable bool
}

func (e *invokeError) Error() string { return e.Message }

func invokeFail(category types.ErrorCategory, code, message string, retriable bool) *invokeError {
	return &invokeError{Category: category, Code: code, Message: message, Retriable: retriable}
}

// invokeTrace accumulates the nested invocation list for one top-level
// invoke intent. Nested invocations are never individually logged; the
// top-level event carries the full trace as a single batch.
type invokeTrace struct {
	nested []sandbox.NestedInvocation
}

func (t *invokeTrace) add(n sandbox.NestedInvocation) { t.nested = append(t.nested, n) }

// invokeDeadline bounds one sandbox call. A fixed default; a production
// kernel would read this from configuration per artifact or policy.
const invokeDeadline = 5 * time.Second

func (e *Executor) doInvoke(caller string, env types.Envelope) *types.ActionResult {
	if env.ArtifactID == "" || env.Method == "" {
		return types.Fail(types.CategoryValidation, "missing_argument", "artifact_id and method are required", false)
	}

	trace := &invokeTrace{}
	value, priceBreakdown, ierr := e.invoke(caller, env.ArtifactID, env.Method, env.Args, env.ChargeTo, 0, trace)
	if ierr != nil {
		return types.Fail(ierr.Category, ierr.Code, ierr.Message, ierr.Retriable)
	}

	e.record(types.EventArtifactInvoked, caller, env.Reasoning, map[string]any{
		"artifact_id": env.ArtifactID, "method": env.Method,
		"price_paid": priceBreakdown, "nested_invocations": trace.nested,
	})
	return types.Ok("invoked", map[string]any{
		"result": value, "price_paid": priceBreakdown, "nested_invocations": trace.nested,
	})
}

// invoke is the pipeline of §4.6.1, re-entered once per dependency hop.
// The top-level caller is preserved through every nested call so
// resource and charge attribution always flows to whoever proposed the
// original intent, never to an intermediate artifact.
func (e *Executor) invoke(caller, artifactID, method string, args []any, chargeTo string, depth int, trace *invokeTrace) (any, int64, *invokeError) {
	if depth > e.maxDepth {
		return nil, 0, invokeFail(types.CategoryExecution, "depth_exceeded", "invoke chain exceeds max depth", false)
	}

	art, ok := e.store.GetLive(artifactID)
	if !ok {
		return nil, 0, invokeFail(types.CategoryResource, "not_found", "artifact does not exist", false)
	}
	if !art.Executable {
		return nil, 0, invokeFail(types.CategoryValidation, "not_executable", "artifact is not executable", false)
	}
	if !checkPermission(art, caller, contract.ActionInvoke) {
		return nil, 0, invokeFail(types.CategoryPermission, "permission_denied", "caller may not invoke this artifact", false)
	}

	price := art.Policy.InvokePrice
	payer, perr := delegation.ResolvePayer(chargeTo, caller, art)
	if perr != nil {
		return nil, 0, invokeFail(types.CategoryValidation, "invalid_argument", perr.Error(), false)
	}

	delegated := payer != caller
	if delegated {
		if e.delegation == nil {
			return nil, 0, invokeFail(types.CategoryPermission, "permission_denied", "no delegation available", false)
		}
		if ok, reason := e.delegation.AuthorizeCharge(caller, payer, price); !ok {
			return nil, 0, invokeFail(types.CategoryPermission, "permission_denied", reason, false)
		}
	} else if price > 0 && !e.ledger.CanAfford(payer, price) {
		return nil, 0, invokeFail(types.CategoryResource, "insufficient_funds", "payer cannot afford invoke price", false)
	}

	deps := make(map[string]sandbox.DependencyInvoker, len(art.DependsOn))
	for _, depID := range art.DependsOn {
		depID := depID
		deps[depID] = func(method string, args []any) (any, error) {
			value, _, derr := e.invoke(caller, depID, method, args, "", depth+1, trace)
			if derr != nil {
				trace.add(sandbox.NestedInvocation{ArtifactID: depID, Method: method, Args: args, Success: false})
				return nil, derr
			}
			trace.add(sandbox.NestedInvocation{ArtifactID: depID, Method: method, Args: args, Success: true})
			return value, nil
		}
	}

	kernelCap := sandbox.KernelCapability{
		Invoke: func(targetID, method string, args []any) (any, error) {
			value, _, derr := e.invoke(caller, targetID, method, args, "", depth+1, trace)
			if derr != nil {
				return nil, derr
			}
			return value, nil
		},
		ReadContent: func(targetID string) ([]byte, error) {
			target, ok := e.store.GetLive(targetID)
			if !ok {
				return nil, invokeFail(types.CategoryResource, "not_found", "artifact does not exist", false)
			}
			if !checkPermission(target, caller, contract.ActionRead) {
				return nil, invokeFail(types.CategoryPermission, "permission_denied", "caller may not read this artifact", false)
			}
			return target.Content, nil
		},
		WriteContent: func(targetID string, content []byte) error {
			target, ok := e.store.GetLive(targetID)
			if !ok {
				return invokeFail(types.CategoryResource, "not_found", "artifact does not exist", false)
			}
			if !checkPermission(target, caller, contract.ActionWrite) {
				return invokeFail(types.CategoryPermission, "permission_denied", "caller may not write this artifact", false)
			}
			_, err := e.store.Write(store.WriteParams{
				ID: target.ID, Type: target.Type, Caller: caller, CreatedBy: target.CreatedBy,
				Content: content, Code: target.Code, Executable: target.Executable,
				AccessContractID: contract.ID(target.AccessContractID), Metadata: target.Metadata,
				DependsOn: target.DependsOn, Interface: target.Interface, Now: time.Now().UTC(),
			})
			return err
		},
	}

	res, err := e.sandbox.Execute(context.Background(), sandbox.Request{
		Code: art.Code, Method: method, Args: args, CallerID: caller, ArtifactID: art.ID,
		Dependencies: deps, Kernel: kernelCap, Deadline: time.Now().Add(invokeDeadline),
	})

	// Partial resource consumption is deducted from the caller regardless
	// of outcome.
	if res.Resources.CPUSeconds > 0 {
		e.ledger.DeductResource(caller, ledger.ComputeResource, res.Resources.CPUSeconds)
	}
	if res.Resources.MemoryBytes > 0 {
		e.ledger.DeductResource(caller, "memory_bytes", float64(res.Resources.MemoryBytes))
	}

	if err != nil {
		if _, ok := err.(*sandbox.ErrTimeout); ok {
			return nil, 0, invokeFail(types.CategoryExecution, "timeout", err.Error(), true)
		}
		return nil, 0, invokeFail(types.CategoryExecution, "execution_error", err.Error(), false)
	}
	if !res.Success {
		return nil, 0, invokeFail(types.CategoryExecution, "execution_failed", res.Err, false)
	}

	if price > 0 {
		if err := e.ledger.Transfer(payer, art.Controller(), price); err != nil {
			return nil, 0, invokeFail(types.CategoryResource, "insufficient_funds", err.Error(), false)
		}
		if delegated {
			// Best-effort: the ledger transfer above already settled the
			// charge. A failure here only means this charge is missing
			// from the rolling window used for future max_per_window
			// checks, not that the charge itself didn't happen.
			_ = e.delegation.RecordCharge(payer, caller, price)
		}
	}

	return res.Value, price, nil
}
