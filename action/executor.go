// Package action implements the ActionExecutor: intent parsing,
// contract-based permission checks, the invoke pipeline (with nested
// dependency composition and settlement atomicity), and transfer/mint
// dispatch. Every public entry point returns a types.ActionResult; no
// caller of Submit ever needs to type-switch on error.
package action

import (
	"context"
	"fmt"
	"time"

	"github.com/justapithecus/agora/contract"
	"github.com/justapithecus/agora/delegation"
	"github.com/justapithecus/agora/eventlog"
	"github.com/justapithecus/agora/ledger"
	"github.com/justapithecus/agora/mint"
	"github.com/justapithecus/agora/query"
	"github.com/justapithecus/agora/sandbox"
	"github.com/justapithecus/agora/store"
	"github.com/justapithecus/agora/trigger"
	"github.com/justapithecus/agora/types"
)

// DefaultMaxInvokeDepth bounds nested invoke chains absent explicit
// configuration.
const DefaultMaxInvokeDepth = 5

// Config bundles an Executor's collaborators. Store, Ledger, and Sandbox
// are required. Events and Triggers may be nil (nothing is recorded or
// queued); Delegation, Auction, Tasks, and Queries may be nil when the
// intents that use them are never submitted. MaxInvokeDepth defaults to
// DefaultMaxInvokeDepth and Now to time.Now.
type Config struct {
	Store          *store.Store
	Ledger         *ledger.Ledger
	Sandbox        sandbox.Executor
	Delegation     *delegation.Manager
	Auction        *mint.Auction
	Tasks          *mint.Tasks
	Events         *eventlog.EventLog
	Triggers       *trigger.Registry
	Queries        *query.Handler
	MaxInvokeDepth int
	Now            func() time.Time
}

// Executor dispatches one types.Envelope at a time, exactly as the
// kernel submits them: serialized, with no suspension inside one
// intent except the sandboxed call.
type Executor struct {
	store      *store.Store
	ledger     *ledger.Ledger
	sandbox    sandbox.Executor
	delegation *delegation.Manager
	auction    *mint.Auction
	tasks      *mint.Tasks
	events     *eventlog.EventLog
	triggers   *trigger.Registry
	queries    *query.Handler
	maxDepth   int
	now        func() time.Time
}

// New constructs an Executor from its collaborators.
func New(cfg Config) *Executor {
	maxDepth := cfg.MaxInvokeDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxInvokeDepth
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Executor{
		store: cfg.Store, ledger: cfg.Ledger, sandbox: cfg.Sandbox,
		delegation: cfg.Delegation, auction: cfg.Auction, tasks: cfg.Tasks,
		events: cfg.Events, triggers: cfg.Triggers, queries: cfg.Queries, maxDepth: maxDepth, now: now,
	}
}

// Submit parses and dispatches one envelope on behalf of caller. The
// reasoning string is attached verbatim to whatever event gets
// recorded, for traceability; the kernel never interprets it.
func (e *Executor) Submit(caller string, env types.Envelope) *types.ActionResult {
	switch env.ActionType {
	case types.IntentNoop, "":
		return e.doNoop(caller, env)
	case types.IntentReadArtifact:
		return e.doRead(caller, env)
	case types.IntentWriteArtifact:
		return e.doWrite(caller, env)
	case types.IntentEditArtifact:
		return e.doEdit(caller, env)
	case types.IntentDeleteArtifact:
		return e.doDelete(caller, env)
	case types.IntentInvokeArtifact:
		return e.doInvoke(caller, env)
	case types.IntentSubscribeArtifact, types.IntentUnsubscribeArtifact:
		return e.doSubscription(caller, env)
	case types.IntentSubmitToMint:
		return e.doSubmitToMint(caller, env)
	case types.IntentSubmitToTask:
		return e.doSubmitToTask(caller, env)
	case types.IntentTransfer:
		return e.doTransfer(caller, env)
	case types.IntentMint:
		return e.doMint(caller, env)
	case types.IntentConfigureContext, types.IntentModifySystemPrompt:
		return e.doConfigure(caller, env)
	case types.IntentQueryKernel:
		return e.doQuery(caller, env)
	default:
		return types.Fail(types.CategoryValidation, "invalid_argument",
			fmt.Sprintf("unknown action_type %q", env.ActionType), false)
	}
}

func (e *Executor) record(eventType types.EventType, actor, reasoning string, payload map[string]any) {
	if e.events == nil {
		return
	}
	if _, err := e.events.Append(eventType, actor, reasoning, payload); err != nil {
		return
	}
	if e.triggers != nil {
		recent := e.events.ReadRecent(1)
		if len(recent) == 1 {
			e.triggers.QueueMatchingInvocations(recent[0])
			e.triggers.FireScheduledTriggers(recent[0].EventNumber)
		}
	}
}

func (e *Executor) doNoop(caller string, env types.Envelope) *types.ActionResult {
	e.record(types.EventNoop, caller, env.Reasoning, nil)
	return types.Ok("noop", nil)
}

// checkPermission consults the artifact's access contract. A missing
// artifact is not a permission question; callers check existence first.
func checkPermission(art *types.Artifact, caller string, action contract.Action) bool {
	isOwner := art.Controller() == caller
	return contract.Check(contract.ID(art.AccessContractID), action, isOwner)
}

func (e *Executor) doRead(caller string, env types.Envelope) *types.ActionResult {
	art, ok := e.store.GetLive(env.ArtifactID)
	if !ok {
		return types.Fail(types.CategoryResource, "not_found", "artifact does not exist", false)
	}
	if !checkPermission(art, caller, contract.ActionRead) {
		return types.Fail(types.CategoryPermission, "permission_denied", "caller may not read this artifact", false)
	}
	return types.Ok("read", map[string]any{"artifact": art})
}

func (e *Executor) doWrite(caller string, env types.Envelope) *types.ActionResult {
	if env.ArtifactID == "" || env.ArtifactType == "" {
		return types.Fail(types.CategoryValidation, "missing_argument", "artifact_id and artifact_type are required", false)
	}

	executable := false
	if env.Executable != nil {
		executable = *env.Executable
	}
	accessID := contract.ID(env.AccessContractID)

	if existing, ok := e.store.GetLive(env.ArtifactID); ok {
		if existing.KernelProtected {
			return types.Fail(types.CategoryPermission, "kernel_protected", "artifact may only be modified via the kernel mutation path", false)
		}
		if !checkPermission(existing, caller, contract.ActionWrite) {
			return types.Fail(types.CategoryPermission, "permission_denied", "caller may not write this artifact", false)
		}
	}

	art, err := e.store.Write(store.WriteParams{
		ID: env.ArtifactID, Type: env.ArtifactType, Caller: caller, CreatedBy: caller,
		Content: []byte(env.Content), Code: env.Code, Executable: executable,
		Policy: env.Policy, AccessContractID: accessID, Metadata: env.Metadata,
		DependsOn: env.DependsOn, Interface: env.Interface, Now: e.now(),
	})
	if err != nil {
		return storeErrorResult(err)
	}

	e.record(types.EventArtifactWritten, caller, env.Reasoning, map[string]any{
		"artifact_id": art.ID, "artifact_type": string(art.Type),
	})
	return types.Ok("written", map[string]any{"artifact_id": art.ID})
}

func (e *Executor) doEdit(caller string, env types.Envelope) *types.ActionResult {
	art, ok := e.store.GetLive(env.ArtifactID)
	if !ok {
		return types.Fail(types.CategoryResource, "not_found", "artifact does not exist", false)
	}
	if !checkPermission(art, caller, contract.ActionEdit) {
		return types.Fail(types.CategoryPermission, "permission_denied", "caller may not edit this artifact", false)
	}

	target := art.Code
	field := "code"
	if target == "" {
		target = string(art.Content)
		field = "content"
	}

	count := countOccurrences(target, env.OldString)
	switch {
	case count == 0:
		return types.Fail(types.CategoryValidation, "not_found_in_content", "old_string not found", false)
	case count > 1:
		return types.Fail(types.CategoryValidation, "not_unique", "old_string matches more than once", false)
	case env.OldString == env.NewString:
		return types.Fail(types.CategoryValidation, "no_change", "old_string and new_string are identical", false)
	}

	replaced := replaceOnce(target, env.OldString, env.NewString)
	params := store.WriteParams{
		ID: art.ID, Type: art.Type, Caller: caller, CreatedBy: art.CreatedBy,
		Content: art.Content, Code: art.Code, Executable: art.Executable,
		AccessContractID: contract.ID(art.AccessContractID), Metadata: art.Metadata,
		DependsOn: art.DependsOn, Interface: art.Interface, Now: e.now(),
	}
	if field == "code" {
		params.Code = replaced
	} else {
		params.Content = []byte(replaced)
	}

	if _, err := e.store.Write(params); err != nil {
		return storeErrorResult(err)
	}
	e.record(types.EventArtifactEdited, caller, env.Reasoning, map[string]any{"artifact_id": art.ID})
	return types.Ok("edited", map[string]any{"artifact_id": art.ID})
}

func (e *Executor) doDelete(caller string, env types.Envelope) *types.ActionResult {
	art, ok := e.store.GetLive(env.ArtifactID)
	if !ok {
		return types.Fail(types.CategoryResource, "not_found", "artifact does not exist", false)
	}
	if !checkPermission(art, caller, contract.ActionDelete) {
		return types.Fail(types.CategoryPermission, "permission_denied", "caller may not delete this artifact", false)
	}
	if err := e.store.Delete(art.ID, caller); err != nil {
		return storeErrorResult(err)
	}
	e.record(types.EventArtifactDeleted, caller, env.Reasoning, map[string]any{"artifact_id": art.ID})
	return types.Ok("deleted", map[string]any{"artifact_id": art.ID})
}

func (e *Executor) doSubscription(caller string, env types.Envelope) *types.ActionResult {
	art, ok := e.store.GetLive(env.ArtifactID)
	if !ok {
		return types.Fail(types.CategoryResource, "not_found", "artifact does not exist", false)
	}
	if !checkPermission(art, caller, contract.ActionSubscribe) {
		return types.Fail(types.CategoryPermission, "permission_denied", "caller may not subscribe to this artifact", false)
	}
	return types.Ok("subscription updated", map[string]any{"artifact_id": art.ID})
}

// doConfigure covers configure_context and modify_system_prompt: both
// are ordinary metadata edits on the caller's own agent artifact, going
// through the same write path and contract check as any other write.
func (e *Executor) doConfigure(caller string, env types.Envelope) *types.ActionResult {
	if env.ArtifactID == "" {
		return types.Fail(types.CategoryValidation, "missing_argument", "artifact_id is required", false)
	}
	art, ok := e.store.GetLive(env.ArtifactID)
	if !ok {
		return types.Fail(types.CategoryResource, "not_found", "artifact does not exist", false)
	}
	if !checkPermission(art, caller, contract.ActionWrite) {
		return types.Fail(types.CategoryPermission, "permission_denied", "caller may not modify this artifact", false)
	}
	merged := make(map[string]any, len(art.Metadata)+len(env.Metadata))
	for k, v := range art.Metadata {
		merged[k] = v
	}
	for k, v := range env.Metadata {
		merged[k] = v
	}
	if env.Code != "" {
		art.Code = env.Code
	}
	_, err := e.store.Write(store.WriteParams{
		ID: art.ID, Type: art.Type, Caller: caller, CreatedBy: art.CreatedBy,
		Content: art.Content, Code: art.Code, Executable: art.Executable,
		AccessContractID: contract.ID(art.AccessContractID), Metadata: merged,
		DependsOn: art.DependsOn, Interface: art.Interface, Now: e.now(),
	})
	if err != nil {
		return storeErrorResult(err)
	}
	e.record(types.EventArtifactEdited, caller, env.Reasoning, map[string]any{"artifact_id": art.ID, "context_configured": true})
	return types.Ok("configured", map[string]any{"artifact_id": art.ID})
}

// doQuery dispatches to the KernelQueryHandler. Queries are read-only:
// they never record an event and never consume caller resources.
func (e *Executor) doQuery(_ string, env types.Envelope) *types.ActionResult {
	if e.queries == nil {
		return types.Fail(types.CategoryInternal, "not_available", "kernel query handler not configured", false)
	}
	if env.QueryType == "" {
		return types.Fail(types.CategoryValidation, "missing_argument", "query_type is required", false)
	}
	result, err := e.queries.Execute(env.QueryType, env.Params)
	if err != nil {
		return queryErrorResult(err)
	}
	return types.Ok("queried", result)
}

func (e *Executor) doTransfer(caller string, env types.Envelope) *types.ActionResult {
	if env.ToPrincipal == "" || env.Amount <= 0 {
		return types.Fail(types.CategoryValidation, "invalid_argument", "transfer requires a positive amount and a recipient", false)
	}
	if err := e.ledger.Transfer(caller, env.ToPrincipal, env.Amount); err != nil {
		return ledgerErrorResult(err)
	}
	e.record(types.EventTransferSettled, caller, env.Reasoning, map[string]any{
		"from": caller, "to": env.ToPrincipal, "amount": env.Amount,
	})
	return types.Ok("transferred", map[string]any{"from": caller, "to": env.ToPrincipal, "amount": env.Amount})
}

func (e *Executor) doMint(caller string, env types.Envelope) *types.ActionResult {
	if env.Amount <= 0 {
		return types.Fail(types.CategoryValidation, "invalid_argument", "mint requires a positive amount", false)
	}
	if env.Reason == "" {
		return types.Fail(types.CategoryValidation, "missing_argument", "mint requires a non-empty reason", false)
	}
	if err := e.ledger.Credit(caller, env.Amount); err != nil {
		return ledgerErrorResult(err)
	}
	e.record(types.EventMintAuctionResolved, caller, env.Reasoning, map[string]any{
		"principal": caller, "amount": env.Amount, "reason": env.Reason,
	})
	return types.Ok("minted", map[string]any{"amount": env.Amount})
}

func (e *Executor) doSubmitToMint(caller string, env types.Envelope) *types.ActionResult {
	if e.auction == nil {
		return types.Fail(types.CategoryResource, "not_available", "mint auction is not configured", false)
	}
	if env.Bid <= 0 {
		return types.Fail(types.CategoryValidation, "invalid_argument", "bid must be positive", false)
	}
	sub, err := e.auction.Submit(caller, env.ArtifactID, env.Bid)
	if err != nil {
		return mintErrorResult(err)
	}
	e.record(types.EventArtifactInvoked, caller, env.Reasoning, map[string]any{
		"submission_id": sub.SubmissionID, "artifact_id": sub.ArtifactID, "bid": sub.Bid,
	})
	return types.Ok("bid submitted", map[string]any{"submission_id": sub.SubmissionID})
}

func (e *Executor) doSubmitToTask(caller string, env types.Envelope) *types.ActionResult {
	if e.tasks == nil {
		return types.Fail(types.CategoryResource, "not_available", "task mint is not configured", false)
	}
	if env.TaskID == "" {
		return types.Fail(types.CategoryValidation, "missing_argument", "task_id is required", false)
	}
	effect, err := e.tasks.SubmitSolution(context.Background(), caller, env.ArtifactID, env.TaskID, e.now())
	if err != nil {
		return mintErrorResult(err)
	}
	data := map[string]any{"passed": effect.Passed, "public_results": effect.PublicResults}
	if effect.TaskCompleted {
		data["reward"] = effect.Reward
		e.record(types.EventMintTaskCompleted, caller, env.Reasoning, map[string]any{
			"task_id": env.TaskID, "principal": caller, "reward": effect.Reward,
		})
	}
	return types.Ok("solution evaluated", data)
}

func countOccurrences(haystack, needle string) int {
	if needle == "" {
		return 0
	}
	count := 0
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			count++
		}
	}
	return count
}

func replaceOnce(haystack, old, new string) string {
	i := indexOf(haystack, old)
	if i < 0 {
		return haystack
	}
	return haystack[:i] + new + haystack[i+len(old):]
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func storeErrorResult(err error) *types.ActionResult {
	if se, ok := err.(*store.Error); ok {
		switch se.Code {
		case "kernel_protected":
			return types.Fail(types.CategoryPermission, "kernel_protected", se.Message, false)
		case "i_contract", "i_type", "i_reserved", "i_dag", "i_size", "tombstone":
			return types.Fail(types.CategoryValidation, se.Code, se.Message, false)
		default:
			return types.Fail(types.CategoryResource, se.Code, se.Message, false)
		}
	}
	return types.Fail(types.CategoryInternal, "internal", err.Error(), false)
}

func ledgerErrorResult(err error) *types.ActionResult {
	if _, ok := err.(*ledger.ErrInsufficientFunds); ok {
		return types.Fail(types.CategoryResource, "insufficient_funds", err.Error(), false)
	}
	return types.Fail(types.CategoryValidation, "invalid_argument", err.Error(), false)
}

func mintErrorResult(err error) *types.ActionResult {
	category := types.CategoryResource
	code := "resource"
	if m, ok := err.(*mint.Error); ok {
		code = m.Code
		switch m.Code {
		case "validation":
			category = types.CategoryValidation
		case "permission":
			category = types.CategoryPermission
		}
	}
	return types.Fail(category, code, err.Error(), false)
}

func queryErrorResult(err error) *types.ActionResult {
	qe, ok := err.(*query.Error)
	if !ok {
		return types.Fail(types.CategoryInternal, "internal", err.Error(), false)
	}
	category := types.CategoryValidation
	switch qe.Code {
	case query.CodeNotFound:
		category = types.CategoryResource
	case query.CodeNotAvailable:
		category = types.CategoryInternal
	}
	return types.Fail(category, string(qe.Code), qe.Message, false)
}
