// Package query implements KernelQueryHandler: named, schema-checked
// read-only projections over kernel state for agents (via the
// query_kernel action) and external consumers (via cmd/agora inspect).
// No query mutates anything the executor or invoke pipeline owns.
package query

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/justapithecus/agora/eventlog"
	"github.com/justapithecus/agora/ledger"
	"github.com/justapithecus/agora/mint"
	"github.com/justapithecus/agora/store"
	"github.com/justapithecus/agora/types"
)

// ErrorCode is the fixed vocabulary of query failure kinds.
type ErrorCode string

const (
	CodeInvalidQueryType ErrorCode = "invalid_query_type"
	CodeInvalidParam     ErrorCode = "invalid_param"
	CodeMissingParam     ErrorCode = "missing_param"
	CodeNotFound         ErrorCode = "not_found"
	CodeNotAvailable     ErrorCode = "not_available"
	CodeInvalidPattern   ErrorCode = "invalid_pattern"
)

// Error is a query-subsystem failure.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func errf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

type schema struct {
	params   map[string]bool
	required []string
}

// querySchema lists, per query type, the params it accepts and which
// are required. Unknown query types and unknown or missing params fail
// before any handler runs.
var querySchema = map[string]schema{
	"artifacts":    {params: paramSet("owner", "type", "executable", "name_pattern", "limit", "offset")},
	"artifact":     {params: paramSet("artifact_id"), required: []string{"artifact_id"}},
	"principals":   {params: paramSet("limit")},
	"principal":    {params: paramSet("principal_id"), required: []string{"principal_id"}},
	"balances":     {params: paramSet("principal_id")},
	"resources":    {params: paramSet("principal_id"), required: []string{"principal_id"}},
	"quotas":       {params: paramSet("principal_id"), required: []string{"principal_id"}},
	"mint":         {params: paramSet("status", "history", "limit")},
	"events":       {params: paramSet("limit")},
	"invocations":  {params: paramSet("artifact_id", "invoker_id", "limit")},
	"frozen":       {params: paramSet("agent_id")},
	"libraries":    {params: paramSet("principal_id"), required: []string{"principal_id"}},
	"dependencies": {params: paramSet("artifact_id"), required: []string{"artifact_id"}},
}

func paramSet(names ...string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

// Handler answers kernel queries by reading (never mutating) the
// kernel's collaborators.
type Handler struct {
	store   *store.Store
	ledger  *ledger.Ledger
	auction *mint.Auction
	events  *eventlog.EventLog
}

// Config wires a Handler's read-only collaborators.
type Config struct {
	Store   *store.Store
	Ledger  *ledger.Ledger
	Auction *mint.Auction
	Events  *eventlog.EventLog
}

// New constructs a Handler.
func New(cfg Config) *Handler {
	return &Handler{store: cfg.Store, ledger: cfg.Ledger, auction: cfg.Auction, events: cfg.Events}
}

// Execute validates params against queryType's schema and dispatches to
// the matching handler. Every return is a plain map ready to serialize
// as the `{success, ...}` response shape; failures are returned as
// *Error, never folded into the map.
func (h *Handler) Execute(queryType string, params map[string]any) (map[string]any, error) {
	sch, ok := querySchema[queryType]
	if !ok {
		valid := make([]string, 0, len(querySchema))
		for k := range querySchema {
			valid = append(valid, k)
		}
		sort.Strings(valid)
		return nil, errf(CodeInvalidQueryType, "unknown query_type %q, valid types: %s", queryType, strings.Join(valid, ", "))
	}

	for p := range params {
		if !sch.params[p] {
			valid := make([]string, 0, len(sch.params))
			for k := range sch.params {
				valid = append(valid, k)
			}
			sort.Strings(valid)
			return nil, errf(CodeInvalidParam, "unknown param %q for %s query, valid params: %s", p, queryType, strings.Join(valid, ", "))
		}
	}
	for _, req := range sch.required {
		if _, ok := params[req]; !ok {
			return nil, errf(CodeMissingParam, "query %q requires %q param", queryType, req)
		}
	}

	switch queryType {
	case "artifacts":
		return h.queryArtifacts(params)
	case "artifact":
		return h.queryArtifact(params)
	case "principals":
		return h.queryPrincipals(params)
	case "principal":
		return h.queryPrincipal(params)
	case "balances":
		return h.queryBalances(params)
	case "resources":
		return h.queryResources(params)
	case "quotas":
		return h.queryQuotas(params)
	case "mint":
		return h.queryMint(params)
	case "events":
		return h.queryEvents(params)
	case "invocations":
		return h.queryInvocations(params)
	case "frozen":
		return h.queryFrozen(params)
	case "libraries":
		return h.queryLibraries(params)
	case "dependencies":
		return h.queryDependencies(params)
	}
	// Unreachable: every schema key above has a case.
	return nil, errf(CodeInvalidQueryType, "query %q not implemented", queryType)
}

// Reasoning returns the agent-supplied reasoning string recorded on the
// event with the given number, if it is still within the event log's
// in-memory recent window.
func (h *Handler) Reasoning(eventNumber int64) (string, bool) {
	if h.events == nil {
		return "", false
	}
	for _, ev := range h.events.ReadRecent(0) {
		if ev.EventNumber == eventNumber {
			return ev.Reasoning, true
		}
	}
	return "", false
}

func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func boolParam(params map[string]any, key string) (bool, bool) {
	v, ok := params[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// intParam accepts int, int64, or float64 (callers build params from Go literals
// or from a decoded envelope where JSON numbers arrive as float64).
func intParam(params map[string]any, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("must be an integer")
	}
}

func (h *Handler) queryArtifacts(params map[string]any) (map[string]any, error) {
	owner, _ := stringParam(params, "owner")
	artifactType, _ := stringParam(params, "type")
	executable, hasExecutable := boolParam(params, "executable")
	namePattern, hasPattern := stringParam(params, "name_pattern")

	limit, err := intParam(params, "limit", 50)
	if err != nil {
		return nil, errf(CodeInvalidParam, "param 'limit' %s", err)
	}
	offset, err := intParam(params, "offset", 0)
	if err != nil {
		return nil, errf(CodeInvalidParam, "param 'offset' %s", err)
	}

	var re *regexp.Regexp
	if hasPattern {
		re, err = regexp.Compile(namePattern)
		if err != nil {
			return nil, errf(CodeInvalidPattern, "invalid regex pattern %q", namePattern)
		}
	}

	var results []map[string]any
	for _, a := range h.store.ListAll(false) {
		if owner != "" && a.CreatedBy != owner {
			continue
		}
		if artifactType != "" && string(a.Type) != artifactType {
			continue
		}
		if hasExecutable && a.Executable != executable {
			continue
		}
		if re != nil && !re.MatchString(a.ID) {
			continue
		}
		preview := string(a.Content)
		if len(preview) > 100 {
			preview = preview[:100]
		}
		results = append(results, map[string]any{
			"id": a.ID, "type": a.Type, "created_by": a.CreatedBy,
			"executable": a.Executable, "content_preview": preview,
		})
	}

	total := len(results)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	page := results[offset:end]

	return map[string]any{
		"success": true, "query_type": "artifacts",
		"total": total, "returned": len(page), "results": page,
	}, nil
}

func (h *Handler) queryArtifact(params map[string]any) (map[string]any, error) {
	artifactID, _ := stringParam(params, "artifact_id")
	a, ok := h.store.Get(artifactID)
	if !ok {
		return nil, errf(CodeNotFound, "artifact %q not found", artifactID)
	}
	return map[string]any{"success": true, "query_type": "artifact", "result": a}, nil
}

func (h *Handler) queryPrincipals(params map[string]any) (map[string]any, error) {
	limit, err := intParam(params, "limit", 100)
	if err != nil {
		return nil, errf(CodeInvalidParam, "param 'limit' %s", err)
	}
	all := h.ledger.Principals()
	total := len(all)
	if limit > 0 && limit < total {
		all = all[:limit]
	}
	return map[string]any{
		"success": true, "query_type": "principals",
		"total": total, "returned": len(all), "results": all,
	}, nil
}

func (h *Handler) queryPrincipal(params map[string]any) (map[string]any, error) {
	principalID, _ := stringParam(params, "principal_id")
	exists := false
	for _, p := range h.ledger.Principals() {
		if p == principalID {
			exists = true
			break
		}
	}
	if !exists {
		return map[string]any{"success": true, "query_type": "principal", "exists": false, "principal_id": principalID}, nil
	}
	return map[string]any{
		"success": true, "query_type": "principal", "exists": true,
		"principal_id": principalID, "scrip": h.ledger.Balance(principalID),
	}, nil
}

func (h *Handler) queryBalances(params map[string]any) (map[string]any, error) {
	if principalID, ok := stringParam(params, "principal_id"); ok {
		found := false
		for _, p := range h.ledger.Principals() {
			if p == principalID {
				found = true
				break
			}
		}
		if !found {
			return nil, errf(CodeNotFound, "principal %q not found", principalID)
		}
		return map[string]any{
			"success": true, "query_type": "balances",
			"principal_id": principalID, "scrip": h.ledger.Balance(principalID),
		}, nil
	}
	return map[string]any{"success": true, "query_type": "balances", "balances": h.ledger.Balances()}, nil
}

func (h *Handler) queryResources(params map[string]any) (map[string]any, error) {
	principalID, _ := stringParam(params, "principal_id")
	return map[string]any{
		"success": true, "query_type": "resources",
		"principal_id": principalID, "resources": h.ledger.Resources(principalID),
	}, nil
}

func (h *Handler) queryQuotas(params map[string]any) (map[string]any, error) {
	principalID, _ := stringParam(params, "principal_id")
	quota := h.store.DiskQuota(principalID)
	used := h.store.DiskUsed(principalID)
	available := quota - used
	if quota < 0 {
		available = -1
	}
	return map[string]any{
		"success": true, "query_type": "quotas", "principal_id": principalID,
		"quotas": map[string]any{
			"disk": map[string]any{"quota": quota, "used": used, "available": available},
		},
	}, nil
}

func (h *Handler) queryMint(params map[string]any) (map[string]any, error) {
	if h.auction == nil {
		return nil, errf(CodeNotAvailable, "mint auction not available")
	}
	showStatus, hasStatus := boolParam(params, "status")
	showHistory, hasHistory := boolParam(params, "history")
	limit, err := intParam(params, "limit", 10)
	if err != nil {
		return nil, errf(CodeInvalidParam, "param 'limit' %s", err)
	}

	result := map[string]any{"success": true, "query_type": "mint"}
	if showStatus || (!hasStatus && !hasHistory) {
		result["current_auction"] = map[string]any{"pending_submissions": len(h.auction.Submissions())}
	}
	if showHistory {
		history := h.auction.History()
		if limit > 0 && limit < len(history) {
			history = history[len(history)-limit:]
		}
		result["history"] = history
	}
	return result, nil
}

func (h *Handler) queryEvents(params map[string]any) (map[string]any, error) {
	if h.events == nil {
		return nil, errf(CodeNotAvailable, "event log not available")
	}
	limit, err := intParam(params, "limit", 20)
	if err != nil {
		return nil, errf(CodeInvalidParam, "param 'limit' %s", err)
	}
	events := h.events.ReadRecent(limit)
	return map[string]any{"success": true, "query_type": "events", "returned": len(events), "events": events}, nil
}

func (h *Handler) queryInvocations(params map[string]any) (map[string]any, error) {
	if h.events == nil {
		return nil, errf(CodeNotAvailable, "event log not available")
	}
	artifactID, hasArtifact := stringParam(params, "artifact_id")
	invokerID, hasInvoker := stringParam(params, "invoker_id")
	limit, err := intParam(params, "limit", 20)
	if err != nil {
		return nil, errf(CodeInvalidParam, "param 'limit' %s", err)
	}

	var records []*types.Event
	if hasArtifact || hasInvoker {
		for _, ev := range h.events.ReadRecent(0) {
			if ev.EventType != types.EventArtifactInvoked {
				continue
			}
			if hasArtifact {
				if id, _ := ev.Field("artifact_id"); id != artifactID {
					continue
				}
			}
			if hasInvoker && ev.Actor != invokerID {
				continue
			}
			records = append(records, ev)
		}
		if limit > 0 && len(records) > limit {
			records = records[len(records)-limit:]
		}
	}

	return map[string]any{"success": true, "query_type": "invocations", "returned": len(records), "records": records}, nil
}

func (h *Handler) queryFrozen(params map[string]any) (map[string]any, error) {
	if agentID, ok := stringParam(params, "agent_id"); ok {
		return map[string]any{
			"success": true, "query_type": "frozen",
			"agent_id": agentID, "frozen": h.ledger.IsFrozen(agentID),
		}, nil
	}
	return map[string]any{
		"success": true, "query_type": "frozen",
		"frozen_agents": h.ledger.FrozenAgents(h.ledger.Principals()),
	}, nil
}

// queryLibraries reports, for principalID, the distinct executable
// artifacts reachable through its owned artifacts' depends_on edges —
// the kernel's closest analogue to an "installed library" roster; an
// executable artifact carries its own version in metadata.version.
func (h *Handler) queryLibraries(params map[string]any) (map[string]any, error) {
	principalID, _ := stringParam(params, "principal_id")

	seen := make(map[string]bool)
	var libraries []map[string]any
	for _, id := range h.store.ByCreator(principalID) {
		a, ok := h.store.GetLive(id)
		if !ok {
			continue
		}
		for _, depID := range a.DependsOn {
			if seen[depID] {
				continue
			}
			dep, ok := h.store.GetLive(depID)
			if !ok || !dep.Executable {
				continue
			}
			seen[depID] = true
			version := "0.0.0"
			if v, ok := dep.Metadata["version"]; ok {
				if s, ok := v.(string); ok {
					version = s
				}
			}
			libraries = append(libraries, map[string]any{"name": dep.ID, "version": version})
		}
	}
	sort.Slice(libraries, func(i, j int) bool { return libraries[i]["name"].(string) < libraries[j]["name"].(string) })

	return map[string]any{
		"success": true, "query_type": "libraries",
		"principal_id": principalID, "libraries": libraries,
	}, nil
}

func (h *Handler) queryDependencies(params map[string]any) (map[string]any, error) {
	artifactID, _ := stringParam(params, "artifact_id")
	a, ok := h.store.GetLive(artifactID)
	if !ok {
		return nil, errf(CodeNotFound, "artifact %q not found", artifactID)
	}

	var dependents []string
	for _, other := range h.store.ListAll(false) {
		for _, dep := range other.DependsOn {
			if dep == artifactID {
				dependents = append(dependents, other.ID)
				break
			}
		}
	}
	sort.Strings(dependents)

	return map[string]any{
		"success": true, "query_type": "dependencies", "artifact_id": artifactID,
		"depends_on": a.DependsOn, "dependents": dependents,
	}, nil
}
