// Package kernel assembles every collaborator — store, ledger, event
// log, rights, delegation, sandbox, mint, triggers, queries, and the
// action executor — into one World: the single serialization point
// described by the kernel module. Nothing outside this package holds a
// second instance of any collaborator.
package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	ckpt "github.com/justapithecus/agora/lode"
	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/agora/action"
	"github.com/justapithecus/agora/contract"
	"github.com/justapithecus/agora/delegation"
	"github.com/justapithecus/agora/eventlog"
	"github.com/justapithecus/agora/internal/klog"
	"github.com/justapithecus/agora/ledger"
	"github.com/justapithecus/agora/mint"
	"github.com/justapithecus/agora/query"
	"github.com/justapithecus/agora/rights"
	"github.com/justapithecus/agora/sandbox"
	"github.com/justapithecus/agora/store"
	"github.com/justapithecus/agora/trigger"
	"github.com/justapithecus/agora/types"
)

// kernelPrincipal is passed to rights.New and used as CreatedBy on
// every artifact the kernel itself writes. store.checkReservedID
// hardcodes this exact string for the right: namespace, so it cannot
// be configured per deployment.
const kernelPrincipal = "kernel"

// DefaultMaxPendingDrainRounds bounds how many rounds Step performs
// before giving up on a trigger cascade: a callback that fires another
// trigger that fires another callback could otherwise never return.
const DefaultMaxPendingDrainRounds = 64

// Config bundles every tunable the kernel needs at build time. Zero
// values are filled in with sane defaults by Build; see withDefaults.
type Config struct {
	RunID          string
	RunsRoot       string
	CheckpointRoot string // empty disables Checkpoint/Restore

	SummaryWindow  int64
	EventRecentCap int

	MaxDependencyDepth int
	MaxInvokeDepth     int
	DiskQuotaDefault   int64 // bytes per principal; <0 means unlimited

	MintRatio      int64
	MintMaxHistory int
	UBISinkID      string

	// DelegationWindow selects the charge-delegation rolling-window
	// backend. Nil uses delegation.NewMemoryWindowBackend.
	DelegationWindow delegation.WindowBackend
	// Scorer overrides the default content-based mint scorer.
	Scorer mint.Scorer
	// Sandbox overrides the default yaegi-backed, genesis-wrapped
	// executor. Tests pass a fake here.
	Sandbox sandbox.Executor

	Now    func() time.Time
	Logger *klog.Logger
}

func (c *Config) withDefaults() {
	if c.UBISinkID == "" {
		c.UBISinkID = "genesis_ubi_sink"
	}
	if c.MintRatio <= 0 {
		c.MintRatio = 10
	}
	if c.MintMaxHistory <= 0 {
		c.MintMaxHistory = 100
	}
	if c.MaxDependencyDepth <= 0 {
		c.MaxDependencyDepth = 8
	}
	if c.MaxInvokeDepth <= 0 {
		c.MaxInvokeDepth = action.DefaultMaxInvokeDepth
	}
	if c.EventRecentCap <= 0 {
		c.EventRecentCap = 256
	}
	if c.SummaryWindow <= 0 {
		c.SummaryWindow = 50
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.DiskQuotaDefault == 0 {
		c.DiskQuotaDefault = -1
	}
}

// World owns every component and is the only thing agora.Submit is
// called on. It has no public mutable state: everything flows through
// Submit, Step, Query, Checkpoint, and Restore.
type World struct {
	cfg Config
	cap store.KernelCapability

	store      *store.Store
	ledger     *ledger.Ledger
	events     *eventlog.EventLog
	rights     *rights.Registry
	delegation *delegation.Manager
	sandbox    sandbox.Executor
	auction    *mint.Auction
	tasks      *mint.Tasks
	triggers   *trigger.Registry
	queries    *query.Handler
	executor   *action.Executor
	logger     *klog.Logger

	checkpointDS lode.Dataset
}

func genesisIDs() map[string]bool {
	return map[string]bool{"genesis_kernel": true, "genesis_mint": true, "genesis_ubi_sink": true}
}

// Build wires every collaborator, seeds the three genesis artifacts,
// and returns a ready-to-run World. Submit and Step are safe to call
// immediately; Checkpoint and Restore require cfg.CheckpointRoot.
func Build(cfg Config) (*World, error) {
	cfg.withDefaults()

	logger := cfg.Logger
	if logger == nil {
		logger = klog.NewLogger(klog.SessionMeta{RunID: cfg.RunID})
	}

	s := store.New(store.Config{
		MaxDependencyDepth:    cfg.MaxDependencyDepth,
		IndexedMetadataFields: []string{"controller", "authorized_writer", "authorized_principal", "invokes"},
		GenesisIDs:            genesisIDs(),
		DiskQuota:             func(string) int64 { return cfg.DiskQuotaDefault },
	})
	kernelCap := store.NewKernelCapability()
	l := ledger.New()

	events, err := eventlog.Open(eventlog.Config{
		RunsRoot:  cfg.RunsRoot,
		RunID:     cfg.RunID,
		RecentCap: cfg.EventRecentCap,
		Window:    cfg.SummaryWindow,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("kernel: open event log: %w", err)
	}

	rightsRegistry := rights.New(s, kernelPrincipal)
	delegationMgr := delegation.New(s, kernelCap, cfg.DelegationWindow)

	sbx := cfg.Sandbox
	var genesisExec *sandbox.GenesisExecutor
	if sbx == nil {
		genesisExec = sandbox.NewGenesisExecutor(sandbox.NewYaegiExecutor())
		sbx = genesisExec
	} else if ge, ok := sbx.(*sandbox.GenesisExecutor); ok {
		genesisExec = ge
	}

	w := &World{
		cfg: cfg, cap: kernelCap,
		store: s, ledger: l, events: events,
		rights: rightsRegistry, delegation: delegationMgr,
		sandbox: sbx, logger: logger,
	}

	if genesisExec != nil {
		w.registerGenesisHandlers(genesisExec)
	}

	scorer := cfg.Scorer
	if scorer == nil {
		scorer = NewSandboxScorer(s, sbx)
	}
	w.auction = mint.NewAuction(l, s, scorer, cfg.MintRatio, cfg.UBISinkID, cfg.MintMaxHistory)
	w.tasks = mint.NewTasks(s, l, sbx)
	w.triggers = trigger.New(s)
	w.queries = query.New(query.Config{Store: s, Ledger: l, Auction: w.auction, Events: events})

	w.executor = action.New(action.Config{
		Store: s, Ledger: l, Sandbox: sbx, Delegation: delegationMgr,
		Auction: w.auction, Tasks: w.tasks, Events: events, Triggers: w.triggers,
		Queries: w.queries, MaxInvokeDepth: cfg.MaxInvokeDepth, Now: cfg.Now,
	})

	if err := w.seedGenesis(); err != nil {
		return nil, err
	}
	if err := w.triggers.Refresh(events.CurrentEventNumber()); err != nil {
		return nil, fmt.Errorf("kernel: refresh triggers: %w", err)
	}

	if cfg.CheckpointRoot != "" {
		ds, err := ckpt.NewCheckpointDatasetFS("agora-checkpoints", cfg.CheckpointRoot)
		if err != nil {
			return nil, fmt.Errorf("kernel: open checkpoint dataset: %w", err)
		}
		w.checkpointDS = ds
	}

	return w, nil
}

// seedGenesis writes genesis_kernel, genesis_mint, and genesis_ubi_sink
// once, if absent. Each is kernel_protected with a public access
// contract: any principal may read or invoke it, but store.Write
// refuses any ordinary mutation regardless of that contract, and
// store.Delete separately refuses to remove anything in the genesis
// set. Seeding skips any id already present in the store; a later
// Restore replaces the seeded artifacts with their checkpointed copies.
func (w *World) seedGenesis() error {
	now := w.cfg.Now()
	seeds := []struct {
		id          string
		code        string
		hasStanding bool
	}{
		{"genesis_kernel", sandbox.GenesisSentinelPrefix + "kernel", false},
		{"genesis_mint", sandbox.GenesisSentinelPrefix + "mint", false},
		{"genesis_ubi_sink", sandbox.GenesisSentinelPrefix + "ubi_sink", true},
	}
	for _, seed := range seeds {
		if w.store.Exists(seed.id) {
			continue
		}
		_, err := w.store.Write(store.WriteParams{
			ID: seed.id, Type: types.ArtifactExecutable,
			Caller: kernelPrincipal, CreatedBy: kernelPrincipal,
			Code: seed.code, Executable: true,
			AccessContractID: contract.Public,
			KernelProtected:  true,
			HasStanding:      seed.hasStanding,
			Now:              now,
		})
		if err != nil {
			return fmt.Errorf("kernel: seed %s: %w", seed.id, err)
		}
	}
	return nil
}

// record appends an event and drives it through the trigger registry,
// the same sequence action.Executor performs internally for every
// intent. ResolveMint uses this directly since auction resolution is
// driven by the run loop, not by an agent-submitted intent.
func (w *World) record(eventType types.EventType, actor, reasoning string, payload map[string]any) {
	ev, err := w.events.Append(eventType, actor, reasoning, payload)
	if err != nil {
		w.logger.Error("event append failed", map[string]any{"error": err.Error()})
		return
	}
	w.triggers.QueueMatchingInvocations(ev)
	w.triggers.FireScheduledTriggers(ev.EventNumber)
}

// Submit dispatches one envelope and drains any trigger invocations it
// queued before returning.
func (w *World) Submit(caller string, env types.Envelope) *types.ActionResult {
	result := w.executor.Submit(caller, env)
	if result.Success && refreshesTriggers(env.ActionType) {
		if err := w.triggers.Refresh(w.events.CurrentEventNumber()); err != nil {
			w.logger.Warn("trigger refresh failed", map[string]any{"error": err.Error()})
		}
	}
	w.Step()
	return result
}

// GrantRight issues a new right artifact to owner, outside the normal
// intent flow: rights have no intent kind of their own, since only the
// kernel may create them (I-RESERVED's right: namespace). This is how
// a run's initial agent population is bootstrapped with starting
// budgets and rate capacities before any agent submits anything.
func (w *World) GrantRight(owner string, rightType types.RightType, resource string, amount float64, model string, windowSeconds int) (*types.Artifact, error) {
	return w.rights.Create(owner, rightType, resource, amount, model, windowSeconds)
}

func refreshesTriggers(kind types.IntentKind) bool {
	switch kind {
	case types.IntentWriteArtifact, types.IntentEditArtifact, types.IntentDeleteArtifact:
		return true
	default:
		return false
	}
}

// Step drains the pending trigger invocation queue, resubmitting each
// as an invoke_artifact intent whose caller is the trigger's owner —
// never executed re-entrantly inside the action that queued it. Submit
// calls this automatically; the outer run loop may also call it
// directly between ticks when no new intent has arrived, so a
// scheduled trigger's callback still gets a chance to drain once its
// target event number has already passed.
func (w *World) Step() {
	for round := 0; round < DefaultMaxPendingDrainRounds; round++ {
		pending := w.triggers.DrainPending()
		if len(pending) == 0 {
			return
		}
		for _, p := range pending {
			w.executor.Submit(p.Owner, types.Envelope{
				ActionType: types.IntentInvokeArtifact,
				ArtifactID: p.CallbackArtifact,
				Method:     p.CallbackMethod,
				Reasoning:  fmt.Sprintf("trigger %s fired", p.TriggerID),
			})
		}
	}
	w.logger.Warn("trigger drain exceeded max rounds; remaining invocations dropped", map[string]any{
		"max_rounds": DefaultMaxPendingDrainRounds,
	})
}

// Query runs one read-only query against current kernel state.
func (w *World) Query(queryType string, params map[string]any) (map[string]any, error) {
	return w.queries.Execute(queryType, params)
}

// ResolveMint runs one second-price auction resolution round. Nothing
// inside the kernel schedules this on a timer; the outer run loop
// decides the cadence (e.g. every N events, or every tick) and calls
// this directly.
func (w *World) ResolveMint(ctx context.Context) (*mint.ResolutionEffect, error) {
	effect, err := w.auction.Resolve(ctx, w.standingPrincipals())
	if err != nil {
		return nil, err
	}
	w.record(types.EventMintAuctionResolved, kernelPrincipal, "", map[string]any{
		"winner_id": effect.WinnerID, "artifact_id": effect.ArtifactID,
		"price_paid": effect.PricePaid, "score": effect.Score, "reason": effect.Reason,
		"minted": effect.Minted, "ubi_distributed": effect.UBIDistributed,
		"scoring_failed": effect.ScoringFailed,
	})
	w.Step()
	return effect, nil
}

// standingPrincipals lists every distinct controller of a has_standing
// artifact, sorted for deterministic UBI distribution order. The
// ledger has no notion of has_standing; only the store does.
func (w *World) standingPrincipals() []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range w.store.ListAll(false) {
		if !a.HasStanding {
			continue
		}
		id := a.Controller()
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Close flushes the event log.
func (w *World) Close() error {
	return w.events.Close()
}

// auctionSnapshot is the JSON shape written into
// lode.StateRecord.Mint and read back on Restore.
type auctionSnapshot struct {
	Submissions []*types.MintSubmission `json:"submissions"`
	History     []types.MintResolution  `json:"history"`
}

// Checkpoint writes the full artifact store, ledger, and mint-auction
// state, plus the current event number, to the checkpoint dataset.
func (w *World) Checkpoint(ctx context.Context) error {
	if w.checkpointDS == nil {
		return fmt.Errorf("kernel: no checkpoint dataset configured")
	}

	artifacts := w.store.ListAll(true)
	records := make([]ckpt.ArtifactRecord, 0, len(artifacts))
	for _, a := range artifacts {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("kernel: marshal artifact %s: %w", a.ID, err)
		}
		records = append(records, ckpt.ArtifactRecord{
			Type: string(a.Type), Creator: a.CreatedBy, Data: data,
		})
	}

	mintState, err := json.Marshal(auctionSnapshot{
		Submissions: w.auction.Submissions(),
		History:     w.auction.History(),
	})
	if err != nil {
		return fmt.Errorf("kernel: marshal mint state: %w", err)
	}

	balances := w.ledger.Balances()
	resources := make(map[string]map[string]float64, len(balances))
	for _, p := range w.ledger.Principals() {
		resources[p] = w.ledger.Resources(p)
	}

	state := ckpt.StateRecord{
		EventNumber: w.events.CurrentEventNumber(),
		Balances:    balances,
		Resources:   resources,
		Mint:        mintState,
	}

	if err := ckpt.WriteCheckpoint(ctx, w.checkpointDS, records, state, w.cfg.Now()); err != nil {
		return fmt.Errorf("kernel: write checkpoint: %w", err)
	}
	return nil
}

// Restore reloads the latest checkpoint: every artifact is reinserted
// via store.LoadArtifact (bypassing write-time invariants, which the
// checkpoint already satisfied when it was taken), balances and
// resources are installed directly, mint state is rebuilt, and the
// event counter is fast-forwarded. Events before the checkpoint are
// never replayed.
func (w *World) Restore(ctx context.Context) error {
	if w.checkpointDS == nil {
		return fmt.Errorf("kernel: no checkpoint dataset configured")
	}

	artifacts, state, err := ckpt.ReadLatestCheckpoint(ctx, w.checkpointDS)
	if err != nil {
		return fmt.Errorf("kernel: read checkpoint: %w", err)
	}
	if state == nil {
		return nil
	}

	for _, rec := range artifacts {
		var a types.Artifact
		if err := json.Unmarshal(rec.Data, &a); err != nil {
			return fmt.Errorf("kernel: unmarshal checkpointed artifact: %w", err)
		}
		w.store.LoadArtifact(&a)
	}

	for principal, amount := range state.Balances {
		w.ledger.SetBalance(principal, amount)
	}
	for principal, resources := range state.Resources {
		for resource, amount := range resources {
			w.ledger.SetResource(principal, resource, amount)
		}
	}

	if len(state.Mint) > 0 {
		var snap auctionSnapshot
		if err := json.Unmarshal(state.Mint, &snap); err != nil {
			return fmt.Errorf("kernel: unmarshal mint state: %w", err)
		}
		w.auction.RestoreState(snap.Submissions, snap.History)
	}

	w.events.SetEventNumber(state.EventNumber)
	if err := w.triggers.Refresh(state.EventNumber); err != nil {
		return fmt.Errorf("kernel: refresh triggers after restore: %w", err)
	}

	w.logger.Info("kernel restored from checkpoint", map[string]any{
		"event_number": state.EventNumber, "artifacts": len(artifacts),
	})
	return nil
}
