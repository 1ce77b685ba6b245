// Package delegation implements charge delegation: grant/revoke of
// charger authorization, rolling-window rate-capped charge
// authorization, and payer resolution for invoke settlement.
//
// Security invariant: ResolvePayer must never consult a metadata field
// whose value an artifact's own writer controls unless the kernel
// itself set that key at write time under its own authority (FM-2). An
// artifact cannot name a rich victim as authorized_principal to steal
// from them. store.Write enforces the other half of this invariant: it
// strips authorized_principal/authorized_writer from every
// caller-supplied write and edit, so either key is only ever populated
// by the store itself: authorized_writer by Write on an update whose
// caller differs from the creator, authorized_principal by
// TransferOwnership recording a completed transfer of control.
package delegation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/justapithecus/agora/store"
	"github.com/justapithecus/agora/types"
)

// Error is a delegation-manager failure.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func errf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WindowBackend tracks the rolling-window charge history used to
// enforce max_per_window. Implementations must prune entries older
// than the window and cap the number of entries retained per
// (payer, charger) pair (FM-5).
type WindowBackend interface {
	// Record appends one charge at time `at`.
	Record(payer, charger string, amount int64, at time.Time) error
	// Sum returns the total charged to (payer, charger) at or after
	// `since`.
	Sum(payer, charger string, since time.Time) (int64, error)
}

// MaxWindowEntries bounds how many charge records are retained per
// (payer, charger) pair in the in-memory backend, regardless of window
// age (FM-5: prevents unbounded memory growth from a high-frequency
// charger).
const MaxWindowEntries = 1000

type chargeRecord struct {
	amount int64
	at     time.Time
}

// MemoryWindowBackend is the default, in-memory rolling-window
// backend. History is ephemeral: it is not persisted across restarts,
// which matches "no more than X per window" rather than "no more than
// X ever."
type MemoryWindowBackend struct {
	history map[string][]chargeRecord
}

// NewMemoryWindowBackend constructs an empty in-memory backend.
func NewMemoryWindowBackend() *MemoryWindowBackend {
	return &MemoryWindowBackend{history: make(map[string][]chargeRecord)}
}

func windowKey(payer, charger string) string { return payer + "\x00" + charger }

// Record appends one charge, trimming to MaxWindowEntries.
func (b *MemoryWindowBackend) Record(payer, charger string, amount int64, at time.Time) error {
	k := windowKey(payer, charger)
	b.history[k] = append(b.history[k], chargeRecord{amount: amount, at: at})
	if len(b.history[k]) > MaxWindowEntries {
		b.history[k] = b.history[k][len(b.history[k])-MaxWindowEntries:]
	}
	return nil
}

// Sum totals charges at or after since, pruning older entries as a
// side effect.
func (b *MemoryWindowBackend) Sum(payer, charger string, since time.Time) (int64, error) {
	k := windowKey(payer, charger)
	records := b.history[k]
	kept := records[:0]
	var total int64
	for _, r := range records {
		if r.at.Before(since) {
			continue
		}
		kept = append(kept, r)
		total += r.amount
	}
	b.history[k] = kept
	return total, nil
}

// Manager implements grant/revoke/authorize_charge/record_charge and
// payer resolution.
type Manager struct {
	store   *store.Store
	cap     store.KernelCapability
	window  WindowBackend
	nowFunc func() time.Time
}

// New constructs a Manager. cap must be the same capability the kernel
// was built with: Manager writes charge_delegation:* artifacts through
// ModifyProtectedContent, never through the ordinary write path.
func New(s *store.Store, cap store.KernelCapability, window WindowBackend) *Manager {
	if window == nil {
		window = NewMemoryWindowBackend()
	}
	return &Manager{store: s, cap: cap, window: window, nowFunc: time.Now}
}

func (m *Manager) now() time.Time { return m.nowFunc().UTC() }

func delegationID(payer string) string { return "charge_delegation:" + payer }

func (m *Manager) loadData(payer string) (*types.ChargeDelegationData, *types.Artifact) {
	art, ok := m.store.GetLive(delegationID(payer))
	if !ok {
		return &types.ChargeDelegationData{}, nil
	}
	var data types.ChargeDelegationData
	_ = json.Unmarshal(art.Content, &data)
	return &data, art
}

// Grant authorizes charger to charge payer, within limits. Creates or
// upserts charge_delegation:{payer} as a kernel_protected artifact with
// the kernel_contract_private access contract.
func (m *Manager) Grant(payer, charger string, maxPerCall, maxPerWindow *int64, windowSeconds int, expiresAt *int64) error {
	if windowSeconds <= 0 {
		return errf("validation", "window_seconds must be positive")
	}

	data, existing := m.loadData(payer)
	entry := types.ChargeDelegationEntry{
		ChargerID: charger, MaxPerCall: maxPerCall, MaxPerWindow: maxPerWindow,
		WindowSeconds: windowSeconds, ExpiresAt: expiresAt,
	}

	replaced := false
	for i, e := range data.Entries {
		if e.ChargerID == charger {
			data.Entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		data.Entries = append(data.Entries, entry)
	}

	content, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("delegation: marshal: %w", err)
	}

	id := delegationID(payer)
	if existing == nil {
		_, err = m.store.Write(store.WriteParams{
			ID: id, Type: types.ArtifactChargeDelegation, CreatedBy: payer, Caller: payer,
			Content: content, KernelProtected: true, AccessContractID: "kernel_contract_private",
		})
		return err
	}
	_, err = m.store.ModifyProtectedContent(m.cap, id, content, "", existing.Metadata)
	return err
}

// Revoke removes charger's entry from payer's delegation, returning
// false if none existed.
func (m *Manager) Revoke(payer, charger string) (bool, error) {
	data, existing := m.loadData(payer)
	if existing == nil {
		return false, nil
	}

	kept := data.Entries[:0]
	found := false
	for _, e := range data.Entries {
		if e.ChargerID == charger {
			found = true
			continue
		}
		kept = append(kept, e)
	}
	if !found {
		return false, nil
	}
	data.Entries = kept

	content, err := json.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("delegation: marshal: %w", err)
	}
	_, err = m.store.ModifyProtectedContent(m.cap, delegationID(payer), content, "", existing.Metadata)
	return true, err
}

// AuthorizeCharge checks whether charger may currently charge payer
// amount, given existence, expiry, max_per_call, and rolling-window
// cumulative usage.
func (m *Manager) AuthorizeCharge(charger, payer string, amount int64) (bool, string) {
	data, existing := m.loadData(payer)
	if existing == nil {
		return false, "no delegation"
	}

	var entry *types.ChargeDelegationEntry
	for i := range data.Entries {
		if data.Entries[i].ChargerID == charger {
			entry = &data.Entries[i]
			break
		}
	}
	if entry == nil {
		return false, "no delegation"
	}

	now := m.now()
	if entry.ExpiresAt != nil && now.Unix() >= *entry.ExpiresAt {
		return false, "delegation expired"
	}
	if entry.MaxPerCall != nil && amount > *entry.MaxPerCall {
		return false, "exceeds max_per_call"
	}
	if entry.MaxPerWindow != nil {
		since := now.Add(-time.Duration(entry.WindowSeconds) * time.Second)
		used, err := m.window.Sum(payer, charger, since)
		if err != nil {
			return false, "window lookup failed"
		}
		if used+amount > *entry.MaxPerWindow {
			return false, "exceeds max_per_window"
		}
	}
	return true, ""
}

// RecordCharge appends one charge to the rolling-window history. Call
// this only after AuthorizeCharge returned ok and the charge actually
// settled.
func (m *Manager) RecordCharge(payer, charger string, amount int64) error {
	return m.window.Record(payer, charger, amount, m.now())
}

// ResolvePayer resolves the chargeTo directive to a concrete principal.
// caller is always a safe resolution. target/contract resolve to
// authorized_principal/authorized_writer, fields store.Write always
// strips from caller-supplied metadata so only the store itself
// (TransferOwnership, or Write tagging an authorized non-creator
// writer) can populate them (FM-2) — never an arbitrary user-writable one.
// pool:X resolves to X.
func ResolvePayer(chargeTo, caller string, artifact *types.Artifact) (string, error) {
	switch {
	case chargeTo == "" || chargeTo == "caller":
		return caller, nil
	case chargeTo == "target" || chargeTo == "contract":
		if artifact == nil {
			return "", errf("validation", "no artifact to resolve payer against")
		}
		if v, ok := artifact.Metadata["authorized_principal"].(string); ok && v != "" {
			return v, nil
		}
		if v, ok := artifact.Metadata["authorized_writer"].(string); ok && v != "" {
			return v, nil
		}
		return artifact.CreatedBy, nil
	case len(chargeTo) > 5 && chargeTo[:5] == "pool:":
		return chargeTo[5:], nil
	default:
		return "", errf("validation", "unknown charge_to directive %q", chargeTo)
	}
}
