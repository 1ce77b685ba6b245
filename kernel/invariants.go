package kernel

import (
	"fmt"
	"sort"
)

// CheckInvariants performs a read-only sweep over current state,
// reporting violations a hand-assembled checkpoint could smuggle in —
// the store and ledger only enforce their invariants at the write or
// debit call site, never retroactively against a reloaded snapshot.
// strict additionally reports soft warnings (a standing principal with
// no balance or resource quota at all) as violations.
func (w *World) CheckInvariants(strict bool) []string {
	var violations []string

	for id := range genesisIDs() {
		if !w.store.Exists(id) {
			violations = append(violations, fmt.Sprintf("missing genesis artifact %s", id))
			continue
		}
		art, _ := w.store.Get(id)
		if !art.KernelProtected {
			violations = append(violations, fmt.Sprintf("genesis artifact %s is not kernel_protected", id))
		}
	}

	for _, a := range w.store.ListAll(false) {
		for _, dep := range a.DependsOn {
			if !w.store.Exists(dep) {
				violations = append(violations, fmt.Sprintf("artifact %s depends on missing artifact %s", a.ID, dep))
			}
		}
	}

	if strict {
		for _, p := range w.ledger.Principals() {
			if w.ledger.Balance(p) == 0 && len(w.ledger.Resources(p)) == 0 {
				violations = append(violations, fmt.Sprintf("principal %s has zero balance and no resource quotas", p))
			}
		}
	}

	sort.Strings(violations)
	return violations
}
