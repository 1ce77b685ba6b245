package kernel

import (
	"fmt"

	"github.com/justapithecus/agora/contract"
	"github.com/justapithecus/agora/store"
	"github.com/justapithecus/agora/store/seed"
	"github.com/justapithecus/agora/types"
)

// ApplySeed writes every artifact in a manifest and credits any
// declared starting balance, in manifest order. Unlike the fixed
// genesis set, seed artifacts are ordinary: kernel_protected is never
// set, and store.Write's usual invariants (I-DAG, I-RESERVED, and so
// on) apply exactly as they would to an agent-submitted write_artifact.
func (w *World) ApplySeed(m *seed.Manifest) (int, error) {
	applied := 0
	for _, a := range m.Artifacts {
		contractID := contract.ID(a.AccessContractID)
		if contractID == "" {
			contractID = contract.Default
		}
		_, err := w.store.Write(store.WriteParams{
			ID: a.ID, Type: types.ArtifactType(a.Type),
			Caller: a.CreatedBy, CreatedBy: a.CreatedBy,
			Content: []byte(a.Content), Code: a.Code, Executable: a.Executable,
			AccessContractID: contractID, Metadata: a.Metadata, DependsOn: a.DependsOn,
			HasStanding: a.HasStanding, Now: w.cfg.Now(),
		})
		if err != nil {
			return applied, fmt.Errorf("kernel: apply seed artifact %s: %w", a.ID, err)
		}
		if a.InitialBalance > 0 {
			if err := w.ledger.Credit(a.CreatedBy, a.InitialBalance); err != nil {
				return applied, fmt.Errorf("kernel: credit seed artifact %s: %w", a.ID, err)
			}
		}
		applied++
	}
	return applied, nil
}
