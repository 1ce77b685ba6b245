// Package seed loads the starting artifact population for a run from a
// TOML manifest: the initial agents, data, and executables a
// simulation begins with. This is distinct from the kernel's own fixed
// genesis_kernel/genesis_mint/genesis_ubi_sink set, which kernel.Build
// seeds unconditionally and which a manifest cannot redefine.
package seed

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Artifact is one manifest entry, expressed in TOML rather than Go: the
// subset of store.WriteParams a seed file can specify, plus an
// optional starting ledger balance.
type Artifact struct {
	ID               string         `toml:"id"`
	Type             string         `toml:"type"`
	CreatedBy        string         `toml:"created_by"`
	Content          string         `toml:"content"`
	Code             string         `toml:"code"`
	Executable       bool           `toml:"executable"`
	AccessContractID string         `toml:"access_contract_id"`
	HasStanding      bool           `toml:"has_standing"`
	Metadata         map[string]any `toml:"metadata"`
	DependsOn        []string       `toml:"depends_on"`
	InitialBalance   int64          `toml:"initial_balance"`
}

// Manifest is the top-level shape of a seed TOML file: a flat list of
// [[artifact]] tables, applied in file order so a later entry may
// depend_on an earlier one.
type Manifest struct {
	Artifacts []Artifact `toml:"artifact"`
}

// Load reads and parses a seed manifest. It does not touch the store;
// kernel.World.ApplySeed does the writing.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read manifest %q: %w", path, err)
	}
	var m Manifest
	if _, err := toml.Decode(string(data), &m); err != nil {
		return nil, fmt.Errorf("seed: invalid TOML in %s: %w", path, err)
	}
	return &m, nil
}
