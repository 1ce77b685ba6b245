// Package types defines the core domain types shared by every kernel
// component: artifacts, principals, rights, delegations, events,
// triggers, mint records, and the tagged-union intent/result types
// that cross the action-executor boundary.
package types

import "time"

// ArtifactType tags the role an artifact plays. Immutable after creation
// (invariant I-TYPE).
type ArtifactType string

const (
	ArtifactData             ArtifactType = "data"
	ArtifactAgent            ArtifactType = "agent"
	ArtifactMemory           ArtifactType = "memory"
	ArtifactRight            ArtifactType = "right"
	ArtifactTrigger          ArtifactType = "trigger"
	ArtifactExecutable       ArtifactType = "executable"
	ArtifactContract         ArtifactType = "contract"
	ArtifactChargeDelegation ArtifactType = "charge_delegation"
)

// Policy captures the advisory pricing/visibility inputs consulted by
// access contracts. Policy is data, not an enforcement mechanism: the
// contract package is what actually grants or denies an action.
type Policy struct {
	ReadPrice   int64 `json:"read_price,omitempty"`
	InvokePrice int64 `json:"invoke_price,omitempty"`
	AllowRead   bool  `json:"allow_read"`
	AllowWrite  bool  `json:"allow_write"`
	AllowInvoke bool  `json:"allow_invoke"`
}

// InterfaceSpec is an optional structured tool/method schema an
// executable artifact exposes to callers and agent proposers.
type InterfaceSpec struct {
	Methods map[string]MethodSpec `json:"methods,omitempty"`
}

// MethodSpec describes one invokable method of an executable artifact.
type MethodSpec struct {
	Description string   `json:"description,omitempty"`
	Params      []string `json:"params,omitempty"`
}

// Artifact is the universal storage primitive. Every principal, right,
// delegation, trigger, and piece of executable logic in the world is an
// Artifact; components distinguish roles by Type and by the derived
// HasStanding/CanExecute flags below.
type Artifact struct {
	ID        string       `json:"id"`
	Type      ArtifactType `json:"type"`
	Content   []byte       `json:"content,omitempty"`
	Code      string       `json:"code,omitempty"`
	Executable bool        `json:"executable"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	AccessContractID string `json:"access_contract_id"`

	Policy   Policy         `json:"policy"`
	Metadata map[string]any `json:"metadata,omitempty"`

	DependsOn []string `json:"depends_on,omitempty"`

	HasStanding bool `json:"has_standing"`
	HasLoop     bool `json:"has_loop"`
	CanExecute  bool `json:"can_execute"`

	Deleted   bool      `json:"deleted"`
	DeletedAt time.Time `json:"deleted_at,omitempty"`
	DeletedBy string    `json:"deleted_by,omitempty"`

	KernelProtected bool `json:"kernel_protected"`

	Interface *InterfaceSpec `json:"interface,omitempty"`
}

// IsPrincipal reports whether the artifact may own things, be charged,
// or enter contracts.
func (a *Artifact) IsPrincipal() bool {
	return a.HasStanding
}

// IsAgent reports whether the artifact runs its own decision loop.
func (a *Artifact) IsAgent() bool {
	return a.HasStanding && a.CanExecute
}

// Controller returns the artifact's current controller: the
// metadata.controller field set by TransferOwnership, falling back to
// CreatedBy. CreatedBy itself never changes (invariant I-CREATOR).
func (a *Artifact) Controller() string {
	if v, ok := a.Metadata["controller"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return a.CreatedBy
}

// Tombstone returns the surviving public record of a deleted artifact:
// id, type, deletion metadata, and nothing else (invariant I-TOMBSTONE).
func (a *Artifact) Tombstone() *Artifact {
	return &Artifact{
		ID:        a.ID,
		Type:      a.Type,
		Deleted:   true,
		DeletedAt: a.DeletedAt,
		DeletedBy: a.DeletedBy,
	}
}
