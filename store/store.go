// Package store implements the artifact store, keyed by caller-chosen
// artifact id (artifacts are not addressed by a hash of their content): the
// single owner of artifact state and the enforcer of every artifact
// invariant (I-TYPE, I-CREATOR, I-CONTRACT, I-PROTECTED, I-DAG,
// I-RESERVED, I-TOMBSTONE, I-SIZE).
package store

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/justapithecus/agora/contract"
	"github.com/justapithecus/agora/types"
)

// KernelCapability gates ModifyProtectedContent, the sole path that may
// mutate a kernel_protected artifact's content, code, or metadata. It
// carries no data; possession of one is the entire access control
// decision. Only the kernel constructs one at build time and hands it
// to the collaborators that legitimately need it (the delegation
// manager) — never to the action executor's
// user-facing write path.
type KernelCapability struct{ _ [0]int }

// NewKernelCapability mints a capability token. Call this exactly once
// per kernel instance, at construction, and pass the result only to
// trusted collaborators.
func NewKernelCapability() KernelCapability { return KernelCapability{} }

var invokeCallPattern = regexp.MustCompile(`invoke\(\s*["']([^"']+)["']`)

// authorizedPrincipalKeys are the metadata fields ResolvePayer (package
// delegation) and mint-task submission trust to identify a principal
// the kernel itself recognizes as authorized for an artifact (FM-2).
// Write strips both unconditionally from caller-supplied metadata on
// every create and update: an artifact's own writer must never be able
// to name an arbitrary victim as its authorized payer. authorized_writer
// is instead set by Write itself, only for an update where the caller
// legitimately differs from the creator (the access contract already
// granted that write upstream) — recording exactly the "authorized
// write" FM-2 describes. authorized_principal is set only by
// TransferOwnership, recording a completed transfer of control.
var authorizedPrincipalKeys = []string{"authorized_principal", "authorized_writer"}

// Error is a store-level invariant violation. Code is one of the
// I-* invariant tags or a plain not_found/validation failure.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func errf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Config bounds the invariants the store enforces that are not fixed by
// the data model itself.
type Config struct {
	// MaxDependencyDepth bounds the depends_on DAG (I-DAG).
	MaxDependencyDepth int
	// IndexedMetadataFields whitelists which metadata keys (dot-path)
	// are maintained in ByMetadata for O(1) lookup.
	IndexedMetadataFields []string
	// GenesisIDs names the undeletable genesis set, in addition to any
	// id with the genesis_ prefix.
	GenesisIDs map[string]bool
	// DiskQuota returns the byte quota for a principal. Nil means
	// unlimited.
	DiskQuota func(principal string) int64
}

// Store is the artifact store. Not safe for concurrent use; the kernel
// guarantees single-writer access.
type Store struct {
	cfg Config

	artifacts map[string]*types.Artifact
	byType    map[types.ArtifactType]map[string]bool
	byCreator map[string]map[string]bool
	byMeta    map[string]map[string]map[string]bool // field -> value -> ids

	diskUsed map[string]int64 // principal -> owned content+code bytes
}

// New constructs an empty Store.
func New(cfg Config) *Store {
	if cfg.GenesisIDs == nil {
		cfg.GenesisIDs = map[string]bool{}
	}
	return &Store{
		cfg:       cfg,
		artifacts: make(map[string]*types.Artifact),
		byType:    make(map[types.ArtifactType]map[string]bool),
		byCreator: make(map[string]map[string]bool),
		byMeta:    make(map[string]map[string]map[string]bool),
		diskUsed:  make(map[string]int64),
	}
}

// WriteParams bundles the arguments to Write. Zero values mean "unset",
// except where noted.
type WriteParams struct {
	ID   string
	Type types.ArtifactType
	// Caller is the principal submitting this write. On create it must
	// equal CreatedBy. On update it may differ (anyone the contract
	// grants write to); only the Caller == original creator may change
	// AccessContractID (I-CONTRACT).
	Caller           string
	Content          []byte
	CreatedBy        string
	Code             string
	Executable       bool
	Policy           *types.Policy
	AccessContractID contract.ID
	Metadata         map[string]any
	DependsOn        []string
	KernelProtected  bool
	HasStanding      bool
	HasLoop          bool
	CanExecute       bool
	Interface        *types.InterfaceSpec
	Now              time.Time
}

// Write creates or updates an artifact, enforcing every write-time
// invariant. On update, Type, CreatedBy, and AccessContractID (unless
// the caller is the creator) cannot change.
func (s *Store) Write(p WriteParams) (*types.Artifact, error) {
	if p.ID == "" {
		return nil, errf("validation", "artifact id must not be empty")
	}
	if err := s.checkReservedID(p.ID, p.CreatedBy); err != nil {
		return nil, err
	}

	existing, exists := s.artifacts[p.ID]
	if exists {
		if existing.Deleted {
			return nil, errf("tombstone", "artifact %s is deleted", p.ID)
		}
		if existing.KernelProtected {
			return nil, errf("kernel_protected", "artifact %s may only be modified via the kernel mutation path", p.ID)
		}
		if existing.Type != p.Type {
			return nil, errf("i_type", "artifact %s type is immutable (%s -> %s)", p.ID, existing.Type, p.Type)
		}
		if existing.CreatedBy != p.CreatedBy {
			// I-CREATOR: the write path always attributes created_by to
			// the original creator; a different caller performing a
			// "write" on an existing id is really an edit by someone
			// else, which contract enforcement must have already
			// authorized upstream. We preserve the original value.
			p.CreatedBy = existing.CreatedBy
		}
		if p.AccessContractID == "" {
			p.AccessContractID = contract.ID(existing.AccessContractID)
		} else if string(p.AccessContractID) != existing.AccessContractID {
			caller := p.Caller
			if caller == "" {
				caller = p.CreatedBy
			}
			if caller != existing.CreatedBy {
				return nil, errf("i_contract", "only the creator may change access_contract_id on %s", p.ID)
			}
		}
	} else if p.AccessContractID == "" {
		p.AccessContractID = contract.Default
	}

	if err := s.checkDependencies(p.ID, p.DependsOn); err != nil {
		return nil, err
	}

	now := p.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	metadata := p.Metadata
	if metadata == nil {
		metadata = make(map[string]any)
	} else {
		clone := make(map[string]any, len(metadata))
		for k, v := range metadata {
			clone[k] = v
		}
		metadata = clone
	}
	// FM-2: never let a caller-supplied write tag its own authorization.
	for _, k := range authorizedPrincipalKeys {
		delete(metadata, k)
	}
	if exists && p.Caller != "" && p.Caller != p.CreatedBy {
		// A caller distinct from the artifact's creator only reaches this
		// point because the access contract already granted them write
		// (checked upstream, before Write was ever called). The kernel
		// itself records that grant here; the caller never supplied it.
		metadata["authorized_writer"] = p.Caller
	}
	if p.Executable && p.Code != "" {
		metadata["invokes"] = extractInvokeTargets(p.Code)
	}

	createdAt := now
	if exists {
		createdAt = existing.CreatedAt
	}

	art := &types.Artifact{
		ID:               p.ID,
		Type:             p.Type,
		Content:          p.Content,
		Code:             p.Code,
		Executable:       p.Executable,
		CreatedBy:        p.CreatedBy,
		CreatedAt:        createdAt,
		UpdatedAt:        now,
		AccessContractID: string(p.AccessContractID),
		Metadata:         metadata,
		DependsOn:        p.DependsOn,
		HasStanding:      p.HasStanding,
		HasLoop:          p.HasLoop,
		CanExecute:       p.CanExecute,
		KernelProtected:  p.KernelProtected,
		Interface:        p.Interface,
	}
	if p.Policy != nil {
		art.Policy = *p.Policy
	} else if exists {
		art.Policy = existing.Policy
	}
	if exists {
		art.HasStanding = existing.HasStanding || p.HasStanding
		art.CanExecute = existing.CanExecute || p.CanExecute
		art.Metadata["controller"] = existing.Metadata["controller"]
		if art.Metadata["controller"] == nil {
			delete(art.Metadata, "controller")
		}
	}

	newSize := int64(len(art.Content) + len(art.Code))
	oldSize := int64(0)
	if exists {
		oldSize = int64(len(existing.Content) + len(existing.Code))
	}
	if s.cfg.DiskQuota != nil {
		projected := s.diskUsed[art.CreatedBy] - oldSize + newSize
		if quota := s.cfg.DiskQuota(art.CreatedBy); quota >= 0 && projected > quota {
			return nil, errf("i_size", "principal %s disk quota exceeded (%d > %d)", art.CreatedBy, projected, quota)
		}
	}

	s.unindex(existing)
	s.artifacts[p.ID] = art
	s.index(art)
	s.diskUsed[art.CreatedBy] += newSize - oldSize

	return art, nil
}

// ModifyProtectedContent is the only path that may mutate a
// kernel_protected artifact's content, code, or metadata. It does not
// re-check I-TYPE or I-CONTRACT: the kernel is trusted.
func (s *Store) ModifyProtectedContent(_ KernelCapability, id string, content []byte, code string, metadata map[string]any) (*types.Artifact, error) {
	art, ok := s.artifacts[id]
	if !ok {
		return nil, errf("not_found", "artifact %s does not exist", id)
	}
	if content != nil {
		art.Content = content
	}
	if code != "" {
		art.Code = code
	}
	if metadata != nil {
		art.Metadata = metadata
	}
	art.UpdatedAt = time.Now().UTC()
	return art, nil
}

// Get returns the artifact (or its tombstone, if deleted).
func (s *Store) Get(id string) (*types.Artifact, bool) {
	a, ok := s.artifacts[id]
	if !ok {
		return nil, false
	}
	if a.Deleted {
		return a.Tombstone(), true
	}
	return a, true
}

// GetLive returns the artifact only if it exists and is not deleted.
func (s *Store) GetLive(id string) (*types.Artifact, bool) {
	a, ok := s.artifacts[id]
	if !ok || a.Deleted {
		return nil, false
	}
	return a, true
}

// Exists reports whether an id is known, live or tombstoned.
func (s *Store) Exists(id string) bool {
	_, ok := s.artifacts[id]
	return ok
}

// LoadArtifact installs a exactly as given, bypassing every write-time
// invariant. Restore-only: the kernel calls this once per checkpointed
// artifact while reconstructing state from a checkpoint, never from
// the action executor's write path.
func (s *Store) LoadArtifact(a *types.Artifact) {
	s.artifacts[a.ID] = a
	s.index(a)
	if !a.Deleted {
		s.diskUsed[a.CreatedBy] += int64(len(a.Content) + len(a.Code))
	}
}

// DiskUsed returns the bytes of content+code a principal currently owns.
func (s *Store) DiskUsed(principal string) int64 {
	return s.diskUsed[principal]
}

// DiskQuota returns the configured disk quota for a principal, or -1 if
// no quota function is configured (unbounded).
func (s *Store) DiskQuota(principal string) int64 {
	if s.cfg.DiskQuota == nil {
		return -1
	}
	return s.cfg.DiskQuota(principal)
}

// ListAll returns every artifact, optionally including tombstones.
func (s *Store) ListAll(includeDeleted bool) []*types.Artifact {
	out := make([]*types.Artifact, 0, len(s.artifacts))
	ids := make([]string, 0, len(s.artifacts))
	for id := range s.artifacts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		a := s.artifacts[id]
		if a.Deleted && !includeDeleted {
			continue
		}
		out = append(out, a)
	}
	return out
}

// TransferOwnership sets metadata.controller = to. created_by never
// changes (I-CREATOR). This is also the only place authorized_principal
// is ever written: a completed ownership transfer is exactly "the
// kernel recording an authorized write" FM-2 describes, and unlike
// Write it takes to as a direct argument rather than an arbitrary
// caller-supplied metadata blob, so it cannot be used to name a victim
// who never actually received control of the artifact.
func (s *Store) TransferOwnership(id, from, to string) error {
	a, ok := s.GetLive(id)
	if !ok {
		return errf("not_found", "artifact %s does not exist", id)
	}
	if a.Metadata == nil {
		a.Metadata = make(map[string]any)
	}
	s.removeFromMetaIndex(a)
	a.Metadata["controller"] = to
	a.Metadata["authorized_principal"] = to
	a.UpdatedAt = time.Now().UTC()
	s.addToMetaIndex(a)
	return nil
}

// Delete tombstones an artifact. Refuses to delete configured genesis
// artifacts or anything with the genesis_ id prefix.
func (s *Store) Delete(id, by string) error {
	a, ok := s.GetLive(id)
	if !ok {
		return errf("not_found", "artifact %s does not exist", id)
	}
	if s.cfg.GenesisIDs[id] || strings.HasPrefix(id, "genesis_") {
		return errf("i_reserved", "artifact %s is in the genesis set and cannot be deleted", id)
	}
	a.Deleted = true
	a.DeletedAt = time.Now().UTC()
	a.DeletedBy = by
	s.unindex(a)
	s.diskUsed[a.CreatedBy] -= int64(len(a.Content) + len(a.Code))
	return nil
}

// ByType returns the set of live artifact ids of the given type.
func (s *Store) ByType(t types.ArtifactType) []string {
	return setToSortedSlice(s.byType[t])
}

// ByCreator returns the set of live artifact ids created by the given
// principal.
func (s *Store) ByCreator(creator string) []string {
	return setToSortedSlice(s.byCreator[creator])
}

// ByMetadata returns the set of live artifact ids whose metadata field
// (dot-path) equals value's string form. Only fields named in
// Config.IndexedMetadataFields are indexed.
func (s *Store) ByMetadata(field string, value string) []string {
	return setToSortedSlice(s.byMeta[field][value])
}

func setToSortedSlice(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Store) checkReservedID(id, createdBy string) error {
	switch {
	case strings.HasPrefix(id, "charge_delegation:"):
		payer := strings.TrimPrefix(id, "charge_delegation:")
		if payer != createdBy {
			return errf("i_reserved", "charge_delegation:%s may only be created by %s", payer, payer)
		}
	case strings.HasPrefix(id, "right:"):
		if createdBy != "kernel" {
			return errf("i_reserved", "right:* ids may only be created by the kernel principal")
		}
	}
	return nil
}

func (s *Store) checkDependencies(id string, deps []string) error {
	if len(deps) == 0 {
		return nil
	}
	for _, d := range deps {
		if d == id {
			return errf("i_dag", "artifact %s cannot depend on itself", id)
		}
		a, ok := s.artifacts[d]
		if !ok || a.Deleted {
			return errf("i_dag", "dependency %s does not exist", d)
		}
	}
	depth, err := s.dependencyDepth(id, deps, map[string]bool{id: true})
	if err != nil {
		return err
	}
	if s.cfg.MaxDependencyDepth > 0 && depth > s.cfg.MaxDependencyDepth {
		return errf("i_dag", "dependency depth %d exceeds limit %d", depth, s.cfg.MaxDependencyDepth)
	}
	return nil
}

func (s *Store) dependencyDepth(root string, deps []string, visiting map[string]bool) (int, error) {
	maxDepth := 0
	for _, d := range deps {
		if visiting[d] {
			return 0, errf("i_dag", "dependency cycle detected at %s", d)
		}
		a, ok := s.artifacts[d]
		if !ok {
			continue
		}
		visiting[d] = true
		childDepth, err := s.dependencyDepth(root, a.DependsOn, visiting)
		if err != nil {
			return 0, err
		}
		delete(visiting, d)
		if childDepth+1 > maxDepth {
			maxDepth = childDepth + 1
		}
	}
	return maxDepth, nil
}

func (s *Store) index(a *types.Artifact) {
	if a == nil || a.Deleted {
		return
	}
	if s.byType[a.Type] == nil {
		s.byType[a.Type] = make(map[string]bool)
	}
	s.byType[a.Type][a.ID] = true

	if s.byCreator[a.CreatedBy] == nil {
		s.byCreator[a.CreatedBy] = make(map[string]bool)
	}
	s.byCreator[a.CreatedBy][a.ID] = true

	s.addToMetaIndex(a)
}

func (s *Store) unindex(a *types.Artifact) {
	if a == nil {
		return
	}
	if set := s.byType[a.Type]; set != nil {
		delete(set, a.ID)
	}
	if set := s.byCreator[a.CreatedBy]; set != nil {
		delete(set, a.ID)
	}
	s.removeFromMetaIndex(a)
}

func (s *Store) addToMetaIndex(a *types.Artifact) {
	for _, field := range s.cfg.IndexedMetadataFields {
		v, ok := dotLookup(a.Metadata, field)
		if !ok {
			continue
		}
		key := fmt.Sprintf("%v", v)
		if s.byMeta[field] == nil {
			s.byMeta[field] = make(map[string]map[string]bool)
		}
		if s.byMeta[field][key] == nil {
			s.byMeta[field][key] = make(map[string]bool)
		}
		s.byMeta[field][key][a.ID] = true
	}
}

func (s *Store) removeFromMetaIndex(a *types.Artifact) {
	for _, field := range s.cfg.IndexedMetadataFields {
		v, ok := dotLookup(a.Metadata, field)
		if !ok {
			continue
		}
		key := fmt.Sprintf("%v", v)
		if set := s.byMeta[field][key]; set != nil {
			delete(set, a.ID)
		}
	}
}

func dotLookup(m map[string]any, path string) (any, bool) {
	cur := any(m)
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '.' {
			key := path[start:i]
			mm, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			v, ok := mm[key]
			if !ok {
				return nil, false
			}
			cur = v
			start = i + 1
		}
	}
	return cur, true
}

// extractInvokeTargets scans code for static invoke("<id>", ...) call
// sites. This is a regex scan, not a parse: string literals or comments
// that happen to contain the text invoke("...") produce false
// positives. That limitation is carried forward deliberately rather
// than silently fixed by a real parser.
func extractInvokeTargets(code string) []string {
	matches := invokeCallPattern.FindAllStringSubmatch(code, -1)
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		out = append(out, m[1])
	}
	return out
}
