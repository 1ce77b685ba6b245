// Package lode persists kernel checkpoints to a Hive-partitioned JSONL
// dataset via the justapithecus/lode library: one record per artifact
// (partitioned by kind/type/creator/day) plus one sentinel "kernel_state"
// record per checkpoint carrying the ledger, mint-auction state, and
// event number. Checkpoint semantics (what a checkpoint contains, that
// restore does not replay events) are spec.md §4.11/§6; this package is
// only the storage backend.
package lode

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/justapithecus/lode/lode"
)

// RecordKind discriminates the two record shapes written to the
// checkpoint dataset.
type RecordKind string

const (
	// RecordKindArtifact marks a single serialized artifact.
	RecordKindArtifact RecordKind = "artifact"
	// RecordKindState marks the one-per-checkpoint ledger/mint/event_number record.
	RecordKindState RecordKind = "kernel_state"
)

// NewCheckpointDatasetFS opens (creating if absent) a filesystem-backed
// checkpoint dataset rooted at rootPath, partitioned by
// kind/type/creator/day.
func NewCheckpointDatasetFS(name, rootPath string) (lode.Dataset, error) {
	return NewCheckpointDataset(name, lode.NewFSFactory(rootPath))
}

// NewCheckpointDataset opens a checkpoint dataset against an arbitrary
// lode.StoreFactory (e.g. lode.NewMemoryFactory() in tests).
func NewCheckpointDataset(name string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(name),
		factory,
		lode.WithHiveLayout("kind", "type", "creator", "day"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// ArtifactRecord is the JSONL row written for one checkpointed artifact.
type ArtifactRecord struct {
	Kind    RecordKind      `json:"kind"`
	Type    string          `json:"type"`
	Creator string          `json:"creator"`
	Day     string          `json:"day"`
	Data    json.RawMessage `json:"data"`
}

// StateRecord is the JSONL row carrying everything in a checkpoint that
// is not an artifact: balances, resource quotas, mint-auction state,
// and the current event number.
type StateRecord struct {
	Kind        RecordKind                    `json:"kind"`
	Type        string                        `json:"type"`
	Creator     string                        `json:"creator"`
	Day         string                        `json:"day"`
	EventNumber int64                         `json:"event_number"`
	Balances    map[string]int64              `json:"balances"`
	Resources   map[string]map[string]float64 `json:"resources"`
	Mint        json.RawMessage               `json:"mint,omitempty"`
}

// WriteCheckpoint writes one record per artifact plus a single state
// record to ds, all stamped with the same day partition. now is the
// checkpoint time (used only for the day partition; checkpoints carry
// no other timestamp).
func WriteCheckpoint(ctx context.Context, ds lode.Dataset, artifacts []ArtifactRecord, state StateRecord, now time.Time) error {
	day := now.UTC().Format("2006-01-02")

	records := make([]any, 0, len(artifacts)+1)
	for _, a := range artifacts {
		a.Kind = RecordKindArtifact
		a.Day = day
		records = append(records, a)
	}
	state.Kind = RecordKindState
	state.Type = "_state"
	state.Creator = "_kernel"
	state.Day = day
	records = append(records, state)

	if _, err := ds.Write(ctx, records, lode.Metadata{}); err != nil {
		return WrapWriteError(err, fmt.Sprintf("checkpoint/%s", day))
	}
	return nil
}

// ReadLatestCheckpoint scans the dataset's snapshots and reconstructs
// the most recently written checkpoint's artifact records and state
// record. Returns a nil state if the dataset has never been written to.
func ReadLatestCheckpoint(ctx context.Context, ds lode.Dataset) ([]ArtifactRecord, *StateRecord, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, nil, WrapReadError(err, "checkpoint/snapshots")
	}
	if len(snapshots) == 0 {
		return nil, nil, nil
	}

	// Snapshots are appended in write order; the latest checkpoint is
	// the last one.
	snap := snapshots[len(snapshots)-1]
	items, err := ds.Read(ctx, snap.ID)
	if err != nil {
		return nil, nil, WrapReadError(err, fmt.Sprintf("checkpoint/snapshot/%s", snap.ID))
	}

	var artifacts []ArtifactRecord
	var state *StateRecord
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			continue
		}
		var probe struct {
			Kind RecordKind `json:"kind"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			continue
		}
		switch probe.Kind {
		case RecordKindArtifact:
			var a ArtifactRecord
			if err := json.Unmarshal(raw, &a); err == nil {
				artifacts = append(artifacts, a)
			}
		case RecordKindState:
			var s StateRecord
			if err := json.Unmarshal(raw, &s); err == nil {
				state = &s
			}
		}
	}

	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Type < artifacts[j].Type })
	return artifacts, state, nil
}
