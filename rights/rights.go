// Package rights implements the rights registry: rights stored as
// plain artifacts (type right, id prefix right:), with split and merge
// operations that preserve total amount.
package rights

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/justapithecus/agora/contract"
	"github.com/justapithecus/agora/store"
	"github.com/justapithecus/agora/types"
)

// Error is a rights-registry failure.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func errf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Registry issues and tracks rights. The kernel identity passed at
// construction is the only principal permitted to create right:*
// artifacts (I-RESERVED).
type Registry struct {
	store        *store.Store
	kernelPrincipal string
}

// New constructs a Registry backed by s. kernelPrincipal is the
// created_by value used for every right: artifact (I-RESERVED).
func New(s *store.Store, kernelPrincipal string) *Registry {
	return &Registry{store: s, kernelPrincipal: kernelPrincipal}
}

// Create issues a new right of the given type/resource/amount to
// owner.
func (r *Registry) Create(owner string, rightType types.RightType, resource string, amount float64, model string, windowSeconds int) (*types.Artifact, error) {
	id := "right:" + uuid.NewString()
	data := types.RightData{RightType: rightType, Resource: resource, Amount: amount, Model: model, WindowSeconds: windowSeconds}
	content, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("rights: marshal right data: %w", err)
	}

	art, err := r.store.Write(store.WriteParams{
		ID:               id,
		Type:             types.ArtifactRight,
		Content:          content,
		CreatedBy:        r.kernelPrincipal,
		AccessContractID: contract.Private,
		Metadata:         map[string]any{"controller": owner},
		HasStanding:      false,
	})
	if err != nil {
		return nil, err
	}
	return art, nil
}

// GetRightData unmarshals the JSON content of a right artifact.
func (r *Registry) GetRightData(id string) (*types.RightData, error) {
	art, ok := r.store.GetLive(id)
	if !ok || art.Type != types.ArtifactRight {
		return nil, errf("not_found", "right %s does not exist", id)
	}
	var data types.RightData
	if err := json.Unmarshal(art.Content, &data); err != nil {
		return nil, fmt.Errorf("rights: unmarshal %s: %w", id, err)
	}
	return &data, nil
}

// UpdateAmount rewrites the amount field of a right's content.
func (r *Registry) UpdateAmount(id string, amount float64) error {
	data, err := r.GetRightData(id)
	if err != nil {
		return err
	}
	data.Amount = amount
	content, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("rights: marshal right data: %w", err)
	}
	art, _ := r.store.GetLive(id)
	_, err = r.store.Write(store.WriteParams{
		ID: id, Type: types.ArtifactRight, Content: content,
		CreatedBy: art.CreatedBy, Caller: art.CreatedBy,
		AccessContractID: contract.ID(art.AccessContractID), Metadata: art.Metadata,
	})
	return err
}

// FindByType returns the ids of owner's rights of the given type
// (optionally filtered by model).
func (r *Registry) FindByType(owner string, rightType types.RightType, model string) ([]string, error) {
	var out []string
	for _, id := range r.store.ByType(types.ArtifactRight) {
		art, ok := r.store.GetLive(id)
		if !ok || art.Controller() != owner {
			continue
		}
		data, err := r.GetRightData(id)
		if err != nil {
			continue
		}
		if data.RightType != rightType {
			continue
		}
		if model != "" && data.Model != model {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// TotalAmount sums the amount across all of owner's rights matching
// type/model.
func (r *Registry) TotalAmount(owner string, rightType types.RightType, model string) (float64, error) {
	ids, err := r.FindByType(owner, rightType, model)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, id := range ids {
		data, err := r.GetRightData(id)
		if err != nil {
			continue
		}
		total += data.Amount
	}
	return total, nil
}

// Split divides a right into len(amounts) new rights, all owned by
// caller, summing to the original amount. The parent is tombstoned.
func (r *Registry) Split(rightID string, amounts []float64, caller string) ([]*types.Artifact, error) {
	art, ok := r.store.GetLive(rightID)
	if !ok {
		return nil, errf("not_found", "right %s does not exist", rightID)
	}
	if art.Controller() != caller {
		return nil, errf("permission", "caller %s does not control right %s", caller, rightID)
	}
	data, err := r.GetRightData(rightID)
	if err != nil {
		return nil, err
	}

	var sum float64
	for _, a := range amounts {
		if a <= 0 {
			return nil, errf("validation", "split amounts must all be positive")
		}
		sum += a
	}
	if sum != data.Amount {
		return nil, errf("validation", "split amounts must sum to original amount %.4f, got %.4f", data.Amount, sum)
	}

	children := make([]*types.Artifact, 0, len(amounts))
	for _, a := range amounts {
		child, err := r.Create(caller, data.RightType, data.Resource, a, data.Model, data.WindowSeconds)
		if err != nil {
			return nil, err
		}
		child.Metadata["split_from"] = rightID
		children = append(children, child)
	}

	if err := r.store.Delete(rightID, caller); err != nil {
		return nil, err
	}
	return children, nil
}

// Merge combines rights of the same type/resource/model, all owned by
// caller, into a single right. Originals are tombstoned.
func (r *Registry) Merge(rightIDs []string, caller string, newID string) (*types.Artifact, error) {
	if len(rightIDs) == 0 {
		return nil, errf("validation", "merge requires at least one right")
	}

	var rightType types.RightType
	var resource, model string
	var total float64
	var windowSeconds int

	for i, id := range rightIDs {
		art, ok := r.store.GetLive(id)
		if !ok {
			return nil, errf("not_found", "right %s does not exist", id)
		}
		if art.Controller() != caller {
			return nil, errf("permission", "caller %s does not control right %s", caller, id)
		}
		data, err := r.GetRightData(id)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			rightType, resource, model, windowSeconds = data.RightType, data.Resource, data.Model, data.WindowSeconds
		} else if data.RightType != rightType || data.Resource != resource || data.Model != model {
			return nil, errf("validation", "all merged rights must share type/resource/model")
		}
		total += data.Amount
	}

	merged, err := r.Create(caller, rightType, resource, total, model, windowSeconds)
	if err != nil {
		return nil, err
	}
	if newID != "" {
		merged.Metadata["requested_id"] = newID
	}

	for _, id := range rightIDs {
		if err := r.store.Delete(id, caller); err != nil {
			return nil, err
		}
	}
	return merged, nil
}
