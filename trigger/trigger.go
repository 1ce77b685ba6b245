// Package trigger implements the trigger registry: event-filter
// matching, absolute/relative scheduled firing, and the pending
// invocation queue the kernel drains between top-level actions.
package trigger

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/justapithecus/agora/store"
	"github.com/justapithecus/agora/types"
)

// triggerDoc is the JSON shape of a trigger artifact's content,
// matching types.TriggerData but kept separate so refresh can
// unmarshal straight from artifact.Content.
type triggerDoc = types.TriggerData

// Registry holds active (event-matching) and scheduled triggers, and
// the queue of invocations awaiting the next drain.
type Registry struct {
	store *store.Store

	active    map[string]*activeTrigger            // trigger id -> trigger
	scheduled map[int64][]string                   // target event number -> trigger ids
	pending   []types.PendingInvocation
}

type activeTrigger struct {
	id               string
	filter           types.Filter
	callbackArtifact string
	callbackMethod   string
	owner            string
}

// New constructs an empty Registry.
func New(s *store.Store) *Registry {
	return &Registry{
		store:     s,
		active:    make(map[string]*activeTrigger),
		scheduled: make(map[int64][]string),
	}
}

// Refresh rescans artifacts of type trigger and repopulates both the
// active and scheduled collections, re-validating callback ownership
// and enabled flags. Idempotent given a stable artifact store.
func (r *Registry) Refresh(currentEventNumber int64) error {
	r.active = make(map[string]*activeTrigger)
	r.scheduled = make(map[int64][]string)

	for _, id := range r.store.ByType(types.ArtifactTrigger) {
		art, ok := r.store.GetLive(id)
		if !ok {
			continue
		}
		var data triggerDoc
		if err := json.Unmarshal(art.Content, &data); err != nil {
			continue
		}

		callback, ok := r.store.GetLive(data.CallbackArtifact)
		if !ok || callback.CreatedBy != art.CreatedBy {
			// Spam prevention: a trigger is only valid if its creator
			// also created the callback artifact.
			continue
		}

		if data.IsScheduled() {
			target := data.TargetEventNumber()
			if target < currentEventNumber {
				// Scheduled triggers targeting a past event number are
				// ignored at refresh time.
				continue
			}
			r.scheduled[target] = append(r.scheduled[target], id)
			continue
		}

		if !data.Enabled {
			continue
		}
		r.active[id] = &activeTrigger{
			id: id, filter: data.EventFilter,
			callbackArtifact: data.CallbackArtifact, callbackMethod: data.CallbackMethod,
			owner: art.CreatedBy,
		}
	}
	return nil
}

// QueueMatchingInvocations evaluates every active trigger's filter
// against ev and appends one pending invocation per match.
func (r *Registry) QueueMatchingInvocations(ev *types.Event) {
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		t := r.active[id]
		if !matches(t.filter, ev) {
			continue
		}
		r.pending = append(r.pending, types.PendingInvocation{
			TriggerID: t.id, CallbackArtifact: t.callbackArtifact,
			CallbackMethod: t.callbackMethod, Event: ev, Owner: t.owner,
		})
	}
}

// FireScheduledTriggers queues every scheduled trigger whose target
// equals n, then removes them from the schedule.
func (r *Registry) FireScheduledTriggers(n int64) {
	ids, ok := r.scheduled[n]
	if !ok {
		return
	}
	for _, id := range ids {
		art, ok := r.store.GetLive(id)
		if !ok {
			continue
		}
		var data triggerDoc
		if err := json.Unmarshal(art.Content, &data); err != nil {
			continue
		}
		r.pending = append(r.pending, types.PendingInvocation{
			TriggerID: id, CallbackArtifact: data.CallbackArtifact,
			CallbackMethod: data.CallbackMethod, Owner: art.CreatedBy,
		})
	}
	delete(r.scheduled, n)
}

// DrainPending returns and clears all queued pending invocations. The
// kernel enqueues each as an invoke_artifact intent whose caller is the
// trigger's owner.
func (r *Registry) DrainPending() []types.PendingInvocation {
	out := r.pending
	r.pending = nil
	return out
}

// matches evaluates a Filter against an event. All conditions are
// conjunctive; unknown operators fail closed.
func matches(filter types.Filter, ev *types.Event) bool {
	for path, m := range filter {
		v, ok := ev.Field(path)
		if !matchOne(m, v, ok) {
			return false
		}
	}
	return true
}

func matchOne(m types.Matcher, v any, exists bool) bool {
	switch m.Op {
	case "":
		return exists && fmt.Sprintf("%v", v) == fmt.Sprintf("%v", m.Literal)
	case types.FilterEq:
		return exists && fmt.Sprintf("%v", v) == fmt.Sprintf("%v", m.Literal)
	case types.FilterNe:
		return !exists || fmt.Sprintf("%v", v) != fmt.Sprintf("%v", m.Literal)
	case types.FilterIn:
		if !exists || len(m.In) == 0 {
			return false
		}
		for _, candidate := range m.In {
			if fmt.Sprintf("%v", candidate) == fmt.Sprintf("%v", v) {
				return true
			}
		}
		return false
	case types.FilterExists:
		return exists == m.Exists
	default:
		return false
	}
}
