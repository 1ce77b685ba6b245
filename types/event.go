package types

import "time"

// EventType tags the kind of a logged event. Snake-case per the event
// log file format.
type EventType string

const (
	EventArtifactWritten     EventType = "artifact_written"
	EventArtifactEdited      EventType = "artifact_edited"
	EventArtifactDeleted     EventType = "artifact_deleted"
	EventArtifactInvoked     EventType = "artifact_invoked"
	EventArtifactPurchased   EventType = "artifact_purchased"
	EventTransferSettled     EventType = "transfer_settled"
	EventMintAuctionResolved EventType = "mint_auction_resolved"
	EventMintTaskCompleted   EventType = "mint_task_completed"
	EventDelegationGranted   EventType = "delegation_granted"
	EventDelegationRevoked   EventType = "delegation_revoked"
	EventTriggerFired        EventType = "trigger_fired"
	EventActionFailed        EventType = "action_failed"
	EventKernelInvariant     EventType = "kernel_invariant_violation"
	EventNoop                EventType = "noop"
)

// Event is a single append-only record in the event log. EventNumber is
// the kernel's only notion of time: strictly monotonic, assigned by the
// kernel at append time.
type Event struct {
	Timestamp   time.Time      `msgpack:"timestamp" json:"timestamp"`
	EventNumber int64          `msgpack:"event_number" json:"event_number"`
	EventType   EventType      `msgpack:"event_type" json:"event_type"`
	Payload     map[string]any `msgpack:"payload,omitempty" json:"payload,omitempty"`

	// Actor is the principal whose submitted intent produced this event.
	Actor string `msgpack:"actor,omitempty" json:"actor,omitempty"`
	// Reasoning is the agent-supplied rationale for the action, attached
	// verbatim for traceability (never interpreted by the kernel).
	Reasoning string `msgpack:"reasoning,omitempty" json:"reasoning,omitempty"`
}

// Field reads a dot-path field from the event's flattened view (used by
// the trigger filter language). "type" and "event_number" resolve to the
// envelope fields; anything else is looked up in Payload.
func (e *Event) Field(path string) (any, bool) {
	switch path {
	case "type", "event_type":
		return string(e.EventType), true
	case "event_number":
		return e.EventNumber, true
	case "actor":
		return e.Actor, true
	}
	return lookupDotPath(e.Payload, path)
}

func lookupDotPath(m map[string]any, path string) (any, bool) {
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
