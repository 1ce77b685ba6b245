package types

// FilterOp is a single-key operator matcher applied to an event field.
type FilterOp string

const (
	FilterEq     FilterOp = "$eq"
	FilterNe     FilterOp = "$ne"
	FilterIn     FilterOp = "$in"
	FilterExists FilterOp = "$exists"
)

// Matcher is either a literal value (implicit equality) or a single-key
// operator map. Callers type-switch on Op == "" to detect the literal case.
type Matcher struct {
	Op      FilterOp
	Literal any
	In      []any
	Exists  bool
}

// Filter is a map of event field-path to Matcher. All conditions are
// conjunctive.
type Filter map[string]Matcher

// TriggerData is the JSON content shape of an artifact of type ArtifactTrigger.
// Exactly one of the event-matching or scheduled forms applies.
type TriggerData struct {
	// Event-matching form.
	EventFilter      Filter `json:"filter,omitempty"`
	CallbackArtifact string `json:"callback_artifact"`
	CallbackMethod   string `json:"callback_method"`
	Enabled          bool   `json:"enabled"`

	// Scheduled forms (mutually exclusive with each other).
	FireAtEvent         *int64 `json:"fire_at_event,omitempty"`
	FireAfterEvents     *int64 `json:"fire_after_events,omitempty"`
	RegisteredAtEvent   int64  `json:"registered_at_event,omitempty"`
}

// IsScheduled reports whether this trigger fires at an absolute or
// relative event number rather than matching an event filter.
func (t *TriggerData) IsScheduled() bool {
	return t.FireAtEvent != nil || t.FireAfterEvents != nil
}

// TargetEventNumber returns the absolute event number this trigger
// targets, resolving a relative FireAfterEvents against RegisteredAtEvent.
func (t *TriggerData) TargetEventNumber() int64 {
	if t.FireAtEvent != nil {
		return *t.FireAtEvent
	}
	if t.FireAfterEvents != nil {
		return t.RegisteredAtEvent + *t.FireAfterEvents
	}
	return -1
}

// PendingInvocation is one queued, not-yet-executed trigger firing.
type PendingInvocation struct {
	TriggerID        string
	CallbackArtifact string
	CallbackMethod   string
	Event            *Event
	Owner            string
}
