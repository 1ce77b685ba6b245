package trigger_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justapithecus/agora/store"
	"github.com/justapithecus/agora/trigger"
	"github.com/justapithecus/agora/types"
)

func writeCallback(t *testing.T, s *store.Store, id, creator string) {
	t.Helper()
	_, err := s.Write(store.WriteParams{ID: id, Type: types.ArtifactExecutable, CreatedBy: creator, Executable: true, Code: "func Run(args []any) (any, error) { return nil, nil }"})
	require.NoError(t, err)
}

func writeTrigger(t *testing.T, s *store.Store, id, creator string, data types.TriggerData) {
	t.Helper()
	content, err := json.Marshal(data)
	require.NoError(t, err)
	_, err = s.Write(store.WriteParams{ID: id, Type: types.ArtifactTrigger, CreatedBy: creator, Content: content})
	require.NoError(t, err)
}

func TestActiveTriggerMatchesFilter(t *testing.T) {
	s := store.New(store.Config{})
	writeCallback(t, s, "cb", "alice")
	writeTrigger(t, s, "trig1", "alice", types.TriggerData{
		EventFilter:      types.Filter{"type": {Literal: "artifact_written"}},
		CallbackArtifact: "cb", CallbackMethod: "run", Enabled: true,
	})

	reg := trigger.New(s)
	require.NoError(t, reg.Refresh(0))

	ev := &types.Event{EventType: types.EventArtifactWritten, EventNumber: 1}
	reg.QueueMatchingInvocations(ev)

	pending := reg.DrainPending()
	require.Len(t, pending, 1)
	assert.Equal(t, "cb", pending[0].CallbackArtifact)
	assert.Equal(t, "alice", pending[0].Owner)
}

func TestSpamPreventionRejectsMismatchedCreator(t *testing.T) {
	s := store.New(store.Config{})
	writeCallback(t, s, "cb", "bob")
	writeTrigger(t, s, "trig1", "alice", types.TriggerData{
		EventFilter:      types.Filter{"type": {Literal: "artifact_written"}},
		CallbackArtifact: "cb", CallbackMethod: "run", Enabled: true,
	})

	reg := trigger.New(s)
	require.NoError(t, reg.Refresh(0))

	ev := &types.Event{EventType: types.EventArtifactWritten, EventNumber: 1}
	reg.QueueMatchingInvocations(ev)
	assert.Empty(t, reg.DrainPending())
}

func TestScheduledTriggerFiresAtTargetEventNumber(t *testing.T) {
	s := store.New(store.Config{})
	writeCallback(t, s, "cb", "alice")
	target := int64(5)
	writeTrigger(t, s, "trig1", "alice", types.TriggerData{
		FireAtEvent: &target, CallbackArtifact: "cb", CallbackMethod: "run",
	})

	reg := trigger.New(s)
	require.NoError(t, reg.Refresh(0))

	reg.FireScheduledTriggers(4)
	assert.Empty(t, reg.DrainPending())

	reg.FireScheduledTriggers(5)
	pending := reg.DrainPending()
	require.Len(t, pending, 1)
}

func TestScheduledTriggerAtCurrentEventNumberFiresImmediately(t *testing.T) {
	s := store.New(store.Config{})
	writeCallback(t, s, "cb", "alice")
	target := int64(3)
	writeTrigger(t, s, "trig1", "alice", types.TriggerData{
		FireAtEvent: &target, CallbackArtifact: "cb", CallbackMethod: "run",
	})

	reg := trigger.New(s)
	require.NoError(t, reg.Refresh(3))
	reg.FireScheduledTriggers(3)
	assert.Len(t, reg.DrainPending(), 1)
}

func TestPastScheduledTriggerIgnoredAtRefresh(t *testing.T) {
	s := store.New(store.Config{})
	writeCallback(t, s, "cb", "alice")
	target := int64(1)
	writeTrigger(t, s, "trig1", "alice", types.TriggerData{
		FireAtEvent: &target, CallbackArtifact: "cb", CallbackMethod: "run",
	})

	reg := trigger.New(s)
	require.NoError(t, reg.Refresh(10))
	reg.FireScheduledTriggers(1)
	assert.Empty(t, reg.DrainPending())
}

func TestFilterInEmptyAlwaysFalse(t *testing.T) {
	s := store.New(store.Config{})
	writeCallback(t, s, "cb", "alice")
	writeTrigger(t, s, "trig1", "alice", types.TriggerData{
		EventFilter:      types.Filter{"type": {Op: types.FilterIn, In: []any{}}},
		CallbackArtifact: "cb", CallbackMethod: "run", Enabled: true,
	})

	reg := trigger.New(s)
	require.NoError(t, reg.Refresh(0))
	reg.QueueMatchingInvocations(&types.Event{EventType: types.EventArtifactWritten, EventNumber: 1})
	assert.Empty(t, reg.DrainPending())
}

func TestRefreshIsIdempotent(t *testing.T) {
	s := store.New(store.Config{})
	writeCallback(t, s, "cb", "alice")
	writeTrigger(t, s, "trig1", "alice", types.TriggerData{
		EventFilter:      types.Filter{"type": {Literal: "artifact_written"}},
		CallbackArtifact: "cb", CallbackMethod: "run", Enabled: true,
	})

	reg := trigger.New(s)
	require.NoError(t, reg.Refresh(0))
	require.NoError(t, reg.Refresh(0))

	ev := &types.Event{EventType: types.EventArtifactWritten, EventNumber: 1}
	reg.QueueMatchingInvocations(ev)
	assert.Len(t, reg.DrainPending(), 1)
}
