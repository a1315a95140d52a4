package agency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-systems/agency/internal/agencyerr"
	"github.com/corvid-systems/agency/internal/wireproto"
	"github.com/corvid-systems/agency/public/medium"
	"github.com/corvid-systems/agency/public/protocol"
)

// taskStartingAgent fires one fire-and-forget Task during Initiate, so
// its Medium ends up with both a protocol_created and (once the task's
// goroutine returns) a protocol_deleted entry alongside the agent's own
// lifecycle entries.
type taskStartingAgent struct {
	medium *medium.Medium
}

func (a *taskStartingAgent) Initiate(m *medium.Medium) error {
	a.medium = m
	factory := protocol.TaskFactory{
		ProtoType: "replay-demo",
		Timeout:   time.Minute,
		Run:       func(t *protocol.Task) error { return nil },
	}
	_, err := m.InitiateProtocol(factory, nil)
	return err
}

func TestReplayReconstructsAgentAndProtocolLifecycle(t *testing.T) {
	agentImpl := &taskStartingAgent{}
	docType := registerUniqueFactory(t, func() (Agent, error) { return agentImpl, nil })
	ag := newTestAgency(t)

	desc := wireproto.Descriptor{DocID: "agent-6", DocumentType: docType}
	_, err := ag.StartAgent(desc)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, e := range ag.Entries() {
			if e.Output == "protocol_deleted" {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond, "the task must complete and unregister itself")

	require.NoError(t, ag.StopAgent("agent-6"))

	entries := ag.EntriesFor("agent-6")
	got, err := Replay("agent-6", entries)
	require.NoError(t, err)
	assert.True(t, got.Deleted, "replaying every entry must reconstruct the agent's final (stopped) state")
	require.Len(t, got.ProtocolSnapshots, 1, "the task's termination must leave one protocol_deleted entry behind")

	outer, ok := got.ProtocolSnapshots[0].(map[string]any)
	require.True(t, ok)
	snap, ok := outer["Snapshot"].(map[string]any)
	require.True(t, ok, "Task.Snapshot embeds protocol.Snapshot under its exported field name")
	assert.Equal(t, protocol.TaskCompleted, snap["State"])
	assert.Equal(t, "replay-demo", snap["ProtocolType"])
}

func TestReplayUnknownAgentIsMismatch(t *testing.T) {
	_, err := Replay("no-such-agent", nil)
	assert.ErrorIs(t, err, agencyerr.ErrReplayMismatch)
}

func TestReplayDetectsTamperedDescriptorCloneEffect(t *testing.T) {
	agentImpl := &fakeAgent{}
	docType := registerUniqueFactory(t, func() (Agent, error) { return agentImpl, nil })
	ag := newTestAgency(t)

	desc := wireproto.Descriptor{DocID: "agent-7", DocumentType: docType}
	_, err := ag.StartAgent(desc)
	require.NoError(t, err)
	require.NoError(t, ag.StopAgent("agent-7"))

	entries := ag.EntriesFor("agent-7")
	for i := range entries {
		if entries[i].Output != "agent_deleted" {
			continue
		}
		effects, ok := entries[i].SideEffects.([]any)
		require.True(t, ok)
		eff, ok := effects[0].(map[string]any)
		require.True(t, ok)
		eff["Result"] = map[string]any{"DocID": "tampered"}
	}

	_, err = Replay("agent-7", entries)
	assert.ErrorIs(t, err, agencyerr.ErrReplayMismatch)
}
