package agency

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-systems/agency/internal/broker"
	"github.com/corvid-systems/agency/internal/journal"
	"github.com/corvid-systems/agency/internal/wireproto"
	"github.com/corvid-systems/agency/public/medium"
)

type fakeAgent struct {
	initiateErr error
	stopped     bool
	medium      *medium.Medium
}

func (a *fakeAgent) Initiate(m *medium.Medium) error {
	a.medium = m
	return a.initiateErr
}

func (a *fakeAgent) Stop(m *medium.Medium) error {
	a.stopped = true
	return nil
}

// registerUniqueFactory registers factory under a document_type derived
// from the running test's name, so parallel tests never collide on the
// package-level static factory registry.
func registerUniqueFactory(t *testing.T, factory AgentFactory) string {
	t.Helper()
	docType := fmt.Sprintf("doc-type-%s", t.Name())
	require.NoError(t, RegisterFactory(docType, factory))
	return docType
}

func newTestAgency(t *testing.T) *Agency {
	t.Helper()
	ag, err := New(Options{
		Broker: broker.NewInMemory(nil),
		Sink:   journal.NewMemorySink(),
	})
	require.NoError(t, err)
	return ag
}

func TestAgencyStartAndStopAgent(t *testing.T) {
	agentImpl := &fakeAgent{}
	docType := registerUniqueFactory(t, func() (Agent, error) { return agentImpl, nil })
	ag := newTestAgency(t)

	m, err := ag.StartAgent(wireproto.Descriptor{DocID: "agent-1", DocumentType: docType})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Same(t, m, agentImpl.medium)

	got, ok := ag.Medium("agent-1")
	require.True(t, ok)
	assert.Same(t, m, got)

	require.NoError(t, ag.StopAgent("agent-1"))
	assert.True(t, agentImpl.stopped)
	_, ok = ag.Medium("agent-1")
	assert.False(t, ok)
}

func TestAgencyStartAgentRollsBackOnInitiateFailure(t *testing.T) {
	boom := assert.AnError
	docType := registerUniqueFactory(t, func() (Agent, error) { return &fakeAgent{initiateErr: boom}, nil })
	ag := newTestAgency(t)

	_, err := ag.StartAgent(wireproto.Descriptor{DocID: "agent-2", DocumentType: docType})
	require.Error(t, err)
	_, ok := ag.Medium("agent-2")
	assert.False(t, ok, "a Medium whose Initiate failed must not remain registered")
}

func TestAgencyStartAgentUnknownDocumentType(t *testing.T) {
	ag := newTestAgency(t)
	_, err := ag.StartAgent(wireproto.Descriptor{DocID: "agent-3", DocumentType: "no-such-type"})
	assert.Error(t, err)
}

func TestAgencyJournalsAgentLifecycle(t *testing.T) {
	agentImpl := &fakeAgent{}
	docType := registerUniqueFactory(t, func() (Agent, error) { return agentImpl, nil })
	ag := newTestAgency(t)

	_, err := ag.StartAgent(wireproto.Descriptor{DocID: "agent-4", DocumentType: docType})
	require.NoError(t, err)
	require.NoError(t, ag.StopAgent("agent-4"))

	entries := ag.Entries()
	var sawCreated, sawDeleted bool
	for _, e := range entries {
		switch e.Output {
		case "agent_created":
			sawCreated = true
		case "agent_deleted":
			sawDeleted = true
		}
	}
	assert.True(t, sawCreated)
	assert.True(t, sawDeleted)
}
