package journal

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySinkAppendAndFilter(t *testing.T) {
	sink := NewMemorySink()
	sink.Append(Entry{AgentID: "agent-1", EntryID: "e1"})
	sink.Append(Entry{AgentID: "agent-2", EntryID: "e2"})
	sink.Append(Entry{AgentID: "agent-1", EntryID: "e3"})

	assert.Len(t, sink.Entries(), 3)
	forAgent1 := sink.EntriesFor("agent-1")
	require.Len(t, forAgent1, 2)
	assert.Equal(t, "e1", forAgent1[0].EntryID)
	assert.Equal(t, "e3", forAgent1[1].EntryID)
}

func TestFileSinkRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	sink := NewFileSink(&buf)
	sink.Append(Entry{AgentID: "agent-1", EntryID: "e1", Input: "in", Output: "out"})
	sink.Append(Entry{AgentID: "agent-1", EntryID: "e2"})

	assert.Len(t, sink.Entries(), 2)

	decoded, err := ReadFileSink(&buf)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, "e1", decoded[0].EntryID)
	assert.Equal(t, "in", decoded[0].Input)
	assert.Equal(t, "e2", decoded[1].EntryID)
}
