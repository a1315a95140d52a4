package agency

import (
	"fmt"
	"reflect"

	"github.com/corvid-systems/agency/internal/agencyerr"
	"github.com/corvid-systems/agency/internal/journal"
)

// ReplaySnapshot is the state Replay reconstructs for one agent purely
// from its journaled entries, with no live Agency or Medium involved —
// the replica side of spec §4.4 step 3's "snapshot the replicated agent
// and compare to the original's snapshot: equal by value."
type ReplaySnapshot struct {
	AgentID    string
	Descriptor any // agent_created's (or, once deleted, agent_deleted's) input, unserialized
	Deleted    bool

	// ProtocolSnapshots holds, in append order, the unserialized
	// Snapshot() value every protocol instance this agent terminated
	// recorded in its protocol_deleted entry. A protocol instance still
	// in flight when the journal was cut contributes nothing, matching
	// the live Medium: a listener's Snapshot() is only ever observed at
	// UnregisterListener, never mid-conversation.
	ProtocolSnapshots []any
}

// Replay reconstructs agentID's ReplaySnapshot from entries, which must
// already be in the append order Agency.Entries() returns — the
// "Given (agent_id, entries…)" driver from spec §4.4.
//
// This journal checkpoints an agent's lifecycle (agent_created,
// agent_deleted) and each protocol instance's creation and termination
// (protocol_created, protocol_deleted); it does not checkpoint the
// individual inbound messages a protocol instance handled in between.
// There is therefore no per-message entry to re-drive a ContractManager
// or Task's state machine transition-by-transition against a
// replay-local recorder the way spec §4.4 step 2 describes for a system
// that journals at message granularity. Replay reconstructs state at the
// granularity this journal actually records — agent and protocol
// lifecycle boundaries — rather than claiming a message-level replay the
// design doesn't support; see DESIGN.md's entry on Replay scope.
func Replay(agentID string, entries []journal.Entry) (ReplaySnapshot, error) {
	replicas := map[string]any{}
	snap := ReplaySnapshot{AgentID: agentID}
	sawCreated := false

	for _, e := range entries {
		if e.AgentID != agentID {
			continue
		}
		if err := verifyEffects(e); err != nil {
			return ReplaySnapshot{}, fmt.Errorf("agency: replaying agent %q entry %q: %w", agentID, e.EntryID, err)
		}
		input := journal.Unserialize(e.Input, replicas)

		label, _ := e.Output.(string)
		switch label {
		case "agent_created":
			snap.Descriptor = input
			snap.Deleted = false
			sawCreated = true
		case "agent_deleted":
			if !sawCreated {
				return ReplaySnapshot{}, fmt.Errorf("agency: replaying agent %q: agent_deleted before agent_created: %w", agentID, agencyerr.ErrReplayMismatch)
			}
			snap.Descriptor = input
			snap.Deleted = true
		case "protocol_deleted":
			snap.ProtocolSnapshots = append(snap.ProtocolSnapshots, input)
		}
	}

	if !sawCreated {
		return ReplaySnapshot{}, fmt.Errorf("agency: replaying agent %q: no agent_created entry: %w", agentID, agencyerr.ErrReplayMismatch)
	}
	return snap, nil
}

// verifyEffects cross-checks an entry's recorded side effects against
// its own recorded input where the two are required to agree:
// Agency.StopAgent captures its descriptor_clone effect's result from
// the same call whose return value becomes the entry's input, so any
// divergence between them means the journal was corrupted or hand-edited
// between write and replay time — a replay mismatch, not a business
// error a caller could otherwise hit.
func verifyEffects(e journal.Entry) error {
	for _, eff := range journal.DecodeEffects(e.SideEffects) {
		if eff.EffectID != "descriptor_clone" {
			continue
		}
		if !reflect.DeepEqual(eff.Result, e.Input) {
			return fmt.Errorf("descriptor_clone effect result does not match entry input: %w", agencyerr.ErrReplayMismatch)
		}
	}
	return nil
}
