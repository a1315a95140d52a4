// Package medium implements the Agent Medium: the per-agent supervisor
// that owns a single agent's descriptor, its inbound message dispatch,
// its registered interests, and its live protocol instances (spec §4.2).
package medium

import "github.com/corvid-systems/agency/internal/wireproto"

// Listener is a live protocol instance keyed by session_id (spec's
// "Listener / Protocol Instance"). Any protocol state machine — contract
// initiator/contractor, request initiator/interested, task — implements
// this interface without needing to import this package, since Go
// interfaces are satisfied structurally.
type Listener interface {
	// OnMessage delivers an inbound message to this listener.
	OnMessage(msg wireproto.Message) bool

	// SessionID returns the listener's unique session_id.
	SessionID() string

	// AgentSide returns the agent-visible protocol object this listener
	// drives (the manager/contractor/task object the embedding agent's
	// code interacts with).
	AgentSide() any

	// Snapshot returns a value suitable for the protocol_deleted journal
	// entry recorded when this listener terminates.
	Snapshot() any
}
